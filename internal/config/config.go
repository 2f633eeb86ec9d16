package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"surveil/internal/camera"
)

// maxFileSize caps the config file read at startup
const maxFileSize = 1 * 1024 * 1024

// Duration is a time.Duration written as a string like "30s" in JSON
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the process configuration
type Config struct {
	HTTPAddr     string `json:"http_addr"`
	GRPCAddr     string `json:"grpc_addr"`
	DatabasePath string `json:"database_path"`

	// Aggregate detection rate across all cameras
	DetectionFPS    float64  `json:"detection_fps"`
	Workers         int      `json:"workers"`
	DetectorTimeout Duration `json:"detector_timeout"`
	MergeIoU        float64  `json:"merge_iou"`
	StaleAfter      Duration `json:"stale_after"` // A camera without a newer frame is offline
	Retention       Duration `json:"retention"`   // 0 keeps events forever

	Cameras    []camera.Config     `json:"cameras"`
	Detectors  DetectorsConfig     `json:"detectors"`
	Exclusions map[string][]string `json:"exclusions"` // Detector name -> camera ids

	Inference InferenceConfig `json:"inference"`
	Gemini    GeminiConfig    `json:"gemini"`
	Telegram  TelegramConfig  `json:"telegram"`
	Auth      AuthConfig      `json:"auth"`
}

// DetectorsConfig holds the per-detector toggles and tuning
type DetectorsConfig struct {
	Person       ThresholdConfig `json:"person"`
	Fight        FightConfig     `json:"fight"`
	Motion       MotionConfig    `json:"motion"`
	Weapon       ThresholdConfig `json:"weapon"`
	GeminiWeapon ToggleConfig    `json:"gemini_weapon"`
}

type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

type ThresholdConfig struct {
	Enabled    bool    `json:"enabled"`
	Confidence float64 `json:"confidence"`
}

type FightConfig struct {
	Enabled            bool     `json:"enabled"`
	SustainFrames      int      `json:"sustain_frames"`
	Cooldown           Duration `json:"cooldown"`
	MatchIoU           float64  `json:"match_iou"`       // Slot tracking match threshold
	ProximityRatio     float64  `json:"proximity_ratio"` // Center distance / mean diagonal
	MinCriteria        int      `json:"min_criteria"`
	VelocityThreshold  float64  `json:"velocity_threshold"`
	ArmIntrusionMargin float64  `json:"arm_intrusion_margin"`
	PoseConfidence     float64  `json:"pose_confidence"`
	KeypointConfidence float64  `json:"keypoint_confidence"`
}

// fightCriteria is the number of optional fight criteria the detector
// evaluates besides proximity
const fightCriteria = 3

type MotionConfig struct {
	Enabled bool    `json:"enabled"`
	MinArea float64 `json:"min_area"` // px²
}

// InferenceConfig points at the HTTP model service
type InferenceConfig struct {
	Endpoint       string   `json:"endpoint"`
	WeaponEndpoint string   `json:"weapon_endpoint"` // Empty disables the local weapon model
	Timeout        Duration `json:"timeout"`
}

type GeminiConfig struct {
	APIKey   string   `json:"api_key"`
	Model    string   `json:"model"`
	Cooldown Duration `json:"cooldown"`
	Timeout  Duration `json:"timeout"`
}

type TelegramConfig struct {
	BotToken string   `json:"bot_token"`
	ChatID   string   `json:"chat_id"`
	Cooldown Duration `json:"cooldown"`
}

type AuthConfig struct {
	Enabled     bool     `json:"enabled"`
	Username    string   `json:"username"`
	Password    string   `json:"password"` // Plain text or a bcrypt hash
	JWTSecret   string   `json:"jwt_secret"`
	TokenExpiry Duration `json:"token_expiry"`
}

var cameraLocations = []string{
	"Main Entrance",
	"Lobby",
	"Parking Lot A",
	"Parking Lot B",
	"Stairwell North",
	"Stairwell South",
	"Server Room",
	"Loading Dock",
	"Rooftop",
}

// DefaultCameras returns the nine demo cameras, each looping videos/<id>.mp4
func DefaultCameras() []camera.Config {
	cams := make([]camera.Config, len(cameraLocations))
	for i, loc := range cameraLocations {
		id := fmt.Sprintf("cam_%d", i)
		cams[i] = camera.Config{
			ID:       id,
			Name:     fmt.Sprintf("Camera %d", i),
			Location: loc,
			Device:   filepath.Join("videos", id+".mp4"),
			FPS:      5,
		}
	}
	return cams
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		DatabasePath:    "surveil.db",
		DetectionFPS:    2,
		Workers:         4,
		DetectorTimeout: Duration(10 * time.Second),
		MergeIoU:        0.5,
		StaleAfter:      Duration(camera.DefaultStaleAfter),
		Retention:       Duration(7 * 24 * time.Hour),
		Cameras:         DefaultCameras(),
		Detectors: DetectorsConfig{
			Person:       ThresholdConfig{Enabled: true, Confidence: 0.5},
			Fight: FightConfig{
				Enabled:            true,
				SustainFrames:      5,
				Cooldown:           Duration(10 * time.Second),
				MatchIoU:           0.3,
				ProximityRatio:     0.8,
				MinCriteria:        2,
				VelocityThreshold:  0.03,
				ArmIntrusionMargin: 0.02,
				PoseConfidence:     0.4,
				KeypointConfidence: 0.3,
			},
			Motion:       MotionConfig{Enabled: true, MinArea: 1500},
			Weapon:       ThresholdConfig{Enabled: true, Confidence: 0.5},
			GeminiWeapon: ToggleConfig{Enabled: true},
		},
		Exclusions: map[string][]string{
			"weapon": {"cam_3", "cam_10"},
		},
		Inference: InferenceConfig{
			Endpoint: "http://localhost:8000",
			Timeout:  Duration(15 * time.Second),
		},
		Gemini: GeminiConfig{
			Cooldown: Duration(30 * time.Second),
			Timeout:  Duration(15 * time.Second),
		},
		Telegram: TelegramConfig{
			Cooldown: Duration(60 * time.Second),
		},
		Auth: AuthConfig{
			Username:    "admin",
			TokenExpiry: Duration(24 * time.Hour),
		},
	}
}

// Load reads a JSON config file onto the defaults. The file must have a
// .json extension and be at most 1 MiB. Omitted fields keep their default;
// a file that lists cameras replaces the default roster.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	cfg.Cameras = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if len(cfg.Cameras) == 0 {
		cfg.Cameras = DefaultCameras()
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and toggles from the environment. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTH_ENABLED %q: %w", v, err)
		}
		c.Auth.Enabled = enabled
	}
	if v := getenv("AUTH_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := getenv("AUTH_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	return nil
}

// Validate checks ranges and the camera roster
func (c *Config) Validate() error {
	var errs []error

	if c.DetectionFPS <= 0 {
		errs = append(errs, fmt.Errorf("detection_fps must be positive, got %g", c.DetectionFPS))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Detectors.Fight.SustainFrames < 1 {
		errs = append(errs, fmt.Errorf("detectors.fight.sustain_frames must be at least 1, got %d", c.Detectors.Fight.SustainFrames))
	}
	if c.Detectors.Motion.MinArea < 0 {
		errs = append(errs, fmt.Errorf("detectors.motion.min_area must be non-negative, got %g", c.Detectors.Motion.MinArea))
	}
	if n := c.Detectors.Fight.MinCriteria; n < 1 || n > fightCriteria {
		errs = append(errs, fmt.Errorf("detectors.fight.min_criteria must be between 1 and %d, got %d", fightCriteria, n))
	}

	for name, v := range map[string]float64{
		"detectors.fight.proximity_ratio":      c.Detectors.Fight.ProximityRatio,
		"detectors.fight.velocity_threshold":   c.Detectors.Fight.VelocityThreshold,
		"detectors.fight.arm_intrusion_margin": c.Detectors.Fight.ArmIntrusionMargin,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %g", name, v))
		}
	}

	for name, v := range map[string]float64{
		"merge_iou":                           c.MergeIoU,
		"detectors.person.confidence":         c.Detectors.Person.Confidence,
		"detectors.weapon.confidence":         c.Detectors.Weapon.Confidence,
		"detectors.fight.match_iou":           c.Detectors.Fight.MatchIoU,
		"detectors.fight.pose_confidence":     c.Detectors.Fight.PoseConfidence,
		"detectors.fight.keypoint_confidence": c.Detectors.Fight.KeypointConfidence,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %g", name, v))
		}
	}

	for name, d := range map[string]Duration{
		"detector_timeout":         c.DetectorTimeout,
		"stale_after":              c.StaleAfter,
		"retention":                c.Retention,
		"detectors.fight.cooldown": c.Detectors.Fight.Cooldown,
		"gemini.cooldown":          c.Gemini.Cooldown,
		"telegram.cooldown":        c.Telegram.Cooldown,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d.D()))
		}
	}

	if len(c.Cameras) == 0 {
		errs = append(errs, errors.New("at least one camera is required"))
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		id := strings.TrimSpace(cam.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("cameras[%d]: id is required", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("cameras[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
	}

	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}

	return errors.Join(errs...)
}

// CameraNames maps camera ids to display names
func (c *Config) CameraNames() map[string]string {
	names := make(map[string]string, len(c.Cameras))
	for _, cam := range c.Cameras {
		name := cam.Name
		if name == "" {
			name = cam.ID
		}
		names[cam.ID] = name
	}
	return names
}
