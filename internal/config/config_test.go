package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Cameras, 9)
	assert.Equal(t, "cam_0", cfg.Cameras[0].ID)
	assert.Equal(t, "Camera 0", cfg.Cameras[0].Name)
	assert.Equal(t, "Main Entrance", cfg.Cameras[0].Location)
	assert.Equal(t, filepath.Join("videos", "cam_8.mp4"), cfg.Cameras[8].Device)
	assert.Equal(t, "Rooftop", cfg.Cameras[8].Location)

	assert.Equal(t, []string{"cam_3", "cam_10"}, cfg.Exclusions["weapon"])
	assert.Equal(t, 30*time.Second, cfg.Gemini.Cooldown.D())
	assert.Equal(t, 60*time.Second, cfg.Telegram.Cooldown.D())
	assert.Equal(t, "Camera 4", cfg.CameraNames()["cam_4"])
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "surveil.json", `{
  "detection_fps": 4,
  "detector_timeout": "3s",
  "cameras": [
    {"id": "front", "name": "Front Door", "device": "rtsp://10.0.0.5/stream"}
  ],
  "detectors": {
    "fight": {"enabled": false, "sustain_frames": 3, "cooldown": "20s", "match_iou": 0.45, "min_criteria": 1},
    "motion": {"min_area": 800.5}
  },
  "gemini": {"cooldown": "45s"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4.0, cfg.DetectionFPS)
	assert.Equal(t, 3*time.Second, cfg.DetectorTimeout.D())
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "front", cfg.Cameras[0].ID)
	assert.Equal(t, "Front Door", cfg.CameraNames()["front"])

	assert.False(t, cfg.Detectors.Fight.Enabled)
	assert.Equal(t, 3, cfg.Detectors.Fight.SustainFrames)
	assert.Equal(t, 20*time.Second, cfg.Detectors.Fight.Cooldown.D())
	assert.Equal(t, 0.45, cfg.Detectors.Fight.MatchIoU)
	assert.Equal(t, 1, cfg.Detectors.Fight.MinCriteria)
	assert.Equal(t, 0.8, cfg.Detectors.Fight.ProximityRatio, "omitted fight fields keep their defaults")
	assert.Equal(t, 0.4, cfg.Detectors.Fight.PoseConfidence)
	assert.Equal(t, 800.5, cfg.Detectors.Motion.MinArea)
	assert.Equal(t, 45*time.Second, cfg.Gemini.Cooldown.D())

	// untouched fields keep their defaults
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Detectors.Person.Enabled)
	assert.Equal(t, 0.5, cfg.Detectors.Person.Confidence)
	assert.Equal(t, 15*time.Second, cfg.Gemini.Timeout.D())
	assert.Equal(t, []string{"cam_3", "cam_10"}, cfg.Exclusions["weapon"])
}

func TestLoadKeepsDefaultCameras(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.json", `{"workers": 2}`))
	require.NoError(t, err)
	assert.Len(t, cfg.Cameras, 9)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadErrors(t *testing.T) {
	t.Run("extension", func(t *testing.T) {
		_, err := Load(writeConfig(t, "c.yaml", `{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json extension")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		body := `{"http_addr": "` + strings.Repeat("x", maxFileSize) + `"}`
		_, err := Load(writeConfig(t, "big.json", body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "c.json", `{"retention": "forever"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})

	t.Run("numeric duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "c.json", `{"retention": 30}`))
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GEMINI_API_KEY":     "g-key",
		"JWT_SECRET":         "s3cret",
		"AUTH_ENABLED":       "true",
		"AUTH_PASSWORD":      "hunter2",
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"TELEGRAM_CHAT_ID":   "-100",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "g-key", cfg.Gemini.APIKey)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "admin", cfg.Auth.Username)
	assert.Equal(t, "hunter2", cfg.Auth.Password)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "-100", cfg.Telegram.ChatID)
	require.NoError(t, cfg.Validate())

	bad := Default()
	assert.Error(t, bad.ApplyEnv(func(k string) string {
		if k == "AUTH_ENABLED" {
			return "maybe"
		}
		return ""
	}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"zero fps", func(c *Config) { c.DetectionFPS = 0 }, "detection_fps"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"sustain", func(c *Config) { c.Detectors.Fight.SustainFrames = 0 }, "sustain_frames"},
		{"confidence above one", func(c *Config) { c.Detectors.Person.Confidence = 1.5 }, "detectors.person.confidence"},
		{"zero match iou", func(c *Config) { c.Detectors.Fight.MatchIoU = 0 }, "detectors.fight.match_iou"},
		{"pose confidence above one", func(c *Config) { c.Detectors.Fight.PoseConfidence = 2 }, "detectors.fight.pose_confidence"},
		{"keypoint confidence", func(c *Config) { c.Detectors.Fight.KeypointConfidence = -0.1 }, "detectors.fight.keypoint_confidence"},
		{"zero proximity", func(c *Config) { c.Detectors.Fight.ProximityRatio = 0 }, "detectors.fight.proximity_ratio"},
		{"zero velocity", func(c *Config) { c.Detectors.Fight.VelocityThreshold = 0 }, "detectors.fight.velocity_threshold"},
		{"negative margin", func(c *Config) { c.Detectors.Fight.ArmIntrusionMargin = -1 }, "detectors.fight.arm_intrusion_margin"},
		{"no criteria", func(c *Config) { c.Detectors.Fight.MinCriteria = 0 }, "detectors.fight.min_criteria"},
		{"too many criteria", func(c *Config) { c.Detectors.Fight.MinCriteria = 4 }, "detectors.fight.min_criteria"},
		{"negative min area", func(c *Config) { c.Detectors.Motion.MinArea = -1 }, "detectors.motion.min_area"},
		{"zero merge iou", func(c *Config) { c.MergeIoU = 0 }, "merge_iou"},
		{"negative cooldown", func(c *Config) { c.Gemini.Cooldown = Duration(-time.Second) }, "gemini.cooldown"},
		{"no cameras", func(c *Config) { c.Cameras = nil }, "at least one camera"},
		{"duplicate camera", func(c *Config) { c.Cameras[1].ID = "cam_0" }, "duplicate id"},
		{"auth without password", func(c *Config) { c.Auth.Enabled = true }, "auth.password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
