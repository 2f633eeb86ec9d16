package detectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"surveil/internal/detection"
	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

const (
	// DefaultGeminiCooldown limits calls to one per camera per window
	DefaultGeminiCooldown = 30 * time.Second

	geminiMaxWidth    = 1280
	geminiJPEGQuality = 85
)

// VisionClient is the subset of the Gemini client the detector needs
type VisionClient interface {
	Configured() bool
	GenerateContent(ctx context.Context, prompt string, imageData []byte) (string, error)
}

// GeminiWeaponDetector asks a vision model about weapons, but only for frames
// with people in them and at most once per cooldown per camera.
type GeminiWeaponDetector struct {
	client  VisionClient
	enabled bool
	gate    *pipeline.AdmissionGate
}

// NewGeminiWeaponDetector creates the detector. It stays disabled without a configured client.
func NewGeminiWeaponDetector(client VisionClient, enabled bool, cooldown time.Duration, clock func() time.Time) *GeminiWeaponDetector {
	if cooldown <= 0 {
		cooldown = DefaultGeminiCooldown
	}
	configured := client != nil && client.Configured()
	switch {
	case !enabled:
		log.Printf("[GeminiWeaponDetector] DISABLED via config toggle")
	case !configured:
		log.Printf("[GeminiWeaponDetector] DISABLED: set GEMINI_API_KEY to enable")
	default:
		log.Printf("[GeminiWeaponDetector] Ready (per-camera cooldown=%s, person-gated)", cooldown)
	}
	return &GeminiWeaponDetector{
		client:  client,
		enabled: enabled && configured,
		gate:    pipeline.NewAdmissionGate(cooldown, clock),
	}
}

func (d *GeminiWeaponDetector) Name() string  { return NameGeminiWeapon }
func (d *GeminiWeaponDetector) Enabled() bool { return d.enabled }
func (d *GeminiWeaponDetector) Close() error  { return nil }

func (d *GeminiWeaponDetector) Requires() []pipeline.Signal {
	return []pipeline.Signal{pipeline.SignalPersons}
}

// Gate exposes the admission state
func (d *GeminiWeaponDetector) Gate() *pipeline.AdmissionGate { return d.gate }

func (d *GeminiWeaponDetector) Detect(ctx context.Context, frame *pipeline.Frame, dc *pipeline.DetectContext) ([]pipeline.Event, error) {
	persons := dc.Persons()
	cam := dc.Camera
	if !d.gate.Admit(cam.Handle, len(persons) > 0) {
		return nil, nil
	}

	img, err := frame.Image()
	if err != nil {
		return nil, err
	}
	data, err := encodeForUpload(img)
	if err != nil {
		return nil, err
	}

	text, err := d.client.GenerateContent(ctx, buildWeaponPrompt(persons), data)
	if err != nil {
		var malformed *detection.MalformedResponseError
		if errors.As(err, &malformed) {
			d.gate.Record(cam.Handle)
		}
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}
	d.gate.Record(cam.Handle)

	weapons, err := parseWeaponResponse(text)
	if err != nil {
		return nil, err
	}

	events := make([]pipeline.Event, 0, len(weapons))
	kinds := make([]string, 0, len(weapons))
	for _, w := range weapons {
		ev := pipeline.NewEvent(cam.ID, pipeline.EventWeaponDetected, w.confidence(), w.box(), NameGeminiWeapon)
		ev.WeaponType = w.kind()
		held := w.Held != nil && *w.Held
		ev.Held = &held
		events = append(events, ev)
		kinds = append(kinds, ev.WeaponType)
	}

	if len(events) > 0 {
		log.Printf("[GeminiWeaponDetector] %d weapon(s) on %s: %v", len(events), cam.ID, kinds)
	}
	return events, nil
}

// encodeForUpload shrinks the frame to geminiMaxWidth and encodes it as JPEG
func encodeForUpload(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > geminiMaxWidth {
		h := b.Dy() * geminiMaxWidth / b.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, geminiMaxWidth, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: geminiJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func buildWeaponPrompt(persons []pipeline.Event) string {
	var personCtx string
	if len(persons) > 0 {
		boxes := make([]string, len(persons))
		for i, p := range persons {
			b := p.BoundingBox
			boxes[i] = fmt.Sprintf("(x=%.2f, y=%.2f, w=%.2f, h=%.2f)", b.X, b.Y, b.Width, b.Height)
		}
		personCtx = fmt.Sprintf("A person detector found %d person(s) at these normalized positions: %s. "+
			"Pay special attention to whether any of these people are holding a weapon. "+
			"Also scan the rest of the frame for unattended weapons.", len(persons), strings.Join(boxes, ", "))
	} else {
		personCtx = "No people were detected in this frame. Scan for any unattended or dropped weapons."
	}

	return `You are a security surveillance AI analyzing a real CCTV camera frame.

` + personCtx + `

Detect any visible weapons: handguns, pistols, rifles, shotguns, knives, machetes, or other dangerous weapons. This is real CCTV footage, it may be grainy, low-resolution, or shot from an overhead angle. Flag weapons you can identify even with partial visibility or low image quality.

Do NOT flag: umbrellas, walking sticks, tripods, cameras, tools, extension cords, or other non-weapon objects.

For each weapon, set "held" to true if a person appears to be holding it, false if it looks unattended (dropped, left behind, etc.).

Respond ONLY with valid JSON, no markdown, no other text:
{"weapons": [{"type": "handgun", "confidence": 0.9, "held": true, "box": {"x": 0.1, "y": 0.2, "width": 0.05, "height": 0.1}}]}

Box values are normalized 0.0-1.0 (top-left origin).
If NO weapons are visible, respond with exactly: {"weapons": []}`
}

// weaponAnswer is one entry of the model's JSON answer. Missing fields fall back to defaults.
type weaponAnswer struct {
	Type       *string  `json:"type"`
	Confidence *float64 `json:"confidence"`
	Held       *bool    `json:"held"`
	Box        struct {
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	} `json:"box"`
}

func (w weaponAnswer) kind() string {
	if w.Type == nil {
		return "unknown"
	}
	return *w.Type
}

func (w weaponAnswer) confidence() float64 {
	if w.Confidence == nil {
		return 0.8
	}
	return *w.Confidence
}

func (w weaponAnswer) box() geometry.Box {
	return geometry.Box{
		X:      orDefault(w.Box.X, 0),
		Y:      orDefault(w.Box.Y, 0),
		Width:  orDefault(w.Box.Width, 0.1),
		Height: orDefault(w.Box.Height, 0.1),
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// parseWeaponResponse decodes the model answer, tolerating a markdown code fence
func parseWeaponResponse(text string) ([]weaponAnswer, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		parts := strings.Split(text, "```")
		text = strings.TrimPrefix(parts[1], "json")
		text = strings.TrimSpace(text)
	}

	var answer struct {
		Weapons []weaponAnswer `json:"weapons"`
	}
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		return nil, fmt.Errorf("unparseable weapon answer: %w", err)
	}
	return answer.Weapons, nil
}

// Ensure GeminiWeaponDetector implements Detector
var _ pipeline.Detector = (*GeminiWeaponDetector)(nil)
