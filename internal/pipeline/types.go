package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveil/internal/geometry"
)

// EventType enumerates the event classes the pipeline can emit
type EventType string

const (
	EventPersonDetected EventType = "person_detected"
	EventMotion         EventType = "motion"
	EventWeaponDetected EventType = "weapon_detected"
	EventFightDetected  EventType = "fight_detected"
)

// Signal names a piece of cycle context one stage provides to later stages
type Signal string

const (
	// SignalPersons carries the deduplicated person events of the current cycle
	SignalPersons Signal = "persons"
)

// Camera is one roster entry. Handle is the stable index into per-camera state.
type Camera struct {
	ID     string
	Handle int
}

// Frame represents a captured video frame
type Frame struct {
	CameraID  string    // Camera identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)

	once    sync.Once
	decoded image.Image
	err     error
}

// NewImageFrame wraps an already decoded image. Data stays empty until Encode is called.
func NewImageFrame(cameraID string, img image.Image) *Frame {
	b := img.Bounds()
	f := &Frame{
		CameraID:  cameraID,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		decoded:   img,
	}
	f.once.Do(func() {})
	return f
}

// Image returns the decoded frame, decoding Data on first use.
// Safe for concurrent readers.
func (f *Frame) Image() (image.Image, error) {
	f.once.Do(func() {
		if len(f.Data) == 0 {
			f.err = fmt.Errorf("frame %s/%d has no data", f.CameraID, f.Seq)
			return
		}
		f.decoded, f.err = jpeg.Decode(bytes.NewReader(f.Data))
		if f.err != nil {
			f.err = fmt.Errorf("failed to decode frame: %w", f.err)
		}
	})
	return f.decoded, f.err
}

// Size returns the frame dimensions, decoding the image if they are unknown
func (f *Frame) Size() (int, int, error) {
	if f.Width > 0 && f.Height > 0 {
		return f.Width, f.Height, nil
	}
	if len(f.Data) > 0 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data))
		if err == nil {
			return cfg.Width, cfg.Height, nil
		}
	}
	img, err := f.Image()
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// JPEG returns the encoded frame, encoding the decoded image when Data is empty
func (f *Frame) JPEG() ([]byte, error) {
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Keypoint is one pose landmark in absolute pixels
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// COCO keypoint indices used by the pose heuristics
const (
	KeypointLeftShoulder  = 5
	KeypointRightShoulder = 6
	KeypointLeftElbow     = 7
	KeypointRightElbow    = 8
	KeypointLeftWrist     = 9
	KeypointRightWrist    = 10
)

// RawDetection is one capability output in absolute pixels. It never leaves a detector.
type RawDetection struct {
	Box        geometry.Rect
	Class      string
	Confidence float64
	Keypoints  []Keypoint
}

// Event is a normalized, immutable pipeline output
type Event struct {
	ID          string       `json:"id"`
	CameraID    string       `json:"camera_id"`
	Type        EventType    `json:"event_type"`
	Timestamp   time.Time    `json:"timestamp"`
	Confidence  float64      `json:"confidence"`
	BoundingBox geometry.Box `json:"bounding_box"`
	WeaponType  string       `json:"weapon_type,omitempty"`
	Held        *bool        `json:"held,omitempty"`
	Source      string       `json:"-"` // Detector that produced the event
}

// NewEvent builds an event with a fresh id, rounding confidence and box for emission
func NewEvent(cameraID string, eventType EventType, confidence float64, box geometry.Box, source string) Event {
	return Event{
		ID:          uuid.NewString(),
		CameraID:    cameraID,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Confidence:  geometry.Round(confidence, 3),
		BoundingBox: geometry.Clamp(box).Rounded(),
		Source:      source,
	}
}

// DetectContext carries the cross-stage signals available to a detector
type DetectContext struct {
	Camera  Camera
	signals map[Signal][]Event
}

// NewDetectContext creates an empty context for one cycle of a camera
func NewDetectContext(cam Camera) *DetectContext {
	return &DetectContext{Camera: cam, signals: make(map[Signal][]Event)}
}

// Set publishes a signal for later stages
func (c *DetectContext) Set(s Signal, events []Event) {
	c.signals[s] = events
}

// Get returns a signal and whether an earlier stage provided it
func (c *DetectContext) Get(s Signal) ([]Event, bool) {
	ev, ok := c.signals[s]
	return ev, ok
}

// Persons returns the deduplicated person events of this cycle
func (c *DetectContext) Persons() []Event {
	return c.signals[SignalPersons]
}

// ComposerStats contains per-camera composition metrics
type ComposerStats struct {
	CameraID         string `json:"camera_id"`
	Cycles           uint64 `json:"cycles"`
	DetectorFailures uint64 `json:"detector_failures"`
	EventsEmitted    uint64 `json:"events_emitted"`
	Overruns         uint64 `json:"overruns"` // Clean results that arrived after the deadline
	LastRunMs        int64  `json:"last_run_ms"`
}

// CameraStats contains per-camera scheduler metrics
type CameraStats struct {
	CameraID       string    `json:"camera_id"`
	Visits         uint64    `json:"visits"`
	Skipped        uint64    `json:"skipped"`
	Cycles         uint64    `json:"cycles"`
	Failures       uint64    `json:"failures"`
	Events         uint64    `json:"events"`
	LastCycleMs    int64     `json:"last_cycle_ms"`
	LastCycleStart time.Time `json:"last_cycle_start"`
}
