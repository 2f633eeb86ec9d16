package pipeline

import (
	"context"
)

// Detector is the unified interface for all detection variants
type Detector interface {
	// Name returns the detector identifier (e.g., "person", "fight", "motion")
	Name() string

	// Enabled returns false when the detector is switched off or misses a capability
	Enabled() bool

	// Requires lists the signals that must be provided by earlier stages
	Requires() []Signal

	// Detect runs detection on a frame and returns normalized events.
	// Implementations must not mutate the frame and should honor ctx cancellation.
	Detect(ctx context.Context, frame *Frame, dc *DetectContext) ([]Event, error)

	// Close releases detector resources
	Close() error
}

// FrameSource supplies the most recent frame per camera without blocking.
// A nil frame with ok=false is a normal steady state.
type FrameSource interface {
	LatestFrame(cameraID string) (frame *Frame, ok bool)
}

// EventSink receives events one at a time in emission order
type EventSink interface {
	Publish(event Event)
}

// DetectorRegistry manages the long-lived detector instances
type DetectorRegistry interface {
	// Register adds a detector to the registry
	Register(detector Detector) error

	// Get returns a detector by name
	Get(name string) (Detector, bool)

	// GetAll returns all registered detectors
	GetAll() []Detector

	// Close releases all detector resources
	Close() error
}
