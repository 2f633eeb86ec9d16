package detectors

import (
	"context"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// PersonDetector reports every confident "person" detection of the object model
type PersonDetector struct {
	capability Capability
	enabled    bool
	confidence float64
}

// NewPersonDetector creates a person detector. A nil capability disables it.
func NewPersonDetector(capability Capability, enabled bool, confidence float64) *PersonDetector {
	if confidence <= 0 {
		confidence = 0.5
	}
	return &PersonDetector{
		capability: capability,
		enabled:    enabled && capability != nil,
		confidence: confidence,
	}
}

func (d *PersonDetector) Name() string                { return NamePerson }
func (d *PersonDetector) Enabled() bool               { return d.enabled }
func (d *PersonDetector) Requires() []pipeline.Signal { return nil }
func (d *PersonDetector) Close() error                { return nil }

func (d *PersonDetector) Detect(ctx context.Context, frame *pipeline.Frame, dc *pipeline.DetectContext) ([]pipeline.Event, error) {
	w, h, err := frame.Size()
	if err != nil {
		return nil, err
	}

	raws, err := d.capability.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	var events []pipeline.Event
	for _, r := range raws {
		if r.Class != "person" || r.Confidence < d.confidence {
			continue
		}
		events = append(events, pipeline.NewEvent(
			dc.Camera.ID,
			pipeline.EventPersonDetected,
			r.Confidence,
			geometry.Normalize(r.Box, w, h),
			NamePerson,
		))
	}
	return events, nil
}

// Ensure PersonDetector implements Detector
var _ pipeline.Detector = (*PersonDetector)(nil)
