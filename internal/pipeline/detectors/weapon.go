package detectors

import (
	"context"
	"log"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// WeaponDetector runs the local weapon model; the class name becomes the weapon type
type WeaponDetector struct {
	capability Capability
	enabled    bool
	confidence float64
}

// NewWeaponDetector creates a weapon detector. It stays disabled without a capability.
func NewWeaponDetector(capability Capability, enabled bool, confidence float64) *WeaponDetector {
	if confidence <= 0 {
		confidence = 0.5
	}
	if enabled && capability == nil {
		log.Printf("[WeaponDetector] DISABLED: no weapon model endpoint configured")
	}
	return &WeaponDetector{
		capability: capability,
		enabled:    enabled && capability != nil,
		confidence: confidence,
	}
}

func (d *WeaponDetector) Name() string                { return NameWeapon }
func (d *WeaponDetector) Enabled() bool               { return d.enabled }
func (d *WeaponDetector) Requires() []pipeline.Signal { return nil }
func (d *WeaponDetector) Close() error                { return nil }

func (d *WeaponDetector) Detect(ctx context.Context, frame *pipeline.Frame, dc *pipeline.DetectContext) ([]pipeline.Event, error) {
	w, h, err := frame.Size()
	if err != nil {
		return nil, err
	}

	raws, err := d.capability.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	var events []pipeline.Event
	var kinds []string
	for _, r := range raws {
		if r.Confidence < d.confidence {
			continue
		}
		kind := r.Class
		if kind == "" {
			kind = "weapon"
		}
		ev := pipeline.NewEvent(dc.Camera.ID, pipeline.EventWeaponDetected, r.Confidence, geometry.Normalize(r.Box, w, h), NameWeapon)
		ev.WeaponType = kind
		events = append(events, ev)
		kinds = append(kinds, kind)
	}

	if len(events) > 0 {
		log.Printf("[WeaponDetector] %d weapon(s) on %s: %v", len(events), dc.Camera.ID, kinds)
	}
	return events, nil
}

// Ensure WeaponDetector implements Detector
var _ pipeline.Detector = (*WeaponDetector)(nil)
