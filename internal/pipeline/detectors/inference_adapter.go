package detectors

import (
	"context"
	"fmt"

	"surveil/internal/detection"
	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// Capability turns a frame into raw detections in absolute pixels
type Capability interface {
	Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.RawDetection, error)
}

// CapabilityFunc adapts a function to Capability
type CapabilityFunc func(ctx context.Context, frame *pipeline.Frame) ([]pipeline.RawDetection, error)

func (f CapabilityFunc) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.RawDetection, error) {
	return f(ctx, frame)
}

// InferenceAdapter wraps the HTTP inference client as a Capability for one model path
type InferenceAdapter struct {
	client        *detection.InferenceClient
	path          string
	confThreshold float32
	classes       string
}

// NewInferenceAdapter creates an adapter for path with the given confidence floor
func NewInferenceAdapter(client *detection.InferenceClient, path string, confThreshold float64, classes string) *InferenceAdapter {
	if confThreshold <= 0 {
		confThreshold = 0.5
	}
	return &InferenceAdapter{
		client:        client,
		path:          path,
		confThreshold: float32(confThreshold),
		classes:       classes,
	}
}

func (a *InferenceAdapter) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.RawDetection, error) {
	if a.client == nil {
		return nil, fmt.Errorf("inference client not configured")
	}

	data, err := frame.JPEG()
	if err != nil {
		return nil, err
	}

	result, err := a.client.Detect(ctx, a.path, data, a.confThreshold, a.classes)
	if err != nil {
		return nil, fmt.Errorf("inference %s failed: %w", a.path, err)
	}

	return convertDetections(result.Detections), nil
}

// convertDetections converts inference service detections to raw detections.
// Entries without a full box are dropped.
func convertDetections(in []detection.Detection) []pipeline.RawDetection {
	out := make([]pipeline.RawDetection, 0, len(in))
	for _, d := range in {
		if len(d.BBox) < 4 {
			continue
		}
		raw := pipeline.RawDetection{
			Box: geometry.Rect{
				X1: float64(d.BBox[0]),
				Y1: float64(d.BBox[1]),
				X2: float64(d.BBox[2]),
				Y2: float64(d.BBox[3]),
			},
			Class:      d.Class,
			Confidence: float64(d.Confidence),
		}
		if len(d.Keypoints) > 0 {
			raw.Keypoints = make([]pipeline.Keypoint, len(d.Keypoints))
			for i, kp := range d.Keypoints {
				if len(kp) >= 3 {
					raw.Keypoints[i] = pipeline.Keypoint{X: float64(kp[0]), Y: float64(kp[1]), Confidence: float64(kp[2])}
				}
			}
		}
		out = append(out, raw)
	}
	return out
}

// Ensure InferenceAdapter implements Capability
var _ Capability = (*InferenceAdapter)(nil)
