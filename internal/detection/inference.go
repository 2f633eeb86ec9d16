package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"
)

// InferenceClient talks to the HTTP inference service that hosts the object,
// pose and weapon models
type InferenceClient struct {
	endpoint    string
	client      *http.Client
	healthy     bool
	healthCheck time.Time
	mu          sync.Mutex
}

// Detection represents a detected object
type Detection struct {
	Class      string      `json:"class"`
	ClassID    int         `json:"class_id"`
	Confidence float32     `json:"confidence"`
	BBox       []float32   `json:"bbox"`                // [x1, y1, x2, y2] in pixels
	Keypoints  [][]float32 `json:"keypoints,omitempty"` // [[x, y, conf], ...] COCO order
}

// DetectionResult represents the full detection response
type DetectionResult struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
	ImageWidth      int         `json:"image_width"`
	ImageHeight     int         `json:"image_height"`
}

// HealthResponse represents the service health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Paths of the inference service models
const (
	PathDetect = "/detect"
	PathPose   = "/pose"
	PathWeapon = "/detect/weapon"
)

// NewInferenceClient creates a client for the service at endpoint
func NewInferenceClient(endpoint string, timeout time.Duration) *InferenceClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &InferenceClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		healthy: true,
	}
}

// Endpoint returns the service base URL
func (c *InferenceClient) Endpoint() string { return c.endpoint }

// IsHealthy checks if the inference service is available.
// A positive result is cached for 30 seconds.
func (c *InferenceClient) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	if c.healthy && time.Since(c.healthCheck) < 30*time.Second {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	health, err := c.Health(ctx)
	ok := err == nil && health.ModelLoaded

	c.mu.Lock()
	c.healthy = ok
	if ok {
		c.healthCheck = time.Now()
	}
	c.mu.Unlock()
	return ok
}

// Health returns detailed health information
func (c *InferenceClient) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check inference health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// Detect posts a JPEG frame to one of the model paths and returns its detections
func (c *InferenceClient) Detect(ctx context.Context, path string, imageData []byte, confThreshold float32, classes string) (*DetectionResult, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	// Add image file with proper Content-Type header
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}

	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", confThreshold)); err != nil {
		return nil, err
	}
	if classes != "" {
		if err := w.WriteField("classes_filter", classes); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	return &result, nil
}
