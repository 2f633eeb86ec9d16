package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"surveil/internal/pipeline"
)

// ErrUnknownCamera is returned for ids that are not in the configured roster
var ErrUnknownCamera = errors.New("unknown camera")

// DefaultStaleAfter is how long a camera stays online without a new frame
const DefaultStaleAfter = 5 * time.Second

// Status is the reported camera state
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Config describes one camera of the roster
type Config struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Device   string `json:"device"` // rtsp://, http(s)://, /dev/videoN or a video file looped forever
	FPS      int    `json:"fps"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Info is the public view of a camera
type Info struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Status    Status `json:"status"`
	StreamURL string `json:"stream_url"`
}

// Registrar persists the roster, typically the database
type Registrar interface {
	UpsertCamera(ctx context.Context, id, name, location, device string) error
}

// Stats contains per-camera capture counters
type Stats struct {
	CameraID       string    `json:"camera_id"`
	FramesCaptured uint64    `json:"frames_captured"`
	Restarts       uint64    `json:"restarts"`
	LastFrameTime  time.Time `json:"last_frame_time"`
}

// feed is the latest-frame mailbox of one camera. Older frames are
// overwritten, never queued.
type feed struct {
	cfg      Config
	latest   atomic.Pointer[pipeline.Frame]
	seq      atomic.Uint64
	restarts atomic.Uint64
}

// Manager owns the capture loops and serves their latest frames
type Manager struct {
	feeds      []*feed
	byID       map[string]*feed
	staleAfter time.Duration
	clock      func() time.Time

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewManager validates the roster. Cameras without an fps capture at 5 fps.
func NewManager(cameras []Config, staleAfter time.Duration) (*Manager, error) {
	if len(cameras) == 0 {
		return nil, errors.New("no cameras configured")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	m := &Manager{
		byID:       make(map[string]*feed, len(cameras)),
		staleAfter: staleAfter,
		clock:      time.Now,
	}
	for _, c := range cameras {
		if c.ID == "" {
			return nil, errors.New("camera id cannot be empty")
		}
		if _, dup := m.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate camera id %q", c.ID)
		}
		if c.FPS <= 0 {
			c.FPS = 5
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		f := &feed{cfg: c}
		m.feeds = append(m.feeds, f)
		m.byID[c.ID] = f
	}
	return m, nil
}

// IDs returns the camera ids in roster order
func (m *Manager) IDs() []string {
	ids := make([]string, len(m.feeds))
	for i, f := range m.feeds {
		ids[i] = f.cfg.ID
	}
	return ids
}

// Has reports whether the camera is part of the roster
func (m *Manager) Has(cameraID string) bool {
	_, ok := m.byID[cameraID]
	return ok
}

// Register writes the roster through the registrar
func (m *Manager) Register(ctx context.Context, r Registrar) error {
	for _, f := range m.feeds {
		if err := r.UpsertCamera(ctx, f.cfg.ID, f.cfg.Name, f.cfg.Location, f.cfg.Device); err != nil {
			return fmt.Errorf("failed to register camera %s: %w", f.cfg.ID, err)
		}
	}
	return nil
}

// Start launches one capture loop per camera that has a device
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	for _, f := range m.feeds {
		if f.cfg.Device == "" {
			log.Printf("[Camera] %s has no device, it will stay offline", f.cfg.ID)
			continue
		}
		m.wg.Add(1)
		go func(f *feed) {
			defer m.wg.Done()
			m.capture(ctx, f)
		}(f)
		log.Printf("[Camera] Started capture for %s (device: %s, fps: %d)", f.cfg.ID, f.cfg.Device, f.cfg.FPS)
	}
}

// Stop cancels every capture loop and waits for them to exit
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
	log.Printf("[Camera] All captures stopped")
}

// Push publishes a JPEG frame as the camera's latest
func (m *Manager) Push(cameraID string, data []byte) error {
	f, ok := m.byID[cameraID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	seq := f.seq.Add(1)
	f.latest.Store(&pipeline.Frame{
		CameraID:  cameraID,
		Data:      data,
		Seq:       seq,
		Timestamp: m.clock(),
		Width:     f.cfg.Width,
		Height:    f.cfg.Height,
	})
	if seq%500 == 0 {
		log.Printf("[Camera] %s: frame %d", cameraID, seq)
	}
	return nil
}

// LatestFrame returns the newest frame of an online camera
func (m *Manager) LatestFrame(cameraID string) (*pipeline.Frame, bool) {
	f, ok := m.byID[cameraID]
	if !ok {
		return nil, false
	}
	frame := f.latest.Load()
	if frame == nil || m.clock().Sub(frame.Timestamp) > m.staleAfter {
		return nil, false
	}
	return frame, true
}

// Status reports whether the camera has delivered a frame recently
func (m *Manager) Status(cameraID string) (Status, error) {
	if _, ok := m.byID[cameraID]; !ok {
		return StatusOffline, fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	if _, ok := m.LatestFrame(cameraID); ok {
		return StatusOnline, nil
	}
	return StatusOffline, nil
}

// List returns every camera in roster order with its current status
func (m *Manager) List() []Info {
	out := make([]Info, len(m.feeds))
	for i, f := range m.feeds {
		status, _ := m.Status(f.cfg.ID)
		out[i] = Info{
			ID:        f.cfg.ID,
			Name:      f.cfg.Name,
			Location:  f.cfg.Location,
			Status:    status,
			StreamURL: "/stream/" + f.cfg.ID,
		}
	}
	return out
}

// Stats returns capture counters for every camera
func (m *Manager) Stats() []Stats {
	out := make([]Stats, len(m.feeds))
	for i, f := range m.feeds {
		s := Stats{CameraID: f.cfg.ID, FramesCaptured: f.seq.Load(), Restarts: f.restarts.Load()}
		if frame := f.latest.Load(); frame != nil {
			s.LastFrameTime = frame.Timestamp
		}
		out[i] = s
	}
	return out
}

// Ensure Manager implements FrameSource
var _ pipeline.FrameSource = (*Manager)(nil)
