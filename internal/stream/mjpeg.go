package stream

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"surveil/internal/pipeline"
)

// DefaultFPS is the rate at which viewers are offered new frames
const DefaultFPS = 15

const boundary = "frame"

// Source provides the newest frame of each camera
type Source interface {
	pipeline.FrameSource
	Has(cameraID string) bool
}

// MJPEGHandler streams the captured JPEGs of one camera as
// multipart/x-mixed-replace. Frames are passed through as captured; a frame
// is written once, and a camera that goes offline keeps the connection open
// until it delivers again.
type MJPEGHandler struct {
	source   Source
	interval time.Duration
	clients  atomic.Int64
}

// NewMJPEGHandler creates a handler serving at most fps frames per second
func NewMJPEGHandler(source Source, fps int) *MJPEGHandler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &MJPEGHandler{
		source:   source,
		interval: time.Second / time.Duration(fps),
	}
}

// Clients returns the number of connected viewers
func (h *MJPEGHandler) Clients() int { return int(h.clients.Load()) }

// ServeHTTP expects the camera id in the {id} path value
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.PathValue("id")
	if !h.source.Has(cameraID) {
		http.Error(w, fmt.Sprintf("Stream not found for camera %s", cameraID), http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("[MJPEGStream] Client connected to camera %s", cameraID)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	sent := false
	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected from camera %s", cameraID)
			return
		case <-ticker.C:
			frame, ok := h.source.LatestFrame(cameraID)
			if !ok || (sent && frame.Seq == lastSeq) {
				continue
			}
			data, err := frame.JPEG()
			if err != nil {
				continue
			}
			if err := writePart(w, data); err != nil {
				return
			}
			flusher.Flush()
			lastSeq, sent = frame.Seq, true
		}
	}
}

func writePart(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// SnapshotHandler serves the newest JPEG of one camera
type SnapshotHandler struct {
	source Source
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(source Source) *SnapshotHandler {
	return &SnapshotHandler{source: source}
}

// ServeHTTP expects the camera id in the {id} path value
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.PathValue("id")
	if !h.source.Has(cameraID) {
		http.Error(w, fmt.Sprintf("Stream not found for camera %s", cameraID), http.StatusNotFound)
		return
	}

	frame, ok := h.source.LatestFrame(cameraID)
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	data, err := frame.JPEG()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}
