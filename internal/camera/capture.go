package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const (
	minRestartDelay = 2 * time.Second
	maxRestartDelay = 30 * time.Second
	maxJPEGBuffer   = 8 << 20
)

// capture keeps a camera's source running until ctx is cancelled,
// restarting it with backoff whenever it ends
func (m *Manager) capture(ctx context.Context, f *feed) {
	delay := minRestartDelay
	for {
		start := time.Now()
		var err error
		if isHTTPImageEndpoint(f.cfg.Device) {
			err = m.pollHTTP(ctx, f, &http.Client{Timeout: 10 * time.Second})
		} else {
			err = m.runFFmpeg(ctx, f)
		}
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) > maxRestartDelay {
			delay = minRestartDelay
		}
		f.restarts.Add(1)
		log.Printf("[Camera] %s capture ended (%v), restarting in %s", f.cfg.ID, err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRestartDelay)
	}
}

func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "snapshot"))
}

// pollHTTP fetches a still image at the camera rate
func (m *Manager) pollHTTP(ctx context.Context, f *feed, client *http.Client) error {
	interval := time.Second / time.Duration(f.cfg.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, err := fetchImage(ctx, client, f.cfg.Device)
		if err != nil {
			failures++
			if failures == 1 || failures%50 == 0 {
				log.Printf("[Camera] Error fetching frame for %s: %v", f.cfg.ID, err)
			}
			continue
		}
		failures = 0
		_ = m.Push(f.cfg.ID, data)
	}
}

func fetchImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot failed (status %d)", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxJPEGBuffer))
}

// ffmpegArgs builds an MJPEG image2pipe command line for the device
func ffmpegArgs(cfg Config) []string {
	fps := fmt.Sprintf("%d", cfg.FPS)
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-r", fps, "-q:v", "5", "-"}

	switch {
	case strings.HasPrefix(cfg.Device, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", cfg.Device}, out...)
	case isNetworkSource(cfg.Device):
		return append([]string{"-i", cfg.Device}, out...)
	case strings.HasPrefix(cfg.Device, "/dev/video"):
		in := []string{"-f", "v4l2", "-framerate", fps}
		if cfg.Width > 0 && cfg.Height > 0 {
			in = append(in, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		in = append(in, "-i", cfg.Device)
		// v4l2 already delivers at the requested rate
		return append(in, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	default:
		// recorded footage plays in real time and loops forever
		return append([]string{"-re", "-stream_loop", "-1", "-i", cfg.Device}, out...)
	}
}

// runFFmpeg streams MJPEG from an ffmpeg child process until it exits
func (m *Manager) runFFmpeg(ctx context.Context, f *feed) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(f.cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	readErr := m.readMJPEG(f.cfg.ID, stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	return waitErr
}

// readMJPEG splits a concatenated JPEG stream into frames and publishes each
func (m *Manager) readMJPEG(cameraID string, r io.Reader) error {
	buffer := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		buffer = append(buffer, chunk[:n]...)
		for {
			frame := extractJPEGFrame(&buffer)
			if frame == nil {
				break
			}
			_ = m.Push(cameraID, frame)
		}
		if len(buffer) > maxJPEGBuffer {
			buffer = buffer[:0]
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
	}
}

// extractJPEGFrame cuts the first complete SOI..EOI frame out of buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		// keep a trailing 0xFF that may begin the next marker
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := -1
	for i := start + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		return nil
	}

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = buf[end:]
	return frame
}
