package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// CycleRunner evaluates one frame of one camera. *Composer implements it.
type CycleRunner interface {
	Run(ctx context.Context, cam Camera, frame *Frame) []Event
}

// Scheduler visits the roster round-robin, runs one cycle per visit on the
// worker pool and publishes the events in order. The pause after every
// visit, skipped or not, is 1/fps/len(roster).
type Scheduler struct {
	roster   *Roster
	source   FrameSource
	runner   CycleRunner
	pool     *WorkerPool
	sink     EventSink
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	next     int
	lastTick atomic.Int64

	stats   []CameraStats
	statsMu sync.RWMutex
}

// NewScheduler creates a scheduler for a non-empty roster and a positive target rate
func NewScheduler(roster *Roster, source FrameSource, runner CycleRunner, pool *WorkerPool, sink EventSink, fps float64) (*Scheduler, error) {
	if roster == nil || roster.Len() == 0 {
		return nil, errors.New("scheduler needs at least one camera")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid detection rate %v", fps)
	}
	if pool == nil {
		pool = NewWorkerPool(1)
	}

	stats := make([]CameraStats, roster.Len())
	for _, cam := range roster.Cameras() {
		stats[cam.Handle].CameraID = cam.ID
	}

	return &Scheduler{
		roster:   roster,
		source:   source,
		runner:   runner,
		pool:     pool,
		sink:     sink,
		interval: time.Duration(float64(time.Second) / fps / float64(roster.Len())),
		sleep:    sleepContext,
		stats:    stats,
	}, nil
}

// Interval returns the pause between two camera visits
func (s *Scheduler) Interval() time.Duration { return s.interval }

// LastTick returns the time the last visit completed, zero before the first one
func (s *Scheduler) LastTick() time.Time {
	ns := s.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run loops over the roster until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[Scheduler] Detection loop started: %d cameras, %v between cameras, %d workers",
		s.roster.Len(), s.interval, s.pool.Size())

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[Scheduler] Detection loop stopped")
			return nil
		}
		s.Step(ctx)
		if err := s.sleep(ctx, s.interval); err != nil {
			log.Printf("[Scheduler] Detection loop stopped")
			return nil
		}
	}
}

// Step visits the next camera in rotation
func (s *Scheduler) Step(ctx context.Context) {
	cam := s.roster.At(s.next)
	s.next = (s.next + 1) % s.roster.Len()
	defer s.lastTick.Store(time.Now().UnixNano())

	frame, ok := s.source.LatestFrame(cam.ID)
	if !ok || frame == nil {
		s.update(cam, func(st *CameraStats) {
			st.Visits++
			st.Skipped++
		})
		return
	}

	start := time.Now()
	var events []Event
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		events = s.runner.Run(ctx, cam, frame)
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[Scheduler] Cycle failed on %s: %v", cam.ID, err)
		}
		s.update(cam, func(st *CameraStats) {
			st.Visits++
			st.Failures++
			st.LastCycleMs = elapsed.Milliseconds()
			st.LastCycleStart = start
		})
		return
	}

	for _, ev := range events {
		s.sink.Publish(ev)
	}

	s.update(cam, func(st *CameraStats) {
		st.Visits++
		st.Cycles++
		st.Events += uint64(len(events))
		st.LastCycleMs = elapsed.Milliseconds()
		st.LastCycleStart = start
	})
}

// Stats returns a copy of the per-camera statistics in roster order
func (s *Scheduler) Stats() []CameraStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	out := make([]CameraStats, len(s.stats))
	copy(out, s.stats)
	return out
}

func (s *Scheduler) update(cam Camera, fn func(*CameraStats)) {
	s.statsMu.Lock()
	fn(&s.stats[cam.Handle])
	s.statsMu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
