package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultDetectorTimeout bounds a single Detect call
const DefaultDetectorTimeout = 10 * time.Second

// Stage is one step of the declared pipeline order. A stage either runs a
// detector or merges the accumulated events of one type and publishes them
// as a signal for later stages.
type Stage struct {
	Detector Detector
	Merge    EventType
	Provides Signal
}

// DetectorStage declares a detector step
func DetectorStage(d Detector) Stage {
	return Stage{Detector: d}
}

// MergeStage declares a dedup step over events of type t that provides signal s
func MergeStage(t EventType, s Signal) Stage {
	return Stage{Merge: t, Provides: s}
}

func (s Stage) name() string {
	if s.Detector != nil {
		return s.Detector.Name()
	}
	return fmt.Sprintf("merge(%s)", s.Merge)
}

// ComposerOptions configures a Composer
type ComposerOptions struct {
	DetectorTimeout time.Duration       // Per Detect call, 0 means DefaultDetectorTimeout
	MergeIoU        float64             // Dedup threshold, 0 means DefaultMergeIoU
	Exclusions      map[string][]string // Detector name -> camera ids it must skip
}

// Composer runs the declared stages over one frame of one camera and
// returns the resulting events in stage order.
type Composer struct {
	stages   []Stage
	timeout  time.Duration
	mergeIoU float64
	excluded map[string]map[string]bool

	stats   map[string]*ComposerStats
	statsMu sync.RWMutex
}

// NewComposer validates the stage order: every signal a detector requires
// must be provided by an earlier stage.
func NewComposer(stages []Stage, opts ComposerOptions) (*Composer, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline has no stages")
	}

	provided := make(map[Signal]bool)
	for i, st := range stages {
		if st.Detector == nil {
			if st.Merge == "" || st.Provides == "" {
				return nil, fmt.Errorf("stage %d: merge stage needs an event type and a signal", i)
			}
			provided[st.Provides] = true
			continue
		}
		for _, req := range st.Detector.Requires() {
			if !provided[req] {
				return nil, fmt.Errorf("stage %d (%s) requires signal %q which no earlier stage provides",
					i, st.Detector.Name(), req)
			}
		}
	}

	c := &Composer{
		stages:   stages,
		timeout:  opts.DetectorTimeout,
		mergeIoU: opts.MergeIoU,
		excluded: make(map[string]map[string]bool),
		stats:    make(map[string]*ComposerStats),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultDetectorTimeout
	}
	if c.mergeIoU <= 0 {
		c.mergeIoU = DefaultMergeIoU
	}
	for name, cams := range opts.Exclusions {
		set := make(map[string]bool, len(cams))
		for _, id := range cams {
			set[id] = true
		}
		c.excluded[name] = set
	}

	for _, st := range stages {
		if st.Detector == nil {
			log.Printf("[Composer] %-16s provides %s", st.name(), st.Provides)
			continue
		}
		state := "DISABLED"
		if st.Detector.Enabled() {
			state = "ENABLED"
		}
		log.Printf("[Composer] %-16s %s", st.Detector.Name(), state)
	}

	return c, nil
}

// Stages returns the declared stage names in order
func (c *Composer) Stages() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.name()
	}
	return names
}

// Run executes every stage for one frame. Detector failures, panics and
// timeouts are logged and contribute no events; they never stop later stages.
// A detector that returns cleanly after its deadline keeps its events, since
// it may already have committed tracker or cooldown state for them.
func (c *Composer) Run(ctx context.Context, cam Camera, frame *Frame) []Event {
	start := time.Now()
	dc := NewDetectContext(cam)
	var events []Event
	var failures, overruns uint64

	for _, st := range c.stages {
		if ctx.Err() != nil {
			break
		}

		if st.Detector == nil {
			var merged []Event
			events, merged = MergeClass(events, st.Merge, c.mergeIoU)
			dc.Set(st.Provides, merged)
			continue
		}

		det := st.Detector
		if !det.Enabled() || c.excluded[det.Name()][cam.ID] {
			continue
		}

		out, late, err := c.invoke(ctx, det, frame, dc)
		if err != nil {
			failures++
			log.Printf("[Composer] %s failed on %s: %v", det.Name(), cam.ID, err)
			continue
		}
		if late {
			overruns++
			log.Printf("[Composer] %s on %s returned after %s", det.Name(), cam.ID, c.timeout)
		}
		events = append(events, out...)
	}

	c.statsMu.Lock()
	s, ok := c.stats[cam.ID]
	if !ok {
		s = &ComposerStats{CameraID: cam.ID}
		c.stats[cam.ID] = s
	}
	s.Cycles++
	s.DetectorFailures += failures
	s.EventsEmitted += uint64(len(events))
	s.Overruns += overruns
	s.LastRunMs = time.Since(start).Milliseconds()
	c.statsMu.Unlock()

	return events
}

// invoke runs one detector under the per-detector deadline. An error is a
// failure, including a detector reporting the expired context. A clean
// return past the deadline is reported as late.
func (c *Composer) invoke(ctx context.Context, det Detector, frame *Frame, dc *DetectContext) (events []Event, late bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			events = nil
			late = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	events, err = det.Detect(ctx, frame, dc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("exceeded %s: %w", c.timeout, err)
		}
		return nil, false, err
	}
	return events, ctx.Err() != nil, nil
}

// Stats returns a copy of the per-camera statistics, sorted by camera id
func (c *Composer) Stats() []ComposerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	out := make([]ComposerStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}
