package tracking

import (
	"time"

	"surveil/internal/pipeline"
)

// PairKey identifies an unordered pair of slots, canonicalized as (min, max)
type PairKey struct {
	A int
	B int
}

// NewPairKey canonicalizes two slot ids into a key
func NewPairKey(a, b int) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// ringBuffer is a fixed-capacity FIFO of booleans; the oldest entry is
// overwritten on overflow.
type ringBuffer struct {
	buf   []bool
	head  int
	count int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]bool, capacity)}
}

func (r *ringBuffer) push(v bool) {
	idx := (r.head + r.count) % len(r.buf)
	if r.count == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = v
	r.count++
}

func (r *ringBuffer) full() bool { return r.count == len(r.buf) }

func (r *ringBuffer) unanimous() bool {
	for i := 0; i < r.count; i++ {
		if !r.buf[(r.head+i)%len(r.buf)] {
			return false
		}
	}
	return true
}

type sustainState struct {
	buffers  map[PairKey]*ringBuffer
	lastFire time.Time
}

// SustainEngine debounces per-pair pass/fail outcomes. A pair fires only
// after a full window of passes, and a camera fires at most once per cooldown.
type SustainEngine struct {
	window   int
	cooldown time.Duration
	clock    func() time.Time
	cams     *pipeline.Arena[*sustainState]
}

// NewSustainEngine creates an engine. A nil clock uses time.Now.
func NewSustainEngine(window int, cooldown time.Duration, clock func() time.Time) *SustainEngine {
	if window < 1 {
		window = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &SustainEngine{
		window:   window,
		cooldown: cooldown,
		clock:    clock,
		cams: pipeline.NewArena(func() *sustainState {
			return &sustainState{buffers: make(map[PairKey]*ringBuffer)}
		}),
	}
}

// Window returns the sustain window length
func (e *SustainEngine) Window() int { return e.window }

// Begin opens one evaluation cycle for a camera
func (e *SustainEngine) Begin(handle int) *SustainCycle {
	return &SustainCycle{
		engine: e,
		state:  e.cams.Get(handle),
		active: make(map[PairKey]struct{}),
	}
}

// Tracked returns the number of pair buffers currently held for a camera
func (e *SustainEngine) Tracked(handle int) int {
	return len(e.cams.Get(handle).buffers)
}

// SustainCycle collects the observations of one camera cycle
type SustainCycle struct {
	engine *SustainEngine
	state  *sustainState
	active map[PairKey]struct{}
	fired  bool
}

// Observe pushes the pair's outcome for this cycle and reports whether the
// pair fires now. At most one pair fires per cycle.
func (c *SustainCycle) Observe(key PairKey, passed bool) bool {
	c.active[key] = struct{}{}

	buf, ok := c.state.buffers[key]
	if !ok {
		buf = newRingBuffer(c.engine.window)
		c.state.buffers[key] = buf
	}
	buf.push(passed)

	if c.fired || !buf.full() || !buf.unanimous() {
		return false
	}

	now := c.engine.clock()
	if !c.state.lastFire.IsZero() && now.Sub(c.state.lastFire) < c.engine.cooldown {
		return false
	}
	c.state.lastFire = now
	c.fired = true
	return true
}

// Fired reports whether a pair fired during this cycle
func (c *SustainCycle) Fired() bool { return c.fired }

// End discards the buffer of every pair not observed in this cycle
func (c *SustainCycle) End() {
	for key := range c.state.buffers {
		if _, ok := c.active[key]; !ok {
			delete(c.state.buffers, key)
		}
	}
}
