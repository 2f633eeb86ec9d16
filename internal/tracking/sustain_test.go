package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func observeOnce(e *SustainEngine, handle int, key PairKey, passed bool) bool {
	c := e.Begin(handle)
	fired := c.Observe(key, passed)
	c.End()
	return fired
}

func TestPairKeyCanonical(t *testing.T) {
	assert.Equal(t, NewPairKey(3, 7), NewPairKey(7, 3))
	assert.Equal(t, PairKey{A: 3, B: 7}, NewPairKey(7, 3))
}

func TestRingBuffer(t *testing.T) {
	r := newRingBuffer(3)
	r.push(true)
	r.push(false)
	assert.False(t, r.full())
	r.push(true)
	assert.True(t, r.full())
	assert.False(t, r.unanimous())

	// false falls out after one more push
	r.push(true)
	assert.False(t, r.unanimous())
	r.push(true)
	assert.True(t, r.unanimous())
	assert.Equal(t, 3, r.count)
}

func TestSustainFailingLastCycleNeverFires(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	e := NewSustainEngine(3, 10*time.Second, clock.Now)
	key := NewPairKey(0, 1)

	assert.False(t, observeOnce(e, 0, key, true))
	assert.False(t, observeOnce(e, 0, key, true))
	assert.False(t, observeOnce(e, 0, key, false))
}

func TestSustainFiresOnceThenCoolsDown(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	e := NewSustainEngine(3, 10*time.Second, clock.Now)
	key := NewPairKey(0, 1)

	var fired []bool
	for i := 0; i < 4; i++ {
		fired = append(fired, observeOnce(e, 0, key, true))
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, []bool{false, false, true, false}, fired)

	// buffer is not reset by firing, only the cooldown holds it back
	clock.Advance(10 * time.Second)
	assert.True(t, observeOnce(e, 0, key, true))
}

func TestSustainInactivePairIsDiscarded(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	e := NewSustainEngine(3, 0, clock.Now)
	key := NewPairKey(0, 1)

	observeOnce(e, 0, key, true)
	observeOnce(e, 0, key, true)
	assert.Equal(t, 1, e.Tracked(0))

	// pair absent for one cycle
	c := e.Begin(0)
	c.End()
	assert.Equal(t, 0, e.Tracked(0))

	assert.False(t, observeOnce(e, 0, key, true))
	assert.False(t, observeOnce(e, 0, key, true))
	assert.True(t, observeOnce(e, 0, key, true))
}

func TestSustainOneFirePerCycle(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	e := NewSustainEngine(1, 0, clock.Now)

	c := e.Begin(0)
	assert.True(t, c.Observe(NewPairKey(0, 1), true))
	assert.False(t, c.Observe(NewPairKey(2, 3), true))
	assert.True(t, c.Fired())
	c.End()
	assert.Equal(t, 2, e.Tracked(0))
}

func TestSustainCooldownIsPerCamera(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	e := NewSustainEngine(1, time.Minute, clock.Now)
	key := NewPairKey(0, 1)

	assert.True(t, observeOnce(e, 0, key, true))
	assert.False(t, observeOnce(e, 0, key, true))
	assert.True(t, observeOnce(e, 1, key, true))
}
