package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestAdmissionGate(t *testing.T) {
	clock := newFakeClock()
	gate := NewAdmissionGate(30*time.Second, clock.Now)
	const cam = 0

	// t=0, person present
	assert.True(t, gate.Admit(cam, true))
	gate.Record(cam)

	// t=10, within cooldown
	clock.Advance(10 * time.Second)
	assert.False(t, gate.Admit(cam, true))

	// t=31, no person present
	clock.Advance(21 * time.Second)
	assert.False(t, gate.Admit(cam, false))

	// t=31, person present
	assert.True(t, gate.Admit(cam, true))
}

func TestAdmissionGateFailedPreconditionDoesNotStamp(t *testing.T) {
	clock := newFakeClock()
	gate := NewAdmissionGate(30*time.Second, clock.Now)

	assert.False(t, gate.Admit(0, false))
	assert.True(t, gate.LastCall(0).IsZero())
	assert.True(t, gate.Admit(0, true))
}

func TestAdmissionGatePerCamera(t *testing.T) {
	clock := newFakeClock()
	gate := NewAdmissionGate(30*time.Second, clock.Now)

	assert.True(t, gate.Admit(0, true))
	gate.Record(0)

	clock.Advance(time.Second)
	assert.False(t, gate.Admit(0, true))
	assert.True(t, gate.Admit(3, true))
	gate.Record(3)
	assert.Equal(t, clock.Now(), gate.LastCall(3))
}

func TestAdmissionGateUnsuccessfulCallKeepsWindowOpen(t *testing.T) {
	clock := newFakeClock()
	gate := NewAdmissionGate(30*time.Second, clock.Now)

	// admitted but the call failed, so nothing was recorded
	assert.True(t, gate.Admit(0, true))
	clock.Advance(5 * time.Second)
	assert.True(t, gate.Admit(0, true))
}
