package pipeline

import (
	"sync"
	"time"
)

// AdmissionGate throttles an expensive call per camera: a precondition must
// hold and a cooldown must have elapsed since the last successful call.
type AdmissionGate struct {
	cooldown time.Duration
	clock    func() time.Time

	mu       sync.Mutex
	lastCall []time.Time // indexed by camera handle, zero means never
}

// NewAdmissionGate creates a gate. A nil clock uses time.Now.
func NewAdmissionGate(cooldown time.Duration, clock func() time.Time) *AdmissionGate {
	if clock == nil {
		clock = time.Now
	}
	return &AdmissionGate{cooldown: cooldown, clock: clock}
}

// Admit reports whether the call may run now for the camera. A failed
// precondition never touches the cooldown state.
func (g *AdmissionGate) Admit(handle int, precondition bool) bool {
	if !precondition {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	last := g.slot(handle)
	if last.IsZero() {
		return true
	}
	return g.clock().Sub(last) >= g.cooldown
}

// Record stamps the camera's last successful call with the current time
func (g *AdmissionGate) Record(handle int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slot(handle)
	g.lastCall[handle] = g.clock()
}

// LastCall returns the time of the last recorded call for the camera
func (g *AdmissionGate) LastCall(handle int) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot(handle)
}

// Cooldown returns the configured interval
func (g *AdmissionGate) Cooldown() time.Duration {
	return g.cooldown
}

func (g *AdmissionGate) slot(handle int) time.Time {
	for len(g.lastCall) <= handle {
		g.lastCall = append(g.lastCall, time.Time{})
	}
	return g.lastCall[handle]
}
