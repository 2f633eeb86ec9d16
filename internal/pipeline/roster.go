package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCameraNotFound is returned when a camera id is not on the roster
var ErrCameraNotFound = errors.New("camera not found")

// Roster is the fixed, ordered camera list. Each camera is interned to a
// stable handle used to index per-camera state.
type Roster struct {
	cameras []Camera
	byID    map[string]int
}

// NewRoster interns the ids in order. Duplicate or empty ids are rejected.
func NewRoster(ids []string) (*Roster, error) {
	r := &Roster{byID: make(map[string]int, len(ids))}
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty camera id in roster")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate camera id %q in roster", id)
		}
		h := len(r.cameras)
		r.cameras = append(r.cameras, Camera{ID: id, Handle: h})
		r.byID[id] = h
	}
	return r, nil
}

// Cameras returns the roster in visiting order
func (r *Roster) Cameras() []Camera {
	out := make([]Camera, len(r.cameras))
	copy(out, r.cameras)
	return out
}

// Len returns the number of cameras
func (r *Roster) Len() int { return len(r.cameras) }

// At returns the camera at position i in visiting order
func (r *Roster) At(i int) Camera { return r.cameras[i] }

// Lookup resolves a camera id to its roster entry
func (r *Roster) Lookup(id string) (Camera, error) {
	h, ok := r.byID[id]
	if !ok {
		return Camera{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return r.cameras[h], nil
}

// Arena holds one value of per-camera state per roster handle. The slot
// itself is owned by that camera's sequential pipeline runs; only the slice
// is guarded so cameras may be sharded across workers.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []T
	init  func() T
}

// NewArena creates an arena whose slots are built lazily by init
func NewArena[T any](init func() T) *Arena[T] {
	return &Arena[T]{init: init}
}

// Get returns the slot for handle, creating it on first use
func (a *Arena[T]) Get(handle int) T {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grow(handle)
	return a.slots[handle]
}

// Put replaces the slot for handle
func (a *Arena[T]) Put(handle int, v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grow(handle)
	a.slots[handle] = v
}

// Reserve pre-allocates slots for n cameras
func (a *Arena[T]) Reserve(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > 0 {
		a.grow(n - 1)
	}
}

func (a *Arena[T]) grow(handle int) {
	for len(a.slots) <= handle {
		a.slots = append(a.slots, a.init())
	}
}
