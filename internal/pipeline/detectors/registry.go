package detectors

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"surveil/internal/pipeline"
)

// ErrDetectorNotFound is returned when a detector name is not registered
var ErrDetectorNotFound = errors.New("detector not found")

// Detector names, also used as keys of the per-camera exclusion list
const (
	NamePerson       = "person"
	NameFight        = "fight"
	NameMotion       = "motion"
	NameWeapon       = "weapon"
	NameGeminiWeapon = "gemini_weapon"
)

// DefaultOrder is the declared stage sequence. The merge of person events
// sits right after the fight detector, which also reports people.
var DefaultOrder = []string{NamePerson, NameFight, "", NameMotion, NameWeapon, NameGeminiWeapon}

// Registry holds the long-lived detector instances built once at startup
type Registry struct {
	detectors map[string]pipeline.Detector
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates a new detector registry
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]pipeline.Detector),
	}
}

// Register adds a detector to the registry
func (r *Registry) Register(detector pipeline.Detector) error {
	if detector == nil {
		return fmt.Errorf("detector cannot be nil")
	}

	name := detector.Name()
	if name == "" {
		return fmt.Errorf("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}

	r.detectors[name] = detector
	r.order = append(r.order, name)
	return nil
}

// Get returns a detector by name
func (r *Registry) Get(name string) (pipeline.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// MustGet returns a detector by name or ErrDetectorNotFound
func (r *Registry) MustGet(name string) (pipeline.Detector, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDetectorNotFound, name)
	}
	return d, nil
}

// GetAll returns all registered detectors in registration order
func (r *Registry) GetAll() []pipeline.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]pipeline.Detector, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.detectors[name])
	}
	return result
}

// GetEnabled returns only enabled detectors
func (r *Registry) GetEnabled() []pipeline.Detector {
	result := make([]pipeline.Detector, 0)
	for _, d := range r.GetAll() {
		if d.Enabled() {
			result = append(result, d)
		}
	}
	return result
}

// Names returns the names of all registered detectors
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Stages builds the pipeline stages for the given order. An empty name
// declares the person merge stage. Names that are not registered are
// skipped with a log line.
func (r *Registry) Stages(order []string) []pipeline.Stage {
	stages := make([]pipeline.Stage, 0, len(order))
	for _, name := range order {
		if name == "" {
			stages = append(stages, pipeline.MergeStage(pipeline.EventPersonDetected, pipeline.SignalPersons))
			continue
		}
		d, ok := r.Get(name)
		if !ok {
			log.Printf("[Registry] Detector %q not registered, skipping stage", name)
			continue
		}
		stages = append(stages, pipeline.DetectorStage(d))
	}
	return stages
}

// Close releases all detector resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, name := range r.order {
		if err := r.detectors[name].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing detector %q: %w", name, err)
		}
		delete(r.detectors, name)
	}
	r.order = nil
	return firstErr
}

// Ensure Registry implements DetectorRegistry
var _ pipeline.DetectorRegistry = (*Registry)(nil)
