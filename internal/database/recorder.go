package database

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"surveil/internal/pipeline"
)

// Recorder persists events from an event bus channel and prunes old rows
type Recorder struct {
	db        *Database
	retention time.Duration

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewRecorder creates a recorder. A zero retention keeps events forever.
func NewRecorder(db *Database, retention time.Duration) *Recorder {
	return &Recorder{db: db, retention: retention}
}

// Run stores every event received until the channel closes or ctx is done
func (r *Recorder) Run(ctx context.Context, events <-chan pipeline.Event) {
	var prune <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		prune = ticker.C
		r.prune(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.db.SaveEvent(ctx, ev); err != nil {
				if r.failed.Add(1)%100 == 1 {
					log.Printf("[Recorder] %v", err)
				}
				continue
			}
			r.saved.Add(1)
		case <-prune:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.db.DeleteEventsBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		log.Printf("[Recorder] Prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Recorder] Pruned %d events older than %s", n, r.retention)
	}
}

// Saved returns the number of events stored
func (r *Recorder) Saved() uint64 { return r.saved.Load() }

// Failed returns the number of events that could not be stored
func (r *Recorder) Failed() uint64 { return r.failed.Load() }
