package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many pipeline jobs run at once. Jobs run on their
// own goroutine so the caller's control flow never executes detector code.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewWorkerPool creates a pool with the given number of workers (minimum 1)
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the worker count
func (p *WorkerPool) Size() int { return int(p.size) }

// Do runs job on a worker and waits for it to finish. A panic inside job is
// recovered and returned as an error. If ctx ends first Do returns ctx.Err()
// and the job keeps its worker until it returns.
func (p *WorkerPool) Do(ctx context.Context, job func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job panicked: %v", r)
			}
		}()
		done <- job(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every running job has released its worker
func (p *WorkerPool) Wait(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}
