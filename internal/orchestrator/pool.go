package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool is an elastic worker pool bounded to [min, max] concurrent tasks. It's
// built the way this codebase's task-runner pairs a channel/semaphore limiter
// with an errgroup: a weighted semaphore caps concurrency at max, and since
// each task is its own goroutine that simply exits on completion, idle
// capacity is "reclaimed" implicitly rather than through an explicit
// teardown timer - there's no persistent worker to tear down.
type Pool struct {
	min, max int
	sem      *semaphore.Weighted
	eg       *errgroup.Group
	ctx      context.Context
}

// NewPool creates a Pool with concurrency bounded to [min, max]. min must be
// >= 1 and <= max.
func NewPool(ctx context.Context, min, max int) (*Pool, error) {
	if min < 1 {
		return nil, fmt.Errorf("orchestrator: pool min must be >= 1, got %d", min)
	}
	if max < min {
		return nil, fmt.Errorf("orchestrator: pool max (%d) must be >= min (%d)", max, min)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	return &Pool{
		min: min,
		max: max,
		sem: semaphore.NewWeighted(int64(max)),
		eg:  eg,
		ctx: egCtx,
	}, nil
}

// Context returns the pool's derived context, canceled as soon as any
// submitted task returns a non-nil error.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit blocks until a concurrency slot is free (or ctx is done), then runs
// task in its own goroutine. Submit itself never blocks past slot
// acquisition; it does not wait for task to complete.
func (p *Pool) Submit(ctx context.Context, task func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.eg.Go(func() error {
		defer p.sem.Release(1)
		return safeRun(task)
	})
	return nil
}

// safeRun guards a single task body with recover, converting a panic into an
// error rather than crashing the whole pool.
func safeRun(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: task panicked: %v", r)
		}
	}()
	return task()
}

// Join waits for all in-flight tasks to complete and returns the first
// error, if any. Call this once, after no more tasks will be submitted.
func (p *Pool) Join() error {
	return p.eg.Wait()
}
