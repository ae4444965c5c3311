package engine

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many engine operations run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *Pool) Size() int { return int(p.size) }

// Run waits for a slot, then runs fn on the calling goroutine. It gives up
// with ctx's error if the slot does not come in time.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	poolWait.Observe(time.Since(start).Seconds())
	return fn(ctx)
}

// Do runs fn through the pool and returns its value.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
