package topic

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// pool bounds how many CPU-bound vectorization jobs run at once. Callers
// beyond the limit wait in Acquire.
type pool struct {
	sem *semaphore.Weighted
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(workers))}
}

// submit runs fn on a pool goroutine and waits for its result or ctx.
func submit[T any](ctx context.Context, p *pool, fn func() T) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan T, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
