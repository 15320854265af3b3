package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/nova/internal/observe"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultAttempts = 3
)

// Reliable wraps a Provider with a per-attempt timeout and bounded
// exponential-backoff retries.
type Reliable struct {
	inner    Provider
	timeout  time.Duration
	attempts uint
	initial  time.Duration
	metrics  *observe.Metrics
}

// ReliabilityOption tweaks a Reliable wrapper.
type ReliabilityOption func(*Reliable)

// WithMetrics records the latency of every attempt.
func WithMetrics(m *observe.Metrics) ReliabilityOption {
	return func(r *Reliable) { r.metrics = m }
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) ReliabilityOption {
	return func(r *Reliable) { r.initial = d }
}

func WithReliability(p Provider, timeout time.Duration, attempts int, opts ...ReliabilityOption) *Reliable {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	r := &Reliable{
		inner:    p,
		timeout:  timeout,
		attempts: uint(attempts),
		initial:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reliable) Name() string {
	return r.inner.Name()
}

func (r *Reliable) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial

	return backoff.Retry(ctx, func() (*Response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		start := time.Now()
		resp, err := r.inner.Chat(attemptCtx, messages, opts)
		if r.metrics != nil {
			r.metrics.ObserveProvider(r.inner.Name(), time.Since(start), err)
		}
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return resp, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.attempts))
}
