package adapter

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// Limiter provides per-adapter rate limiting using a token bucket sized to
// the adapter's requests-per-minute window. No coordination across adapters.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates an empty limiter registry; buckets are created lazily
// from adapter metadata on first use.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *Limiter) getLimiter(meta Metadata) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[meta.Name]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[meta.Name]; exists {
		return limiter
	}

	rpm := meta.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	l.limiters[meta.Name] = limiter
	return limiter
}

// Wait blocks until the adapter's bucket allows a request or the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context, meta Metadata) error {
	return l.getLimiter(meta).Wait(ctx)
}

// Allow reports whether a request would pass without blocking.
func (l *Limiter) Allow(meta Metadata) bool {
	return l.getLimiter(meta).Allow()
}

// breakerTripAfter is the consecutive transport-failure count that opens an
// adapter's circuit.
const breakerTripAfter = 5

// Wrapped decorates an adapter with rate limiting, a circuit breaker, and
// bounded retry. Only TIMEOUT, NETWORK_ERROR, and RATE_LIMITED failures are
// retried; backoff is BackoffFactor × 2^attempt seconds.
type Wrapped struct {
	inner   Adapter
	limiter *Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Wrap builds the middleware around an adapter.
func Wrap(inner Adapter, limiter *Limiter, log zerolog.Logger) *Wrapped {
	meta := inner.Metadata()
	w := &Wrapped{
		inner:   inner,
		limiter: limiter,
		log:     log.With().Str("adapter", meta.Name).Logger(),
		sleep:   sleepCtx,
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        meta.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTripAfter
		},
		// Only transport failures count; a 404 is a healthy upstream.
		IsSuccessful: func(err error) bool {
			k := KindOf(err)
			return err == nil || (k != KindTimeout && k != KindNetworkError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("adapter circuit state changed")
		},
	})
	return w
}

// Metadata returns the wrapped adapter's metadata unchanged.
func (w *Wrapped) Metadata() Metadata { return w.inner.Metadata() }

// Extract runs the inner adapter under the rate limiter with retry. Each
// attempt gets its own timeout from the adapter metadata.
func (w *Wrapped) Extract(ctx context.Context, url string) (*domain.NormalizedListing, error) {
	meta := w.inner.Metadata()

	var lastErr error
	for attempt := 0; attempt <= meta.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(meta.BackoffFactor, attempt-1)
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", delay).
				Str("url", url).
				Err(lastErr).
				Msg("retrying extraction")
			if err := w.sleep(ctx, delay); err != nil {
				return nil, WrapError(KindTimeout, meta.Name, err, "cancelled during backoff")
			}
		}

		if err := w.limiter.Wait(ctx, meta); err != nil {
			return nil, WrapError(KindTimeout, meta.Name, err, "cancelled waiting for rate limit")
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if meta.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, meta.Timeout)
		}
		result, err := w.breaker.Execute(func() (any, error) {
			return w.inner.Extract(attemptCtx, url)
		})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result.(*domain.NormalizedListing), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = WrapError(KindNetworkError, meta.Name, err, "circuit open")
		}

		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
		// Parent cancellation is not worth another attempt.
		if ctx.Err() != nil {
			return nil, WrapError(KindTimeout, meta.Name, ctx.Err(), "context cancelled")
		}
	}
	return nil, lastErr
}

// backoffDelay computes factor × 2^attempt seconds; attempt counts retries
// from zero.
func backoffDelay(factor float64, attempt int) time.Duration {
	if factor <= 0 {
		factor = 1.0
	}
	return time.Duration(factor * math.Pow(2, float64(attempt)) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
