// Package ratelimit implements the exponential back-off gate (spec §4.7).
// Its only user is the solver endpoint client (internal/solver); no price
// estimator uses it, and the settlement submitter's own RateLimiter
// interface is not implemented by Limiter. It is a generic gate, not a token bucket: it
// tracks a single "drop requests until" deadline and a rate-limited
// counter, and extends the back-off window only when the observed counter
// has not already moved past a concurrent caller.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrRateLimited is returned by Execute when the limiter is still within
// its back-off window; the wrapped task is never invoked in that case.
var ErrRateLimited = errors.New("ratelimit: rate limited")

// Strategy is the immutable back-off shape: growth factor and bounds.
type Strategy struct {
	GrowthFactor float64
	MinBackOff   time.Duration
	MaxBackOff   time.Duration
}

// Validate checks the invariants Strategy requires.
func (s Strategy) Validate() error {
	if s.GrowthFactor < 1 {
		return fmt.Errorf("ratelimit: growth_factor must be >= 1, got %v", s.GrowthFactor)
	}
	if s.MinBackOff > s.MaxBackOff {
		return fmt.Errorf("ratelimit: min_back_off must be <= max_back_off")
	}
	return nil
}

// Limiter gates calls through a named back-off strategy. The zero value
// is not usable; construct with New.
type Limiter struct {
	name     string
	strategy Strategy

	mu               sync.Mutex
	timesRateLimited uint64
	dropRequestsUntil time.Time

	now func() time.Time
}

// New constructs a Limiter. name is a label returned by Name; the limiter
// itself neither logs nor records metrics.
func New(name string, strategy Strategy) (*Limiter, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		name:     name,
		strategy: strategy,
		now:      time.Now,
	}, nil
}

// Name returns the limiter's label.
func (l *Limiter) Name() string { return l.name }

// currentBackOff returns min*growth^timesRateLimited, capped at max. Must
// be called with l.mu held.
func (l *Limiter) currentBackOff() time.Duration {
	backoff := float64(l.strategy.MinBackOff) * math.Pow(l.strategy.GrowthFactor, float64(l.timesRateLimited))
	if backoff > float64(l.strategy.MaxBackOff) {
		return l.strategy.MaxBackOff
	}
	return time.Duration(backoff)
}

// timesRateLimitedIfAllowed returns (count, true) if the limiter is not
// currently dropping requests, or (0, false) if it is. Must be called
// with l.mu held.
func (l *Limiter) timesRateLimitedIfAllowed(now time.Time) (uint64, bool) {
	if l.dropRequestsUntil.After(now) {
		return 0, false
	}
	return l.timesRateLimited, true
}

// responseOK resets the back-off state: a successful response always
// clears both the counter and the drop-until deadline.
func (l *Limiter) responseOK() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timesRateLimited = 0
	l.dropRequestsUntil = l.now()
}

// responseRateLimited extends the back-off window, but only if the
// observed counter (captured before the task ran) still matches the
// limiter's current counter. A concurrent second failure that already
// bumped the counter does not re-extend the window a second time — this
// is the race-safety rule spec §4.7 requires ("a concurrent second
// failure that observed the same counter does not re-extend back-off").
func (l *Limiter) responseRateLimited(observedCount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timesRateLimited != observedCount {
		return
	}
	backOff := l.currentBackOff()
	l.timesRateLimited++
	l.dropRequestsUntil = l.now().Add(backOff)
}

// Execute runs task unless the limiter is within its back-off window, in
// which case it returns ErrRateLimited without invoking task at all.
// classify inspects the task's result and reports whether it counts as a
// rate-limit response.
func Execute[T any](ctx context.Context, l *Limiter, task func(context.Context) (T, error), classify func(T, error) bool) (T, error) {
	var zero T

	l.mu.Lock()
	observedCount, allowed := l.timesRateLimitedIfAllowed(l.now())
	l.mu.Unlock()
	if !allowed {
		return zero, ErrRateLimited
	}

	result, err := task(ctx)

	if classify(result, err) {
		l.responseRateLimited(observedCount)
	} else {
		l.responseOK()
	}
	return result, err
}

// ExecuteWithBackOff sleeps out any already-active back-off window before
// calling Execute, honoring ctx cancellation while sleeping.
func ExecuteWithBackOff[T any](ctx context.Context, l *Limiter, task func(context.Context) (T, error), classify func(T, error) bool) (T, error) {
	var zero T

	l.mu.Lock()
	wait := l.dropRequestsUntil.Sub(l.now())
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return Execute(ctx, l, task, classify)
}
