package ratelimit

import (
	"context"
	"testing"
	"time"
)

func testStrategy() Strategy {
	return Strategy{GrowthFactor: 2, MinBackOff: 20 * time.Millisecond, MaxBackOff: 50 * time.Millisecond}
}

// TestScenarioD_RateLimitBackOff mirrors spec §8 scenario D exactly:
// growth=2, min=20ms, max=50ms. First rate-limited response sets the
// window to 20ms, a concurrent second call inside the window is rejected
// without running its task, after sleeping the window a call succeeds and
// resets the counter, and a second rate-limited hit moves the window to
// 40ms (capped at 50ms on a third).
func TestScenarioD_RateLimitBackOff(t *testing.T) {
	l, err := New("test", testStrategy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rateLimited := func(context.Context) (int, error) { return 0, nil }
	classifyAlwaysLimited := func(int, error) bool { return true }

	ctx := context.Background()

	if _, err := Execute(ctx, l, rateLimited, classifyAlwaysLimited); err != nil {
		t.Fatalf("first call should run and be classified rate-limited: %v", err)
	}

	ran := false
	task := func(context.Context) (int, error) { ran = true; return 0, nil }
	if _, err := Execute(ctx, l, task, classifyAlwaysLimited); err != ErrRateLimited {
		t.Fatalf("second call within window should be rejected, got %v", err)
	}
	if ran {
		t.Fatalf("task must not run while rate limited")
	}

	time.Sleep(25 * time.Millisecond)

	succeeded := false
	successTask := func(context.Context) (int, error) { succeeded = true; return 0, nil }
	classifyNeverLimited := func(int, error) bool { return false }
	if _, err := Execute(ctx, l, successTask, classifyNeverLimited); err != nil {
		t.Fatalf("call after window elapses should run: %v", err)
	}
	if !succeeded {
		t.Fatalf("task should have run")
	}

	l.mu.Lock()
	count := l.timesRateLimited
	l.mu.Unlock()
	if count != 0 {
		t.Fatalf("counter should reset to 0 after a non-rate-limited response, got %d", count)
	}

	if _, err := Execute(ctx, l, rateLimited, classifyAlwaysLimited); err != nil {
		t.Fatalf("rate-limit call: %v", err)
	}
	l.mu.Lock()
	backoff := l.currentBackOff()
	l.mu.Unlock()
	if backoff != 40*time.Millisecond {
		t.Fatalf("expected 40ms backoff after second rate-limit hit, got %v", backoff)
	}

	time.Sleep(45 * time.Millisecond)
	if _, err := Execute(ctx, l, rateLimited, classifyAlwaysLimited); err != nil {
		t.Fatalf("rate-limit call: %v", err)
	}
	l.mu.Lock()
	backoff = l.currentBackOff()
	l.mu.Unlock()
	if backoff != 50*time.Millisecond {
		t.Fatalf("expected back-off capped at max 50ms, got %v", backoff)
	}
}

// TestRaceSafeSecondFailureDoesNotReExtend verifies that a second failure
// observing the same counter (as if it raced with the first) does not
// extend the back-off window twice.
func TestRaceSafeSecondFailureDoesNotReExtend(t *testing.T) {
	l, err := New("race", testStrategy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.mu.Lock()
	observed := l.timesRateLimited
	l.mu.Unlock()

	l.responseRateLimited(observed)
	l.mu.Lock()
	firstDeadline := l.dropRequestsUntil
	firstCount := l.timesRateLimited
	l.mu.Unlock()

	// Simulate a second, concurrent caller that captured the counter
	// before the first extended it.
	l.responseRateLimited(observed)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timesRateLimited != firstCount {
		t.Fatalf("counter should not move on stale observation, got %d want %d", l.timesRateLimited, firstCount)
	}
	if !l.dropRequestsUntil.Equal(firstDeadline) {
		t.Fatalf("drop-until should not be re-extended by a stale observation")
	}
}

func TestExecuteWithBackOffHonorsContextCancellation(t *testing.T) {
	l, err := New("ctx", Strategy{GrowthFactor: 2, MinBackOff: time.Second, MaxBackOff: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.responseRateLimited(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ExecuteWithBackOff(ctx, l, func(context.Context) (int, error) {
		t.Fatalf("task must not run after context cancellation")
		return 0, nil
	}, func(int, error) bool { return false })
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
