package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically instead of sleeping
// for real, so weight-window/spacing math can be exercised in milliseconds.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// S4 — rate-limiter back-off: 11 calls of weight 10 against maxWeight=100
// must never let any 60s sliding window exceed 100 total weight, and must
// admit all 11 eventually.
func TestExecute_WeightCapNeverExceeded(t *testing.T) {
	clock := newFakeClock()
	rl := New(Config{MaxWeight: 100, Window: 60 * time.Second, RequestDelay: 100 * time.Millisecond})
	rl.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()
	var starts []time.Time

	for i := 0; i < 11; i++ {
		_, err := Execute(ctx, rl, func(context.Context) (struct{}, error) {
			starts = append(starts, clock.Now())
			return struct{}{}, nil
		}, 10, 0)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	if len(starts) != 11 {
		t.Fatalf("expected 11 calls to commence, got %d", len(starts))
	}

	// Property 4: for every 60s window, summed weight of calls starting in
	// it is <= maxWeight.
	for i := range starts {
		windowStart := starts[i].Add(-60 * time.Second)
		total := 0
		for j := 0; j <= i; j++ {
			if !starts[j].Before(windowStart) {
				total += 10
			}
		}
		if total > 100 {
			t.Fatalf("window ending at call %d exceeded cap: %d > 100", i, total)
		}
	}

	// Property 5: consecutive calls are spaced by at least RequestDelay.
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 100*time.Millisecond {
			t.Fatalf("calls %d and %d spaced only %v apart", i-1, i, gap)
		}
	}

	// The 11th call must have waited for the first to age out of the window.
	if gap := starts[10].Sub(starts[0]); gap < 60*time.Second {
		t.Fatalf("11th call started only %v after the 1st; expected >= window", gap)
	}
}

// S5 — transient retry then success: a call that fails twice with a
// transient error then succeeds resolves with the successful value, fn runs
// exactly 3 times, and backoff gaps are 1s then 2s.
func TestExecute_TransientRetryThenSuccess(t *testing.T) {
	clock := newFakeClock()
	rl := New(Config{MaxWeight: 800, Window: time.Minute, RequestDelay: 0})
	rl.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()
	var callTimes []time.Time
	attempt := 0

	result, err := Execute(ctx, rl, func(context.Context) (string, error) {
		callTimes = append(callTimes, clock.Now())
		attempt++
		if attempt <= 2 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	}, 1, 2)

	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", result)
	}
	if attempt != 3 {
		t.Fatalf("expected fn invoked 3 times, got %d", attempt)
	}
	if len(callTimes) != 3 {
		t.Fatalf("expected 3 recorded call times, got %d", len(callTimes))
	}
	if gap := callTimes[1].Sub(callTimes[0]); gap != time.Second {
		t.Fatalf("expected 1s gap before 2nd attempt, got %v", gap)
	}
	if gap := callTimes[2].Sub(callTimes[1]); gap != 2*time.Second {
		t.Fatalf("expected 2s gap before 3rd attempt, got %v", gap)
	}
}

// Property 6 — retry bound: a permanently-failing transient call attempts
// exactly maxRetries+1 times then propagates the last error.
func TestExecute_RetryBound(t *testing.T) {
	clock := newFakeClock()
	rl := New(Config{MaxWeight: 800, Window: time.Minute, RequestDelay: 0})
	rl.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()
	attempts := 0

	_, err := Execute(ctx, rl, func(context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("i/o timeout")
	}, 1, 3)

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts (maxRetries+1), got %d", attempts)
	}
}

// Non-transient errors propagate immediately without retry.
func TestExecute_NonTransientPropagatesImmediately(t *testing.T) {
	clock := newFakeClock()
	rl := New(Config{MaxWeight: 800, Window: time.Minute, RequestDelay: 0})
	rl.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()
	attempts := 0

	_, err := Execute(ctx, rl, func(context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("bad request: invalid symbol")
	}, 1, 5)

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-transient error, got %d", attempts)
	}
}
