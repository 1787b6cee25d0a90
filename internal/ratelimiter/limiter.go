// Package ratelimiter implements §4.1's RateLimiter: a weight-windowed,
// spaced, retrying wrapper around REST calls.
//
// Grounded on internal/binance/rate_limiter.go's sliding weight tracker, but
// simplified to the single admission/spacing/retry contract §4.1 specifies —
// the teacher's four-tier priority-threshold budgeting (CRITICAL/HIGH/NORMAL/
// LOW, each with its own percentage of maxWeight) is dropped; §9's "per-channel
// rate fairness" Open Question explicitly leaves that generalization undecided
// and the source does not implement it either, so this port doesn't invent it.
package ratelimiter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/brokererr"
)

// Config holds the three enumerated knobs from §4.1.
type Config struct {
	MaxWeight      int           // default 800
	Window         time.Duration // default 60s
	RequestDelay   time.Duration // default 500ms
}

// DefaultConfig returns §4.1's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWeight:    800,
		Window:       60 * time.Second,
		RequestDelay: 500 * time.Millisecond,
	}
}

type record struct {
	at     time.Time
	weight int
}

// RateLimiter admits, spaces, and retries REST calls per §4.1.
//
// now/sleep are overridable so tests can exercise the admission/spacing math
// without incurring real wall-clock delays (§8 properties 4 and 5).
type RateLimiter struct {
	cfg Config

	mu      sync.Mutex
	records []record

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds a RateLimiter with cfg, defaulting zero fields to DefaultConfig.
func New(cfg Config) *RateLimiter {
	def := DefaultConfig()
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = def.MaxWeight
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = def.RequestDelay
	}
	return &RateLimiter{
		cfg:   cfg,
		now:   time.Now,
		sleep: ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetClock overrides the limiter's time source and sleep function, for tests.
func (r *RateLimiter) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	r.sleep = sleep
}

// prune drops records older than now-window and returns the current total
// weight. Caller must hold r.mu.
func (r *RateLimiter) prune(now time.Time) int {
	cutoff := now.Add(-r.cfg.Window)
	i := 0
	for i < len(r.records) && r.records[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.records = r.records[i:]
	}
	total := 0
	for _, rec := range r.records {
		total += rec.weight
	}
	return total
}

// admit blocks (via sleep) until weight more can be admitted within the
// sliding window, per §4.1 step 1.
func (r *RateLimiter) admit(ctx context.Context, weight int) error {
	for {
		r.mu.Lock()
		now := r.now()
		current := r.prune(now)

		if current+weight <= r.cfg.MaxWeight {
			r.mu.Unlock()
			return nil
		}

		oldest := r.records[0].at
		wait := oldest.Add(r.cfg.Window).Sub(now) + 100*time.Millisecond
		r.mu.Unlock()

		if wait < 0 {
			wait = 100 * time.Millisecond
		}
		if err := r.sleep(ctx, wait); err != nil {
			return brokererr.NewCancelled()
		}
	}
}

// space blocks until at least RequestDelay has elapsed since the last
// recorded request, per §4.1 step 2.
func (r *RateLimiter) space(ctx context.Context) error {
	r.mu.Lock()
	now := r.now()
	var last time.Time
	if len(r.records) > 0 {
		last = r.records[len(r.records)-1].at
	}
	gap := r.cfg.RequestDelay - now.Sub(last)
	r.mu.Unlock()

	if gap <= 0 {
		return nil
	}
	if err := r.sleep(ctx, gap); err != nil {
		return brokererr.NewCancelled()
	}
	return nil
}

// record appends a (now, weight) entry, step 3.
func (r *RateLimiter) record(weight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{at: r.now(), weight: weight})
	sort.Slice(r.records, func(i, j int) bool { return r.records[i].at.Before(r.records[j].at) })
}

// Execute runs fn under admission, spacing, and retry, per §4.1 step 4.
// Transient failures (per brokererr.Classify) are retried up to maxRetries
// times with linear backoff (1s, 2s, ...); everything else propagates
// immediately.
func Execute[T any](ctx context.Context, r *RateLimiter, fn func(context.Context) (T, error), weight int, maxRetries int) (T, error) {
	var zero T

	if err := r.admit(ctx, weight); err != nil {
		return zero, err
	}
	if err := r.space(ctx); err != nil {
		return zero, err
	}
	r.record(weight)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !brokererr.IsTransient(brokererr.Classify(err)) {
			return zero, err
		}
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if sleepErr := r.sleep(ctx, backoff); sleepErr != nil {
			return zero, sleepErr
		}
	}
	return zero, lastErr
}

// CurrentWeight returns the weight currently counted within the sliding
// window, for diagnostics/admin surfaces.
func (r *RateLimiter) CurrentWeight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prune(r.now())
}
