// Package ratelimit provides per-provider admission control for metered
// external APIs.
//
// A Limiter combines a true 60-second sliding window (individual request
// timestamps, lazily pruned, with no fixed-bucket burst spikes at boundaries)
// with an optional hard daily cap that rolls over on UTC date change. Both
// blocking and non-blocking admission are supported; blocking waits are
// performed in small increments so concurrent resets are observed promptly.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"apigovernor/pkg/clock"
)

// window is the sliding-window duration. Admission counts requests within the
// trailing window relative to "now".
const window = time.Minute

// maxSleepStep bounds each blocking increment so a concurrent Reset or an
// emptied window is observed promptly instead of oversleeping.
const maxSleepStep = time.Second

// Limiter is a rate limiter for a single named provider.
//
// All methods are safe for concurrent use; mutable state is protected by a
// single mutex shared by the blocking and non-blocking paths.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	// sleep performs one bounded blocking increment, honoring ctx.
	// Replaceable in tests so a fake clock can drive waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	requests       []time.Time // chronological, all within the trailing window
	dailyCount     int
	dailyResetDate time.Time // UTC midnight of the date dailyCount belongs to
	dailyAlerted   bool

	totalRequests int64
	waitsCount    int64
	totalWaitTime time.Duration
	deniedCount   int64
}

// New creates a rate limiter with the given configuration.
//
// Zero-valued configuration fields are replaced with defaults (see Config).
func New(cfg Config) *Limiter {
	cfg.applyDefaults()

	l := &Limiter{
		cfg:   cfg,
		clock: cfg.Clock,
		sleep: sleepWithContext,
	}
	l.dailyResetDate = utcDate(l.clock.Now())
	return l
}

// Provider returns the provider name this limiter governs.
func (l *Limiter) Provider() string {
	return l.cfg.Provider
}

// Check reports whether a request would currently be admitted, without
// consuming capacity.
//
// Expired window entries are pruned and the daily counter is rolled over
// before the decision, so Check is accurate even after long idle periods.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rolloverLocked(now)
	l.pruneLocked(now)

	if len(l.requests) >= l.cfg.RequestsPerMinute {
		return false
	}
	if l.cfg.DailyLimit > 0 && l.dailyCount >= l.cfg.DailyLimit {
		return false
	}
	return true
}

// Acquire attempts to admit one request, blocking while the per-minute window
// is full.
//
// Returns (true, nil) when admitted. When the window is full and AllowWait is
// set, Acquire sleeps in bounded increments and re-checks until admitted or
// MaxWait is exceeded, in which case it returns (false, nil). With AllowWait
// disabled, a full window returns (false, *LimitExceededError) instead.
//
// When the daily cap is hit, waiting cannot help within the same UTC day, so
// Acquire returns (false, *LimitExceededError) with Limit=LimitDaily
// immediately, regardless of AllowWait or MaxWait; callers (and retry layers)
// can always tell a dead-for-the-day provider from a momentarily full window.
// Context cancellation returns (false, ctx.Err()).
//
// This single context-aware implementation serves both synchronous and
// asynchronous callers: goroutines suspend in l.sleep, not on the lock.
func (l *Limiter) Acquire(ctx context.Context) (bool, error) {
	start := l.clock.Now()
	deadline := start.Add(l.cfg.MaxWait)
	slept := false

	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.rolloverLocked(now)
		l.pruneLocked(now)

		if l.cfg.DailyLimit > 0 && l.dailyCount >= l.cfg.DailyLimit {
			l.deniedCount++
			alert := l.markDailyExhaustedLocked()
			current, limit := l.dailyCount, l.cfg.DailyLimit
			l.mu.Unlock()

			if alert != nil {
				alert()
			}
			return false, &LimitExceededError{
				Provider: l.cfg.Provider,
				Limit:    LimitDaily,
				Current:  current,
				Max:      limit,
			}
		}

		if len(l.requests) < l.cfg.RequestsPerMinute {
			l.requests = append(l.requests, now)
			l.dailyCount++
			l.totalRequests++
			if slept {
				l.waitsCount++
				l.totalWaitTime += now.Sub(start)
			}
			l.mu.Unlock()
			return true, nil
		}

		// Window full: the earliest admission point is when the oldest
		// entry slides out of the window.
		oldest := l.requests[0]
		current := len(l.requests)
		l.mu.Unlock()

		if !l.cfg.AllowWait {
			l.recordDenied()
			return false, &LimitExceededError{
				Provider: l.cfg.Provider,
				Limit:    LimitPerMinute,
				Current:  current,
				Max:      l.cfg.RequestsPerMinute,
			}
		}

		now = l.clock.Now()
		if !now.Before(deadline) {
			l.recordDenied()
			return false, nil
		}

		step := oldest.Add(window).Sub(now)
		if step > maxSleepStep {
			step = maxSleepStep
		}
		if remaining := deadline.Sub(now); step > remaining {
			step = remaining
		}
		if step <= 0 {
			step = 10 * time.Millisecond
		}

		if err := l.sleep(ctx, step); err != nil {
			return false, err
		}
		slept = true
	}
}

// RemainingDaily returns the number of requests left under the daily cap,
// clamped at zero. The second return is false when no daily limit is
// configured.
func (l *Limiter) RemainingDaily() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.DailyLimit <= 0 {
		return 0, false
	}
	l.rolloverLocked(l.clock.Now())

	remaining := l.cfg.DailyLimit - l.dailyCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Stats returns a point-in-time copy of the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rolloverLocked(now)
	l.pruneLocked(now)
	return l.statsLocked()
}

// Snapshot returns a serializable view of the limiter suitable for a metrics
// endpoint or CLI table.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rolloverLocked(now)
	l.pruneLocked(now)

	snap := Snapshot{
		Provider: l.cfg.Provider,
		Config: ConfigSnapshot{
			RequestsPerMinute: l.cfg.RequestsPerMinute,
			DailyLimit:        l.cfg.DailyLimit,
			AllowWait:         l.cfg.AllowWait,
			MaxWaitSeconds:    l.cfg.MaxWait.Seconds(),
		},
		Stats: l.statsLocked(),
	}
	if l.cfg.DailyLimit > 0 {
		remaining := l.cfg.DailyLimit - l.dailyCount
		if remaining < 0 {
			remaining = 0
		}
		snap.RemainingDaily = &remaining
	}
	return snap
}

// Reset clears the sliding window and the daily counter.
// Test and administrative use only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests = nil
	l.dailyCount = 0
	l.dailyAlerted = false
	l.dailyResetDate = utcDate(l.clock.Now())
	l.totalRequests = 0
	l.waitsCount = 0
	l.totalWaitTime = 0
	l.deniedCount = 0
}

// pruneLocked drops window entries older than the sliding window relative to
// now. Entries are chronological, so pruning is a prefix cut.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = append(l.requests[:0], l.requests[i:]...)
	}
}

// rolloverLocked resets the daily counter once the current UTC date has
// advanced past the stored reset date. Date comparison, not a timer, drives
// the rollover, so it is correct even if the process is idle across midnight.
func (l *Limiter) rolloverLocked(now time.Time) {
	today := utcDate(now)
	if !today.Equal(l.dailyResetDate) {
		l.dailyCount = 0
		l.dailyAlerted = false
		l.dailyResetDate = today
	}
}

// markDailyExhaustedLocked arms the one-per-day exhaustion notification and
// returns the callback to invoke after the lock is released, if any.
func (l *Limiter) markDailyExhaustedLocked() func() {
	if l.dailyAlerted || l.cfg.OnDailyExhausted == nil {
		return nil
	}
	l.dailyAlerted = true
	provider := l.cfg.Provider
	limit := l.cfg.DailyLimit
	cb := l.cfg.OnDailyExhausted
	return func() { cb(provider, limit) }
}

func (l *Limiter) recordDenied() {
	l.mu.Lock()
	l.deniedCount++
	l.mu.Unlock()
}

func (l *Limiter) statsLocked() Stats {
	return Stats{
		TotalRequests:    l.totalRequests,
		WaitsCount:       l.waitsCount,
		TotalWaitSeconds: l.totalWaitTime.Seconds(),
		DeniedCount:      l.deniedCount,
		WindowCount:      len(l.requests),
		DailyCount:       l.dailyCount,
	}
}

// utcDate truncates t to its UTC calendar date (midnight UTC).
func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sleepWithContext sleeps for d or until ctx is done, whichever comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats holds point-in-time rate limiter counters.
// All fields are snapshots safe to serialize to JSON.
type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	WaitsCount       int64   `json:"waits_count"`
	TotalWaitSeconds float64 `json:"total_wait_seconds"`
	DeniedCount      int64   `json:"denied_count"`
	WindowCount      int     `json:"window_count"`
	DailyCount       int     `json:"daily_count"`
}

// ConfigSnapshot is the serializable form of a limiter's configuration.
type ConfigSnapshot struct {
	RequestsPerMinute int     `json:"requests_per_minute"`
	DailyLimit        int     `json:"daily_limit,omitempty"`
	AllowWait         bool    `json:"allow_wait"`
	MaxWaitSeconds    float64 `json:"max_wait_seconds"`
}

// Snapshot is the full serializable view of a limiter: identity,
// configuration, stats, and remaining daily quota.
type Snapshot struct {
	Provider       string         `json:"provider"`
	Config         ConfigSnapshot `json:"config"`
	Stats          Stats          `json:"stats"`
	RemainingDaily *int           `json:"remaining_daily,omitempty"`
}
