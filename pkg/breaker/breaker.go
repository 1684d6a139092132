// Package breaker provides a per-service circuit breaker for external API calls.
//
// A Breaker tracks the outcome of calls to a single named service and stops
// admitting new calls once the service looks unhealthy, preventing workers from
// hammering a dead provider. It implements the classic three-state machine:
//
//   - Closed: all calls are admitted; failures are counted.
//   - Open: all calls are rejected until the recovery timeout elapses.
//   - Half-open: a bounded number of probe calls are admitted to test recovery.
//
// The breaker never retries on its own; it only decides admission. Retry logic
// belongs to the caller (see internal/resilience/retry), with the breaker
// preventing retries from reaching an already-dead service.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apigovernor/pkg/clock"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are admitted.
	// This is the normal operating state.
	StateClosed State = iota

	// StateOpen indicates the circuit is open due to excessive failures.
	// All calls are rejected until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen indicates the circuit is testing recovery.
	// A bounded number of probe calls are admitted.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker for a single named service.
//
// All methods are safe for concurrent use. Mutable state is protected by a
// single mutex, so every transition is observed atomically.
type Breaker struct {
	cfg      Config
	clock    clock.Clock
	excluded map[FailureKind]struct{}

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	totalCalls           int64
	successfulCalls      int64
	failedCalls          int64
	rejectedCalls        int64
	halfOpenInFlight     int
	lastFailureAt        time.Time
	lastFailureReason    string
	lastSuccessAt        time.Time
	lastStateChangeAt    time.Time
}

// New creates a new circuit breaker with the given configuration.
//
// Zero-valued configuration fields are replaced with defaults (see Config).
func New(cfg Config) *Breaker {
	cfg.applyDefaults()

	excluded := make(map[FailureKind]struct{}, len(cfg.ExcludedKinds))
	for _, k := range cfg.ExcludedKinds {
		excluded[k] = struct{}{}
	}

	b := &Breaker{
		cfg:      cfg,
		clock:    cfg.Clock,
		excluded: excluded,
		state:    StateClosed,
	}
	b.lastStateChangeAt = b.clock.Now()
	return b
}

// Name returns the service name this breaker protects.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// CanExecute reports whether a call to the service should be admitted.
//
// Reading the state may trigger the lazy open-to-half-open transition once the
// recovery timeout has elapsed. A true return while half-open reserves one
// probe slot; the slot is released by RecordSuccess or RecordFailure for the
// admitted call. Callers that are rejected should call RecordRejection.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	notify := b.maybeRecoverLocked()

	var admitted bool
	switch b.state {
	case StateClosed:
		admitted = true
	case StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxRequests {
			b.halfOpenInFlight++
			admitted = true
		}
	case StateOpen:
		admitted = false
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return admitted
}

// RecordSuccess records a successful call to the service.
//
// In half-open state it releases the probe slot held by the call and closes
// the circuit once enough consecutive successes have accumulated.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	now := b.clock.Now()

	b.totalCalls++
	b.successfulCalls++
	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	b.lastSuccessAt = now

	var notify func()
	if b.state == StateHalfOpen {
		b.releaseProbeSlotLocked()
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			notify = b.transitionLocked(StateClosed, now)
			b.consecutiveSuccesses = 0
			b.halfOpenInFlight = 0
		}
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// RecordFailure records a failed call to the service.
//
// Failures whose kind is in the configured excluded set are not counted: a
// caller input-validation error must not trip the circuit for a healthy
// service. Excluded failures still release the half-open probe slot so that
// an admitted probe does not leak its slot.
//
// In closed state the circuit opens once either the consecutive-failure
// threshold or the failure-rate threshold (with enough samples) is reached.
// In half-open state any counted failure reopens the circuit immediately.
func (b *Breaker) RecordFailure(kind FailureKind, reason string) {
	b.mu.Lock()

	if _, ok := b.excluded[kind]; ok {
		if b.state == StateHalfOpen {
			b.releaseProbeSlotLocked()
		}
		b.mu.Unlock()
		return
	}

	now := b.clock.Now()
	b.totalCalls++
	b.failedCalls++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailureAt = now
	b.lastFailureReason = reason

	var notify func()
	switch b.state {
	case StateHalfOpen:
		notify = b.transitionLocked(StateOpen, now)
		b.halfOpenInFlight = 0
	case StateClosed:
		if b.shouldTripLocked() {
			notify = b.transitionLocked(StateOpen, now)
		}
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// RecordRejection records that a call was rejected because CanExecute
// returned false.
func (b *Breaker) RecordRejection() {
	b.mu.Lock()
	b.rejectedCalls++
	b.mu.Unlock()
}

// Execute runs fn under circuit breaker protection.
//
// If the circuit rejects the call, Execute records the rejection and returns a
// *CircuitOpenError without invoking fn. Otherwise the outcome is always
// recorded, on every exit path: normal return, error return, or panic (the
// panic is recorded as a fatal failure and re-raised).
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.CanExecute() {
		b.RecordRejection()
		return b.openError()
	}

	defer func() {
		if r := recover(); r != nil {
			b.RecordFailure(KindFatal, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		b.RecordFailure(KindOf(err), err.Error())
		return err
	}

	b.RecordSuccess()
	return nil
}

// TimeRemaining returns how long until the open circuit becomes eligible for
// a half-open probe, clamped at zero. It is meaningful only while open.
func (b *Breaker) TimeRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeRemainingLocked()
}

// State returns the current circuit state, applying the lazy open-to-half-open
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	notify := b.maybeRecoverLocked()
	state := b.state
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return state
}

// Reset returns the breaker to the closed state with zeroed counters.
//
// Intended for tests and manual operator intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	now := b.clock.Now()
	notify := b.transitionLocked(StateClosed, now)
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.totalCalls = 0
	b.successfulCalls = 0
	b.failedCalls = 0
	b.rejectedCalls = 0
	b.halfOpenInFlight = 0
	b.lastFailureAt = time.Time{}
	b.lastFailureReason = ""
	b.lastSuccessAt = time.Time{}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ForceOpen opens the circuit immediately, regardless of call history.
//
// Operational override for taking a service out of rotation. The recovery
// timeout starts from the moment of the call.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	now := b.clock.Now()
	b.lastFailureAt = now
	b.lastFailureReason = "forced open"
	notify := b.transitionLocked(StateOpen, now)
	b.halfOpenInFlight = 0
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Stats returns a point-in-time copy of the breaker's counters and timestamps.
//
// Like State, reading stats applies the lazy open-to-half-open transition, so
// an observer sees the same state an admission check would.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	notify := b.maybeRecoverLocked()
	s := b.statsLocked()
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return s
}

// Snapshot returns a serializable view of the breaker suitable for a metrics
// endpoint or CLI table. The lazy open-to-half-open transition is applied
// first, like State.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	notify := b.maybeRecoverLocked()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return snap
}

func (b *Breaker) snapshotLocked() Snapshot {
	return Snapshot{
		Name:  b.cfg.Name,
		State: b.state.String(),
		Config: ConfigSnapshot{
			FailureThreshold:       b.cfg.FailureThreshold,
			SuccessThreshold:       b.cfg.SuccessThreshold,
			RecoveryTimeoutSeconds: b.cfg.RecoveryTimeout.Seconds(),
			HalfOpenMaxRequests:    b.cfg.HalfOpenMaxRequests,
			FailureRateThreshold:   b.cfg.FailureRateThreshold,
			MinRequestsForRate:     b.cfg.MinRequestsForRate,
		},
		Stats:                b.statsLocked(),
		TimeRemainingSeconds: b.timeRemainingLocked().Seconds(),
	}
}

// shouldTripLocked reports whether the closed circuit should open.
//
// The consecutive-failure trigger and the failure-rate trigger are independent
// OR conditions; the rate trigger only applies once enough samples exist.
func (b *Breaker) shouldTripLocked() bool {
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	if b.cfg.FailureRateThreshold > 0 && b.totalCalls >= int64(b.cfg.MinRequestsForRate) {
		rate := float64(b.failedCalls) / float64(b.totalCalls)
		if rate >= b.cfg.FailureRateThreshold {
			return true
		}
	}
	return false
}

// maybeRecoverLocked performs the lazy open-to-half-open transition once the
// recovery timeout has elapsed since the last failure. Returns the state
// change notification to run after the lock is released, if any.
func (b *Breaker) maybeRecoverLocked() func() {
	if b.state != StateOpen {
		return nil
	}

	now := b.clock.Now()
	if now.Sub(b.lastFailureAt) < b.cfg.RecoveryTimeout {
		return nil
	}

	notify := b.transitionLocked(StateHalfOpen, now)
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	return notify
}

// transitionLocked moves the state machine to the target state and returns
// the OnStateChange notification to invoke once the lock is released.
// The callback runs outside the lock so it may safely call back into the
// breaker.
func (b *Breaker) transitionLocked(to State, now time.Time) func() {
	if b.state == to {
		return nil
	}

	from := b.state
	b.state = to
	b.lastStateChangeAt = now

	if b.cfg.OnStateChange == nil {
		return nil
	}
	name := b.cfg.Name
	cb := b.cfg.OnStateChange
	return func() { cb(name, from, to) }
}

func (b *Breaker) releaseProbeSlotLocked() {
	if b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

func (b *Breaker) timeRemainingLocked() time.Duration {
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.RecoveryTimeout - b.clock.Now().Sub(b.lastFailureAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) statsLocked() Stats {
	s := Stats{
		State:                b.state.String(),
		TotalCalls:           b.totalCalls,
		SuccessfulCalls:      b.successfulCalls,
		FailedCalls:          b.failedCalls,
		RejectedCalls:        b.rejectedCalls,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		HalfOpenInFlight:     b.halfOpenInFlight,
		LastFailureReason:    b.lastFailureReason,
		LastStateChangeAt:    b.lastStateChangeAt,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	if !b.lastSuccessAt.IsZero() {
		t := b.lastSuccessAt
		s.LastSuccessAt = &t
	}
	return s
}

func (b *Breaker) openError() *CircuitOpenError {
	b.mu.Lock()
	defer b.mu.Unlock()

	return &CircuitOpenError{
		Service:           b.cfg.Name,
		TimeRemaining:     b.timeRemainingLocked(),
		LastFailureReason: b.lastFailureReason,
	}
}

// Stats holds point-in-time circuit breaker counters.
// All fields are snapshots safe to serialize to JSON.
type Stats struct {
	State                string     `json:"state"`
	TotalCalls           int64      `json:"total_calls"`
	SuccessfulCalls      int64      `json:"successful_calls"`
	FailedCalls          int64      `json:"failed_calls"`
	RejectedCalls        int64      `json:"rejected_calls"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	HalfOpenInFlight     int        `json:"half_open_in_flight"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastFailureReason    string     `json:"last_failure_reason,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastStateChangeAt    time.Time  `json:"last_state_change_at"`
}

// ConfigSnapshot is the serializable form of a breaker's configuration.
type ConfigSnapshot struct {
	FailureThreshold       int     `json:"failure_threshold"`
	SuccessThreshold       int     `json:"success_threshold"`
	RecoveryTimeoutSeconds float64 `json:"recovery_timeout_seconds"`
	HalfOpenMaxRequests    int     `json:"half_open_max_requests"`
	FailureRateThreshold   float64 `json:"failure_rate_threshold"`
	MinRequestsForRate     int     `json:"min_requests_for_rate"`
}

// Snapshot is the full serializable view of a breaker: identity, current
// state, configuration, and stats.
type Snapshot struct {
	Name                 string         `json:"name"`
	State                string         `json:"state"`
	Config               ConfigSnapshot `json:"config"`
	Stats                Stats          `json:"stats"`
	TimeRemainingSeconds float64        `json:"time_remaining_seconds"`
}
