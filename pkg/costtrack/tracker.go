// Package costtrack records per-call spend for metered external APIs against
// a configured budget.
//
// A Tracker owns an append-only sequence of immutable UsageRecords for one
// budget scope (global, per-run, or per-job). Costs are computed from a
// per-model price table, summed in floating point, and never rounded
// internally; rounding is a presentation concern. When budget enforcement is
// enabled, the first record that pushes cumulative cost strictly above the
// ceiling still lands, and the call returns a *BudgetExceededError so the
// caller can hard-stop further paid work for the scope.
package costtrack

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"apigovernor/pkg/clock"
)

// Usage describes one unit of paid work to record.
type Usage struct {
	// Provider is the external service billed (e.g. "openai").
	Provider string

	// Model selects the price-table row; unknown models use the default
	// tier.
	Model string

	// InputUnits and OutputUnits are the metered quantities (tokens,
	// credits) consumed by the call.
	InputUnits  int64
	OutputUnits int64

	// Layer tags the pipeline stage that spent the units (optional).
	Layer string

	// Run tags the run this usage belongs to (optional).
	Run string

	// Scope tags a finer-grained scope within the tracker (optional).
	Scope string
}

// UsageRecord is one immutable, append-only spend entry. Records are owned
// exclusively by the tracker that appended them and are never mutated.
type UsageRecord struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	InputUnits    int64     `json:"input_units"`
	OutputUnits   int64     `json:"output_units"`
	EstimatedCost float64   `json:"estimated_cost_usd"`
	Layer         string    `json:"layer,omitempty"`
	Run           string    `json:"run,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Config holds the configuration for a cost tracker.
// Configuration is immutable after construction.
type Config struct {
	// Scope names the budget scope this tracker governs.
	Scope string

	// BudgetCeiling is the maximum spend in USD for this scope.
	// 0 means no ceiling.
	BudgetCeiling float64

	// EnforceBudget controls whether exceeding the ceiling returns a
	// *BudgetExceededError from TrackUsage. With enforcement off, the
	// ceiling only informs RemainingBudget and health reporting.
	EnforceBudget bool

	// Pricing is the per-model price table.
	// Default: DefaultPriceTable()
	Pricing *PriceTable

	// OnBudgetExceeded is called at most once per scope lifetime (re-armed
	// by Reset), the first time cumulative cost exceeds the ceiling. It
	// runs outside the tracker's lock and fires regardless of
	// EnforceBudget.
	// Default: nil (no callback)
	OnBudgetExceeded func(scope string, ceiling, total float64)

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.Pricing == nil {
		c.Pricing = DefaultPriceTable()
	}
	if c.Clock == nil {
		c.Clock = &clock.SystemClock{}
	}
}

// Tracker records usage and cost for a single budget scope.
//
// All methods are safe for concurrent use. TrackUsage never blocks.
type Tracker struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	records       []UsageRecord
	totalCost     float64
	budgetAlerted bool
}

// New creates a cost tracker with the given configuration.
func New(cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:   cfg,
		clock: cfg.Clock,
	}
}

// Scope returns the budget scope this tracker governs.
func (t *Tracker) Scope() string {
	return t.cfg.Scope
}

// EstimateCost computes the USD cost of a call without recording anything.
func (t *Tracker) EstimateCost(model string, inputUnits, outputUnits int64) float64 {
	return t.cfg.Pricing.Estimate(model, inputUnits, outputUnits)
}

// TrackUsage computes the cost of one unit of work and appends an immutable
// record.
//
// The record is appended before the budget check, so spend is never silently
// lost even when the call is about to fail. When enforcement is enabled and
// the new cumulative total strictly exceeds the ceiling, TrackUsage returns
// the appended record together with a *BudgetExceededError carrying the full
// summary and the ceiling.
func (t *Tracker) TrackUsage(u Usage) (UsageRecord, error) {
	cost := t.cfg.Pricing.Estimate(u.Model, u.InputUnits, u.OutputUnits)

	rec := UsageRecord{
		ID:            uuid.NewString(),
		Provider:      u.Provider,
		Model:         u.Model,
		InputUnits:    u.InputUnits,
		OutputUnits:   u.OutputUnits,
		EstimatedCost: cost,
		Layer:         u.Layer,
		Run:           u.Run,
		Scope:         u.Scope,
		Timestamp:     t.clock.Now().UTC(),
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.totalCost += cost

	exceeded := t.cfg.BudgetCeiling > 0 && t.totalCost > t.cfg.BudgetCeiling
	var alert func()
	var budgetErr *BudgetExceededError
	if exceeded {
		if !t.budgetAlerted && t.cfg.OnBudgetExceeded != nil {
			t.budgetAlerted = true
			scope, ceiling, total := t.cfg.Scope, t.cfg.BudgetCeiling, t.totalCost
			cb := t.cfg.OnBudgetExceeded
			alert = func() { cb(scope, ceiling, total) }
		}
		if t.cfg.EnforceBudget {
			budgetErr = &BudgetExceededError{
				Scope:   t.cfg.Scope,
				Ceiling: t.cfg.BudgetCeiling,
				Summary: t.summaryLocked(Filter{}),
			}
		}
	}
	t.mu.Unlock()

	if alert != nil {
		alert()
	}
	if budgetErr != nil {
		return rec, budgetErr
	}
	return rec, nil
}

// Filter restricts a summary to records matching the given tags. Zero-valued
// fields match everything.
type Filter struct {
	Run   string
	Scope string
}

func (f Filter) matches(rec UsageRecord) bool {
	if f.Run != "" && rec.Run != f.Run {
		return false
	}
	if f.Scope != "" && rec.Scope != f.Scope {
		return false
	}
	return true
}

// BreakdownEntry aggregates spend for one provider or layer within a summary.
type BreakdownEntry struct {
	CostUSD     float64 `json:"cost_usd"`
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	Records     int     `json:"records"`
}

// UsageSummary aggregates all records matching a filter. It is computed on
// read, never stored.
type UsageSummary struct {
	TotalCostUSD     float64                   `json:"total_cost_usd"`
	TotalInputUnits  int64                     `json:"total_input_units"`
	TotalOutputUnits int64                     `json:"total_output_units"`
	RecordCount      int                       `json:"record_count"`
	ByProvider       map[string]BreakdownEntry `json:"by_provider"`
	ByLayer          map[string]BreakdownEntry `json:"by_layer"`
}

// Summary folds all records matching the filter into totals and per-provider
// and per-layer breakdowns. Pass a zero Filter for everything.
func (t *Tracker) Summary(f Filter) UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked(f)
}

func (t *Tracker) summaryLocked(f Filter) UsageSummary {
	s := UsageSummary{
		ByProvider: make(map[string]BreakdownEntry),
		ByLayer:    make(map[string]BreakdownEntry),
	}
	for _, rec := range t.records {
		if !f.matches(rec) {
			continue
		}
		s.TotalCostUSD += rec.EstimatedCost
		s.TotalInputUnits += rec.InputUnits
		s.TotalOutputUnits += rec.OutputUnits
		s.RecordCount++

		p := s.ByProvider[rec.Provider]
		p.CostUSD += rec.EstimatedCost
		p.InputUnits += rec.InputUnits
		p.OutputUnits += rec.OutputUnits
		p.Records++
		s.ByProvider[rec.Provider] = p

		if rec.Layer != "" {
			l := s.ByLayer[rec.Layer]
			l.CostUSD += rec.EstimatedCost
			l.InputUnits += rec.InputUnits
			l.OutputUnits += rec.OutputUnits
			l.Records++
			s.ByLayer[rec.Layer] = l
		}
	}
	return s
}

// Usages returns a copy of all records in append order.
func (t *Tracker) Usages() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]UsageRecord, len(t.records))
	copy(out, t.records)
	return out
}

// RemainingBudget returns the USD amount left under the ceiling, clamped at
// zero. The second return is false when no ceiling is configured.
func (t *Tracker) RemainingBudget() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.BudgetCeiling <= 0 {
		return 0, false
	}
	remaining := t.cfg.BudgetCeiling - t.totalCost
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// CostBucket is one entry of a dense time series: the bucket's start time and
// the cost accrued within it.
type CostBucket struct {
	Start   time.Time `json:"start"`
	CostUSD float64   `json:"cost_usd"`
}

// HourlyCosts buckets record costs into the trailing windowHours UTC hours,
// most recent last. Every bucket is present even with no usage, so the series
// plots without gaps.
func (t *Tracker) HourlyCosts(windowHours int) []CostBucket {
	return t.bucketCosts(windowHours, time.Hour)
}

// DailyCosts buckets record costs into the trailing windowDays UTC days, most
// recent last. Zero-filled like HourlyCosts.
func (t *Tracker) DailyCosts(windowDays int) []CostBucket {
	return t.bucketCosts(windowDays, 24*time.Hour)
}

func (t *Tracker) bucketCosts(n int, size time.Duration) []CostBucket {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	latest := t.clock.Now().UTC().Truncate(size)
	earliest := latest.Add(-time.Duration(n-1) * size)

	buckets := make([]CostBucket, n)
	for i := range buckets {
		buckets[i].Start = earliest.Add(time.Duration(i) * size)
	}
	for _, rec := range t.records {
		start := rec.Timestamp.UTC().Truncate(size)
		if start.Before(earliest) || start.After(latest) {
			continue
		}
		i := int(start.Sub(earliest) / size)
		buckets[i].CostUSD += rec.EstimatedCost
	}
	return buckets
}

// Reset clears all records and re-arms the budget notification.
// Test and administrative use only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = nil
	t.totalCost = 0
	t.budgetAlerted = false
}

// ConfigSnapshot is the serializable form of a tracker's configuration.
type ConfigSnapshot struct {
	BudgetCeilingUSD float64 `json:"budget_ceiling_usd,omitempty"`
	EnforceBudget    bool    `json:"enforce_budget"`
}

// Snapshot is the full serializable view of a tracker: identity,
// configuration, summary, and remaining budget.
type Snapshot struct {
	Scope           string         `json:"scope"`
	Config          ConfigSnapshot `json:"config"`
	Summary         UsageSummary   `json:"summary"`
	RemainingBudget *float64       `json:"remaining_budget_usd,omitempty"`
}

// Snapshot returns a serializable view of the tracker suitable for a metrics
// endpoint or CLI table.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Scope: t.cfg.Scope,
		Config: ConfigSnapshot{
			BudgetCeilingUSD: t.cfg.BudgetCeiling,
			EnforceBudget:    t.cfg.EnforceBudget,
		},
		Summary: t.summaryLocked(Filter{}),
	}
	if t.cfg.BudgetCeiling > 0 {
		remaining := t.cfg.BudgetCeiling - t.totalCost
		if remaining < 0 {
			remaining = 0
		}
		snap.RemainingBudget = &remaining
	}
	return snap
}
