package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"apigovernor/pkg/alert"
)

// Monitor runs periodic health scans on a cron schedule and raises alert
// events when the system-health verdict changes.
//
// Alerts fire only on transitions (healthy→degraded, degraded→unhealthy,
// recovery back to healthy), never on every scan, so a persistent condition
// produces one alert rather than one per schedule tick.
type Monitor struct {
	aggregator *Aggregator
	sink       alert.Sink
	logger     *slog.Logger
	schedule   string
	cron       *cron.Cron
	onScan     func(MetricsSnapshot)

	mu         sync.Mutex
	lastStatus Status
}

// NewMonitor creates a health monitor.
//
// schedule is a cron expression (e.g. "*/1 * * * *"); sink may be nil to only
// log. The monitor is idle until Start is called.
func NewMonitor(aggregator *Aggregator, sink alert.Sink, logger *slog.Logger, schedule string) *Monitor {
	if sink == nil {
		sink = alert.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		aggregator: aggregator,
		sink:       sink,
		logger:     logger,
		schedule:   schedule,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		lastStatus: StatusHealthy,
	}
}

// WithOnScan registers a hook invoked with every scan's snapshot, before any
// alerting. Used to feed derived gauges. Must be set before Start.
func (m *Monitor) WithOnScan(fn func(MetricsSnapshot)) *Monitor {
	m.onScan = fn
	return m
}

// Start registers the scan job and starts the scheduler.
func (m *Monitor) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, func() {
		m.Scan(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to add health scan job: %w", err)
	}
	m.cron.Start()
	m.logger.Info("health monitor started", slog.String("schedule", m.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("health monitor stopped")
}

// Scan performs one health scan: takes a snapshot, logs the verdict, and
// emits an alert if the status changed since the previous scan. It returns
// the snapshot so callers can run scans on demand.
func (m *Monitor) Scan(ctx context.Context) MetricsSnapshot {
	snap := m.aggregator.Snapshot()
	status := snap.SystemHealth.Status

	if m.onScan != nil {
		m.onScan(snap)
	}

	m.logger.Info("health scan completed",
		slog.String("status", string(status)),
		slog.Int("issues", len(snap.SystemHealth.Issues)),
		slog.Int("warnings", len(snap.SystemHealth.Warnings)),
		slog.Int("open_breakers", snap.CircuitBreakers.OpenCount),
		slog.Float64("total_cost_usd", snap.Budgets.TotalCostUSD))

	m.mu.Lock()
	changed := status != m.lastStatus
	previous := m.lastStatus
	m.lastStatus = status
	m.mu.Unlock()

	if !changed {
		return snap
	}

	ev := alert.NewEvent(levelFor(status), "health-monitor",
		fmt.Sprintf("system health changed: %s -> %s", previous, status),
		map[string]string{
			"issues":   strings.Join(snap.SystemHealth.Issues, "; "),
			"warnings": strings.Join(snap.SystemHealth.Warnings, "; "),
		})
	if err := m.sink.Deliver(ctx, ev); err != nil {
		m.logger.Error("health alert delivery failed",
			slog.String("sink", m.sink.Name()),
			slog.Any("error", err))
	}
	return snap
}

func levelFor(status Status) alert.Level {
	switch status {
	case StatusUnhealthy:
		return alert.LevelCritical
	case StatusDegraded:
		return alert.LevelWarning
	default:
		return alert.LevelInfo
	}
}
