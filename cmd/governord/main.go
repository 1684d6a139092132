// Command governord runs the API governance daemon: it hosts the circuit
// breaker, rate limiter, and cost tracker registries, scans their health on a
// schedule, and exposes Prometheus metrics and JSON snapshots over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"apigovernor/internal/config"
	"apigovernor/internal/governor"
	"apigovernor/internal/observability/logging"
	"apigovernor/internal/observability/slo"
	"apigovernor/internal/server"
	"apigovernor/pkg/health"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	trackerConfigFor, err := cfg.TrackerConfigFor()
	if err != nil {
		logger.Error("failed to build cost tracking configuration", slog.Any("error", err))
		os.Exit(1)
	}

	sink := cfg.AlertSink()
	gov := governor.New(governor.Options{
		BreakerConfig: cfg.BreakerConfigFor(),
		LimiterConfig: cfg.LimiterConfigFor(),
		TrackerConfig: trackerConfigFor,
		Sink:          sink,
		Logger:        logger,
	})

	aggregator := health.NewAggregator(gov.Breakers(), gov.Limiters(), gov.Trackers())
	monitor := health.NewMonitor(aggregator, sink, logger, cfg.HealthSchedule).
		WithOnScan(slo.UpdateFromSnapshot)
	if err := monitor.Start(); err != nil {
		logger.Error("failed to start health monitor", slog.Any("error", err))
		os.Exit(1)
	}
	defer monitor.Stop()

	logger.Info("governor started",
		slog.Int("port", cfg.Port),
		slog.String("health_schedule", cfg.HealthSchedule),
		slog.Int("requests_per_minute", cfg.Limiter.RequestsPerMinute),
		slog.Int("daily_limit", cfg.Limiter.DailyLimit),
		slog.Float64("budget_ceiling_usd", cfg.Budget.CeilingUSD),
		slog.Bool("enforce_budget", cfg.Budget.Enforce),
		slog.Bool("slack_alerts", cfg.SlackWebhookURL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Port, gov, aggregator, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("governor exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("governor stopped")
}
