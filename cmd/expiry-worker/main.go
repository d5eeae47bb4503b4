package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/office-parking-reservations/internal/app"
	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/config"
	"github.com/hackgods/office-parking-reservations/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").Fatalf("config load error: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "expiry-worker")
	logger.WithField("env", cfg.Env).
		WithField("interval", cfg.WorkerInterval.String()).
		WithField("pending_grace", cfg.PendingGrace.String()).
		Info("expiry-worker starting up")

	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("in-memory store: the worker only sees its own process")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup error: %v", err)
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Ledger, cfg.PendingGrace, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Ledger, cfg.PendingGrace, logger)
		}
	}
}

func runOnce(ctx context.Context, ledger *booking.Ledger, grace time.Duration, logger observability.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := ledger.ExpireStalePending(runCtx, start.Add(-grace))
	if err != nil {
		logger.WithError(err).Error("expiry run error")
		return
	}
	logger.WithField("expired", n).Infof("expiry run complete in %s", time.Since(start))
}
