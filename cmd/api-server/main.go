package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/office-parking-reservations/internal/api"
	"github.com/hackgods/office-parking-reservations/internal/app"
	"github.com/hackgods/office-parking-reservations/internal/config"
	"github.com/hackgods/office-parking-reservations/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").Fatalf("config load error: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "api-server")
	logger.WithField("env", cfg.Env).
		WithField("http_port", cfg.HTTPPort).
		WithField("store", cfg.StoreBackend).
		WithField("lock", cfg.LockBackend).
		WithField("cache", cfg.CacheBackend).
		Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupOTel(rootCtx, cfg.OTLPEndpoint, "parking-api-server")
	if err != nil {
		logger.Fatalf("otel setup error: %v", err)
	}
	defer shutdownTracing()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup error: %v", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: a.Service,
			Checks:  a.Checks,
			Logger:  logger,
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()
	logger.Infof("listening on %s", srv.Addr)

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}
