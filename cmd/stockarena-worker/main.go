package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stockarena/internal/app"
	"stockarena/internal/config"
	"stockarena/internal/observability"

	"github.com/go-chi/chi/v5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	backend, err := app.Open(ctx, cfg.BackendConfig, logger)
	if err != nil {
		logger.Error("backend init failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()
	sched := backend.Scheduler

	if cfg.RunOnce {
		err := errors.Join(
			sched.Scan(ctx),
			sched.RecordPortfolioSnapshots(ctx),
			sched.RecordLeaderboardSnapshots(ctx),
		)
		if err != nil {
			logger.Error("worker run-once failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"timers":` + strconv.Itoa(len(sched.ScheduledContests())) + `}`))
	})
	r.Handle("/metrics", observability.Handler(backend.Registry))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	opts := sched.Options()
	logger.Info("worker started",
		"scan_every", opts.ScanEvery.String(),
		"portfolio_snapshot_every", opts.PortfolioSnapshotEvery.String(),
		"leaderboard_snapshot_every", opts.LeaderboardSnapshotEvery.String(),
		"metrics_addr", cfg.MetricsAddr,
	)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop failed", "err", err)
	}
	logger.Info("worker shutdown")
}
