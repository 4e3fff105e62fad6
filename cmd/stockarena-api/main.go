package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockarena/internal/api"
	"stockarena/internal/app"
	"stockarena/internal/auth"
	"stockarena/internal/config"
	"stockarena/internal/observability"

	"github.com/go-chi/chi/v5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
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

	if cfg.RunScheduler {
		if err := backend.Scheduler.Start(ctx); err != nil {
			logger.Error("scheduler start failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("scheduler disabled; contest timers are listed unarmed and fire only in the worker")
	}

	server := api.New(cfg, logger, auth.NewAdminVerifier(cfg.AdminToken), backend.Scheduler)
	root := chi.NewRouter()
	root.Handle("/metrics", observability.Handler(backend.Registry))
	root.Mount("/", server.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stockarena api listening", "addr", cfg.Addr, "store", cfg.Store, "scheduler", cfg.RunScheduler)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
