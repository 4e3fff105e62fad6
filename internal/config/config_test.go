package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCKARENA_API_ADDR", "")
	t.Setenv("STOCKARENA_STORE", "memory")
	t.Setenv("STOCKARENA_ADMIN_TOKEN", "s3cret")
	t.Setenv("STOCKARENA_SCAN_EVERY", "")
	t.Setenv("STOCKARENA_ENTRY_BUDGET", "")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Scheduler.ScanEvery != time.Minute {
		t.Fatalf("scan every=%s", cfg.Scheduler.ScanEvery)
	}
	if !cfg.Scheduler.EntryBudget.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("entry budget=%s", cfg.Scheduler.EntryBudget)
	}
	if !cfg.RunScheduler || !cfg.Scheduler.RehydrateTimers {
		t.Fatalf("scheduler flags should default on: %+v", cfg)
	}
}

func TestLoadAPIFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STOCKARENA_STORE", "memory")
	t.Setenv("STOCKARENA_ADMIN_TOKEN", "s3cret")
	t.Setenv("STOCKARENA_SCAN_EVERY", "15s")
	t.Setenv("STOCKARENA_MIN_PARTICIPANTS", "5")
	t.Setenv("STOCKARENA_LOG_LEVEL", "debug")
	t.Setenv("STOCKARENA_API_RUN_SCHEDULER", "false")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr=%q want :9000", cfg.Addr)
	}
	if cfg.Scheduler.ScanEvery != 15*time.Second || cfg.Scheduler.MinParticipants != 5 {
		t.Fatalf("unexpected scheduler config %+v", cfg.Scheduler)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level=%s", cfg.LogLevel)
	}
	if cfg.RunScheduler {
		t.Fatalf("run scheduler should be off")
	}
}

func TestLoadAPIFromEnvRequiresSettings(t *testing.T) {
	t.Setenv("STOCKARENA_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STOCKARENA_ADMIN_TOKEN", "s3cret")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}

	t.Setenv("STOCKARENA_STORE", "memory")
	t.Setenv("STOCKARENA_ADMIN_TOKEN", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected admin token error")
	}

	t.Setenv("STOCKARENA_STORE", "sqlite")
	t.Setenv("STOCKARENA_ADMIN_TOKEN", "s3cret")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("STOCKARENA_STORE", "memory")
	t.Setenv("STOCKARENA_WORKER_RUN_ONCE", "true")
	t.Setenv("STOCKARENA_METRICS_ADDR", "")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.RunOnce || cfg.MetricsAddr != ":9090" {
		t.Fatalf("unexpected worker config %+v", cfg)
	}
}
