package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"stockarena/internal/config"
	"stockarena/internal/contest"

	"github.com/shopspring/decimal"
)

func TestOpenMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, config.BackendConfig{
		Store: config.StoreMemory,
		Scheduler: config.SchedulerConfig{
			MinParticipants: 3,
			EntryBudget:     decimal.NewFromInt(50),
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	opts := b.Scheduler.Options()
	if opts.MinParticipants != 3 || !opts.EntryBudget.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("options not applied: %+v", opts)
	}
	if opts.ScanEvery != time.Minute {
		t.Fatalf("expected default scan interval, got %s", opts.ScanEvery)
	}

	now := time.Now().UTC()
	if _, err := b.Scheduler.CreateContest(ctx, contest.Contest{
		Name:      "Smoke",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("create contest: %v", err)
	}
	if err := b.Scheduler.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	families, err := b.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sawTimers, sawRuntime bool
	for _, mf := range families {
		switch {
		case mf.GetName() == "stockarena_scheduler_scheduled_timers":
			sawTimers = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 2 {
				t.Fatalf("expected 2 scheduled timers, got %v", got)
			}
		case strings.HasPrefix(mf.GetName(), "go_"):
			sawRuntime = true
		}
	}
	if !sawTimers || !sawRuntime {
		t.Fatalf("missing metric families: timers=%v runtime=%v", sawTimers, sawRuntime)
	}
}

func TestOpenPostgresRequiresReachableDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Open(ctx, config.BackendConfig{
		Store:       config.StorePostgres,
		DatabaseURL: "://not-a-url",
	}, nil)
	if err == nil {
		t.Fatalf("expected error for bad database url")
	}
}
