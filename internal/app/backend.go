// Package app assembles the scheduler and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"stockarena/internal/cache"
	"stockarena/internal/config"
	"stockarena/internal/contest"
	"stockarena/internal/db"
	"stockarena/internal/events"
	"stockarena/internal/lifecycle"
	"stockarena/internal/observability"
	"stockarena/internal/store/memory"
	"stockarena/internal/store/postgres"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Backend struct {
	Scheduler *lifecycle.Scheduler
	Registry  *prometheus.Registry

	closers []func()
}

// Open connects the configured store, cache and event bus and builds a scheduler
// over them. Redis and NATS are optional; without them the leaderboard is read
// through uncached and events are dropped.
func Open(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{Registry: prometheus.NewRegistry()}
	b.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	clock := clockwork.NewRealClock()

	var (
		store  contest.Store
		prices contest.PriceOracle
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := memory.New(clock)
		store, prices = mem, mem
		logger.Warn("using in-memory store, state is lost on exit")
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if cfg.Migrate {
			if err := db.Migrate(ctx, pool); err != nil {
				b.Close()
				return nil, err
			}
		}
		pg := postgres.New(pool, logger)
		store, prices = pg, pg
	}

	var lbCache cache.Store
	if cfg.RedisURL != "" {
		rc, err := cache.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = rc.Close() })
		lbCache = rc
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		pub, closeNATS, err := events.ConnectNATS(ctx, cfg.NATSURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, closeNATS)
		publisher = pub
	}

	sc := cfg.Scheduler
	sched, err := lifecycle.New(lifecycle.Deps{
		Store:   store,
		Prices:  prices,
		Clock:   clock,
		Logger:  logger,
		Metrics: observability.NewMetrics(b.Registry),
		Events:  publisher,
		Cache:   lbCache,
	}, lifecycle.Options{
		ScanEvery:                sc.ScanEvery,
		PortfolioSnapshotEvery:   sc.PortfolioSnapshotEvery,
		LeaderboardSnapshotEvery: sc.LeaderboardSnapshotEvery,
		MinParticipants:          sc.MinParticipants,
		EntryBudget:              sc.EntryBudget,
		RehydrateTimers:          sc.RehydrateTimers,
		LeaderboardCacheTTL:      sc.LeaderboardCacheTTL,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	b.Scheduler = sched
	return b, nil
}

// Close stops the scheduler and releases connections in reverse order.
func (b *Backend) Close() {
	if b.Scheduler != nil {
		_ = b.Scheduler.Stop()
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewLogger builds the JSON process logger used by the api and worker.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
