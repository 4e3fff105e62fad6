// Package lifecycle drives contests through upcoming, active, completed and cancelled.
// The periodic scan re-derives each contest's state from the store and the clock; the
// one-shot timers call the same transitions earlier.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockarena/internal/cache"
	"stockarena/internal/contest"
	"stockarena/internal/events"
	"stockarena/internal/observability"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	jobScan                = "scan"
	jobPortfolioSnapshot   = "portfolio_snapshot"
	jobLeaderboardSnapshot = "leaderboard_snapshot"
	jobTimerStart          = "timer_start"
	jobTimerEnd            = "timer_end"
)

type Options struct {
	ScanEvery                time.Duration
	PortfolioSnapshotEvery   time.Duration
	LeaderboardSnapshotEvery time.Duration
	MinParticipants          int
	EntryBudget              decimal.Decimal
	RehydrateTimers          bool
	LeaderboardCacheTTL      time.Duration
}

func DefaultOptions() Options {
	return Options{
		ScanEvery:                time.Minute,
		PortfolioSnapshotEvery:   5 * time.Minute,
		LeaderboardSnapshotEvery: 10 * time.Minute,
		MinParticipants:          contest.DefaultMinParticipants,
		EntryBudget:              contest.DefaultEntryBudget,
		RehydrateTimers:          true,
		LeaderboardCacheTTL:      30 * time.Second,
	}
}

// Deps are the collaborators of a Scheduler. Store and Prices are required; the rest
// fall back to a real clock, slog.Default, no metrics, no events and no cache.
type Deps struct {
	Store   contest.Store
	Prices  contest.PriceOracle
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Events  events.Publisher
	Cache   cache.Store
}

type Scheduler struct {
	store   contest.Store
	prices  contest.PriceOracle
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *observability.Metrics
	events  events.Publisher
	cache   cache.Store
	opts    Options

	cron gocron.Scheduler

	runMu    sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	started  bool
	periodic []uuid.UUID

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	timersMu sync.Mutex
	timers   map[int64]map[TimerKind]*timer

	stuckMu sync.Mutex
	stuck   map[int64]struct{}
}

func New(deps Deps, opts Options) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if deps.Prices == nil {
		return nil, errors.New("lifecycle: price oracle is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	defaults := DefaultOptions()
	if opts.ScanEvery <= 0 {
		opts.ScanEvery = defaults.ScanEvery
	}
	if opts.PortfolioSnapshotEvery <= 0 {
		opts.PortfolioSnapshotEvery = defaults.PortfolioSnapshotEvery
	}
	if opts.LeaderboardSnapshotEvery <= 0 {
		opts.LeaderboardSnapshotEvery = defaults.LeaderboardSnapshotEvery
	}
	if opts.MinParticipants <= 0 {
		opts.MinParticipants = defaults.MinParticipants
	}
	if !opts.EntryBudget.IsPositive() {
		opts.EntryBudget = defaults.EntryBudget
	}
	if opts.LeaderboardCacheTTL <= 0 {
		opts.LeaderboardCacheTTL = defaults.LeaderboardCacheTTL
	}

	cron, err := gocron.NewScheduler(
		gocron.WithClock(deps.Clock),
		gocron.WithLogger(deps.Logger.With("component", "gocron")),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: new scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   deps.Store,
		prices:  deps.Prices,
		clock:   deps.Clock,
		log:     deps.Logger,
		metrics: deps.Metrics,
		events:  deps.Events,
		cache:   deps.Cache,
		opts:    opts,
		cron:    cron,
		runCtx:  ctx,
		cancel:  cancel,
		locks:   make(map[int64]*sync.Mutex),
		timers:  make(map[int64]map[TimerKind]*timer),
		stuck:   make(map[int64]struct{}),
	}, nil
}

func (s *Scheduler) Options() Options {
	return s.opts
}

// Start rehydrates one-shot timers and registers the periodic jobs. The scan runs
// once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started {
		return nil
	}
	if s.opts.RehydrateTimers {
		n, err := s.rehydrate(ctx)
		if err != nil {
			return fmt.Errorf("rehydrate timers: %w", err)
		}
		s.log.Info("timers rehydrated", "count", n)
	}

	periodic := []struct {
		name      string
		every     time.Duration
		immediate bool
		run       func(context.Context) error
	}{
		{jobScan, s.opts.ScanEvery, true, s.Scan},
		{jobPortfolioSnapshot, s.opts.PortfolioSnapshotEvery, false, s.RecordPortfolioSnapshots},
		{jobLeaderboardSnapshot, s.opts.LeaderboardSnapshotEvery, false, s.RecordLeaderboardSnapshots},
	}
	for _, p := range periodic {
		jobOpts := []gocron.JobOption{
			gocron.WithName(p.name),
			gocron.WithTags("periodic"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if p.immediate {
			jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		job, err := s.cron.NewJob(
			gocron.DurationJob(p.every),
			gocron.NewTask(func() { _ = s.runJob(p.name, p.run) }),
			jobOpts...,
		)
		if err != nil {
			return fmt.Errorf("register %s job: %w", p.name, err)
		}
		s.periodic = append(s.periodic, job.ID())
	}
	s.cron.Start()
	s.started = true
	s.log.Info("lifecycle scheduler started",
		"scan_every", s.opts.ScanEvery.String(),
		"portfolio_snapshot_every", s.opts.PortfolioSnapshotEvery.String(),
		"leaderboard_snapshot_every", s.opts.LeaderboardSnapshotEvery.String(),
	)
	return nil
}

// Stop halts all jobs and waits for running ones. A stopped Scheduler cannot be
// started again.
func (s *Scheduler) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	err := s.cron.Shutdown()
	s.cancel()
	s.started = false
	if err != nil {
		return fmt.Errorf("lifecycle: shutdown: %w", err)
	}
	s.log.Info("lifecycle scheduler stopped")
	return nil
}

// Running reports whether Start has run and Stop has not.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.started
}

func (s *Scheduler) runJob(name string, fn func(context.Context) error) error {
	started := s.clock.Now()
	err := fn(s.runCtx)
	s.metrics.ObserveJob(name, s.clock.Since(started), err)
	if err != nil {
		s.log.Error("scheduler job failed", "job", name, "err", err)
	}
	return err
}

// Scan applies the start and end checks to every non-terminal contest.
func (s *Scheduler) Scan(ctx context.Context) error {
	contests, err := s.store.ListContests(ctx, contest.ContestFilter{
		Statuses: []contest.Status{contest.StatusUpcoming, contest.StatusActive},
	})
	if err != nil {
		return fmt.Errorf("list contests: %w", err)
	}
	var errs []error
	for _, c := range contests {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.advance(ctx, c); err != nil {
			s.log.Error("contest transition failed", "contest_id", c.ID, "status", string(c.Status), "err", err)
			errs = append(errs, fmt.Errorf("contest %d: %w", c.ID, err))
		}
	}
	s.metrics.SetStuck(s.stuckCount())
	return errors.Join(errs...)
}

// A contest whose start and end have both passed is started and completed in one pass.
func (s *Scheduler) advance(ctx context.Context, c contest.Contest) error {
	if c.Status == contest.StatusUpcoming {
		next, err := s.checkStart(ctx, c.ID, false)
		if err != nil {
			return err
		}
		if next.Status != contest.StatusActive {
			return nil
		}
		c = next
	}
	if c.Status == contest.StatusActive {
		_, err := s.completeContest(ctx, c.ID, false)
		return err
	}
	return nil
}

func (s *Scheduler) contestLock(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *Scheduler) markStuck(id int64, stuck bool) {
	s.stuckMu.Lock()
	if stuck {
		s.stuck[id] = struct{}{}
	} else {
		delete(s.stuck, id)
	}
	n := len(s.stuck)
	s.stuckMu.Unlock()
	s.metrics.SetStuck(n)
}

func (s *Scheduler) stuckCount() int {
	s.stuckMu.Lock()
	defer s.stuckMu.Unlock()
	return len(s.stuck)
}

func (s *Scheduler) publish(ctx context.Context, typ string, c contest.Contest, payload map[string]any) {
	evt := events.Event{
		Type:       typ,
		ContestID:  c.ID,
		Status:     string(c.Status),
		OccurredAt: s.clock.Now().UTC(),
		Payload:    payload,
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn("publish lifecycle event failed", "contest_id", c.ID, "event", typ, "err", err)
	}
}
