package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"stockarena/internal/cache"
	"stockarena/internal/contest"
	"stockarena/internal/events"
	"stockarena/internal/observability"
	"stockarena/internal/store/memory"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// switchableOracle delegates to the store unless fail is set.
type switchableOracle struct {
	mu   sync.Mutex
	base contest.PriceOracle
	fail error
}

func (o *switchableOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	fail := o.fail
	o.mu.Unlock()
	if fail != nil {
		return decimal.Zero, fail
	}
	return o.base.CurrentPrice(ctx, symbol)
}

func (o *switchableOracle) setFail(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   *memory.Store
	oracle  *switchableOracle
	events  *recorder
	metrics *observability.Metrics
	cache   *cache.MemoryStore
	sched   *Scheduler
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	store := memory.New(clock)
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   clock,
		store:   store,
		oracle:  &switchableOracle{base: store},
		events:  &recorder{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		cache:   cache.NewMemoryStore(clock),
	}
	opts := DefaultOptions()
	for _, fn := range tweak {
		fn(&opts)
	}
	sched, err := New(Deps{
		Store:   store,
		Prices:  h.oracle,
		Clock:   clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: h.metrics,
		Events:  h.events,
		Cache:   h.cache,
	}, opts)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop() })
	h.sched = sched
	h.stock("AAPL", "10")
	h.stock("TSLA", "20")
	return h
}

func (h *harness) stock(symbol, price string) {
	h.t.Helper()
	if _, err := h.sched.UpsertStock(h.ctx, contest.Stock{Symbol: symbol, CurrentPrice: decimal.RequireFromString(price)}); err != nil {
		h.t.Fatalf("upsert stock %s: %v", symbol, err)
	}
}

func (h *harness) user(id string, coins int64) {
	h.t.Helper()
	if _, err := h.sched.UpsertUser(h.ctx, contest.User{ID: id, Username: id}); err != nil {
		h.t.Fatalf("upsert user %s: %v", id, err)
	}
	if coins > 0 {
		if _, err := h.sched.GrantCoins(h.ctx, id, contest.TxPurchase, decimal.NewFromInt(coins), "seed", "seed:"+id); err != nil {
			h.t.Fatalf("grant coins %s: %v", id, err)
		}
	}
}

func (h *harness) balance(id string) decimal.Decimal {
	h.t.Helper()
	u, err := h.store.GetUser(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get user %s: %v", id, err)
	}
	return u.Coins
}

// contest creates a contest that starts in one hour and lasts a day.
func (h *harness) contest(fee, pool int64, max int) contest.Contest {
	h.t.Helper()
	c, err := h.sched.CreateContest(h.ctx, contest.Contest{
		Name:            "spring cup",
		EntryFee:        decimal.NewFromInt(fee),
		PrizePool:       decimal.NewFromInt(pool),
		MaxParticipants: max,
		StartTime:       h.clock.Now().Add(time.Hour),
		EndTime:         h.clock.Now().Add(25 * time.Hour),
	})
	if err != nil {
		h.t.Fatalf("create contest: %v", err)
	}
	return c
}

func alloc(pairs ...any) []Allocation {
	out := make([]Allocation, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Allocation{Symbol: pairs[i].(string), Coins: decimal.NewFromInt(int64(pairs[i+1].(int)))})
	}
	return out
}

func (h *harness) join(c contest.Contest, user string, allocations []Allocation) contest.Entry {
	h.t.Helper()
	e, err := h.sched.JoinContest(h.ctx, JoinInput{ContestID: c.ID, UserID: user, Allocations: allocations})
	if err != nil {
		h.t.Fatalf("join %s: %v", user, err)
	}
	return e
}

func (h *harness) status(id int64) contest.Status {
	h.t.Helper()
	c, err := h.store.GetContest(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get contest: %v", err)
	}
	return c.Status
}

func (h *harness) entries(id int64) map[string]contest.Entry {
	h.t.Helper()
	list, err := h.store.ListEntries(h.ctx, id)
	if err != nil {
		h.t.Fatalf("list entries: %v", err)
	}
	out := make(map[string]contest.Entry, len(list))
	for _, e := range list {
		out[e.UserID] = e
	}
	return out
}

func (h *harness) scan() error {
	return h.sched.Scan(h.ctx)
}

// running builds a contest with three entrants and moves it to active:
// ana holds 10 AAPL, ben 5 TSLA, cy 5 AAPL and 2.5 TSLA.
func (h *harness) running(pool int64) contest.Contest {
	h.t.Helper()
	c := h.contest(10, pool, 0)
	for _, u := range []string{"ana", "ben", "cy"} {
		h.user(u, 100)
	}
	h.join(c, "ana", alloc("AAPL", 100))
	h.join(c, "ben", alloc("TSLA", 100))
	h.join(c, "cy", alloc("AAPL", 50, "TSLA", 50))
	h.clock.Advance(time.Hour)
	if err := h.scan(); err != nil {
		h.t.Fatalf("scan to active: %v", err)
	}
	if got := h.status(c.ID); got != contest.StatusActive {
		h.t.Fatalf("status=%s want active", got)
	}
	return c
}
