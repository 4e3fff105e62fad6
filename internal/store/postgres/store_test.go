package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"stockarena/internal/contest"
	"stockarena/internal/db"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func requireDatabase(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		TRUNCATE arena.coin_transactions, arena.leaderboard_history, arena.portfolio_performance,
			arena.portfolio_holdings, arena.contest_entries, arena.contests, arena.stocks, arena.users
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return New(pool, nil)
}

func TestTranslateUnique(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{"contest_entries_user_id_contest_id_key", contest.ErrAlreadyJoined},
		{"coin_transactions_idempotency_key_key", contest.ErrDuplicateTransaction},
	}
	for _, tc := range tests {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: tc.constraint})
		if !isUniqueViolation(err) {
			t.Fatalf("%s not detected as unique violation", tc.constraint)
		}
		if got := translateUnique(err); !errors.Is(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.constraint, got, tc.want)
		}
	}
	other := &pgconn.PgError{Code: "23505", ConstraintName: "users_pkey"}
	if got := translateUnique(other); got != error(other) {
		t.Fatalf("unknown constraint should pass through, got %v", got)
	}
}

func TestIsSerializationError(t *testing.T) {
	if !isSerializationError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})) {
		t.Fatalf("40001 should be retried")
	}
	if isSerializationError(errors.New("boom")) {
		t.Fatalf("plain error is not a serialization failure")
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := requireDatabase(t)
	ctx := context.Background()

	if _, err := s.UpsertUser(ctx, contest.User{ID: "u1", Username: "ana"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	seed := contest.CoinCredit{UserID: "u1", Type: contest.TxPurchase, Amount: decimal.NewFromInt(100), IdempotencyKey: "seed:u1"}
	if _, err := s.ApplyCoinTransaction(ctx, seed); err != nil {
		t.Fatalf("seed coins: %v", err)
	}
	if _, err := s.ApplyCoinTransaction(ctx, seed); !errors.Is(err, contest.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if _, err := s.UpsertStock(ctx, contest.Stock{Symbol: "AAPL", Name: "Apple", CurrentPrice: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("upsert stock: %v", err)
	}

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	c, err := s.CreateContest(ctx, contest.Contest{
		Name:      "weekly",
		EntryFee:  decimal.NewFromInt(25),
		PrizePool: decimal.NewFromInt(1000),
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create contest: %v", err)
	}
	contestID := c.ID
	e, err := s.JoinContest(ctx, contest.JoinRequest{
		ContestID: c.ID,
		UserID:    "u1",
		Budget:    decimal.NewFromInt(100),
		Debit: contest.CoinCredit{
			UserID: "u1", Type: contest.TxContestEntry, Amount: decimal.NewFromInt(-25),
			ContestID: &contestID, IdempotencyKey: contest.EntryKey(c.ID, "u1"),
		},
		Holdings: []contest.Holding{{StockSymbol: "AAPL", CoinsInvested: decimal.NewFromInt(100), SharesQuantity: decimal.NewFromInt(10), PurchasePrice: decimal.NewFromInt(10)}},
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if !u.Coins.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("coins=%s want 75", u.Coins)
	}

	if err := s.TransitionStatus(ctx, c.ID, contest.StatusUpcoming, contest.StatusActive); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.TransitionStatus(ctx, c.ID, contest.StatusUpcoming, contest.StatusCancelled); !errors.Is(err, contest.ErrStatusConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := s.SaveEntryResults(ctx, c.ID, []contest.EntryResult{{EntryID: e.ID, FinalPortfolioValue: decimal.NewFromInt(110), ROI: decimal.NewFromInt(10), Rank: 1}}); err != nil {
		t.Fatalf("save results: %v", err)
	}
	got, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !got.Resolved() || got.Rank == nil || *got.Rank != 1 {
		t.Fatalf("results not stored: %+v", got)
	}

	t1 := time.Now().UTC().Truncate(time.Millisecond)
	t2 := t1.Add(time.Minute)
	for _, ts := range []time.Time{t1, t2} {
		if err := s.AppendLeaderboardHistory(ctx, []contest.LeaderboardHistory{{ContestID: c.ID, UserID: "u1", Rank: 1, PortfolioValue: decimal.NewFromInt(100), ROI: decimal.Zero, Timestamp: ts}}); err != nil {
			t.Fatalf("append leaderboard: %v", err)
		}
	}
	batches, err := s.RecentLeaderboardBatches(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	if len(batches) != 2 || !batches[0][0].Timestamp.Equal(t2) {
		t.Fatalf("unexpected batches %+v", batches)
	}

	if err := s.MarkPrizesDistributed(ctx, c.ID, time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkPrizesDistributed(ctx, c.ID, time.Now()); !errors.Is(err, contest.ErrPrizesAlreadyDistributed) {
		t.Fatalf("expected already distributed, got %v", err)
	}
	if _, err := s.CurrentPrice(ctx, "NOPE"); !errors.Is(err, contest.ErrPriceNotFound) {
		t.Fatalf("expected price not found, got %v", err)
	}
}
