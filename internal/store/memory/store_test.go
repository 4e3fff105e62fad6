package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockarena/internal/contest"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

func newContest(t *testing.T, s *Store, fee int64, max int) contest.Contest {
	t.Helper()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c, err := s.CreateContest(context.Background(), contest.Contest{
		Name:            "weekly",
		EntryFee:        decimal.NewFromInt(fee),
		MaxParticipants: max,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create contest: %v", err)
	}
	return c
}

func join(s *Store, c contest.Contest, user string) (contest.Entry, error) {
	return s.JoinContest(context.Background(), contest.JoinRequest{
		ContestID: c.ID,
		UserID:    user,
		Budget:    decimal.NewFromInt(100),
		Debit: contest.CoinCredit{
			UserID:         user,
			Type:           contest.TxContestEntry,
			Amount:         c.EntryFee.Neg(),
			IdempotencyKey: contest.EntryKey(c.ID, user),
		},
	})
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	c := newContest(t, s, 0, 0)
	ctx := context.Background()

	if err := s.TransitionStatus(ctx, c.ID, contest.StatusUpcoming, contest.StatusActive); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := s.TransitionStatus(ctx, c.ID, contest.StatusUpcoming, contest.StatusCancelled)
	if !errors.Is(err, contest.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	got, _ := s.GetContest(ctx, c.ID)
	if got.Status != contest.StatusActive {
		t.Fatalf("status=%s want active", got.Status)
	}
}

func TestApplyCoinTransactionIdempotencyKey(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	if _, err := s.UpsertUser(ctx, contest.User{ID: "u1", Username: "ana", Coins: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	credit := contest.CoinCredit{UserID: "u1", Type: contest.TxRefund, Amount: decimal.NewFromInt(5), IdempotencyKey: "refund:1:u1"}
	tx, err := s.ApplyCoinTransaction(ctx, credit)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !tx.CoinsBefore.Equal(decimal.NewFromInt(10)) || !tx.CoinsAfter.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected balances before=%s after=%s", tx.CoinsBefore, tx.CoinsAfter)
	}
	if _, err := s.ApplyCoinTransaction(ctx, credit); !errors.Is(err, contest.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if !u.Coins.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("coins=%s want 15", u.Coins)
	}
}

func TestApplyCoinTransactionRejectsOverdraft(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	_, _ = s.UpsertUser(ctx, contest.User{ID: "u1", Coins: decimal.NewFromInt(3)})
	_, err := s.ApplyCoinTransaction(ctx, contest.CoinCredit{UserID: "u1", Type: contest.TxContestEntry, Amount: decimal.NewFromInt(-5)})
	if !errors.Is(err, contest.ErrInsufficientCoins) {
		t.Fatalf("expected insufficient coins, got %v", err)
	}
	if len(s.Transactions()) != 0 {
		t.Fatalf("rejected debit must not be recorded")
	}
}

func TestJoinContestChecks(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	c := newContest(t, s, 10, 1)
	for _, id := range []string{"u1", "u2"} {
		_, _ = s.UpsertUser(ctx, contest.User{ID: id, Coins: decimal.NewFromInt(50)})
	}

	if _, err := join(s, c, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := join(s, c, "u1"); !errors.Is(err, contest.ErrAlreadyJoined) {
		t.Fatalf("expected already joined, got %v", err)
	}
	if _, err := join(s, c, "u2"); !errors.Is(err, contest.ErrContestFull) {
		t.Fatalf("expected contest full, got %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if !u.Coins.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("coins=%s want 40", u.Coins)
	}
	if n, _ := s.CountEntries(ctx, c.ID); n != 1 {
		t.Fatalf("entries=%d want 1", n)
	}
}

func TestSaveEntryResultsIsAllOrNothing(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	c := newContest(t, s, 0, 0)
	_, _ = s.UpsertUser(ctx, contest.User{ID: "u1"})
	e, err := join(s, c, "u1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	err = s.SaveEntryResults(ctx, c.ID, []contest.EntryResult{
		{EntryID: e.ID, FinalPortfolioValue: decimal.NewFromInt(110), ROI: decimal.NewFromInt(10), Rank: 1},
		{EntryID: 9999, Rank: 2},
	})
	if !errors.Is(err, contest.ErrEntryNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
	got, _ := s.GetEntry(ctx, e.ID)
	if got.Resolved() || got.Rank != nil {
		t.Fatalf("partial results were written: %+v", got)
	}
}

func TestMarkPrizesDistributedOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	ctx := context.Background()
	c := newContest(t, s, 0, 0)
	if err := s.MarkPrizesDistributed(ctx, c.ID, clock.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkPrizesDistributed(ctx, c.ID, clock.Now()); !errors.Is(err, contest.ErrPrizesAlreadyDistributed) {
		t.Fatalf("expected already distributed, got %v", err)
	}
}

func TestRecentLeaderboardBatches(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	ctx := context.Background()
	t1 := clock.Now()
	t2 := t1.Add(10 * time.Minute)
	rows := []contest.LeaderboardHistory{
		{ContestID: 1, UserID: "a", Rank: 2, Timestamp: t1},
		{ContestID: 1, UserID: "b", Rank: 1, Timestamp: t1},
		{ContestID: 1, UserID: "a", Rank: 1, Timestamp: t2},
		{ContestID: 1, UserID: "b", Rank: 2, Timestamp: t2},
		{ContestID: 2, UserID: "z", Rank: 1, Timestamp: t2},
	}
	if err := s.AppendLeaderboardHistory(ctx, rows); err != nil {
		t.Fatalf("append: %v", err)
	}
	batches, err := s.RecentLeaderboardBatches(ctx, 1, 2)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches=%d want 2", len(batches))
	}
	if !batches[0][0].Timestamp.Equal(t2) || batches[0][0].UserID != "a" {
		t.Fatalf("newest batch should lead with a, got %+v", batches[0][0])
	}
	if batches[1][0].UserID != "b" {
		t.Fatalf("older batch should be ordered by rank, got %+v", batches[1])
	}
}

func TestCurrentPriceUnknownSymbol(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	_, err := s.CurrentPrice(context.Background(), "NOPE")
	if !errors.Is(err, contest.ErrPriceNotFound) {
		t.Fatalf("expected price not found, got %v", err)
	}
}

func TestJoinContestRejectsStartedContest(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	c := newContest(t, s, 10, 0)
	_, _ = s.UpsertUser(ctx, contest.User{ID: "u1", Coins: decimal.NewFromInt(50)})

	_, err := s.JoinContest(ctx, contest.JoinRequest{
		ContestID: c.ID,
		UserID:    "u1",
		At:        c.StartTime,
		Budget:    decimal.NewFromInt(100),
		Debit: contest.CoinCredit{
			UserID:         "u1",
			Type:           contest.TxContestEntry,
			Amount:         c.EntryFee.Neg(),
			IdempotencyKey: contest.EntryKey(c.ID, "u1"),
		},
	})
	if !errors.Is(err, contest.ErrInvalidState) {
		t.Fatalf("expected invalid state at start time, got %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if !u.Coins.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("coins=%s want 50", u.Coins)
	}
}

func TestUpdateContestFixesEntryFeeOnceJoined(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	ctx := context.Background()
	c := newContest(t, s, 10, 0)

	fee := decimal.NewFromInt(20)
	if _, err := s.UpdateContest(ctx, c.ID, contest.ContestPatch{EntryFee: &fee}); err != nil {
		t.Fatalf("fee change without entries: %v", err)
	}
	_, _ = s.UpsertUser(ctx, contest.User{ID: "u1", Coins: decimal.NewFromInt(50)})
	c, _ = s.GetContest(ctx, c.ID)
	if _, err := join(s, c, "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	fee = decimal.NewFromInt(5)
	if _, err := s.UpdateContest(ctx, c.ID, contest.ContestPatch{EntryFee: &fee}); !errors.Is(err, contest.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	same := decimal.NewFromInt(20)
	if _, err := s.UpdateContest(ctx, c.ID, contest.ContestPatch{EntryFee: &same}); err != nil {
		t.Fatalf("unchanged fee: %v", err)
	}
}
