package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stockarena/internal/contest"
	"stockarena/internal/events"
	"stockarena/internal/ranking"

	"github.com/shopspring/decimal"
)

// Payout is one prize credited to a winner.
type Payout struct {
	UserID string          `json:"user_id"`
	Rank   int             `json:"rank"`
	Amount decimal.Decimal `json:"amount"`
	// AlreadyPaid marks a credit left by an interrupted earlier run.
	AlreadyPaid bool `json:"already_paid,omitempty"`
}

// StartContestManually runs the start transition now, ignoring the start time. A
// contest below the participant minimum is abandoned exactly as the scan would.
func (s *Scheduler) StartContestManually(ctx context.Context, id int64) (contest.Contest, error) {
	c, err := s.checkStart(ctx, id, true)
	if err != nil {
		return c, err
	}
	s.log.Info("manual start", "contest_id", id, "status", string(c.Status))
	return c, nil
}

// EndContestManually completes an active contest now, ignoring the end time.
func (s *Scheduler) EndContestManually(ctx context.Context, id int64) (contest.Contest, error) {
	c, err := s.completeContest(ctx, id, true)
	if err != nil {
		return c, err
	}
	s.log.Info("manual end", "contest_id", id)
	return c, nil
}

// CalculateResultsManually recomputes results. For an active contest it is the full
// completion sequence. For a completed contest final values are kept and ranks are
// rewritten from them, so repeated calls produce identical rows.
func (s *Scheduler) CalculateResultsManually(ctx context.Context, id int64) (contest.Contest, error) {
	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return c, err
	}
	switch c.Status {
	case contest.StatusActive:
		return s.EndContestManually(ctx, id)
	case contest.StatusCompleted:
		mu := s.contestLock(id)
		mu.Lock()
		defer mu.Unlock()
		unresolved, err := s.computeResults(ctx, c, true)
		if err != nil {
			return c, err
		}
		if len(unresolved) > 0 {
			return c, fmt.Errorf("contest %d: %d entries: %w", c.ID, len(unresolved), contest.ErrUnresolvedValuation)
		}
		s.invalidateLeaderboard(ctx, c.ID)
		s.log.Info("results recalculated", "contest_id", id)
		return c, nil
	default:
		return c, contest.InvalidState(c, contest.StatusActive, contest.StatusCompleted)
	}
}

// SetStatus maps a requested status onto the matching transition. Moving back to
// upcoming, or out of a terminal state, is rejected.
func (s *Scheduler) SetStatus(ctx context.Context, id int64, status contest.Status) (contest.Contest, error) {
	switch status {
	case contest.StatusActive:
		return s.StartContestManually(ctx, id)
	case contest.StatusCompleted:
		return s.EndContestManually(ctx, id)
	case contest.StatusCancelled:
		return s.CancelContest(ctx, id)
	case contest.StatusUpcoming:
		c, err := s.store.GetContest(ctx, id)
		if err != nil {
			return c, err
		}
		return c, fmt.Errorf("contest %d is %s, cannot move to upcoming: %w", c.ID, c.Status, contest.ErrInvalidState)
	default:
		return contest.Contest{}, fmt.Errorf("%q: %w", status, contest.ErrInvalidStatus)
	}
}

// CancelContest cancels an upcoming contest and refunds every entry fee.
func (s *Scheduler) CancelContest(ctx context.Context, id int64) (contest.Contest, error) {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()
	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return c, err
	}
	if c.Status != contest.StatusUpcoming {
		return c, contest.InvalidState(c, contest.StatusUpcoming)
	}
	count, err := s.store.CountEntries(ctx, id)
	if err != nil {
		return c, fmt.Errorf("count entries: %w", err)
	}
	return s.abandon(ctx, c, count)
}

// DistributePrizes pays the top three ranked entries 50/30/20 percent of the prize
// pool, floored to whole coins, at most once per contest.
func (s *Scheduler) DistributePrizes(ctx context.Context, id int64) ([]Payout, error) {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != contest.StatusCompleted {
		return nil, contest.InvalidState(c, contest.StatusCompleted)
	}
	if c.PrizesDistributedAt != nil {
		return nil, fmt.Errorf("contest %d paid at %s: %w", c.ID, c.PrizesDistributedAt.Format(time.RFC3339), contest.ErrPrizesAlreadyDistributed)
	}

	winners, err := s.rankedEntries(ctx, c.ID, len(ranking.PrizeShares))
	if err != nil {
		return nil, err
	}
	amounts := ranking.PrizeSplit(c.PrizePool, len(winners))
	payouts := make([]Payout, 0, len(amounts))
	contestID := c.ID
	for i, amount := range amounts {
		e := winners[i]
		p := Payout{UserID: e.UserID, Rank: *e.Rank, Amount: amount}
		if !amount.IsPositive() {
			continue
		}
		_, err := s.store.ApplyCoinTransaction(ctx, contest.CoinCredit{
			UserID:         e.UserID,
			Type:           contest.TxPrize,
			Amount:         amount,
			Description:    fmt.Sprintf("Prize for rank %d in contest %q (#%d)", *e.Rank, c.Name, c.ID),
			ContestID:      &contestID,
			IdempotencyKey: contest.PrizeKey(c.ID, e.UserID),
		})
		switch {
		case errors.Is(err, contest.ErrDuplicateTransaction):
			p.AlreadyPaid = true
		case err != nil:
			return payouts, fmt.Errorf("pay rank %d to %s: %w", *e.Rank, e.UserID, err)
		default:
			s.metrics.CoinsCredited(string(contest.TxPrize), amount)
		}
		payouts = append(payouts, p)
	}

	if err := s.store.MarkPrizesDistributed(ctx, c.ID, s.clock.Now().UTC()); err != nil {
		return payouts, err
	}
	s.log.Info("prizes distributed", "contest_id", c.ID, "pool", c.PrizePool.String(), "winners", len(payouts))
	s.publish(ctx, events.ContestPrizesDistributed, c, map[string]any{"payouts": payouts})
	return payouts, nil
}

func (s *Scheduler) rankedEntries(ctx context.Context, contestID int64, limit int) ([]contest.Entry, error) {
	entries, err := s.store.ListEntries(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	ranked := make([]contest.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Rank != nil {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return *ranked[i].Rank < *ranked[j].Rank })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
