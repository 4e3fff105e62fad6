package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"stockarena/internal/cache"
	"stockarena/internal/contest"
	"stockarena/internal/events"
	"stockarena/internal/ranking"
	"stockarena/internal/valuation"
)

// checkStart returns the contest as stored afterwards. Without force it is a no-op
// before the start time.
func (s *Scheduler) checkStart(ctx context.Context, id int64, force bool) (contest.Contest, error) {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return contest.Contest{}, err
	}
	if c.Status != contest.StatusUpcoming {
		if force {
			return c, contest.InvalidState(c, contest.StatusUpcoming)
		}
		return c, nil
	}
	if !force && !contest.IsDue(s.clock.Now(), c.StartTime) {
		return c, nil
	}

	count, err := s.store.CountEntries(ctx, id)
	if err != nil {
		return c, fmt.Errorf("count entries: %w", err)
	}
	if count < s.opts.MinParticipants {
		return s.abandon(ctx, c, count)
	}

	if err := s.transition(ctx, c, contest.StatusActive); err != nil {
		return c, err
	}
	c.Status = contest.StatusActive
	s.invalidateLeaderboard(ctx, c.ID)
	s.log.Info("contest started", "contest_id", c.ID, "participants", count)
	s.publish(ctx, events.ContestStarted, c, map[string]any{"participants": count})
	s.cancelTimer(c.ID, TimerStart)
	return c, nil
}

// Refunds are keyed per user, so an interrupted batch resumes without paying anyone
// twice. Entries are listed again after the status flip: a join that committed in
// between is refunded too, and none can commit after it.
func (s *Scheduler) abandon(ctx context.Context, c contest.Contest, count int) (contest.Contest, error) {
	refunded, err := s.refundEntries(ctx, c)
	if err != nil {
		return c, err
	}
	if err := s.transition(ctx, c, contest.StatusCancelled); err != nil {
		return c, err
	}
	c.Status = contest.StatusCancelled
	late, err := s.refundEntries(ctx, c)
	refunded += late
	if late > 0 {
		s.log.Warn("refunded entries that joined during abandonment", "contest_id", c.ID, "refunded", late)
	}
	s.invalidateLeaderboard(ctx, c.ID)
	s.log.Warn("contest abandoned",
		"contest_id", c.ID,
		"participants", count,
		"min_participants", s.opts.MinParticipants,
		"refunded", refunded,
	)
	s.publish(ctx, events.ContestCancelled, c, map[string]any{
		"participants": count,
		"refunded":     refunded,
		"entry_fee":    c.EntryFee.String(),
	})
	s.CancelScheduledContest(c.ID)
	if err != nil {
		return c, fmt.Errorf("contest %d cancelled: %w", c.ID, err)
	}
	return c, nil
}

func (s *Scheduler) refundEntries(ctx context.Context, c contest.Contest) (int, error) {
	if !c.EntryFee.IsPositive() {
		return 0, nil
	}
	entries, err := s.store.ListEntries(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	refunded := 0
	contestID := c.ID
	for _, e := range entries {
		_, err := s.store.ApplyCoinTransaction(ctx, contest.CoinCredit{
			UserID:         e.UserID,
			Type:           contest.TxRefund,
			Amount:         c.EntryFee,
			Description:    fmt.Sprintf("Refund for abandoned contest %q (#%d)", c.Name, c.ID),
			ContestID:      &contestID,
			IdempotencyKey: contest.RefundKey(c.ID, e.UserID),
		})
		if errors.Is(err, contest.ErrDuplicateTransaction) {
			continue
		}
		if err != nil {
			return refunded, fmt.Errorf("refund user %s: %w", e.UserID, err)
		}
		refunded++
		s.metrics.CoinsCredited(string(contest.TxRefund), c.EntryFee)
	}
	return refunded, nil
}

// Results are saved before the status flip; any unresolved entry keeps the contest active.
func (s *Scheduler) completeContest(ctx context.Context, id int64, force bool) (contest.Contest, error) {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return contest.Contest{}, err
	}
	if c.Status != contest.StatusActive {
		if force {
			return c, contest.InvalidState(c, contest.StatusActive)
		}
		return c, nil
	}
	if !force && !contest.IsDue(s.clock.Now(), c.EndTime) {
		return c, nil
	}

	unresolved, err := s.computeResults(ctx, c, false)
	if err != nil {
		return c, err
	}
	if len(unresolved) > 0 {
		s.markStuck(c.ID, true)
		s.log.Error("contest cannot complete, unresolved valuations",
			"contest_id", c.ID,
			"entries", unresolved,
		)
		return c, fmt.Errorf("contest %d: %d entries: %w", c.ID, len(unresolved), contest.ErrUnresolvedValuation)
	}

	if err := s.transition(ctx, c, contest.StatusCompleted); err != nil {
		return c, err
	}
	c.Status = contest.StatusCompleted
	s.markStuck(c.ID, false)
	s.invalidateLeaderboard(ctx, c.ID)
	s.log.Info("contest completed", "contest_id", c.ID)
	s.publish(ctx, events.ContestCompleted, c, nil)
	s.CancelScheduledContest(c.ID)
	return c, nil
}

// computeResults returns the ids of entries left unresolved. With storedOnly, entries
// that already have results keep them.
func (s *Scheduler) computeResults(ctx context.Context, c contest.Contest, storedOnly bool) ([]int64, error) {
	entries, err := s.store.ListEntries(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	candidates := make([]ranking.Candidate, 0, len(entries))
	var unresolved []int64
	for _, e := range entries {
		if storedOnly && e.Resolved() {
			candidates = append(candidates, storedCandidate(e))
			continue
		}
		res, err := s.valueEntry(ctx, e)
		var missing *valuation.UnresolvedError
		switch {
		case errors.As(err, &missing):
			if e.Resolved() {
				s.log.Warn("price missing, keeping stored result", "contest_id", c.ID, "entry_id", e.ID, "symbols", missing.Symbols)
				candidates = append(candidates, storedCandidate(e))
				continue
			}
			s.log.Error("entry valuation unresolved", "contest_id", c.ID, "entry_id", e.ID, "symbols", missing.Symbols)
			unresolved = append(unresolved, e.ID)
			continue
		case err != nil:
			return nil, fmt.Errorf("value entry %d: %w", e.ID, err)
		}
		candidates = append(candidates, ranking.Candidate{
			EntryID: e.ID,
			UserID:  e.UserID,
			Value:   res.Value,
			ROI:     res.ROI,
		})
	}
	if len(candidates) == 0 {
		return unresolved, nil
	}
	results := ranking.Results(ranking.Rank(candidates))
	if err := s.store.SaveEntryResults(ctx, c.ID, results); err != nil {
		return nil, fmt.Errorf("save results: %w", err)
	}
	return unresolved, nil
}

func (s *Scheduler) valueEntry(ctx context.Context, e contest.Entry) (valuation.Result, error) {
	holdings, err := s.store.ListHoldings(ctx, e.ID)
	if err != nil {
		return valuation.Result{}, fmt.Errorf("list holdings: %w", err)
	}
	return valuation.Value(ctx, holdings, e.TotalCoinsInvested, s.prices)
}

func storedCandidate(e contest.Entry) ranking.Candidate {
	return ranking.Candidate{
		EntryID: e.ID,
		UserID:  e.UserID,
		Value:   e.FinalPortfolioValue.Decimal,
		ROI:     e.ROI.Decimal,
	}
}

// Losing the CAS to a writer that already reached the same target is not an error.
func (s *Scheduler) transition(ctx context.Context, c contest.Contest, to contest.Status) error {
	if !contest.CanTransition(c.Status, to) {
		return contest.InvalidState(c, allowedFrom(to)...)
	}
	err := s.store.TransitionStatus(ctx, c.ID, c.Status, to)
	if errors.Is(err, contest.ErrStatusConflict) {
		cur, getErr := s.store.GetContest(ctx, c.ID)
		if getErr == nil && cur.Status == to {
			return nil
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("set status %s: %w", to, err)
	}
	s.metrics.Transition(string(c.Status), string(to))
	return nil
}

func allowedFrom(to contest.Status) []contest.Status {
	var out []contest.Status
	for _, from := range []contest.Status{contest.StatusUpcoming, contest.StatusActive, contest.StatusCompleted, contest.StatusCancelled} {
		if contest.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func (s *Scheduler) invalidateLeaderboard(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.LeaderboardKey(id)); err != nil {
		s.log.Warn("leaderboard cache invalidate failed", "contest_id", id, "err", err)
	}
}
