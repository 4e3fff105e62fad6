package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockarena/internal/contest"
	"stockarena/internal/ranking"
	"stockarena/internal/valuation"
)

// RecordPortfolioSnapshots appends one row per resolvable entry of every active contest.
func (s *Scheduler) RecordPortfolioSnapshots(ctx context.Context) error {
	return s.eachActive(ctx, "portfolio", func(ctx context.Context, c contest.Contest, at time.Time) (int, error) {
		candidates, err := s.liveCandidates(ctx, c)
		if err != nil {
			return 0, err
		}
		rows := make([]contest.PortfolioPerformance, 0, len(candidates))
		for _, cand := range candidates {
			rows = append(rows, contest.PortfolioPerformance{
				EntryID:        cand.EntryID,
				PortfolioValue: cand.Value,
				Timestamp:      at,
			})
		}
		if len(rows) == 0 {
			return 0, nil
		}
		if err := s.store.AppendPortfolioPerformance(ctx, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// RecordLeaderboardSnapshots ranks every active contest live. All rows of a batch
// share a timestamp.
func (s *Scheduler) RecordLeaderboardSnapshots(ctx context.Context) error {
	return s.eachActive(ctx, "leaderboard", func(ctx context.Context, c contest.Contest, at time.Time) (int, error) {
		candidates, err := s.liveCandidates(ctx, c)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		placements := ranking.Rank(candidates)
		rows := make([]contest.LeaderboardHistory, 0, len(placements))
		for _, p := range placements {
			rows = append(rows, contest.LeaderboardHistory{
				ContestID:      c.ID,
				UserID:         p.UserID,
				Rank:           p.Rank,
				PortfolioValue: p.Value,
				ROI:            p.ROI,
				Timestamp:      at,
			})
		}
		if err := s.store.AppendLeaderboardHistory(ctx, rows); err != nil {
			return 0, err
		}
		s.invalidateLeaderboard(ctx, c.ID)
		return len(rows), nil
	})
}

func (s *Scheduler) eachActive(ctx context.Context, kind string, record func(context.Context, contest.Contest, time.Time) (int, error)) error {
	contests, err := s.store.ListContests(ctx, contest.ContestFilter{Statuses: []contest.Status{contest.StatusActive}})
	if err != nil {
		return fmt.Errorf("list active contests: %w", err)
	}
	at := s.clock.Now().UTC()
	var errs []error
	total := 0
	for _, c := range contests {
		n, err := record(ctx, c, at)
		if err != nil {
			s.log.Error("snapshot failed", "kind", kind, "contest_id", c.ID, "err", err)
			errs = append(errs, fmt.Errorf("contest %d: %w", c.ID, err))
			continue
		}
		total += n
	}
	s.metrics.Snapshots(kind, total)
	s.log.Debug("snapshots recorded", "kind", kind, "contests", len(contests), "rows", total)
	return errors.Join(errs...)
}

// Entries with a missing price are left out of the snapshot.
func (s *Scheduler) liveCandidates(ctx context.Context, c contest.Contest) ([]ranking.Candidate, error) {
	entries, err := s.store.ListEntries(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]ranking.Candidate, 0, len(entries))
	for _, e := range entries {
		res, err := s.valueEntry(ctx, e)
		var missing *valuation.UnresolvedError
		if errors.As(err, &missing) {
			s.log.Warn("snapshot skipped entry", "contest_id", c.ID, "entry_id", e.ID, "symbols", missing.Symbols)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("value entry %d: %w", e.ID, err)
		}
		out = append(out, ranking.Candidate{EntryID: e.ID, UserID: e.UserID, Value: res.Value, ROI: res.ROI})
	}
	return out, nil
}
