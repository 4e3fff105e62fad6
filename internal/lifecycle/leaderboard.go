package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"stockarena/internal/cache"
	"stockarena/internal/contest"
	"stockarena/internal/ranking"

	"github.com/shopspring/decimal"
)

type LeaderboardRow struct {
	Rank           int             `json:"rank"`
	UserID         string          `json:"user_id"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	ROI            decimal.Decimal `json:"roi"`
	// RankChange is positive when the user moved up since the previous snapshot.
	RankChange *int `json:"rank_change,omitempty"`
}

type Leaderboard struct {
	ContestID int64            `json:"contest_id"`
	Status    contest.Status   `json:"status"`
	Final     bool             `json:"final"`
	AsOf      *time.Time       `json:"as_of,omitempty"`
	Rows      []LeaderboardRow `json:"rows"`
}

// Leaderboard returns final ranks for a completed contest and the latest snapshot
// batch, with rank changes against the batch before it, otherwise.
func (s *Scheduler) Leaderboard(ctx context.Context, id int64) (Leaderboard, error) {
	key := cache.LeaderboardKey(id)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.Warn("leaderboard cache read failed", "contest_id", id, "err", err)
		} else if ok {
			var lb Leaderboard
			if err := json.Unmarshal(raw, &lb); err == nil {
				return lb, nil
			}
		}
	}

	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return Leaderboard{}, err
	}
	lb := Leaderboard{ContestID: c.ID, Status: c.Status, Rows: []LeaderboardRow{}}
	if c.Status == contest.StatusCompleted {
		ranked, err := s.rankedEntries(ctx, c.ID, 0)
		if err != nil {
			return Leaderboard{}, err
		}
		lb.Final = true
		for _, e := range ranked {
			lb.Rows = append(lb.Rows, LeaderboardRow{
				Rank:           *e.Rank,
				UserID:         e.UserID,
				PortfolioValue: e.FinalPortfolioValue.Decimal,
				ROI:            e.ROI.Decimal,
			})
		}
	} else {
		batches, err := s.store.RecentLeaderboardBatches(ctx, c.ID, 2)
		if err != nil {
			return Leaderboard{}, err
		}
		if len(batches) > 0 {
			var previous []contest.LeaderboardHistory
			if len(batches) > 1 {
				previous = batches[1]
			}
			changes := ranking.RankChanges(batches[0], previous)
			at := batches[0][0].Timestamp.UTC()
			lb.AsOf = &at
			for _, row := range batches[0] {
				r := LeaderboardRow{
					Rank:           row.Rank,
					UserID:         row.UserID,
					PortfolioValue: row.PortfolioValue,
					ROI:            row.ROI,
				}
				if delta, ok := changes[row.UserID]; ok {
					r.RankChange = &delta
				}
				lb.Rows = append(lb.Rows, r)
			}
		}
	}

	s.cacheLeaderboard(ctx, lb)
	return lb, nil
}

// Transitions invalidate under the contest lock, so a board is only written back
// while no transition is running and the status it was built from still holds.
func (s *Scheduler) cacheLeaderboard(ctx context.Context, lb Leaderboard) {
	if s.cache == nil {
		return
	}
	mu := s.contestLock(lb.ContestID)
	if !mu.TryLock() {
		return
	}
	defer mu.Unlock()
	cur, err := s.store.GetContest(ctx, lb.ContestID)
	if err != nil || cur.Status != lb.Status {
		return
	}
	raw, err := json.Marshal(lb)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.LeaderboardKey(lb.ContestID), raw, s.opts.LeaderboardCacheTTL); err != nil {
		s.log.Warn("leaderboard cache write failed", "contest_id", lb.ContestID, "err", err)
	}
}

// EntryPerformance returns the most recent portfolio snapshots of an entry, newest first.
func (s *Scheduler) EntryPerformance(ctx context.Context, entryID int64, limit int) ([]contest.PortfolioPerformance, error) {
	if _, err := s.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.RecentPortfolioPerformance(ctx, entryID, limit)
}
