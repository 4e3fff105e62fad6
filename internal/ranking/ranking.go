// Package ranking orders contest entries by ROI and splits prize pools.
package ranking

import (
	"sort"

	"stockarena/internal/contest"

	"github.com/shopspring/decimal"
)

// PrizeShares is the fraction of the prize pool paid to ranks 1, 2 and 3.
var PrizeShares = []decimal.Decimal{
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.3"),
	decimal.RequireFromString("0.2"),
}

type Candidate struct {
	EntryID int64           `json:"entry_id"`
	UserID  string          `json:"user_id"`
	Value   decimal.Decimal `json:"portfolio_value"`
	ROI     decimal.Decimal `json:"roi"`
}

type Placement struct {
	Candidate
	Rank int `json:"rank"`
}

// Rank sorts candidates by ROI descending and numbers them 1..N. Ties keep input
// order, so callers pass candidates in entry creation order.
func Rank(candidates []Candidate) []Placement {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ROI.GreaterThan(sorted[j].ROI)
	})
	out := make([]Placement, len(sorted))
	for i, c := range sorted {
		out[i] = Placement{Candidate: c, Rank: i + 1}
	}
	return out
}

// Results converts placements into the rows persisted on contest close.
func Results(placements []Placement) []contest.EntryResult {
	out := make([]contest.EntryResult, 0, len(placements))
	for _, p := range placements {
		out = append(out, contest.EntryResult{
			EntryID:             p.EntryID,
			FinalPortfolioValue: p.Value,
			ROI:                 p.ROI,
			Rank:                p.Rank,
		})
	}
	return out
}

// PrizeSplit returns the floored payout for each of the top winners (at most three).
func PrizeSplit(pool decimal.Decimal, winners int) []decimal.Decimal {
	if winners > len(PrizeShares) {
		winners = len(PrizeShares)
	}
	if winners <= 0 || !pool.IsPositive() {
		return nil
	}
	out := make([]decimal.Decimal, winners)
	for i := 0; i < winners; i++ {
		out[i] = pool.Mul(PrizeShares[i]).Floor()
	}
	return out
}

// RankChanges compares two leaderboard batches and returns, per user, how many places
// they moved up since the previous batch. Users absent from previous are omitted.
func RankChanges(current, previous []contest.LeaderboardHistory) map[string]int {
	before := make(map[string]int, len(previous))
	for _, row := range previous {
		before[row.UserID] = row.Rank
	}
	out := make(map[string]int, len(current))
	for _, row := range current {
		if prev, ok := before[row.UserID]; ok {
			out[row.UserID] = prev - row.Rank
		}
	}
	return out
}
