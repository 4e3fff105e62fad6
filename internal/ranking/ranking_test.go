package ranking

import (
	"math/rand"
	"testing"

	"stockarena/internal/contest"

	"github.com/shopspring/decimal"
)

func TestRankOrdersByROIDescending(t *testing.T) {
	in := []Candidate{
		{EntryID: 1, ROI: decimal.NewFromInt(-5)},
		{EntryID: 2, ROI: decimal.NewFromInt(12)},
		{EntryID: 3, ROI: decimal.NewFromInt(3)},
	}
	got := Rank(in)
	wantOrder := []int64{2, 3, 1}
	for i, p := range got {
		if p.EntryID != wantOrder[i] || p.Rank != i+1 {
			t.Fatalf("position %d: got entry=%d rank=%d", i, p.EntryID, p.Rank)
		}
	}
	if in[0].EntryID != 1 {
		t.Fatalf("input slice was reordered")
	}
}

func TestRankTieKeepsCreationOrder(t *testing.T) {
	in := []Candidate{
		{EntryID: 10, ROI: decimal.NewFromInt(5)},
		{EntryID: 11, ROI: decimal.NewFromInt(7)},
		{EntryID: 12, ROI: decimal.NewFromInt(5)},
		{EntryID: 13, ROI: decimal.NewFromInt(5)},
	}
	got := Rank(in)
	wantOrder := []int64{11, 10, 12, 13}
	for i, p := range got {
		if p.EntryID != wantOrder[i] {
			t.Fatalf("position %d: got entry %d want %d", i, p.EntryID, wantOrder[i])
		}
	}
}

func TestRankTotalAndDense(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 1; n <= 40; n++ {
		in := make([]Candidate, n)
		for i := range in {
			in[i] = Candidate{EntryID: int64(i + 1), ROI: decimal.NewFromInt(int64(r.Intn(10) - 5))}
		}
		got := Rank(in)
		seen := make(map[int]bool, n)
		for i, p := range got {
			if p.Rank < 1 || p.Rank > n || seen[p.Rank] {
				t.Fatalf("n=%d: bad rank %d", n, p.Rank)
			}
			seen[p.Rank] = true
			if i > 0 && got[i-1].ROI.LessThan(p.ROI) {
				t.Fatalf("n=%d: rank %d has lower roi than rank %d", n, got[i-1].Rank, p.Rank)
			}
		}
	}
}

func TestPrizeSplit(t *testing.T) {
	tests := []struct {
		pool    string
		winners int
		want    []string
	}{
		{pool: "1000", winners: 3, want: []string{"500", "300", "200"}},
		{pool: "1000", winners: 7, want: []string{"500", "300", "200"}},
		{pool: "1000", winners: 2, want: []string{"500", "300"}},
		{pool: "999", winners: 3, want: []string{"499", "299", "199"}},
		{pool: "1", winners: 3, want: []string{"0", "0", "0"}},
		{pool: "0", winners: 3, want: nil},
		{pool: "1000", winners: 0, want: nil},
	}
	for _, tc := range tests {
		got := PrizeSplit(decimal.RequireFromString(tc.pool), tc.winners)
		if len(got) != len(tc.want) {
			t.Fatalf("pool=%s winners=%d: got %v", tc.pool, tc.winners, got)
		}
		for i := range got {
			if !got[i].Equal(decimal.RequireFromString(tc.want[i])) {
				t.Fatalf("pool=%s winners=%d idx=%d: got %s want %s", tc.pool, tc.winners, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRankChanges(t *testing.T) {
	previous := []contest.LeaderboardHistory{
		{UserID: "a", Rank: 1},
		{UserID: "b", Rank: 2},
		{UserID: "c", Rank: 3},
	}
	current := []contest.LeaderboardHistory{
		{UserID: "c", Rank: 1},
		{UserID: "a", Rank: 2},
		{UserID: "b", Rank: 3},
		{UserID: "d", Rank: 4},
	}
	got := RankChanges(current, previous)
	if got["c"] != 2 || got["a"] != -1 || got["b"] != -1 {
		t.Fatalf("unexpected deltas %v", got)
	}
	if _, ok := got["d"]; ok {
		t.Fatalf("new user should have no delta")
	}
}
