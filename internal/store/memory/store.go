// Package memory is an in-process contest.Store. It backs tests and the
// STOCKARENA_STORE=memory development mode; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stockarena/internal/contest"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock

	nextID       int64
	contests     map[int64]contest.Contest
	entries      map[int64]contest.Entry
	holdings     map[int64][]contest.Holding
	users        map[string]contest.User
	stocks       map[string]contest.Stock
	transactions []contest.CoinTransaction
	txKeys       map[string]bool
	performance  []contest.PortfolioPerformance
	leaderboard  []contest.LeaderboardHistory
}

var _ contest.Store = (*Store)(nil)
var _ contest.PriceOracle = (*Store)(nil)

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:    clock,
		contests: make(map[int64]contest.Contest),
		entries:  make(map[int64]contest.Entry),
		holdings: make(map[int64][]contest.Holding),
		users:    make(map[string]contest.User),
		stocks:   make(map[string]contest.Stock),
		txKeys:   make(map[string]bool),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) GetContest(_ context.Context, id int64) (contest.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return contest.Contest{}, contest.ErrContestNotFound
	}
	return c, nil
}

func (s *Store) ListContests(_ context.Context, filter contest.ContestFilter) ([]contest.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[contest.Status]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		want[st] = true
	}
	out := make([]contest.Contest, 0, len(s.contests))
	for _, c := range s.contests {
		if len(want) > 0 && !want[c.Status] {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateContest(_ context.Context, c contest.Contest) (contest.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.ID = s.id()
	if c.Status == "" {
		c.Status = contest.StatusUpcoming
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contests[c.ID] = c
	return c, nil
}

func (s *Store) UpdateContest(_ context.Context, id int64, patch contest.ContestPatch) (contest.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return contest.Contest{}, contest.ErrContestNotFound
	}
	if c.Status != contest.StatusUpcoming {
		return contest.Contest{}, contest.InvalidState(c, contest.StatusUpcoming)
	}
	if patch.EntryFee != nil && !patch.EntryFee.Equal(c.EntryFee) && s.countLocked(id) > 0 {
		return contest.Contest{}, fmt.Errorf("contest %d has entries, entry fee is fixed: %w", id, contest.ErrInvalidState)
	}
	next := patch.Apply(c)
	if err := next.Validate(); err != nil {
		return contest.Contest{}, err
	}
	next.UpdatedAt = s.now()
	s.contests[id] = next
	return next, nil
}

func (s *Store) TransitionStatus(_ context.Context, id int64, from, to contest.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return contest.ErrContestNotFound
	}
	if c.Status != from {
		return fmt.Errorf("contest %d is %s, not %s: %w", id, c.Status, from, contest.ErrStatusConflict)
	}
	c.Status = to
	c.UpdatedAt = s.now()
	s.contests[id] = c
	return nil
}

func (s *Store) MarkPrizesDistributed(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return contest.ErrContestNotFound
	}
	if c.PrizesDistributedAt != nil {
		return contest.ErrPrizesAlreadyDistributed
	}
	at = at.UTC()
	c.PrizesDistributedAt = &at
	c.UpdatedAt = s.now()
	s.contests[id] = c
	return nil
}

func (s *Store) DeleteContest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return contest.ErrContestNotFound
	}
	if c.Status != contest.StatusUpcoming {
		return contest.InvalidState(c, contest.StatusUpcoming)
	}
	for _, e := range s.entries {
		if e.ContestID == id {
			return fmt.Errorf("contest %d has entries: %w", id, contest.ErrInvalidState)
		}
	}
	delete(s.contests, id)
	return nil
}

func (s *Store) JoinContest(_ context.Context, req contest.JoinRequest) (contest.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[req.ContestID]
	if !ok {
		return contest.Entry{}, contest.ErrContestNotFound
	}
	if c.Status != contest.StatusUpcoming {
		return contest.Entry{}, contest.InvalidState(c, contest.StatusUpcoming)
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	if contest.IsDue(at, c.StartTime) {
		return contest.Entry{}, fmt.Errorf("contest %d start time has passed: %w", c.ID, contest.ErrInvalidState)
	}
	count := 0
	for _, e := range s.entries {
		if e.ContestID != req.ContestID {
			continue
		}
		if e.UserID == req.UserID {
			return contest.Entry{}, contest.ErrAlreadyJoined
		}
		count++
	}
	if c.MaxParticipants > 0 && count >= c.MaxParticipants {
		return contest.Entry{}, contest.ErrContestFull
	}
	if _, ok := s.users[req.UserID]; !ok {
		return contest.Entry{}, contest.ErrUserNotFound
	}
	if !req.Debit.Amount.IsZero() {
		if _, err := s.applyLocked(req.Debit); err != nil {
			return contest.Entry{}, err
		}
	}
	e := contest.Entry{
		ID:                 s.id(),
		UserID:             req.UserID,
		ContestID:          req.ContestID,
		TotalCoinsInvested: req.Budget,
		CreatedAt:          s.now(),
	}
	s.entries[e.ID] = e
	hs := make([]contest.Holding, 0, len(req.Holdings))
	for _, h := range req.Holdings {
		h.ID = s.id()
		h.EntryID = e.ID
		hs = append(hs, h)
	}
	s.holdings[e.ID] = hs
	return e, nil
}

func (s *Store) countLocked(contestID int64) int {
	n := 0
	for _, e := range s.entries {
		if e.ContestID == contestID {
			n++
		}
	}
	return n
}

func (s *Store) GetEntry(_ context.Context, id int64) (contest.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return contest.Entry{}, contest.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) GetEntryByUser(_ context.Context, userID string, contestID int64) (contest.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ContestID == contestID && e.UserID == userID {
			return e, nil
		}
	}
	return contest.Entry{}, contest.ErrEntryNotFound
}

func (s *Store) ListEntries(_ context.Context, contestID int64) ([]contest.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contest.Entry
	for _, e := range s.entries {
		if e.ContestID == contestID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountEntries(ctx context.Context, contestID int64) (int, error) {
	entries, err := s.ListEntries(ctx, contestID)
	return len(entries), err
}

func (s *Store) SaveEntryResults(_ context.Context, contestID int64, results []contest.EntryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		e, ok := s.entries[r.EntryID]
		if !ok || e.ContestID != contestID {
			return fmt.Errorf("entry %d in contest %d: %w", r.EntryID, contestID, contest.ErrEntryNotFound)
		}
	}
	for _, r := range results {
		e := s.entries[r.EntryID]
		rank := r.Rank
		e.FinalPortfolioValue = decimal.NewNullDecimal(r.FinalPortfolioValue)
		e.ROI = decimal.NewNullDecimal(r.ROI)
		e.Rank = &rank
		s.entries[r.EntryID] = e
	}
	return nil
}

func (s *Store) ListHoldings(_ context.Context, entryID int64) ([]contest.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.holdings[entryID]
	out := make([]contest.Holding, len(hs))
	copy(out, hs)
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (contest.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return contest.User{}, contest.ErrUserNotFound
	}
	return u, nil
}

// UpsertUser creates the user or updates the username; balances only move through
// ApplyCoinTransaction once the user exists.
func (s *Store) UpsertUser(_ context.Context, u contest.User) (contest.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		existing.Username = u.Username
		s.users[u.ID] = existing
		return existing, nil
	}
	u.CreatedAt = s.now()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) ApplyCoinTransaction(_ context.Context, credit contest.CoinCredit) (contest.CoinTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(credit)
}

func (s *Store) applyLocked(credit contest.CoinCredit) (contest.CoinTransaction, error) {
	key := strings.TrimSpace(credit.IdempotencyKey)
	if key != "" && s.txKeys[key] {
		return contest.CoinTransaction{}, contest.ErrDuplicateTransaction
	}
	u, ok := s.users[credit.UserID]
	if !ok {
		return contest.CoinTransaction{}, contest.ErrUserNotFound
	}
	after := u.Coins.Add(credit.Amount)
	if after.IsNegative() {
		return contest.CoinTransaction{}, contest.ErrInsufficientCoins
	}
	tx := contest.CoinTransaction{
		ID:             s.id(),
		UserID:         credit.UserID,
		Type:           credit.Type,
		Amount:         credit.Amount,
		CoinsBefore:    u.Coins,
		CoinsAfter:     after,
		Description:    credit.Description,
		ContestID:      credit.ContestID,
		IdempotencyKey: key,
		CreatedAt:      s.now(),
	}
	s.transactions = append(s.transactions, tx)
	if key != "" {
		s.txKeys[key] = true
	}
	u.Coins = after
	s.users[u.ID] = u
	return tx, nil
}

// ListCoinTransactions returns the newest transactions first.
func (s *Store) ListCoinTransactions(_ context.Context, userID string, limit int) ([]contest.CoinTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contest.CoinTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		out = append(out, s.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpsertStock(_ context.Context, st contest.Stock) (contest.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.now()
	if existing, ok := s.stocks[st.Symbol]; ok && st.Name == "" {
		st.Name = existing.Name
	}
	s.stocks[st.Symbol] = st
	return st, nil
}

func (s *Store) ListStocks(_ context.Context) ([]contest.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contest.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// DeleteStock removes a symbol so its price becomes unknown.
func (s *Store) DeleteStock(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stocks, symbol)
}

func (s *Store) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, contest.ErrPriceNotFound)
	}
	return st.CurrentPrice, nil
}

func (s *Store) AppendPortfolioPerformance(_ context.Context, rows []contest.PortfolioPerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.ID = s.id()
		s.performance = append(s.performance, r)
	}
	return nil
}

func (s *Store) RecentPortfolioPerformance(_ context.Context, entryID int64, limit int) ([]contest.PortfolioPerformance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contest.PortfolioPerformance
	for i := len(s.performance) - 1; i >= 0; i-- {
		if s.performance[i].EntryID != entryID {
			continue
		}
		out = append(out, s.performance[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AppendLeaderboardHistory(_ context.Context, rows []contest.LeaderboardHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.ID = s.id()
		s.leaderboard = append(s.leaderboard, r)
	}
	return nil
}

func (s *Store) RecentLeaderboardBatches(_ context.Context, contestID int64, n int) ([][]contest.LeaderboardHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTime := make(map[time.Time][]contest.LeaderboardHistory)
	var stamps []time.Time
	for _, r := range s.leaderboard {
		if r.ContestID != contestID {
			continue
		}
		ts := r.Timestamp.UTC()
		if _, ok := byTime[ts]; !ok {
			stamps = append(stamps, ts)
		}
		byTime[ts] = append(byTime[ts], r)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].After(stamps[j]) })
	if n > 0 && len(stamps) > n {
		stamps = stamps[:n]
	}
	out := make([][]contest.LeaderboardHistory, 0, len(stamps))
	for _, ts := range stamps {
		batch := byTime[ts]
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Rank < batch[j].Rank })
		out = append(out, batch)
	}
	return out, nil
}

// Transactions returns a copy of the full coin ledger in insertion order.
func (s *Store) Transactions() []contest.CoinTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contest.CoinTransaction(nil), s.transactions...)
}

// SnapshotCounts returns the number of portfolio and leaderboard rows stored per entry/user.
func (s *Store) SnapshotCounts() (portfolio map[int64]int, leaderboard map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	portfolio = make(map[int64]int)
	leaderboard = make(map[string]int)
	for _, r := range s.performance {
		portfolio[r.EntryID]++
	}
	for _, r := range s.leaderboard {
		leaderboard[r.UserID]++
	}
	return portfolio, leaderboard
}
