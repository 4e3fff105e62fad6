package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"stockarena/internal/contest"
	"stockarena/internal/valuation"

	"github.com/shopspring/decimal"
)

type Allocation struct {
	Symbol string          `json:"symbol"`
	Coins  decimal.Decimal `json:"coins"`
}

type JoinInput struct {
	ContestID   int64        `json:"contest_id"`
	UserID      string       `json:"user_id"`
	Allocations []Allocation `json:"allocations"`
}

// JoinContest charges the entry fee and creates the entry with holdings bought at the
// current prices. The allocations must split the entry budget exactly.
func (s *Scheduler) JoinContest(ctx context.Context, in JoinInput) (contest.Entry, error) {
	mu := s.contestLock(in.ContestID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.store.GetContest(ctx, in.ContestID)
	if err != nil {
		return contest.Entry{}, err
	}
	if c.Status != contest.StatusUpcoming {
		return contest.Entry{}, contest.InvalidState(c, contest.StatusUpcoming)
	}
	now := s.clock.Now()
	if contest.IsDue(now, c.StartTime) {
		return contest.Entry{}, fmt.Errorf("contest %d start time has passed: %w", c.ID, contest.ErrInvalidState)
	}
	holdings, err := s.priceAllocations(ctx, in.Allocations)
	if err != nil {
		return contest.Entry{}, err
	}

	contestID := c.ID
	entry, err := s.store.JoinContest(ctx, contest.JoinRequest{
		ContestID: c.ID,
		UserID:    in.UserID,
		At:        now,
		Budget:    s.opts.EntryBudget,
		Debit: contest.CoinCredit{
			UserID:         in.UserID,
			Type:           contest.TxContestEntry,
			Amount:         c.EntryFee.Neg(),
			Description:    fmt.Sprintf("Entry fee for contest %q (#%d)", c.Name, c.ID),
			ContestID:      &contestID,
			IdempotencyKey: contest.EntryKey(c.ID, in.UserID),
		},
		Holdings: holdings,
	})
	if errors.Is(err, contest.ErrDuplicateTransaction) {
		return contest.Entry{}, contest.ErrAlreadyJoined
	}
	if err != nil {
		return contest.Entry{}, err
	}
	s.log.Info("contest joined", "contest_id", c.ID, "user_id", in.UserID, "entry_id", entry.ID)
	return entry, nil
}

func (s *Scheduler) priceAllocations(ctx context.Context, allocations []Allocation) ([]contest.Holding, error) {
	if len(allocations) == 0 {
		return nil, fmt.Errorf("at least one allocation is required: %w", contest.ErrInvalidAllocation)
	}
	seen := make(map[string]bool, len(allocations))
	total := decimal.Zero
	holdings := make([]contest.Holding, 0, len(allocations))
	for _, a := range allocations {
		symbol := contest.NormalizeSymbol(a.Symbol)
		if err := contest.ValidateSymbol(symbol); err != nil {
			return nil, err
		}
		if seen[symbol] {
			return nil, fmt.Errorf("%s allocated twice: %w", symbol, contest.ErrInvalidAllocation)
		}
		seen[symbol] = true
		if !a.Coins.IsPositive() {
			return nil, fmt.Errorf("%s allocation must be > 0: %w", symbol, contest.ErrInvalidAllocation)
		}
		price, err := s.prices.CurrentPrice(ctx, symbol)
		if errors.Is(err, contest.ErrPriceNotFound) {
			return nil, fmt.Errorf("%s: %w", symbol, contest.ErrStockNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", symbol, err)
		}
		shares, err := valuation.Shares(a.Coins, price)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", symbol, err)
		}
		total = total.Add(a.Coins)
		holdings = append(holdings, contest.Holding{
			StockSymbol:    symbol,
			CoinsInvested:  a.Coins,
			SharesQuantity: shares,
			PurchasePrice:  price,
		})
	}
	if !total.Equal(s.opts.EntryBudget) {
		return nil, fmt.Errorf("allocations sum to %s, budget is %s: %w", total, s.opts.EntryBudget, contest.ErrInvalidAllocation)
	}
	return holdings, nil
}
