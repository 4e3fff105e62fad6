package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"stockarena/internal/contest"

	"github.com/shopspring/decimal"
)

// UpsertStock records the latest price for a symbol. It is the feed behind the price oracle.
func (s *Scheduler) UpsertStock(ctx context.Context, st contest.Stock) (contest.Stock, error) {
	st.Symbol = contest.NormalizeSymbol(st.Symbol)
	if err := contest.ValidateSymbol(st.Symbol); err != nil {
		return contest.Stock{}, err
	}
	if !st.CurrentPrice.IsPositive() {
		return contest.Stock{}, fmt.Errorf("%s: %w", st.Symbol, contest.ErrInvalidPrice)
	}
	st.Name = strings.TrimSpace(st.Name)
	return s.store.UpsertStock(ctx, st)
}

func (s *Scheduler) ListStocks(ctx context.Context) ([]contest.Stock, error) {
	return s.store.ListStocks(ctx)
}

func (s *Scheduler) UpsertUser(ctx context.Context, u contest.User) (contest.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return contest.User{}, fmt.Errorf("user id is required: %w", contest.ErrInvalidUser)
	}
	u.Username = strings.TrimSpace(u.Username)
	u.Coins = decimal.Zero
	return s.store.UpsertUser(ctx, u)
}

func (s *Scheduler) GetUser(ctx context.Context, id string) (contest.User, error) {
	return s.store.GetUser(ctx, id)
}

// GrantCoins credits coins bought or exchanged outside the contest flow.
func (s *Scheduler) GrantCoins(ctx context.Context, userID string, txType contest.TxType, amount decimal.Decimal, description, idempotencyKey string) (contest.CoinTransaction, error) {
	if txType != contest.TxPurchase && txType != contest.TxExchange {
		return contest.CoinTransaction{}, fmt.Errorf("type %q cannot be granted: %w", txType, contest.ErrInvalidAmount)
	}
	if !amount.IsPositive() {
		return contest.CoinTransaction{}, fmt.Errorf("amount must be > 0: %w", contest.ErrInvalidAmount)
	}
	tx, err := s.store.ApplyCoinTransaction(ctx, contest.CoinCredit{
		UserID:         userID,
		Type:           txType,
		Amount:         amount,
		Description:    description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return contest.CoinTransaction{}, err
	}
	s.metrics.CoinsCredited(string(txType), amount)
	return tx, nil
}

func (s *Scheduler) CoinTransactions(ctx context.Context, userID string, limit int) ([]contest.CoinTransaction, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListCoinTransactions(ctx, userID, limit)
}
