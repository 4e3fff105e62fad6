// Package valuation prices a contest portfolio against current stock prices.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"stockarena/internal/contest"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Result struct {
	Value decimal.Decimal `json:"value"`
	ROI   decimal.Decimal `json:"roi"`
}

// UnresolvedError lists the symbols that had no price. It unwraps to contest.ErrPriceNotFound.
type UnresolvedError struct {
	Symbols []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("no price for %s", strings.Join(e.Symbols, ", "))
}

func (e *UnresolvedError) Unwrap() error {
	return contest.ErrPriceNotFound
}

// Value computes sum(shares * price) over holdings and the ROI against invested.
// Missing prices yield an *UnresolvedError; any other oracle failure is returned as is.
func Value(ctx context.Context, holdings []contest.Holding, invested decimal.Decimal, oracle contest.PriceOracle) (Result, error) {
	if !invested.IsPositive() {
		return Result{}, fmt.Errorf("invested must be > 0: %w", contest.ErrInvalidAllocation)
	}
	prices := make(map[string]decimal.Decimal, len(holdings))
	var missing []string
	total := decimal.Zero
	for _, h := range holdings {
		price, ok := prices[h.StockSymbol]
		if !ok {
			p, err := oracle.CurrentPrice(ctx, h.StockSymbol)
			if errors.Is(err, contest.ErrPriceNotFound) {
				missing = append(missing, h.StockSymbol)
				continue
			}
			if err != nil {
				return Result{}, fmt.Errorf("price %s: %w", h.StockSymbol, err)
			}
			prices[h.StockSymbol] = p
			price = p
		}
		total = total.Add(h.SharesQuantity.Mul(price))
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{}, &UnresolvedError{Symbols: missing}
	}
	value := total.Round(contest.MoneyPlaces)
	return Result{Value: value, ROI: ROI(value, invested)}, nil
}

// ROI returns (value - invested) / invested * 100 rounded to four places.
func ROI(value, invested decimal.Decimal) decimal.Decimal {
	if invested.IsZero() {
		return decimal.Zero
	}
	return value.Sub(invested).Mul(hundred).DivRound(invested, contest.MoneyPlaces)
}

// Shares converts a coin allocation at a purchase price into a share quantity.
func Shares(coins, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be > 0: %w", contest.ErrInvalidAllocation)
	}
	return coins.DivRound(price, contest.SharesPlaces), nil
}
