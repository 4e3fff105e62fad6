package contest

import (
	"time"

	"github.com/shopspring/decimal"
)

type Contest struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	EntryFee            decimal.Decimal `json:"entry_fee"`
	PrizePool           decimal.Decimal `json:"prize_pool"`
	MaxParticipants     int             `json:"max_participants"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             time.Time       `json:"end_time"`
	Status              Status          `json:"status"`
	Featured            bool            `json:"featured"`
	PrizesDistributedAt *time.Time      `json:"prizes_distributed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type ContestPatch struct {
	Name            *string          `json:"name,omitempty"`
	EntryFee        *decimal.Decimal `json:"entry_fee,omitempty"`
	PrizePool       *decimal.Decimal `json:"prize_pool,omitempty"`
	MaxParticipants *int             `json:"max_participants,omitempty"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	Featured        *bool            `json:"featured,omitempty"`
}

type ContestFilter struct {
	Statuses []Status
}

// Entry is one user's participation in one contest. FinalPortfolioValue, ROI and Rank
// are written together when results are computed.
type Entry struct {
	ID                  int64               `json:"id"`
	UserID              string              `json:"user_id"`
	ContestID           int64               `json:"contest_id"`
	TotalCoinsInvested  decimal.Decimal     `json:"total_coins_invested"`
	FinalPortfolioValue decimal.NullDecimal `json:"final_portfolio_value"`
	ROI                 decimal.NullDecimal `json:"roi"`
	Rank                *int                `json:"rank"`
	CreatedAt           time.Time           `json:"created_at"`
}

type Holding struct {
	ID             int64           `json:"id"`
	EntryID        int64           `json:"entry_id"`
	StockSymbol    string          `json:"stock_symbol"`
	CoinsInvested  decimal.Decimal `json:"coins_invested"`
	SharesQuantity decimal.Decimal `json:"shares_quantity"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
}

type EntryResult struct {
	EntryID             int64
	FinalPortfolioValue decimal.Decimal
	ROI                 decimal.Decimal
	Rank                int
}

type PortfolioPerformance struct {
	ID             int64           `json:"id"`
	EntryID        int64           `json:"entry_id"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Timestamp      time.Time       `json:"timestamp"`
}

type LeaderboardHistory struct {
	ID             int64           `json:"id"`
	ContestID      int64           `json:"contest_id"`
	UserID         string          `json:"user_id"`
	Rank           int             `json:"rank"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	ROI            decimal.Decimal `json:"roi"`
	Timestamp      time.Time       `json:"timestamp"`
}

type CoinTransaction struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	Type           TxType          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	CoinsBefore    decimal.Decimal `json:"coins_before"`
	CoinsAfter     decimal.Decimal `json:"coins_after"`
	Description    string          `json:"description"`
	ContestID      *int64          `json:"contest_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CoinCredit is a signed balance mutation. A non-empty IdempotencyKey makes it at-most-once.
type CoinCredit struct {
	UserID         string
	Type           TxType
	Amount         decimal.Decimal
	Description    string
	ContestID      *int64
	IdempotencyKey string
}

type User struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Coins     decimal.Decimal `json:"coins"`
	CreatedAt time.Time       `json:"created_at"`
}

type Stock struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// JoinRequest is the fully priced input to Store.JoinContest. Stores reject it once
// At has reached the contest start time.
type JoinRequest struct {
	ContestID int64
	UserID    string
	At        time.Time
	Budget    decimal.Decimal
	Debit     CoinCredit
	Holdings  []Holding
}
