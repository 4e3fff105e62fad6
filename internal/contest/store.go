package contest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type ContestStore interface {
	GetContest(ctx context.Context, id int64) (Contest, error)
	ListContests(ctx context.Context, filter ContestFilter) ([]Contest, error)
	CreateContest(ctx context.Context, c Contest) (Contest, error)
	// UpdateContest applies patch only while the contest is upcoming.
	UpdateContest(ctx context.Context, id int64, patch ContestPatch) (Contest, error)
	// TransitionStatus moves a contest from -> to, failing with ErrStatusConflict when
	// the stored status is no longer from.
	TransitionStatus(ctx context.Context, id int64, from, to Status) error
	// MarkPrizesDistributed sets the payout flag once; a second call fails with
	// ErrPrizesAlreadyDistributed.
	MarkPrizesDistributed(ctx context.Context, id int64, at time.Time) error
	DeleteContest(ctx context.Context, id int64) error
}

type EntryStore interface {
	// JoinContest debits the entry fee and creates the entry with its holdings atomically.
	JoinContest(ctx context.Context, req JoinRequest) (Entry, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntryByUser(ctx context.Context, userID string, contestID int64) (Entry, error)
	// ListEntries returns entries in creation order.
	ListEntries(ctx context.Context, contestID int64) ([]Entry, error)
	CountEntries(ctx context.Context, contestID int64) (int, error)
	// SaveEntryResults writes value, roi and rank of every result in one unit.
	SaveEntryResults(ctx context.Context, contestID int64, results []EntryResult) error
	ListHoldings(ctx context.Context, entryID int64) ([]Holding, error)
}

type CoinStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpsertUser(ctx context.Context, u User) (User, error)
	// ApplyCoinTransaction records the transaction row and applies the balance change together.
	ApplyCoinTransaction(ctx context.Context, credit CoinCredit) (CoinTransaction, error)
	ListCoinTransactions(ctx context.Context, userID string, limit int) ([]CoinTransaction, error)
}

type StockStore interface {
	UpsertStock(ctx context.Context, s Stock) (Stock, error)
	ListStocks(ctx context.Context) ([]Stock, error)
}

type SnapshotStore interface {
	AppendPortfolioPerformance(ctx context.Context, rows []PortfolioPerformance) error
	RecentPortfolioPerformance(ctx context.Context, entryID int64, limit int) ([]PortfolioPerformance, error)
	AppendLeaderboardHistory(ctx context.Context, rows []LeaderboardHistory) error
	// RecentLeaderboardBatches returns up to n snapshot batches, newest first, each
	// ordered by rank.
	RecentLeaderboardBatches(ctx context.Context, contestID int64, n int) ([][]LeaderboardHistory, error)
}

// Store is the durable ledger the lifecycle scheduler mutates.
type Store interface {
	ContestStore
	EntryStore
	CoinStore
	StockStore
	SnapshotStore
}

// PriceOracle returns the latest known price for a symbol, or ErrPriceNotFound.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
