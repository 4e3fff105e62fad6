// Package postgres is the pgx-backed contest.Store. Every balance change writes its
// coin_transactions row and the new balance in the same transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockarena/internal/contest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

var _ contest.Store = (*Store)(nil)
var _ contest.PriceOracle = (*Store)(nil)

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

const contestColumns = `id, name, entry_fee, prize_pool, max_participants, start_time, end_time, status, featured, prizes_distributed_at, created_at, updated_at`

const entryColumns = `id, user_id, contest_id, total_coins_invested, final_portfolio_value, roi, rank, created_at`

func scanContest(row pgx.Row) (contest.Contest, error) {
	var c contest.Contest
	err := row.Scan(&c.ID, &c.Name, &c.EntryFee, &c.PrizePool, &c.MaxParticipants, &c.StartTime, &c.EndTime,
		&c.Status, &c.Featured, &c.PrizesDistributedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, contest.ErrContestNotFound
	}
	return c, err
}

func scanEntry(row pgx.Row) (contest.Entry, error) {
	var e contest.Entry
	err := row.Scan(&e.ID, &e.UserID, &e.ContestID, &e.TotalCoinsInvested, &e.FinalPortfolioValue, &e.ROI, &e.Rank, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, contest.ErrEntryNotFound
	}
	return e, err
}

func (s *Store) GetContest(ctx context.Context, id int64) (contest.Contest, error) {
	return scanContest(s.db.QueryRow(ctx, `SELECT `+contestColumns+` FROM arena.contests WHERE id = $1`, id))
}

func (s *Store) ListContests(ctx context.Context, filter contest.ContestFilter) ([]contest.Contest, error) {
	var statuses []string
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+contestColumns+`
		FROM arena.contests
		WHERE $1::text[] IS NULL OR status = ANY($1)
		ORDER BY start_time, id
	`, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]contest.Contest, 0, 16)
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateContest(ctx context.Context, c contest.Contest) (contest.Contest, error) {
	if c.Status == "" {
		c.Status = contest.StatusUpcoming
	}
	return scanContest(s.db.QueryRow(ctx, `
		INSERT INTO arena.contests (name, entry_fee, prize_pool, max_participants, start_time, end_time, status, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+contestColumns,
		c.Name, c.EntryFee, c.PrizePool, c.MaxParticipants, c.StartTime.UTC(), c.EndTime.UTC(), string(c.Status), c.Featured))
}

func (s *Store) UpdateContest(ctx context.Context, id int64, patch contest.ContestPatch) (contest.Contest, error) {
	var out contest.Contest
	err := s.withTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		c, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM arena.contests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if c.Status != contest.StatusUpcoming {
			return contest.InvalidState(c, contest.StatusUpcoming)
		}
		if patch.EntryFee != nil && !patch.EntryFee.Equal(c.EntryFee) {
			var entries int
			if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM arena.contest_entries WHERE contest_id = $1`, id).Scan(&entries); err != nil {
				return err
			}
			if entries > 0 {
				return fmt.Errorf("contest %d has entries, entry fee is fixed: %w", id, contest.ErrInvalidState)
			}
		}
		next := patch.Apply(c)
		if err := next.Validate(); err != nil {
			return err
		}
		out, err = scanContest(tx.QueryRow(ctx, `
			UPDATE arena.contests
			SET name = $2, entry_fee = $3, prize_pool = $4, max_participants = $5,
				start_time = $6, end_time = $7, featured = $8, updated_at = now()
			WHERE id = $1
			RETURNING `+contestColumns,
			id, next.Name, next.EntryFee, next.PrizePool, next.MaxParticipants, next.StartTime, next.EndTime, next.Featured))
		return err
	})
	return out, err
}

func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to contest.Status) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE arena.contests
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	c, err := s.GetContest(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("contest %d is %s, not %s: %w", id, c.Status, from, contest.ErrStatusConflict)
}

func (s *Store) MarkPrizesDistributed(ctx context.Context, id int64, at time.Time) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE arena.contests
		SET prizes_distributed_at = $2, updated_at = now()
		WHERE id = $1 AND prizes_distributed_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetContest(ctx, id); err != nil {
		return err
	}
	return contest.ErrPrizesAlreadyDistributed
}

func (s *Store) DeleteContest(ctx context.Context, id int64) error {
	return s.withTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		c, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM arena.contests WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if c.Status != contest.StatusUpcoming {
			return contest.InvalidState(c, contest.StatusUpcoming)
		}
		var entries int
		if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM arena.contest_entries WHERE contest_id = $1`, id).Scan(&entries); err != nil {
			return err
		}
		if entries > 0 {
			return fmt.Errorf("contest %d has entries: %w", id, contest.ErrInvalidState)
		}
		_, err = tx.Exec(ctx, `DELETE FROM arena.contests WHERE id = $1`, id)
		return err
	})
}

func (s *Store) JoinContest(ctx context.Context, req contest.JoinRequest) (contest.Entry, error) {
	var out contest.Entry
	err := s.withTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		c, err := scanContest(tx.QueryRow(ctx, `SELECT `+contestColumns+` FROM arena.contests WHERE id = $1 FOR UPDATE`, req.ContestID))
		if err != nil {
			return err
		}
		if c.Status != contest.StatusUpcoming {
			return contest.InvalidState(c, contest.StatusUpcoming)
		}
		at := req.At
		if at.IsZero() {
			at = time.Now()
		}
		if contest.IsDue(at, c.StartTime) {
			return fmt.Errorf("contest %d start time has passed: %w", c.ID, contest.ErrInvalidState)
		}
		var joined bool
		var count int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(bool_or(user_id = $2), false), COUNT(1)
			FROM arena.contest_entries
			WHERE contest_id = $1
		`, req.ContestID, req.UserID).Scan(&joined, &count); err != nil {
			return err
		}
		if joined {
			return contest.ErrAlreadyJoined
		}
		if c.MaxParticipants > 0 && count >= c.MaxParticipants {
			return contest.ErrContestFull
		}
		if req.Debit.Amount.IsZero() {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM arena.users WHERE id = $1)`, req.UserID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return contest.ErrUserNotFound
			}
		} else if _, err := applyCoinTransaction(ctx, tx, req.Debit); err != nil {
			return err
		}

		out, err = scanEntry(tx.QueryRow(ctx, `
			INSERT INTO arena.contest_entries (user_id, contest_id, total_coins_invested)
			VALUES ($1, $2, $3)
			RETURNING `+entryColumns,
			req.UserID, req.ContestID, req.Budget))
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, h := range req.Holdings {
			batch.Queue(`
				INSERT INTO arena.portfolio_holdings (entry_id, stock_symbol, coins_invested, shares_quantity, purchase_price)
				VALUES ($1, $2, $3, $4, $5)
			`, out.ID, h.StockSymbol, h.CoinsInvested, h.SharesQuantity, h.PurchasePrice)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return out, err
}

func (s *Store) GetEntry(ctx context.Context, id int64) (contest.Entry, error) {
	return scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM arena.contest_entries WHERE id = $1`, id))
}

func (s *Store) GetEntryByUser(ctx context.Context, userID string, contestID int64) (contest.Entry, error) {
	return scanEntry(s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM arena.contest_entries
		WHERE user_id = $1 AND contest_id = $2
	`, userID, contestID))
}

func (s *Store) ListEntries(ctx context.Context, contestID int64) ([]contest.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM arena.contest_entries
		WHERE contest_id = $1
		ORDER BY created_at, id
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountEntries(ctx context.Context, contestID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM arena.contest_entries WHERE contest_id = $1`, contestID).Scan(&n)
	return n, err
}

func (s *Store) SaveEntryResults(ctx context.Context, contestID int64, results []contest.EntryResult) error {
	return s.withTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for _, r := range results {
			cmd, err := tx.Exec(ctx, `
				UPDATE arena.contest_entries
				SET final_portfolio_value = $3, roi = $4, rank = $5
				WHERE id = $1 AND contest_id = $2
			`, r.EntryID, contestID, r.FinalPortfolioValue, r.ROI, r.Rank)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 0 {
				return fmt.Errorf("entry %d in contest %d: %w", r.EntryID, contestID, contest.ErrEntryNotFound)
			}
		}
		return nil
	})
}

func (s *Store) ListHoldings(ctx context.Context, entryID int64) ([]contest.Holding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entry_id, stock_symbol, coins_invested, shares_quantity, purchase_price
		FROM arena.portfolio_holdings
		WHERE entry_id = $1
		ORDER BY id
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.Holding
	for rows.Next() {
		var h contest.Holding
		if err := rows.Scan(&h.ID, &h.EntryID, &h.StockSymbol, &h.CoinsInvested, &h.SharesQuantity, &h.PurchasePrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (contest.User, error) {
	var u contest.User
	err := s.db.QueryRow(ctx, `SELECT id, username, coins, created_at FROM arena.users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Coins, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, contest.ErrUserNotFound
	}
	return u, err
}

func (s *Store) UpsertUser(ctx context.Context, u contest.User) (contest.User, error) {
	var out contest.User
	err := s.db.QueryRow(ctx, `
		INSERT INTO arena.users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, coins, created_at
	`, u.ID, u.Username).Scan(&out.ID, &out.Username, &out.Coins, &out.CreatedAt)
	return out, err
}

func (s *Store) ApplyCoinTransaction(ctx context.Context, credit contest.CoinCredit) (contest.CoinTransaction, error) {
	var out contest.CoinTransaction
	err := s.withTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		out, err = applyCoinTransaction(ctx, tx, credit)
		return err
	})
	return out, err
}

// applyCoinTransaction locks the user row, appends the ledger row and then moves the
// balance. A reused idempotency key inserts nothing and fails with ErrDuplicateTransaction.
func applyCoinTransaction(ctx context.Context, tx pgx.Tx, credit contest.CoinCredit) (contest.CoinTransaction, error) {
	var before decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT coins FROM arena.users WHERE id = $1 FOR UPDATE`, credit.UserID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return contest.CoinTransaction{}, contest.ErrUserNotFound
	}
	if err != nil {
		return contest.CoinTransaction{}, err
	}
	after := before.Add(credit.Amount)
	if after.IsNegative() {
		return contest.CoinTransaction{}, contest.ErrInsufficientCoins
	}

	out := contest.CoinTransaction{
		UserID:         credit.UserID,
		Type:           credit.Type,
		Amount:         credit.Amount,
		CoinsBefore:    before,
		CoinsAfter:     after,
		Description:    credit.Description,
		ContestID:      credit.ContestID,
		IdempotencyKey: strings.TrimSpace(credit.IdempotencyKey),
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO arena.coin_transactions (user_id, type, amount, coins_before, coins_after, description, contest_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at
	`, out.UserID, string(out.Type), out.Amount, out.CoinsBefore, out.CoinsAfter, out.Description, out.ContestID, out.IdempotencyKey).
		Scan(&out.ID, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return contest.CoinTransaction{}, contest.ErrDuplicateTransaction
	}
	if err != nil {
		return contest.CoinTransaction{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE arena.users SET coins = $2 WHERE id = $1`, credit.UserID, after); err != nil {
		return contest.CoinTransaction{}, err
	}
	return out, nil
}

func (s *Store) ListCoinTransactions(ctx context.Context, userID string, limit int) ([]contest.CoinTransaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, type, amount, coins_before, coins_after, description, contest_id, COALESCE(idempotency_key, ''), created_at
		FROM arena.coin_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.CoinTransaction
	for rows.Next() {
		var t contest.CoinTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.CoinsBefore, &t.CoinsAfter, &t.Description, &t.ContestID, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertStock(ctx context.Context, st contest.Stock) (contest.Stock, error) {
	var out contest.Stock
	err := s.db.QueryRow(ctx, `
		INSERT INTO arena.stocks (symbol, name, current_price, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), arena.stocks.name),
			current_price = EXCLUDED.current_price,
			updated_at = now()
		RETURNING symbol, name, current_price, updated_at
	`, st.Symbol, st.Name, st.CurrentPrice).Scan(&out.Symbol, &out.Name, &out.CurrentPrice, &out.UpdatedAt)
	return out, err
}

func (s *Store) ListStocks(ctx context.Context) ([]contest.Stock, error) {
	rows, err := s.db.Query(ctx, `SELECT symbol, name, current_price, updated_at FROM arena.stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.Stock
	for rows.Next() {
		var st contest.Stock
		if err := rows.Scan(&st.Symbol, &st.Name, &st.CurrentPrice, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.db.QueryRow(ctx, `SELECT current_price FROM arena.stocks WHERE symbol = $1`, symbol).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, contest.ErrPriceNotFound)
	}
	return price, err
}

func (s *Store) AppendPortfolioPerformance(ctx context.Context, rows []contest.PortfolioPerformance) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO arena.portfolio_performance (entry_id, portfolio_value, recorded_at)
			VALUES ($1, $2, $3)
		`, r.EntryID, r.PortfolioValue, r.Timestamp.UTC())
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) RecentPortfolioPerformance(ctx context.Context, entryID int64, limit int) ([]contest.PortfolioPerformance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entry_id, portfolio_value, recorded_at
		FROM arena.portfolio_performance
		WHERE entry_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`, entryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.PortfolioPerformance
	for rows.Next() {
		var p contest.PortfolioPerformance
		if err := rows.Scan(&p.ID, &p.EntryID, &p.PortfolioValue, &p.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendLeaderboardHistory(ctx context.Context, rows []contest.LeaderboardHistory) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO arena.leaderboard_history (contest_id, user_id, rank, portfolio_value, roi, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.ContestID, r.UserID, r.Rank, r.PortfolioValue, r.ROI, r.Timestamp.UTC())
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) RecentLeaderboardBatches(ctx context.Context, contestID int64, n int) ([][]contest.LeaderboardHistory, error) {
	rows, err := s.db.Query(ctx, `
		WITH batches AS (
			SELECT DISTINCT recorded_at
			FROM arena.leaderboard_history
			WHERE contest_id = $1
			ORDER BY recorded_at DESC
			LIMIT $2
		)
		SELECT id, contest_id, user_id, rank, portfolio_value, roi, recorded_at
		FROM arena.leaderboard_history
		WHERE contest_id = $1 AND recorded_at IN (SELECT recorded_at FROM batches)
		ORDER BY recorded_at DESC, rank ASC
	`, contestID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]contest.LeaderboardHistory
	for rows.Next() {
		var r contest.LeaderboardHistory
		if err := rows.Scan(&r.ID, &r.ContestID, &r.UserID, &r.Rank, &r.PortfolioValue, &r.ROI, &r.Timestamp); err != nil {
			return nil, err
		}
		if len(out) == 0 || !out[len(out)-1][0].Timestamp.Equal(r.Timestamp) {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], r)
	}
	return out, rows.Err()
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// withTx runs fn in a transaction, retrying serialization failures with backoff.
func (s *Store) withTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			return translateUnique(err)
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return contest.ErrTxConflict
		}
		s.log.Debug("retrying serialization failure", "attempt", attempt+1, "err", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return contest.ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	errors.As(err, &pgErr)
	switch pgErr.ConstraintName {
	case "contest_entries_user_id_contest_id_key":
		return contest.ErrAlreadyJoined
	case "coin_transactions_idempotency_key_key":
		return contest.ErrDuplicateTransaction
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
