package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository exposes the bot's persistence operations: the capped gradient
// history, the trade audit log, and balance snapshots.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// GradientRow is one persisted (fast, slow) gradient pair.
type GradientRow struct {
	ID           int64
	FastGradient float64
	SlowGradient float64
	CreatedAt    time.Time
}

// TradeRecord is one row of the append-only trade audit log.
type TradeRecord struct {
	ID           int64     `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Status       string    `json:"status"`
	Profit       *float64  `json:"profit,omitempty"`
	AssetBalance float64   `json:"asset_balance"`
	QuoteBalance float64   `json:"quote_balance"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// SaveGradientPair inserts a pair and trims rows beyond the cap, oldest
// first, so the table never holds more than limit entries.
func (r *Repository) SaveGradientPair(ctx context.Context, fast, slow float64, limit int) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO gradients (fast_gradient, slow_gradient) VALUES ($1, $2)`,
		fast, slow,
	)
	if err != nil {
		return fmt.Errorf("insert gradient pair: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`DELETE FROM gradients WHERE id IN (
			SELECT id FROM gradients ORDER BY id DESC OFFSET $1
		)`,
		limit,
	)
	if err != nil {
		return fmt.Errorf("trim gradient history: %w", err)
	}

	return nil
}

// PreviousGradientPair returns the most recently saved pair. The cycle reads
// it before saving its own sample, so it is the prior cycle's pair. Returns
// (nil, nil) when the history is empty.
func (r *Repository) PreviousGradientPair(ctx context.Context) (*GradientRow, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, fast_gradient, slow_gradient, created_at
		 FROM gradients ORDER BY id DESC LIMIT 1`,
	)

	var g GradientRow
	err := row.Scan(&g.ID, &g.FastGradient, &g.SlowGradient, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load previous gradient pair: %w", err)
	}
	return &g, nil
}

// GradientCount returns the number of retained pairs.
func (r *Repository) GradientCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM gradients`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count gradients: %w", err)
	}
	return count, nil
}

// AppendTrade records an executed order and the resulting balances.
func (r *Repository) AppendTrade(ctx context.Context, t TradeRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO trade_log (symbol, side, quantity, price, status, profit, asset_balance, quote_balance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Symbol, t.Side, t.Quantity, t.Price, t.Status, t.Profit, t.AssetBalance, t.QuoteBalance,
	)
	if err != nil {
		return fmt.Errorf("append trade log: %w", err)
	}
	return nil
}

// RecentTrades returns the newest audit entries, most recent first.
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, symbol, side, quantity, price, status, profit, asset_balance, quote_balance, executed_at
		 FROM trade_log ORDER BY executed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trade log: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Status,
			&t.Profit, &t.AssetBalance, &t.QuoteBalance, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpsertBalance appends a balance snapshot for a currency.
func (r *Repository) UpsertBalance(ctx context.Context, currency string, balance float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO account_balances (currency, balance) VALUES ($1, $2)`,
		currency, balance,
	)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// LatestBalance returns the most recent stored balance for a currency.
func (r *Repository) LatestBalance(ctx context.Context, currency string) (float64, error) {
	var balance float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT balance FROM account_balances WHERE currency = $1 ORDER BY updated_at DESC LIMIT 1`,
		currency,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}
