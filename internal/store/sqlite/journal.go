package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"momentum-botv1/internal/model"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

// Trade status values in the journal.
const (
	StatusOpened  = "OPENED"
	StatusSettled = "SETTLED"
)

var ErrUnknownTrade = errors.New("sqlite: unknown trade")

// Journal is an append-mostly record of opened and settled positions.
// It implements ledger.TradeLog; the JSON state file stays authoritative.
type Journal struct {
	db *sql.DB
}

// NewJournal uses a database whose schema was created by New.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// RecordOpen inserts an OPENED row. Re-recording the same ID is a no-op.
func (j *Journal) RecordOpen(ctx context.Context, p model.Position) error {
	_, err := sq.Insert("trades").
		Options("OR IGNORE").
		Columns("id", "ticker", "direction", "signal", "rsi", "return_15m",
			"price", "contracts", "cost", "opened_at", "close_time", "status").
		Values(p.ID, p.Ticker, string(p.Direction), p.Signal, p.RSI, p.Return15m,
			p.EntryPrice, p.Contracts, p.Cost(), p.OpenedAt.Unix(), p.CloseTime.Unix(), StatusOpened).
		RunWith(j.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("journal open %s: %w", p.ID, err)
	}
	return nil
}

// RecordSettle marks the row SETTLED with its outcome and PnL.
func (j *Journal) RecordSettle(ctx context.Context, s model.Settlement) error {
	res, err := sq.Update("trades").
		Set("status", StatusSettled).
		Set("outcome", string(s.Outcome)).
		Set("payout", s.Payout).
		Set("pnl", s.Profit).
		Set("settled_at", s.SettledAt.Unix()).
		Where(sq.Eq{"id": s.Position.ID}).
		RunWith(j.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("journal settle %s: %w", s.Position.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal settle %s: %w", s.Position.ID, ErrUnknownTrade)
	}
	return nil
}

// Entry is one journal row.
type Entry struct {
	ID        string          `json:"id"`
	Ticker    string          `json:"ticker"`
	Direction string          `json:"direction"`
	Signal    string          `json:"signal"`
	Price     decimal.Decimal `json:"price"`
	Contracts int64           `json:"contracts"`
	Status    string          `json:"status"`
	Outcome   string          `json:"outcome,omitempty"`
	PnL       decimal.Decimal `json:"pnl"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// Recent returns the newest n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := sq.Select("id", "ticker", "direction", "signal", "price", "contracts",
		"status", "COALESCE(outcome, '')", "COALESCE(pnl, '0')", "opened_at").
		From("trades").
		OrderBy("opened_at DESC").
		Limit(uint64(n)).
		RunWith(j.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			opened int64
		)
		if err := rows.Scan(&e.ID, &e.Ticker, &e.Direction, &e.Signal, &e.Price, &e.Contracts,
			&e.Status, &e.Outcome, &e.PnL, &opened); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.OpenedAt = time.Unix(opened, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RealizedPnL sums pnl over settled rows.
func (j *Journal) RealizedPnL(ctx context.Context) (decimal.Decimal, error) {
	rows, err := sq.Select("pnl").From("trades").
		Where(sq.Eq{"status": StatusSettled}).
		RunWith(j.db).
		QueryContext(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("journal pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return decimal.Zero, fmt.Errorf("journal pnl scan: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}
