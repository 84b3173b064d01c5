package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"momentum-botv1/internal/model"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 2 * time.Second
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bot.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// It owns the schema for closed candles and the trade journal.
type Writer struct {
	db *sql.DB

	// Metrics hooks (optional, set externally)
	OnError func(err error)
}

// DB returns the underlying sql.DB for health checks and the journal.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_1m (
			ts        INTEGER PRIMARY KEY,
			open      TEXT    NOT NULL,
			high      TEXT    NOT NULL,
			low       TEXT    NOT NULL,
			close     TEXT    NOT NULL,
			volume    TEXT    NOT NULL,
			taker_buy TEXT    NOT NULL,
			trades    INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS trades (
			id          TEXT    PRIMARY KEY,
			ticker      TEXT    NOT NULL,
			direction   TEXT    NOT NULL,
			signal      TEXT    NOT NULL,
			rsi         REAL,
			return_15m  REAL,
			price       TEXT    NOT NULL,
			contracts   INTEGER NOT NULL,
			cost        TEXT    NOT NULL,
			opened_at   INTEGER NOT NULL,
			close_time  INTEGER NOT NULL,
			status      TEXT    NOT NULL DEFAULT 'OPENED',
			outcome     TEXT,
			payout      TEXT,
			pnl         TEXT,
			settled_at  INTEGER
		);

		CREATE INDEX IF NOT EXISTS trades_opened_at ON trades (opened_at);
	`)
	return err
}

// Run reads closed candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.WriteCandles(context.WithoutCancel(ctx), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if w.OnError != nil {
				w.OnError(err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			if !candle.Closed {
				continue
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteCandles upserts a batch of candles in a single transaction. A bucket
// written twice keeps the latest values.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	q := sq.Replace("candles_1m").
		Columns("ts", "open", "high", "low", "close", "volume", "taker_buy", "trades")
	for _, c := range candles {
		q = q.Values(c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.TakerBuy, c.Trades)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build candle insert: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
