package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"momentum-botv1/internal/model"

	sq "github.com/Masterminds/squirrel"
)

// Reader provides read-only access to stored candles. It doubles as a
// calibration source when the exchange history download fails.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Name identifies the reader as a calibration source.
func (r *Reader) Name() string { return "sqlite" }

// ReadCandles returns candles with bucket start at or after since, oldest first.
func (r *Reader) ReadCandles(ctx context.Context, since time.Time) ([]model.Candle, error) {
	return r.query(ctx, sq.GtOrEq{"ts": since.Unix()})
}

// Candles returns candles with bucket start in [since, until), oldest first.
func (r *Reader) Candles(ctx context.Context, since, until time.Time) ([]model.Candle, error) {
	return r.query(ctx, sq.And{
		sq.GtOrEq{"ts": since.Unix()},
		sq.Lt{"ts": until.Unix()},
	})
}

// LastTimestamp returns the newest stored bucket, or the zero time.
func (r *Reader) LastTimestamp(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	if err := sq.Select("MAX(ts)").From("candles_1m").RunWith(r.db).QueryRowContext(ctx).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("sqlite max ts: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

func (r *Reader) query(ctx context.Context, where sq.Sqlizer) ([]model.Candle, error) {
	rows, err := sq.Select("ts", "open", "high", "low", "close", "volume", "taker_buy", "trades").
		From("candles_1m").
		Where(where).
		OrderBy("ts ASC").
		RunWith(r.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_1m: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c      model.Candle
			tsUnix int64
		)
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TakerBuy, &c.Trades); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_1m: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Closed = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
