package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the bot from concrete storage implementations
// (Redis, SQLite). Each implementation satisfies one or more of them.

// CandleWriter persists closed candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads closed candles back for calibration.
type CandleReader interface {
	// ReadCandles returns candles with bucket start at or after since, oldest first.
	ReadCandles(ctx context.Context, since time.Time) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// EventPublisher broadcasts bot events to external subscribers.
type EventPublisher interface {
	PublishCandle(ctx context.Context, c Candle)
	PublishOpened(ctx context.Context, p Position)
	PublishSettled(ctx context.Context, s Settlement)
}

// Publishers forwards every event to each publisher in order.
type Publishers []EventPublisher

func (ps Publishers) PublishCandle(ctx context.Context, c Candle) {
	for _, p := range ps {
		p.PublishCandle(ctx, c)
	}
}

func (ps Publishers) PublishOpened(ctx context.Context, pos Position) {
	for _, p := range ps {
		p.PublishOpened(ctx, pos)
	}
}

func (ps Publishers) PublishSettled(ctx context.Context, s Settlement) {
	for _, p := range ps {
		p.PublishSettled(ctx, s)
	}
}
