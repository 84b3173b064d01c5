// Package redis publishes bot events and closed candles to Redis and caches
// the latest calibration table between restarts.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"momentum-botv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~1 day of 1m candles + buffer
	candleStreamMaxLen = 1500
	eventStreamMaxLen  = 5000
	defaultLatestTTL   = 30 * time.Minute

	keyCandleLatest = "candle:1m:latest"
	keyCandleStream = "candle:1m"
	keyEventStream  = "events:positions"
	chanCandle      = "pub:candle:1m"
	chanEvents      = "pub:events"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace, e.g. "kxbtc:"
}

// Writer performs the raw pipelined writes.
type Writer struct {
	client *goredis.Client
	prefix string
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, prefix: cfg.Prefix}, nil
}

func (w *Writer) key(k string) string { return w.prefix + k }

// writeCandle performs pipelined writes for a closed candle.
func (w *Writer) writeCandle(ctx context.Context, data []byte) error {
	jsonData := string(data)
	pipe := w.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, w.key(keyCandleLatest), jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: w.key(keyCandleStream),
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, w.key(chanCandle), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis candle pipeline: %w", err)
	}
	return nil
}

// writeEvent appends a position event to the event stream and publishes it.
func (w *Writer) writeEvent(ctx context.Context, kind string, data []byte) error {
	jsonData := string(data)
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: w.key(keyEventStream),
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"type": kind, "data": jsonData},
	})
	pipe.Publish(ctx, w.key(chanEvents), kind+" "+jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis event pipeline: %w", err)
	}
	return nil
}

// RecentEvents returns up to n events from the stream, newest first.
func (w *Writer) RecentEvents(ctx context.Context, n int64) ([]map[string]interface{}, error) {
	msgs, err := w.client.XRevRangeN(ctx, w.key(keyEventStream), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Values)
	}
	return out, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// compile-time check: the candle path is a model.CandleWriter via Publisher.
var _ model.CandleWriter = (*Publisher)(nil)
