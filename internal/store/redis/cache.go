package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"momentum-botv1/internal/calibration"

	goredis "github.com/go-redis/redis/v8"
)

const keyCalibration = "calib:latest"

// Cache stores the latest calibration result with a TTL so a restart can
// trade on a recent table before the first refresh completes.
type Cache struct {
	w   *Writer
	ttl time.Duration
}

// NewCache creates a calibration cache. ttl <= 0 defaults to 2h.
func NewCache(w *Writer, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Cache{w: w, ttl: ttl}
}

// LoadCalibration returns the cached result; ok is false on a miss.
func (c *Cache) LoadCalibration(ctx context.Context) (calibration.Result, bool, error) {
	raw, err := c.w.client.Get(ctx, c.w.key(keyCalibration)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return calibration.Result{}, false, nil
	}
	if err != nil {
		return calibration.Result{}, false, fmt.Errorf("redis GET %s: %w", keyCalibration, err)
	}
	var res calibration.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return calibration.Result{}, false, fmt.Errorf("decode calibration: %w", err)
	}
	return res, true, nil
}

// SaveCalibration overwrites the cached result.
func (c *Cache) SaveCalibration(ctx context.Context, res calibration.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if err := c.w.client.Set(ctx, c.w.key(keyCalibration), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", keyCalibration, err)
	}
	return nil
}

var _ calibration.Cache = (*Cache)(nil)
