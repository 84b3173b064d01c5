package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the system health. The feed is the only hard
// dependency: Redis and SQLite failures degrade but never fail the probe.
type HealthStatus struct {
	mu sync.RWMutex

	staleAfter time.Duration
	staleness  func(now time.Time) time.Duration
	connected  func() bool

	RedisConnected bool
	SQLiteOK       bool

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	now func() time.Time
}

// NewHealthStatus returns a health status judging the feed stale after staleAfter.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		staleAfter: staleAfter,
		StartedAt:  time.Now(),
		now:        time.Now,
	}
}

// SetFeed installs the feed probes, typically from ws.Supervisor.
func (h *HealthStatus) SetFeed(staleness func(time.Time) time.Duration, connected func() bool) {
	h.mu.Lock()
	h.staleness = staleness
	h.connected = connected
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

type healthResponse struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	WSConnected     bool    `json:"ws_connected"`
	FeedStaleness   string  `json:"feed_staleness"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	var stale time.Duration
	if h.staleness != nil {
		stale = h.staleness(now)
	}
	connected := h.connected != nil && h.connected()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !connected || stale > h.staleAfter:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !h.RedisConnected || !h.SQLiteOK:
		overallStatus = "degraded"
	}

	status := healthResponse{
		Status:          overallStatus,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		WSConnected:     connected,
		FeedStaleness:   stale.Round(time.Millisecond).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
