// Package metrics exposes Prometheus counters, the /healthz probe and the
// /status snapshot for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "kxbtc"

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	Registry *prometheus.Registry

	// Feed
	TradesTotal   prometheus.Counter
	CandlesTotal  prometheus.Counter
	DroppedTrades *prometheus.CounterVec // labels: reason=late|channel_full
	WSReconnects  prometheus.Counter
	FeedStaleness prometheus.Gauge
	LastPrice     prometheus.Gauge

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Decision loop
	RSI              prometheus.Gauge
	SignalsTotal     *prometheus.CounterVec // labels: rule
	RejectionsTotal  *prometheus.CounterVec // labels: reason
	PositionsOpened  prometheus.Counter
	SettlementsTotal *prometheus.CounterVec // labels: outcome=win|loss
	OpenPositions    prometheus.Gauge
	Bankroll         prometheus.Gauge
	LoopPanics       prometheus.Counter
	CycleDuration    prometheus.Histogram

	// Dependencies
	PersistFailures    prometheus.Counter
	APIErrors          *prometheus.CounterVec // labels: api, op
	BreakerState       *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips       *prometheus.CounterVec // labels: name
	RedisBuffered      prometheus.Counter
	CalibrationRuns    *prometheus.CounterVec // labels: result=ok|error
	CalibrationWinRate *prometheus.GaugeVec   // labels: rule
}

// NewMetrics registers and returns all metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Total trades received from the exchange stream",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_total",
			Help:      "Total 1m candles closed",
		}),
		DroppedTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_trades_total",
			Help:      "Trades dropped (late or channel full)",
		}, []string{"reason"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "Total WebSocket reconnection attempts",
		}),
		FeedStaleness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_staleness_seconds",
			Help:      "Seconds since the last frame from the trade stream",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "btc_last_price",
			Help:      "Last traded BTC price",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_drops_total",
			Help:      "Candles dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),

		RSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rsi",
			Help:      "RSI(14) on the live candle",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by rule",
		}, []string{"rule"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Signals rejected by the execution gate, by reason",
		}, []string{"reason"}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Paper positions opened",
		}),
		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Positions settled, by outcome",
		}, []string{"outcome"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		Bankroll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bankroll_dollars",
			Help:      "Paper bankroll",
		}),
		LoopPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_panics_total",
			Help:      "Decision cycles aborted by a recovered panic",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Decision loop cycle latency",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "State file writes that failed",
		}),
		APIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "External API call failures",
		}, []string{"api", "op"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times a circuit breaker tripped open",
		}, []string{"name"}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_buffered_writes_total",
			Help:      "Writes buffered locally during Redis circuit breaker open state",
		}),
		CalibrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_runs_total",
			Help:      "Calibration refreshes, by result",
		}, []string{"result"}),
		CalibrationWinRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_win_rate",
			Help:      "Current win rate per rule",
		}, []string{"rule"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TradesTotal,
		m.CandlesTotal,
		m.DroppedTrades,
		m.WSReconnects,
		m.FeedStaleness,
		m.LastPrice,
		m.FanoutDropsTotal,
		m.RSI,
		m.SignalsTotal,
		m.RejectionsTotal,
		m.PositionsOpened,
		m.SettlementsTotal,
		m.OpenPositions,
		m.Bankroll,
		m.LoopPanics,
		m.CycleDuration,
		m.PersistFailures,
		m.APIErrors,
		m.BreakerState,
		m.BreakerTrips,
		m.RedisBuffered,
		m.CalibrationRuns,
		m.CalibrationWinRate,
	)

	return m
}
