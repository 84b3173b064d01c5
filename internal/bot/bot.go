// Package bot runs the decision loop: it promotes closed candles into the
// indicator history, evaluates the forming candle once per tick, drives the
// execution gate and settles due positions on a slower cadence.
//
// Everything here runs on one goroutine. The only shared state it reads is
// the aggregator's current candle (copied under its lock), the calibration
// table (atomic swap) and the feed's staleness clock.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"momentum-botv1/internal/execution"
	"momentum-botv1/internal/indicator"
	"momentum-botv1/internal/ledger"
	"momentum-botv1/internal/logger"
	"momentum-botv1/internal/metrics"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/portfolio"
	"momentum-botv1/internal/strategy"
)

// Feed is the supervised trade stream.
type Feed interface {
	Staleness(now time.Time) time.Duration
	Connected() bool
	ForceReconnect()
}

// Forming exposes the in-progress candle; *agg.Aggregator implements it.
type Forming interface {
	Current() (model.Candle, bool)
}

// Calibration supplies the current win-rate table.
type Calibration interface {
	Table() strategy.Table
}

// Alerter receives position events; *notification.Dispatcher implements it.
type Alerter interface {
	Opened(p model.Position)
	Settled(s model.Settlement)
}

// Config holds loop cadences.
type Config struct {
	Tick           time.Duration // decision cadence
	ScanEvery      time.Duration // market scan + settlement
	HeartbeatEvery time.Duration // narrative price/RSI line
	StatsEvery     time.Duration // session summary
	StaleAfter     time.Duration // feed silence that forces a reconnect
	ReconnectPause time.Duration // pause after a forced reconnect
	PanicPause     time.Duration // pause after a recovered panic
	HistorySize    int           // closed candles retained
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.ScanEvery <= 0 {
		c.ScanEvery = 15 * time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = time.Minute
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Second
	}
	if c.ReconnectPause <= 0 {
		c.ReconnectPause = 3 * time.Second
	}
	if c.PanicPause <= 0 {
		c.PanicPause = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 120
	}
}

// Deps are the collaborators of the loop. Publisher, Alerts and Events may be nil.
type Deps struct {
	Feed        Feed
	Forming     Forming
	Closed      <-chan model.Candle
	Engine      *strategy.Engine
	Calibration Calibration
	Boost       strategy.HourBoost
	Gate        *execution.Gate
	Ledger      *ledger.Ledger
	Resolver    ledger.Resolver
	Tracker     *portfolio.PnLTracker
	Metrics     *metrics.Metrics
	Publisher   model.EventPublisher
	Alerts      Alerter
	Events      *logger.EventLog
}

// view is the last evaluated state, published for /status.
type view struct {
	at       time.Time
	history  int
	candle   model.Candle
	features map[string]float64
	signal   *model.Signal
	decision *execution.Decision
}

// Bot is the decision loop.
type Bot struct {
	cfg    Config
	d      Deps
	stream *indicator.Stream
	now    func() time.Time

	lastScan      time.Time
	lastHeartbeat time.Time
	lastStats     time.Time
	lastSkip      string

	mu   sync.RWMutex
	seen view
}

// New creates a Bot.
func New(cfg Config, d Deps) *Bot {
	cfg.defaults()
	if d.Events == nil {
		d.Events, _ = logger.NewEventLog("")
	}
	if d.Tracker == nil {
		d.Tracker = portfolio.NewPnLTracker(time.Now())
	}
	return &Bot{
		cfg:    cfg,
		d:      d,
		stream: indicator.NewStream(cfg.HistorySize),
		now:    time.Now,
	}
}

// Seed promotes warm-up candles into the history. Candles not newer than
// the last retained one are skipped.
func (b *Bot) Seed(cs []model.Candle) int {
	n := 0
	for _, c := range cs {
		if b.promote(c) {
			n++
		}
	}
	return n
}

// HistoryLen returns the number of closed candles retained.
func (b *Bot) HistoryLen() int { return b.stream.Len() }

func (b *Bot) promote(c model.Candle) bool {
	if !c.Closed {
		return false
	}
	if last, ok := b.stream.Last(); ok && !c.TS.After(last.TS) {
		return false
	}
	b.stream.Update(c)
	return true
}

// Run ticks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	start := b.now()
	b.d.Events.Info("bot started",
		"history", b.stream.Len(),
		"bankroll", b.d.Ledger.Balance().StringFixed(2),
		"open", b.d.Ledger.OpenCount())
	slog.Info("decision loop started", "tick", b.cfg.Tick.String(), "history", b.stream.Len())
	b.lastHeartbeat, b.lastStats = start, start

	ticker := time.NewTicker(b.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.d.Ledger.Flush()
			b.logStats()
			b.d.Events.Info("bot stopped")
			return nil
		case <-ticker.C:
		}

		pause := b.safeCycle(ctx)
		if pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
}

// safeCycle runs one cycle and converts a panic into a pause.
func (b *Bot) safeCycle(ctx context.Context) (pause time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			b.d.Metrics.LoopPanics.Inc()
			slog.Error("decision cycle panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			b.d.Events.Error("loop error", "error", fmt.Sprint(r))
			pause = b.cfg.PanicPause
		}
	}()
	return b.Cycle(ctx, b.now())
}

// Cycle performs one decision pass at now and returns how long the loop
// should pause before the next one.
func (b *Bot) Cycle(ctx context.Context, now time.Time) time.Duration {
	started := time.Now()
	defer func() { b.d.Metrics.CycleDuration.Observe(time.Since(started).Seconds()) }()

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("cyc", now))
	b.drain()

	stale := b.d.Feed.Staleness(now)
	b.d.Metrics.FeedStaleness.Set(stale.Seconds())
	if stale > b.cfg.StaleAfter {
		slog.Warn("feed stale, forcing reconnect",
			append(logger.LogWithTrace(ctx), "staleness", stale.Round(time.Second).String())...)
		b.d.Events.Warn("feed stale, reconnecting", "silent_for", stale.Round(time.Second).String())
		b.d.Feed.ForceReconnect()
		return b.cfg.ReconnectPause
	}

	if now.Sub(b.lastScan) >= b.cfg.ScanEvery {
		b.lastScan = now
		b.scan(ctx, now)
	}

	cur, ok := b.d.Forming.Current()
	if ok {
		b.evaluate(ctx, now, cur)
	}

	if now.Sub(b.lastHeartbeat) >= b.cfg.HeartbeatEvery {
		b.lastHeartbeat = now
		b.heartbeat()
	}
	if now.Sub(b.lastStats) >= b.cfg.StatsEvery {
		b.lastStats = now
		b.logStats()
	}

	b.d.Metrics.OpenPositions.Set(float64(b.d.Ledger.OpenCount()))
	b.d.Metrics.Bankroll.Set(b.d.Ledger.Balance().InexactFloat64())
	return 0
}

// drain promotes every closed candle waiting on the channel.
func (b *Bot) drain() {
	for {
		select {
		case c, ok := <-b.d.Closed:
			if !ok {
				return
			}
			b.promote(c)
		default:
			return
		}
	}
}

func (b *Bot) scan(ctx context.Context, now time.Time) {
	if err := b.d.Gate.Scan(ctx); err != nil {
		slog.Warn("market scan failed", append(logger.LogWithTrace(ctx), "error", err)...)
	}

	for _, s := range b.d.Ledger.Settle(ctx, now, b.d.Resolver) {
		outcome := "loss"
		if s.Won {
			outcome = "win"
		}
		b.d.Tracker.RecordSettlement(s)
		b.d.Metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
		b.d.Events.Info("settled",
			"ticker", s.Position.Ticker,
			"direction", s.Position.Direction,
			"outcome", s.Outcome,
			"result", outcome,
			"pnl", s.Profit.StringFixed(2),
			"bankroll", b.d.Ledger.Balance().StringFixed(2))
		if b.d.Publisher != nil {
			b.d.Publisher.PublishSettled(ctx, s)
		}
		if b.d.Alerts != nil {
			b.d.Alerts.Settled(s)
		}
	}
}

func (b *Bot) evaluate(ctx context.Context, now time.Time, cur model.Candle) {
	if last, ok := b.stream.Last(); ok && !cur.TS.After(last.TS) {
		return
	}
	f := b.stream.Peek(cur)
	b.d.Metrics.LastPrice.Set(f.Close)
	b.d.Metrics.RSI.Set(f.RSI)

	v := view{at: now, history: b.stream.Len(), candle: cur, features: f.Map()}
	defer func() {
		b.mu.Lock()
		b.seen = v
		b.mu.Unlock()
	}()

	sig, ok := b.d.Engine.Evaluate(f, b.d.Calibration.Table())
	if !ok {
		return
	}
	sig = b.d.Boost.Apply(sig, now)
	v.signal = &sig

	b.d.Tracker.RecordSignal()
	b.d.Metrics.SignalsTotal.WithLabelValues(sig.Rule).Inc()

	d := b.d.Gate.Evaluate(ctx, sig, now)
	v.decision = &d
	if !d.Taken {
		b.skipped(ctx, sig, d, cur.TS)
		return
	}

	p := d.Position
	b.d.Tracker.RecordTaken()
	b.d.Metrics.PositionsOpened.Inc()
	slog.Info("position opened", append(logger.LogWithTrace(ctx),
		"id", p.ID, "ticker", p.Ticker, "direction", p.Direction, "signal", p.Signal,
		"win_rate", round(sig.WinRate, 3), "price", p.EntryPrice.StringFixed(2),
		"ev", round(d.EV, 3), "contracts", p.Contracts)...)
	b.d.Events.Info("opened",
		"ticker", p.Ticker,
		"direction", p.Direction,
		"signal", p.Signal,
		"win_rate", fmt.Sprintf("%.1f%%", sig.WinRate*100),
		"price", p.EntryPrice.StringFixed(2),
		"contracts", p.Contracts,
		"cost", p.Cost().StringFixed(2),
		"bankroll", b.d.Ledger.Balance().StringFixed(2))
	if b.d.Publisher != nil {
		b.d.Publisher.PublishOpened(ctx, p)
	}
	if b.d.Alerts != nil {
		b.d.Alerts.Opened(p)
	}
}

// skipped records a rejection. The narrative line is written once per
// rule, reason and candle so a persisting signal does not flood the log.
func (b *Bot) skipped(ctx context.Context, sig model.Signal, d execution.Decision, bucket time.Time) {
	reason := string(d.Reason)
	b.d.Tracker.RecordSkip(reason)
	b.d.Metrics.RejectionsTotal.WithLabelValues(reason).Inc()

	key := sig.Rule + "|" + reason + "|" + bucket.Format(time.RFC3339)
	if key == b.lastSkip {
		return
	}
	b.lastSkip = key
	slog.Debug("signal skipped", append(logger.LogWithTrace(ctx),
		"signal", sig.Name, "reason", reason, "detail", d.Detail)...)
	attrs := []any{"signal", sig.Name, "direction", sig.Direction, "reason", reason}
	if d.Market.Ticker != "" {
		attrs = append(attrs, "ticker", d.Market.Ticker)
	}
	if !d.Price.IsZero() {
		attrs = append(attrs, "price", d.Price.StringFixed(2), "ev", round(d.EV, 3))
	}
	b.d.Events.Info("skip", attrs...)
}

func (b *Bot) heartbeat() {
	b.mu.RLock()
	v := b.seen
	b.mu.RUnlock()
	if v.at.IsZero() {
		b.d.Events.Info("heartbeat", "status", "waiting for trades", "history", b.stream.Len())
		return
	}
	b.d.Events.Info("heartbeat",
		"btc", v.candle.Close.StringFixed(2),
		"rsi", round(v.features[indicator.NameRSI14], 1),
		"bankroll", b.d.Ledger.Balance().StringFixed(2),
		"open", b.d.Ledger.OpenCount())
}

func (b *Bot) logStats() {
	s := b.d.Tracker.Snapshot()
	slog.Info("session stats",
		"uptime", time.Since(s.Started).Round(time.Second).String(),
		"signals", s.SignalsSeen,
		"taken", s.SignalsTaken,
		"skipped", s.Skipped,
		"settled", s.Settled,
		"win_rate", round(s.WinRate(), 3),
		"pnl", s.RealizedPnL.StringFixed(2))
	b.d.Events.Info("stats",
		"signals", s.SignalsSeen,
		"taken", s.SignalsTaken,
		"wins", s.Wins,
		"losses", s.Losses,
		"pnl", s.RealizedPnL.StringFixed(2),
		"bankroll", b.d.Ledger.Balance().StringFixed(2))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
