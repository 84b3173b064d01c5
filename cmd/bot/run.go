package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"momentum-botv1/config"
	"momentum-botv1/internal/bot"
	"momentum-botv1/internal/breaker"
	"momentum-botv1/internal/calibration"
	"momentum-botv1/internal/execution"
	"momentum-botv1/internal/gateway"
	"momentum-botv1/internal/kalshi"
	"momentum-botv1/internal/ledger"
	"momentum-botv1/internal/logger"
	"momentum-botv1/internal/marketdata/agg"
	"momentum-botv1/internal/marketdata/binance"
	"momentum-botv1/internal/marketdata/bus"
	"momentum-botv1/internal/marketdata/warmup"
	"momentum-botv1/internal/marketdata/ws"
	"momentum-botv1/internal/metrics"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/notification"
	"momentum-botv1/internal/portfolio"
	redisstore "momentum-botv1/internal/store/redis"
	sqlitestore "momentum-botv1/internal/store/sqlite"
	"momentum-botv1/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("starting", "series", cfg.Series, "bankroll", cfg.Risk.Bankroll, "metrics", cfg.MetricsAddr)

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.Loop.StaleAfter)

	// ---- Persistence ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("sqlite dir: %w", err)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("sqlite init: %w", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnError = func(error) { prom.PersistFailures.Inc() }

	candleReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("sqlite reader: %w", err)
	}
	defer candleReader.Close()

	journal := sqlitestore.NewJournal(sqlWriter.DB())

	// ---- Redis (optional) ----
	var (
		redisWriter *redisstore.Writer
		publisher   *redisstore.Publisher
		calCache    calibration.Cache
		rdb         *goredis.Client
	)
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Warn("redis unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer redisWriter.Close()
			rdb = redisWriter.Client()
			publisher = redisstore.NewPublisher(ctx, redisWriter, newBreaker("redis", prom), 10000)
			publisher.OnBuffer = func() { prom.RedisBuffered.Inc() }
			publisher.OnFlush = func(n int) { log.Printf("[redis] flushed %d buffered writes", n) }
			calCache = redisstore.NewCache(redisWriter, cfg.Calibration.CacheTTL)
		}
	}

	// ---- Ledger ----
	book := ledger.New(cfg.Ledger(), ledger.NewFileStore(cfg.StatePath), journal)
	book.OnPersistError = func(error) { prom.PersistFailures.Inc() }
	if err := book.Load(); err != nil {
		return err
	}

	// ---- Exchange adapters ----
	exchange := kalshi.New(kalshi.Config{BaseURL: cfg.KalshiBaseURL}, newBreaker("kalshi", prom))
	exchange.OnError = func(op string, err error) {
		prom.APIErrors.WithLabelValues("kalshi", op).Inc()
	}

	gate := execution.NewGate(execution.Config{
		Series:         cfg.Series,
		MinTimeToClose: cfg.Loop.MinTimeToClose,
		MaxTimeToClose: cfg.Loop.MaxTimeToClose,
		Limits:         cfg.RiskLimits(),
		Sizer:          cfg.Sizer(),
	}, exchange, book)
	gate.RestoreCooldown(lastOpened(book.Snapshot().Positions))

	// ---- Feed ----
	feed, err := ws.New(ws.Config{URL: cfg.KrakenWSURL})
	if err != nil {
		return fmt.Errorf("ws init: %w", err)
	}
	tradeCh := make(chan model.Trade, 10000)
	feed.OnReconnect = func() { prom.WSReconnects.Inc() }
	feed.OnTrade = func(model.Trade) { prom.TradesTotal.Inc() }
	feed.OnDrop = func() { prom.DroppedTrades.WithLabelValues("channel_full").Inc() }
	health.SetFeed(feed.Staleness, feed.Connected)

	aggregator := agg.New(time.Minute)
	aggregator.OnDroppedTrade = func() { prom.DroppedTrades.WithLabelValues("late").Inc() }
	aggregator.OnClosedCandle = func(model.Candle) { prom.CandlesTotal.Inc() }

	candleCh := make(chan model.Candle, 256)
	fanout := bus.New(256)
	fanout.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	botCandles := fanout.Subscribe("bot")
	storeCandles := fanout.Subscribe("sqlite")
	var redisCandles <-chan model.Candle
	if publisher != nil {
		redisCandles = fanout.Subscribe("redis")
	}

	stream := gateway.NewHub(500)
	stream.OnDrop = func() { prom.FanoutDropsTotal.WithLabelValues("ws").Inc() }
	streamCandles := fanout.Subscribe("gateway")
	publishers := model.Publishers{stream}
	if publisher != nil {
		publishers = append(publishers, publisher)
	}

	// ---- Strategy ----
	engine := strategy.NewEngine()
	refresher := calibration.NewRefresher(cfg.CalibrationConfig(), engine.Rules(), calCache,
		binance.New(binance.Config{BaseURL: cfg.BinanceBaseURL, Symbol: cfg.BinanceSymbol}),
		candleReader,
	)
	refresher.OnRefresh = func(res calibration.Result) {
		prom.CalibrationRuns.WithLabelValues("ok").Inc()
		for rule, rate := range res.Table {
			prom.CalibrationWinRate.WithLabelValues(rule).Set(rate)
		}
	}
	refresher.OnError = func(error) { prom.CalibrationRuns.WithLabelValues("error").Inc() }

	// ---- Alerts + narrative log ----
	dispatcher := notification.NewDispatcher(notifiers(cfg), 64)
	events, err := logger.NewEventLog(cfg.EventLogPath)
	if err != nil {
		return err
	}
	defer events.Close()

	deps := bot.Deps{
		Feed:        feed,
		Forming:     aggregator,
		Closed:      botCandles,
		Engine:      engine,
		Calibration: refresher,
		Boost:       cfg.HourBoost(),
		Gate:        gate,
		Ledger:      book,
		Resolver:    exchange,
		Tracker:     portfolio.NewPnLTracker(time.Now()),
		Metrics:     prom,
		Publisher:   publishers,
		Alerts:      dispatcher,
		Events:      events,
	}
	loop := bot.New(bot.Config{
		Tick:           cfg.Loop.Tick,
		ScanEvery:      cfg.Loop.ScanEvery,
		HeartbeatEvery: cfg.Loop.HeartbeatEvery,
		StatsEvery:     cfg.Loop.StatsEvery,
		StaleAfter:     cfg.Loop.StaleAfter,
		ReconnectPause: cfg.Loop.ReconnectPause,
		PanicPause:     cfg.Loop.PanicPause,
		HistorySize:    cfg.Loop.HistorySize,
	}, deps)

	seeded := loop.Seed(warmupCandles(ctx, cfg, sqlWriter, candleReader))
	slog.Info("history warmed", "candles", seeded)
	events.Info("startup",
		"series", cfg.Series,
		"bankroll", book.Balance().StringFixed(2),
		"open", book.OpenCount(),
		"favorable_hours", cfg.HourBoost().Hours.String(),
		"history", seeded)

	srv := metrics.NewServer(cfg.MetricsAddr, prom, health, loop.Status)
	srv.Handle("/ws", stream)

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx, tradeCh) })
	g.Go(func() error { aggregator.Run(gctx, tradeCh, candleCh); return nil })
	g.Go(func() error { fanout.Run(gctx, candleCh); return nil })
	g.Go(func() error { sqlWriter.Run(gctx, storeCandles); return nil })
	if publisher != nil {
		g.Go(func() error { publisher.Run(gctx, redisCandles); return nil })
	}
	g.Go(func() error { stream.Run(gctx, streamCandles); return nil })
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { health.RunLivenessChecker(gctx, rdb, sqlWriter.DB(), 10*time.Second); return nil })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })

	err = g.Wait()
	slog.Info("stopped", "balance", book.Balance().StringFixed(2), "open", book.OpenCount())
	return err
}

// newBreaker builds a breaker that reports its state to Prometheus.
func newBreaker(name string, prom *metrics.Metrics) *breaker.Breaker {
	b := breaker.New(name, 5, 30*time.Second)
	prom.BreakerState.WithLabelValues(name).Set(float64(breaker.StateClosed))
	b.OnStateChange = func(name string, from, to breaker.State) {
		log.Printf("[breaker] %s: %s -> %s", name, from, to)
		prom.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			prom.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
	return b
}

// warmupCandles seeds the history from Kraken OHLC. The fetched candles are
// also stored so the SQLite calibration fallback grows between runs. When
// Kraken is unreachable the last two hours of stored candles are used.
func warmupCandles(ctx context.Context, cfg *config.Config, w *sqlitestore.Writer, r *sqlitestore.Reader) []model.Candle {
	cs, err := warmup.New(warmup.Config{BaseURL: cfg.KrakenRESTURL}).Fetch(ctx)
	if err == nil {
		if err := w.WriteCandles(ctx, cs); err != nil {
			slog.Warn("storing warm-up candles failed", "error", err)
		}
		return cs
	}
	slog.Warn("kraken warm-up failed, falling back to stored candles", "error", err)

	cs, err = r.ReadCandles(ctx, time.Now().Add(-2*time.Hour))
	if err != nil {
		slog.Warn("stored warm-up failed, starting cold", "error", err)
		return nil
	}
	return cs
}

func lastOpened(ps []model.Position) time.Time {
	var t time.Time
	for _, p := range ps {
		if p.OpenedAt.After(t) {
			t = p.OpenedAt
		}
	}
	return t
}

func notifiers(cfg *config.Config) notification.Notifier {
	ns := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	return ns
}
