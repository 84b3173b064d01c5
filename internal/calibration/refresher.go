package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"momentum-botv1/internal/model"
	"momentum-botv1/internal/strategy"
)

// ErrNoData is returned when no source produced enough candles.
var ErrNoData = errors.New("calibration: no source returned enough candles")

// Source supplies historical closed candles, oldest first.
type Source interface {
	Name() string
	Candles(ctx context.Context, since, until time.Time) ([]model.Candle, error)
}

// Cache stores the latest Result between process restarts.
type Cache interface {
	LoadCalibration(ctx context.Context) (Result, bool, error)
	SaveCalibration(ctx context.Context, res Result) error
}

// Config controls the refresh job.
type Config struct {
	Window       time.Duration // history length, e.g. 14 days
	Horizon      int           // candles ahead used as the outcome
	Interval     time.Duration // time between refreshes
	FetchTimeout time.Duration // upper bound for one source fetch
	MinRows      int           // candles a source must return to be accepted
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 14 * 24 * time.Hour
	}
	if c.Horizon <= 0 {
		c.Horizon = 15
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Minute
	}
	if c.MinRows <= 0 {
		c.MinRows = 500
	}
}

// Refresher recomputes the calibration table on a schedule, off the decision
// loop. Readers call Table, which never blocks.
type Refresher struct {
	cfg     Config
	rules   []strategy.Rule
	sources []Source
	cache   Cache
	cur     atomic.Pointer[Result]
	now     func() time.Time

	// Hooks (optional, set externally)
	OnRefresh func(Result)
	OnError   func(error)
}

// NewRefresher creates a Refresher starting from the rules' default rates.
// cache may be nil.
func NewRefresher(cfg Config, rules []strategy.Rule, cache Cache, sources ...Source) *Refresher {
	cfg.defaults()
	r := &Refresher{
		cfg:     cfg,
		rules:   rules,
		sources: sources,
		cache:   cache,
		now:     time.Now,
	}
	r.cur.Store(&Result{Table: strategy.Defaults(rules), Source: "defaults"})
	return r
}

// Table returns the current calibration table.
func (r *Refresher) Table() strategy.Table {
	return r.cur.Load().Table
}

// Result returns the current calibration pass.
func (r *Refresher) Result() Result {
	return *r.cur.Load()
}

// Warm loads a cached result if it is younger than the refresh interval.
// Returns true when a fresh cached table was installed.
func (r *Refresher) Warm(ctx context.Context) bool {
	if r.cache == nil {
		return false
	}
	res, ok, err := r.cache.LoadCalibration(ctx)
	if err != nil {
		log.Printf("[calibration] cache load failed: %v", err)
		return false
	}
	if !ok || r.now().Sub(res.ComputedAt) > r.cfg.Interval || len(res.Table) == 0 {
		return false
	}
	r.cur.Store(&res)
	log.Printf("[calibration] loaded cached table from %s (computed %s)", res.Source, res.ComputedAt.Format(time.RFC3339))
	return true
}

// Refresh fetches history from the first source that delivers enough
// candles and swaps in the new table. On failure the previous table stays.
func (r *Refresher) Refresh(ctx context.Context) error {
	until := r.now().UTC()
	since := until.Add(-r.cfg.Window)

	var errs []error
	for _, src := range r.sources {
		fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		cs, err := src.Candles(fctx, since, until)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(cs) < r.cfg.MinRows {
			errs = append(errs, fmt.Errorf("%s: only %d candles", src.Name(), len(cs)))
			continue
		}

		res := Calibrate(cs, r.rules, r.cfg.Horizon)
		res.Source = src.Name()
		res.ComputedAt = r.now().UTC()
		r.cur.Store(&res)

		log.Printf("[calibration] %d rows from %s: %v (samples %v)", res.Rows, res.Source, res.Table, res.Samples)
		if r.cache != nil {
			if err := r.cache.SaveCalibration(ctx, res); err != nil {
				log.Printf("[calibration] cache save failed: %v", err)
			}
		}
		if r.OnRefresh != nil {
			r.OnRefresh(res)
		}
		return nil
	}

	err := errors.Join(append([]error{ErrNoData}, errs...)...)
	if r.OnError != nil {
		r.OnError(err)
	}
	return err
}

// Run refreshes immediately (unless a fresh cached table exists) and then
// every Interval. Blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if !r.Warm(ctx) {
		if err := r.Refresh(ctx); err != nil {
			log.Printf("[calibration] initial refresh failed, using %s: %v", r.Result().Source, err)
		}
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Printf("[calibration] refresh failed: %v", err)
			}
		}
	}
}
