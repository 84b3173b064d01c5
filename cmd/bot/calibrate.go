package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"momentum-botv1/internal/calibration"
	"momentum-botv1/internal/marketdata/binance"
	redisstore "momentum-botv1/internal/store/redis"
	sqlitestore "momentum-botv1/internal/store/sqlite"
	"momentum-botv1/internal/strategy"

	"github.com/urfave/cli/v3"
)

func calibrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sources := []calibration.Source{
		binance.New(binance.Config{BaseURL: cfg.BinanceBaseURL, Symbol: cfg.BinanceSymbol}),
	}
	if _, err := os.Stat(cfg.SQLitePath); err == nil {
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite reader: %w", err)
		}
		defer r.Close()
		sources = append(sources, r)
	}

	var cache calibration.Cache
	if cmd.Bool("save") {
		if cfg.RedisAddr == "" {
			return errors.New("--save needs REDIS_ADDR")
		}
		w, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer w.Close()
		cache = redisstore.NewCache(w, cfg.Calibration.CacheTTL)
	}

	r := calibration.NewRefresher(cfg.CalibrationConfig(), strategy.DefaultRules(), cache, sources...)
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Result())
}
