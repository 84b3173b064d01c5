// cmd/bot runs the KXBTC15M paper trading bot.
//
// Commands:
//
//	bot run        stream Kraken trades, evaluate signals, paper trade Kalshi
//	bot calibrate  run one calibration pass and print the win-rate table
//
// Configuration is read from .env, the environment and an optional YAML
// overlay named by BOT_CONFIG (see config.Load).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"momentum-botv1/config"
	"momentum-botv1/internal/logger"

	"github.com/urfave/cli/v3"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cmd := &cli.Command{
		Name:  "bot",
		Usage: "BTC momentum paper bot for Kalshi 15-minute markets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML overlay applied after environment variables",
				Sources: cli.EnvVars("BOT_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override LOG_LEVEL (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the live decision loop",
				Action: runAction,
			},
			{
				Name:  "calibrate",
				Usage: "fetch history once and print the calibrated win rates",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "save",
						Usage: "store the result in the Redis calibration cache",
					},
				},
				Action: calibrateAction,
			},
		},
		DefaultCommand: "run",
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("bot exited", "error", err)
		os.Exit(1)
	}
}

// loadConfig applies the global flags and initialises logging.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String("config"); path != "" {
		os.Setenv("BOT_CONFIG", path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger.Init("kxbtc-bot", logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}
