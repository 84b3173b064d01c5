// cmd/paperfeed serves a simulated BTC trade stream that speaks the Kraken
// v1 WebSocket protocol, so the bot can run offline:
//
//	paperfeed --addr :9001 &
//	KRAKEN_WS_URL=ws://localhost:9001/ws bot run
//
// It answers subscribe and ping requests, sends a heartbeat every second and
// broadcasts one trade per interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	pair := cmd.String("pair")
	interval := cmd.Duration("interval")
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	h := newHub()
	g := newGenerator(cmd.Float("price"), cmd.Float("vol"), cmd.Float("drift"), cmd.Int64("seed"))
	go runGenerator(h, g, pair, interval, ctx.Done())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, pair))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","service":"paperfeed","clients":%d}`+"\n", h.count())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[paperfeed] listening on %s (ws://localhost%s/ws), pair=%s interval=%s", addr, addr, pair, interval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cmd := &cli.Command{
		Name:  "paperfeed",
		Usage: "Simulated Kraken trade WebSocket for offline bot runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":9001", Usage: "listen address", Sources: cli.EnvVars("PAPERFEED_ADDR")},
			&cli.StringFlag{Name: "pair", Value: "XBT/USD", Usage: "pair name echoed in frames"},
			&cli.FloatFlag{Name: "price", Value: 60000, Usage: "starting price"},
			&cli.FloatFlag{Name: "vol", Value: 0.0002, Usage: "per-trade relative volatility"},
			&cli.FloatFlag{Name: "drift", Value: 0.0001, Usage: "per-trade drift during trend bursts"},
			&cli.DurationFlag{Name: "interval", Value: 200 * time.Millisecond, Usage: "time between trades"},
			&cli.Int64Flag{Name: "seed", Value: time.Now().UnixNano(), Usage: "random seed"},
		},
		Action: serve,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
