// feedtap connects to the market data feed and prints parsed events to the
// console. It runs the connection manager alone, without stores or the REST
// API.
//
// Usage: go run ./cmd/feedtap --config configs/marketsync.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/logging"
	"github.com/rickgao/marketsync/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/marketsync.example.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional .env file loaded before the config")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	handler, err := logging.NewHandler(os.Stderr, "text", slog.LevelDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(handler)

	if err := config.LoadDotEnv(*envPath); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	connMgr := connection.NewManager(connection.ManagerConfig{
		Client: connection.ClientConfig{
			URL:               cfg.API.WSURL,
			Token:             cfg.API.Token,
			HandshakeTimeout:  cfg.Feed.HandshakeTimeout,
			HeartbeatInterval: cfg.Feed.HeartbeatInterval,
			KeepaliveMessage:  cfg.Feed.KeepaliveMessage,
			PingTimeout:       cfg.Feed.PingTimeout,
			WriteTimeout:      cfg.Feed.WriteTimeout,
			MaxMessageSize:    cfg.Feed.MaxMessageSize,
		},
		ReconnectBaseWait: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxDelay,
		ReconnectJitter:   0.2,
		MessageBufferSize: cfg.Feed.MessageBufferSize,
	}, logger)

	logger.Info("starting connection manager", "url", cfg.API.WSURL)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	var counts eventCounts
	go printEvents(ctx, connMgr.Messages(), *verbose, &counts, logger)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-connMgr.Reconnects():
				fmt.Printf("[RECONNECT] session=%s attempt=%d downtime=%s\n",
					ev.SessionID, ev.Attempt, ev.Downtime.Round(time.Millisecond))
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				logger.Info("stats",
					"state", connStats.State.String(),
					"session_id", connStats.SessionID,
					"reconnects", connStats.Reconnects,
					"relayed", connStats.MessagesRelayed,
					"dropped", connStats.MessagesDropped,
					"parsed", counts.parsed.Load(),
					"parse_errors", counts.errors.Load(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

type eventCounts struct {
	parsed atomic.Int64
	errors atomic.Int64
}

func printEvents(ctx context.Context, msgs <-chan connection.RawMessage, verbose bool, counts *eventCounts, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := router.Parse(raw.Data)
			if err != nil {
				counts.errors.Add(1)
				logger.Debug("unparsed frame", "error", err, "data", string(raw.Data))
				continue
			}
			counts.parsed.Add(1)

			if verbose {
				data, _ := json.MarshalIndent(ev, "", "  ")
				fmt.Printf("[%s] %s\n", ev.Type(), data)
				continue
			}
			fmt.Println(formatEvent(ev))
		}
	}
}

func formatEvent(ev router.Event) string {
	switch e := ev.(type) {
	case router.PriceEvent:
		return fmt.Sprintf("[PRICE] ticker=%s price=%s ts=%s",
			e.Tick.Ticker, e.Tick.Price, formatTime(e.Tick.Timestamp))
	case router.OrderbookEvent:
		return fmt.Sprintf("[ORDERBOOK] ticker=%s bids=%d asks=%d ts=%s",
			e.Snapshot.Ticker, len(e.Snapshot.Bids), len(e.Snapshot.Asks), formatTime(e.Snapshot.Timestamp))
	case router.OrderEvent:
		return fmt.Sprintf("[%s] ticker=%s user=%s order=%s side=%s price=%s qty=%s status=%s",
			e.Kind, e.Ticker, e.UserID, e.OrderID, e.Side, e.Price, e.Quantity, e.Status)
	case router.WalletEvent:
		return fmt.Sprintf("[WALLET] user=%s", e.UserID)
	case router.LiquidationEvent:
		return fmt.Sprintf("[LIQUIDATION] ticker=%s user=%s", e.Ticker, e.UserID)
	}
	return fmt.Sprintf("[%s]", ev.Type())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
