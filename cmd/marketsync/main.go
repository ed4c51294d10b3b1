// marketsync runs the sync engine: it keeps prices, order books, candle
// series and the session user's orders and portfolio current, and serves
// health and debug endpoints.
//
// Usage: go run ./cmd/marketsync --config configs/marketsync.example.yaml --watch BTC-USD@1m
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/engine"
	"github.com/rickgao/marketsync/internal/logging"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/prefs"
	"github.com/rickgao/marketsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketsync.example.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional .env file loaded before the config")
	profile := flag.String("profile", "default", "preferences profile name")
	watch := flag.String("watch", "", "comma-separated TICKER@INTERVAL series to watch")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting marketsync",
		"version", version.String(),
		"config", *configPath,
	)

	watches, err := parseWatches(*watch)
	if err != nil {
		logger.Error("invalid --watch", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	prefsStore, err := openPrefs(ctx, cfg, *profile, logger)
	if err != nil {
		logger.Error("failed to open preferences store", "error", err)
		os.Exit(1)
	}
	defer prefsStore.Close()

	eng, err := engine.New(cfg, prefsStore, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Start health server
	var healthServer *http.Server
	if cfg.Health.Port > 0 {
		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(eng),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	for _, w := range watches {
		if _, err := eng.Watch(ctx, w.Ticker, w.Interval, ""); err != nil {
			logger.Warn("failed to watch series", "ticker", w.Ticker, "interval", w.Interval, "error", err)
		}
	}

	go logNotifications(ctx, eng, logger)

	logger.Info("marketsync running")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}

	logger.Info("marketsync stopped")
}

// openPrefs picks the preferences backend: PostgreSQL, then Redis, then
// memory.
func openPrefs(ctx context.Context, cfg *config.Config, profile string, logger *slog.Logger) (prefs.Store, error) {
	if rc := cfg.Database.Redis; !cfg.Database.Enabled() && rc.Enabled() {
		logger.Info("connecting to redis", "addr", rc.Addr, "db", rc.DB)
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		store, err := prefs.NewRedisStore(ctx, client, profile, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	}
	if !cfg.Database.Enabled() {
		logger.Info("no database configured, preferences kept in memory")
		return prefs.NewMemoryStore(), nil
	}

	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	store, err := prefs.NewPGStore(ctx, pool, profile, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// parseWatches parses "A@1m,B@1h".
func parseWatches(s string) ([]prefs.Watch, error) {
	var out []prefs.Watch
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ticker, interval, ok := strings.Cut(part, "@")
		if !ok || ticker == "" {
			return nil, fmt.Errorf("expected TICKER@INTERVAL, got %q", part)
		}
		iv := model.Interval(interval)
		if !iv.Valid() {
			return nil, fmt.Errorf("unknown interval %q", interval)
		}
		out = append(out, prefs.Watch{Ticker: model.TickerKey(ticker), Interval: iv})
	}
	return out, nil
}

// logNotifications logs user-facing events until ctx is done.
func logNotifications(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	buf := eng.Notifications()
	for {
		n, ok := buf.Receive(ctx)
		if !ok {
			return
		}
		logger.Info("notification",
			"type", n.Type,
			"ticker", n.Ticker,
			"user_id", n.UserID,
		)
	}
}
