// Equity Router — an automated order routing service bridging strategy
// signal files and a broker order gateway.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: schedule, event dispatch, callback correlation
//	observer/observer.go     — watches signal and broker callback files, emits typed events
//	risk/manager.go          — validation chain: strategy, trade hours, contracts, dividends, limits
//	ordermanager/manager.go  — offsets opposing signals, splits buys, writes broker order logs
//	exithandler/handler.go   — evaluates exit rules (holding period, take-profit, stop-loss, pullback)
//	refdata/                 — freshness-checked caches over the SQL reference tables
//	store/postgres.go        — Postgres persistence for signals, orders, trades, positions
//
// Signals arrive as appended lines in per-strategy log files. The service
// validates each one, nets opposing interest per code, and emits broker
// orders as lines in a directory tree the broker gateway watches. Broker
// acknowledgements and fills come back the same way and are correlated so
// every trade is stored under the strategy that caused it.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"equity-router/internal/config"
	"equity-router/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ROUTER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.Warn("DEBUG MODE — schedule gates bypassed")
	}

	logger.Info("equity router started",
		"base_path", cfg.Observer.BasePath,
		"sync_interval", cfg.Engine.SyncInterval,
		"snapshot_interval", cfg.Engine.SnapshotInterval,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
