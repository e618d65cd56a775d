// Horus - a copy-trading dispatcher that mirrors a captain's trades onto a
// roster of client accounts across OKX, Binance and Bybit.
//
// Architecture:
//
//	main.go                 - entry point: loads config, wires the pipeline, waits for SIGINT/SIGTERM
//	brain/brain.go          - resolves intent signals into per-client, per-exchange demand
//	smartentry/engine.go    - splits risky demand into liquidity-aware waves
//	smartentry/liquidity.go - near-touch liquidity measurement and wave sizing math
//	fleet/executor.go       - fans packets out to parallel per-client market orders
//	soldier/soldier.go      - one client's execution wrapper over the gateway
//	gateway/                - signed REST facades for OKX, Binance and Bybit
//	eye/eye.go              - watches the captain's OKX fills over the private websocket
//	bus/bus.go              - Redis pub/sub channels linking the stages
//	registry/               - Mongo-backed client roster and captain settings
//	alert/alert.go          - settings-gated operator notifications
//	store/store.go          - JSON-lines journals of executions and waves
//
// Signal flow:
//
//	console / eye → brain → (normal) fleet
//	                      → (risky)  smart entry → waves → fleet
//
// Every stage communicates over the bus, so any of them can be restarted or
// run in a separate process without the others noticing.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"horus-core/internal/alert"
	"horus-core/internal/brain"
	"horus-core/internal/bus"
	"horus-core/internal/config"
	"horus-core/internal/eye"
	"horus-core/internal/fleet"
	"horus-core/internal/gateway"
	"horus-core/internal/registry"
	"horus-core/internal/smartentry"
	"horus-core/internal/soldier"
	"horus-core/internal/store"
	"horus-core/pkg/types"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HORUS_CONFIG"); p != "" {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Infrastructure
	b, err := bus.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	reg, err := registry.NewMongo(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		os.Exit(1)
	}

	journal, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open journals", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	// Pipeline stages
	gw := gateway.New(gateway.Config{
		OKXBaseURL:     cfg.Exchanges.OKXBaseURL,
		BinanceBaseURL: cfg.Exchanges.BinanceBaseURL,
		BybitBaseURL:   cfg.Exchanges.BybitBaseURL,
	}, logger)
	notifier := alert.NewNotifier(b, reg, cfg.Captain.ID, logger)

	br := brain.New(b, reg, cfg.Captain.ID, logger)

	books := smartentry.NewRESTBooks(smartentry.BooksConfig{
		OKXBaseURL:     cfg.Exchanges.OKXBaseURL,
		BinanceBaseURL: cfg.Exchanges.BinanceBaseURL,
		BybitBaseURL:   cfg.Exchanges.BybitBaseURL,
		Timeout:        cfg.SmartEntry.BookTimeout,
	})
	engine := smartentry.New(b, books, notifier, journal, smartentry.Config{
		BookDepth: cfg.SmartEntry.BookDepth,
		WaveDelay: cfg.SmartEntry.WaveDelay,
	}, logger)

	executor := fleet.New(b, reg,
		func(client types.Client) (soldier.Soldier, error) { return soldier.New(gw, client) },
		journal, notifier, fleet.Config{MaxConcurrent: int64(cfg.Fleet.MaxConcurrent)}, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("stage exited", "stage", name, "error", err)
				cancel()
			}
		}()
	}

	run("brain", br.Run)
	run("smart_entry", engine.Run)
	run("fleet", executor.Run)

	if cfg.Eye.Enabled {
		watcher := eye.New(eye.Config{
			URL: cfg.Exchanges.OKXWSURL,
			Credentials: types.Credentials{
				APIKey:     os.Getenv("OKX_API_KEY"),
				Secret:     os.Getenv("OKX_API_SECRET"),
				Passphrase: os.Getenv("OKX_API_PASSPHRASE"),
			},
			ReconnectBackoff: cfg.Eye.ReconnectBackoff,
			ReadTimeout:      cfg.Eye.ReadTimeout,
		}, b, logger)
		run("eye", watcher.Run)
	}

	logger.Info("horus dispatcher started",
		"captain", cfg.Captain.ID,
		"eye", cfg.Eye.Enabled,
		"max_concurrent", cfg.Fleet.MaxConcurrent,
		"wave_delay", cfg.SmartEntry.WaveDelay,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
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
