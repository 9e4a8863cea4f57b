// mmbot runs one autonomous perpetual-futures market maker for a single
// (exchange, symbol), self-tuning its strategy parameters through a
// periodic LLM reflection loop.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires collaborators, waits for SIGINT/SIGTERM
//	internal/executor       — orchestrator: tick driver, market-data consumer, fill consumer, reflection loop
//	internal/kernel         — pure strategy decision function (Features+Params+State -> Intents)
//	internal/quote          — half-spread/skew pricing formulas feeding the kernel's quote intents
//	internal/feature        — rolling-window feature calculation (volatility, imbalance, mark/index divergence)
//	internal/adapter        — WebSocket market-data feed + REST trading client + stale-data watchdog
//	internal/store          — SQLite persistence for market data, fills, params, proposals, audit trail
//	internal/enrich         — post-fill markout grading and window aggregation
//	internal/llm            — reflector client, proposal shape validation, reasoning-log audit trail
//	internal/params         — boundary-gated proposal applier
//	internal/dashboard      — read-only HTTP/WebSocket status endpoint
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mmbot/internal/adapter"
	"mmbot/internal/config"
	"mmbot/internal/dashboard"
	"mmbot/internal/domain"
	"mmbot/internal/executor"
	"mmbot/internal/llm"
	"mmbot/internal/store"
	"mmbot/internal/telemetry"
)

// defaultParams seeds a fresh store with conservative starting values for
// the ten tunable parameters, before any LLM proposal has ever been applied.
func defaultParams() domain.StrategyParams {
	return domain.StrategyParams{
		ParamsSetID:       "seed",
		BaseHalfSpreadBps: 5,
		VolSpreadGain:     1,
		ToxSpreadGain:     2,
		QuoteSizeUsd:      100,
		RefreshIntervalMs: 1000,
		StaleCancelMs:     3000,
		MaxInventory:      1,
		InventorySkewGain: 10,
		PauseMarkIndexBps: 50,
		PauseLiqCount10s:  3,
	}
}

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MMBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if _, err := st.CurrentParams(cfg.Exchange, cfg.Symbol); err != nil {
		logger.Info("seeding default strategy params", "exchange", cfg.Exchange, "symbol", cfg.Symbol)
		if err := st.SeedParams(cfg.Exchange, cfg.Symbol, defaultParams()); err != nil {
			logger.Error("failed to seed strategy params", "error", err)
			os.Exit(1)
		}
	}

	feed := adapter.NewFeed(cfg.Adapter.WSMarketURL, cfg.Exchange, cfg.Symbol, logger)
	trading := adapter.NewTrading(adapter.TradingOptions{
		BaseURL: cfg.Adapter.RESTBaseURL, APIKey: cfg.Adapter.APIKey,
		Exchange: cfg.Exchange, Symbol: cfg.Symbol, DryRun: cfg.DryRun,
	}, logger)
	watchdog := adapter.NewWatchdog(feed, cfg.StaleCancelMs, logger)

	llmc := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.Model, time.Duration(cfg.LLM.TimeoutMs)*time.Millisecond)

	telemetry.SetMode(cfg.Exchange, cfg.Symbol, "NORMAL")

	exec := executor.New(cfg, st, feed, trading, watchdog, llmc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dashSrv *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashSrv = dashboard.NewServer(cfg.Dashboard, exec, logger)
		go func() {
			if err := dashSrv.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	go func() {
		feedCtx := ctx
		if err := feed.Run(feedCtx); err != nil && feedCtx.Err() == nil {
			logger.Error("market feed stopped", "error", err)
		}
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE - no real orders will be placed")
	}

	logger.Info("mmbot started",
		"exchange", cfg.Exchange, "symbol", cfg.Symbol,
		"tick_interval_ms", cfg.TickIntervalMs, "dry_run", cfg.DryRun,
	)

	if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("executor stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("mmbot shut down")
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
