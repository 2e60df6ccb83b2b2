package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/deltamaker/config"
	"github.com/alejandrodnm/deltamaker/internal/adapters/exchange"
	"github.com/alejandrodnm/deltamaker/internal/adapters/notify"
	"github.com/alejandrodnm/deltamaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/deltamaker/internal/adapters/storage"
	"github.com/alejandrodnm/deltamaker/internal/application/engine/live"
	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/executor"
	"github.com/alejandrodnm/deltamaker/internal/ledger"
	"github.com/alejandrodnm/deltamaker/internal/risk"
)

const (
	stopFile       = "STOP_LIVE"
	recoveryWindow = 24 * time.Hour
)

func runLive(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, console *notify.Console, once bool) {
	slog.Info("=== LIVE MODE (dry-run venue: orders fill in-process) ===",
		"position_size", cfg.Engine.PositionSize,
		"daily_loss_limit", fmt.Sprintf("$%.2f", cfg.Risk.DailyLossLimit),
		"max_total_notional", fmt.Sprintf("$%.2f", cfg.Risk.MaxTotalNotional),
		"halt_file", cfg.Risk.HaltFile,
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase).WithDiscovery(polymarket.Discovery{
		MaxDuration:  cfg.MaxMarketDuration(),
		SlugContains: cfg.API.SlugContains,
		MaxPages:     cfg.API.DiscoveryMaxPages,
	})

	tracker := ledger.NewTracker(cfg.Risk.MaxDeltaRatio)
	monitor := risk.New(riskConfig(cfg),
		storage.NewHaltFile(cfg.Risk.HaltFile),
		storage.NewRiskFile(cfg.Risk.StatePath),
		tracker,
	)
	if err := monitor.Restore(ctx); err != nil {
		slog.Error("failed to restore risk state", "err", err, "path", cfg.Risk.StatePath)
		os.Exit(1)
	}

	venue := exchange.NewDryRun(cfg.Executor.DryRunBalance)
	recovered, err := live.RecoverLedger(ctx, store, client, tracker, monitor, time.Now().Add(-recoveryWindow))
	if err != nil {
		slog.Error("failed to recover ledger", "err", err)
		os.Exit(1)
	}
	for _, p := range recovered {
		venue.Hold(domain.ExternalPosition{MarketID: p.MarketID, YesSize: p.YesSize, NoSize: p.NoSize})
	}

	guarded := exchange.NewGuarded(venue, exchange.GuardConfig{
		RatePerSecond:   cfg.Executor.RatePerSecond,
		Burst:           cfg.Executor.Burst,
		BreakerFailures: cfg.Executor.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout(),
	})
	exec := executor.New(executorConfig(cfg), guarded, monitor, tracker, venue, store)

	eng, err := live.New(live.Config{
		Interval:        cfg.Interval(),
		Strategy:        cfg.Engine.Strategy,
		PositionSize:    cfg.Engine.PositionSize,
		SpreadOffset:    cfg.Engine.SpreadOffset,
		MinEntrySpread:  cfg.Engine.MinEntrySpread,
		MinSecondsToEnd: cfg.Engine.MinSecondsToEnd,
		MaxNewPerCycle:  cfg.Engine.MaxNewPerCycle,
		Reconcile:       cfg.ReconcileEnabled(),
	}, live.Sources{
		Markets:     client,
		Books:       client,
		Resolutions: client,
		Positions:   venue,
		Notifier:    console,
	}, exec, tracker, monitor)
	if err != nil {
		slog.Error("failed to create live engine", "err", err)
		os.Exit(1)
	}

	cycle := 1
	runLiveCycle(ctx, eng, guarded, cycle)
	saveHistory(ctx, store, monitor)
	if once {
		return
	}

	ticker := time.NewTicker(cfg.Interval())
	defer ticker.Stop()

	slog.Info("live trading started: press Ctrl+C or create STOP_LIVE file to exit")

	for {
		select {
		case <-ctx.Done():
			slog.Info("live trading stopped (signal)", "total_cycles", cycle)
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP_LIVE file detected, shutting down live trading", "total_cycles", cycle)
				os.Remove(stopFile)
				return
			}
			cycle++
			runLiveCycle(ctx, eng, guarded, cycle)
			saveHistory(ctx, store, monitor)
		}
	}
}

func runLiveCycle(ctx context.Context, le *live.Engine, venue *exchange.Guarded, cycle int) {
	result, err := le.RunOnce(ctx)
	if err != nil {
		slog.Error("live cycle failed", "cycle", cycle, "err", err)
		return
	}

	slog.Info("live: cycle complete",
		"cycle", cycle,
		"halted", result.Halted,
		"resolved", result.Resolved,
		"realized_pnl", fmt.Sprintf("$%.2f", result.RealizedPnL),
		"discovered", result.Discovered,
		"eligible", result.Eligible,
		"filled", result.Filled,
		"failed", result.Failed,
		"positions", result.Exposure.Positions,
		"delta", fmt.Sprintf("%.2f", result.Exposure.Delta),
		"breaker", venue.State(),
	)

	for reason, n := range result.Skips {
		slog.Debug("live: skipped markets", "reason", reason, "count", n)
	}
	for _, warn := range result.Warnings {
		slog.Warn("live: warning", "msg", warn)
	}
}

// saveHistory copies the closed trading days into SQLite for -report.
func saveHistory(ctx context.Context, store *storage.SQLiteStorage, monitor *risk.Monitor) {
	history := monitor.State().History
	if len(history) == 0 {
		return
	}
	if err := store.SaveDailyHistory(ctx, history); err != nil {
		slog.Warn("failed to save daily history", "err", err)
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		DailyLossLimit:         cfg.Risk.DailyLossLimit,
		MaxPositionSize:        cfg.Risk.MaxPositionSize,
		MaxMarketSize:          cfg.Risk.MaxMarketSize,
		MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
		MaxTotalNotional:       cfg.Risk.MaxTotalNotional,
		MaxDeltaRatio:          cfg.Risk.MaxDeltaRatio,
		MaxExecutionFailures:   cfg.Risk.MaxExecutionFailures,
		AlertCapacity:          cfg.Risk.AlertCapacity,
		HistoryDays:            cfg.Risk.HistoryDays,
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	ec := executor.DefaultConfig()
	ec.MaxPositionSize = cfg.Risk.MaxPositionSize
	ec.MaxOpenPositions = cfg.Risk.MaxConcurrentPositions
	ec.FillCheckAttempts = cfg.Executor.FillCheckAttempts
	ec.FillCheckDelay = cfg.FillCheckDelay()
	ec.StatusRetries = cfg.Executor.StatusRetries
	ec.WalletAddress = cfg.Engine.WalletAddress
	return ec
}
