package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alejandrodnm/deltamaker/config"
	"github.com/alejandrodnm/deltamaker/internal/adapters/notify"
	"github.com/alejandrodnm/deltamaker/internal/adapters/snapshots"
	"github.com/alejandrodnm/deltamaker/internal/backtest"
	"github.com/alejandrodnm/deltamaker/internal/ports"
)

type backtestOptions struct {
	path       string
	monteCarlo int
	sweep      string
}

func runBacktest(ctx context.Context, cfg *config.Config, console *notify.Console, opts backtestOptions) {
	slog.Info("=== BACKTEST MODE: fill simulation over recorded snapshots ===", "file", opts.path)

	var source ports.WindowSource = snapshots.NewJSONFile(opts.path)
	windows, err := source.LoadWindows(ctx)
	if err != nil {
		slog.Error("failed to load snapshots", "err", err)
		os.Exit(1)
	}
	if len(windows) == 0 {
		slog.Warn("no windows in snapshot file, nothing to backtest")
		return
	}

	eng, err := backtest.New(backtestConfig(cfg))
	if err != nil {
		slog.Error("invalid backtest config", "err", err)
		os.Exit(1)
	}

	results, err := eng.Run(ctx, windows)
	if err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}
	m := backtest.ComputeMetrics(results)
	console.PrintBacktest(eng.Config(), results, m)

	if opts.monteCarlo > 0 {
		summary, err := eng.MonteCarlo(ctx, windows, opts.monteCarlo, cfg.Backtest.Seed)
		if err != nil {
			slog.Error("monte carlo failed", "err", err)
			os.Exit(1)
		}
		console.PrintMonteCarlo(summary)
	}

	if opts.sweep != "" {
		param, values, err := backtest.ParseSweep(opts.sweep)
		if err != nil {
			slog.Error("invalid sweep", "err", err)
			os.Exit(1)
		}
		rows, err := eng.Sensitivity(ctx, windows, param, values)
		if err != nil {
			slog.Error("sensitivity sweep failed", "err", err)
			os.Exit(1)
		}
		console.PrintSensitivity(rows)
	}

	slog.Info("backtest complete",
		"windows", m.Windows,
		"entered", m.Entered,
		"total_pnl", fmt.Sprintf("$%.2f", m.TotalPnL),
	)
}

func backtestConfig(cfg *config.Config) backtest.Config {
	bc := backtest.DefaultConfig()
	bc.Strategy = cfg.Engine.Strategy
	bc.PositionSize = cfg.Engine.PositionSize
	bc.SpreadOffset = cfg.Engine.SpreadOffset
	bc.MinEntrySpread = cfg.Engine.MinEntrySpread
	bc.RebateRate = *cfg.Backtest.RebateRate
	bc.CollapseSpread = cfg.Backtest.CollapseSpread
	bc.CollapseProximity = cfg.Backtest.CollapseProximity
	bc.Tick = cfg.Backtest.Tick
	if cfg.Backtest.Workers > 0 {
		bc.Workers = cfg.Backtest.Workers
	}
	return bc
}
