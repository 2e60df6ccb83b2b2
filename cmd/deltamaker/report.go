package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/deltamaker/config"
	"github.com/alejandrodnm/deltamaker/internal/adapters/notify"
	"github.com/alejandrodnm/deltamaker/internal/adapters/storage"
	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/risk"
)

const reportWindow = 24 * time.Hour

// runHalt arms the kill switch. A running process picks it up on its next
// admission check.
func runHalt(cfg *config.Config, reason string) {
	hf := storage.NewHaltFile(cfg.Risk.HaltFile)
	if err := hf.Set(reason); err != nil {
		slog.Error("failed to write halt file", "err", err, "path", hf.Path())
		os.Exit(1)
	}
	slog.Warn("trading halted", "reason", reason, "path", hf.Path())
}

// runResume removes the kill switch and clears the persisted halt flag.
// Run it with the trader stopped: the state file has a single writer.
func runResume(ctx context.Context, cfg *config.Config) {
	hf := storage.NewHaltFile(cfg.Risk.HaltFile)
	if err := hf.Clear(); err != nil {
		slog.Error("failed to remove halt file", "err", err, "path", hf.Path())
		os.Exit(1)
	}

	monitor := risk.New(riskConfig(cfg), hf, storage.NewRiskFile(cfg.Risk.StatePath), nil)
	if err := monitor.Restore(ctx); err != nil {
		slog.Error("failed to restore risk state", "err", err, "path", cfg.Risk.StatePath)
		os.Exit(1)
	}
	if err := monitor.ManualReset(ctx); err != nil {
		slog.Error("failed to reset risk state", "err", err)
		os.Exit(1)
	}
	st := monitor.State()
	slog.Info("trading resumed",
		"daily_pnl", "$"+st.DailyPnL.StringFixed(2),
		"loss_limit_overridden", st.LossLimitOverridden,
	)
}

func runReport(ctx context.Context, cfg *config.Config, console *notify.Console) {
	st, err := storage.NewRiskFile(cfg.Risk.StatePath).Load(ctx)
	if errors.Is(err, domain.ErrStateNotFound) {
		st = domain.NewRiskState(time.Now())
	} else if err != nil {
		slog.Error("failed to load risk state", "err", err, "path", cfg.Risk.StatePath)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	now := time.Now()
	placements, err := store.ListPlacements(ctx, now.Add(-reportWindow), now)
	if err != nil {
		slog.Error("failed to list placements", "err", err)
		os.Exit(1)
	}
	daily, err := store.ListDailyHistory(ctx, cfg.Risk.HistoryDays)
	if err != nil {
		slog.Error("failed to list daily history", "err", err)
		os.Exit(1)
	}

	console.PrintReport(notify.ReportInput{
		Risk:       st,
		Exposure:   openFromPlacements(placements, st),
		Placements: placements,
		Daily:      daily,
		Now:        now,
	})
}

// openFromPlacements estimates open exposure from the latest filled
// placement of every market the risk state still counts as open.
func openFromPlacements(placements []domain.PlacementResult, st domain.RiskState) domain.Exposure {
	var e domain.Exposure
	seen := make(map[string]bool)
	for _, p := range placements {
		id := p.Request.MarketID
		if !p.Success() || seen[id] {
			continue
		}
		if _, open := st.MarketExposure[id]; !open {
			continue
		}
		seen[id] = true
		e.Positions++
		e.Delta += p.YesFilled - p.NoFilled
		e.Yes += p.YesFilled * p.Request.YesPrice
		e.No += p.NoFilled * p.Request.NoPrice
	}
	e.Total = e.Yes + e.No
	return e
}
