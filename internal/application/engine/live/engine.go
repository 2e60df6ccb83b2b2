package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/ledger"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
	"github.com/alejandrodnm/deltamaker/internal/ports"
	"github.com/alejandrodnm/deltamaker/internal/risk"
	"github.com/alejandrodnm/deltamaker/internal/strategy"
)

const (
	defaultInterval        = 60 * time.Second
	defaultMinSecondsToEnd = 120
)

// Config holds configuration for the live cycle.
type Config struct {
	Interval        time.Duration
	Strategy        string
	PositionSize    float64 // shares per leg
	SpreadOffset    float64
	MinEntrySpread  float64
	Tick            float64
	MinSecondsToEnd float64 // markets closer to resolution are not entered
	MaxNewPerCycle  int     // 0 = no limit
	Reconcile       bool
}

// DefaultConfig returns the cycle defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        defaultInterval,
		Strategy:        "mid_offset",
		PositionSize:    100,
		SpreadOffset:    0.01,
		MinEntrySpread:  0.02,
		Tick:            strategy.DefaultTick,
		MinSecondsToEnd: defaultMinSecondsToEnd,
		Reconcile:       true,
	}
}

// Placer is the executor surface the cycle needs.
type Placer interface {
	PlaceDeltaNeutral(ctx context.Context, req domain.PlacementRequest) domain.PlacementResult
}

// Settler is implemented by venues that keep their own copy of held
// positions (the dry-run venue) and must drop a market once it resolves.
type Settler interface {
	Settle(marketID string)
}

// Sources groups the read-only venue ports. Positions and Notifier may be nil.
type Sources struct {
	Markets     ports.MarketProvider
	Books       ports.BookProvider
	Resolutions ports.ResolutionSource
	Positions   ports.PositionSource
	Notifier    ports.Notifier
}

// CycleResult contains everything produced by one live cycle.
type CycleResult struct {
	Halted      bool
	HaltReason  string
	Resolved    int
	RealizedPnL float64
	Discovered  int
	Eligible    int
	Placements  []domain.PlacementResult
	Filled      int
	Failed      int
	Skips       map[domain.SkipReason]int
	Exposure    domain.Exposure
	DeltaBreach bool
	Rebalance   *ledger.Suggestion // set when the ledger is out of tolerance
	Reconcile   *ledger.ReconcileReport
	Alerts      []domain.Alert
	Warnings    []string
}

// Engine runs the resolve → discover → place → check cycle against the venue.
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	params strategy.Params
	src    Sources
	placer Placer
	ledger *ledger.Tracker
	risk   *risk.Monitor

	now      func() time.Time
	alertSeq uint64
}

// New creates a live engine. The strategy is resolved by name.
func New(cfg Config, src Sources, placer Placer, tracker *ledger.Tracker, monitor *risk.Monitor) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.PositionSize <= 0 {
		return nil, fmt.Errorf("live.New: position size must be positive, got %.2f", cfg.PositionSize)
	}
	if src.Markets == nil || src.Books == nil || src.Resolutions == nil {
		return nil, errors.New("live.New: markets, books and resolutions are required")
	}
	if placer == nil || tracker == nil || monitor == nil {
		return nil, errors.New("live.New: placer, ledger and risk monitor are required")
	}
	strat, err := strategy.NewRegistry().Get(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("live.New: %w", err)
	}
	return &Engine{
		cfg:   cfg,
		strat: strat,
		params: strategy.Params{
			PositionSize:   cfg.PositionSize,
			SpreadOffset:   cfg.SpreadOffset,
			MinEntrySpread: cfg.MinEntrySpread,
			Tick:           cfg.Tick,
		},
		src:    src,
		placer: placer,
		ledger: tracker,
		risk:   monitor,
		now:    time.Now,
	}, nil
}

// Config returns the configuration in use.
func (le *Engine) Config() Config {
	return le.cfg
}

// RunOnce executes one live cycle. Orchestrates: halt check → resolution →
// discovery → placement → delta check → reconciliation → alerts.
func (le *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{Skips: make(map[domain.SkipReason]int)}
	defer le.publish(result)

	// 1. Protection: a halted monitor skips the whole cycle.
	if halted, reason := le.risk.Halted(ctx); halted {
		result.Halted = true
		result.HaltReason = reason
		result.Warnings = append(result.Warnings, "HALTED: "+reason+" (cycle skipped)")
		slog.Warn("live: trading halted, skipping cycle", "reason", reason)
		le.flushAlerts(ctx, result)
		return result, nil
	}

	// 2. Resolution: close positions whose market already resolved.
	le.settleResolved(ctx, result)

	// 3. Discovery: open markets plus the YES/NO books of the candidates.
	quotes, err := le.discover(ctx, result)
	if err != nil {
		le.flushAlerts(ctx, result)
		return result, fmt.Errorf("live.RunOnce: %w", err)
	}

	// 4. Placement: one dual order per eligible market.
	le.placeEntries(ctx, quotes, result)

	// 5. Delta check on the ledger aggregates.
	result.Exposure = le.ledger.Exposure()
	result.DeltaBreach = le.risk.CheckDelta(ctx, result.Exposure.Delta, result.Exposure.Total)
	if le.ledger.NeedsRebalance() {
		le.suggestRebalance(ctx, result)
	}

	// 6. Reconciliation against the venue's view.
	if le.cfg.Reconcile && le.src.Positions != nil {
		le.reconcile(ctx, result)
	}

	// 7. Alerts raised during the cycle.
	le.flushAlerts(ctx, result)

	slog.Info("live: cycle done",
		"resolved", result.Resolved,
		"realized", fmt.Sprintf("$%.2f", result.RealizedPnL),
		"eligible", result.Eligible,
		"filled", result.Filled,
		"failed", result.Failed,
		"delta", fmt.Sprintf("%.2f", result.Exposure.Delta),
		"exposure", fmt.Sprintf("$%.2f", result.Exposure.Total),
	)
	return result, nil
}

// suggestRebalance reports the correction that brings the ledger back
// within tolerance. Rebalancing trades are left to the operator.
func (le *Engine) suggestRebalance(ctx context.Context, result *CycleResult) {
	s := le.ledger.RebalancingSuggestion()
	if s.Direction == ledger.DirectionNone {
		return
	}
	result.Rebalance = &s
	msg := fmt.Sprintf("rebalance suggested: %s %.2f shares (delta %.2f, threshold %.2f)",
		s.Direction, s.Size, s.Delta, s.Threshold)
	result.Warnings = append(result.Warnings, msg)
	if err := le.risk.Alert(ctx, domain.AlertWarning, "rebalance", msg); err != nil {
		slog.Error("live: error recording rebalance alert", "err", err)
	}
}

// reconcile compares the ledger with the venue and raises a warning on drift.
func (le *Engine) reconcile(ctx context.Context, result *CycleResult) {
	ext, err := le.src.Positions.FetchPositions(ctx)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("reconcile: fetch positions: %v", err))
		slog.Warn("live: error fetching venue positions", "err", err)
		return
	}
	report := le.ledger.Reconcile(ext)
	result.Reconcile = &report
	if report.InSync() {
		return
	}
	msg := fmt.Sprintf("ledger drift: %d discrepancies, %d missing on venue, %d unknown locally",
		len(report.Discrepancies), len(report.MissingExternally), len(report.MissingLocally))
	result.Warnings = append(result.Warnings, msg)
	if err := le.risk.Alert(ctx, domain.AlertWarning, "reconcile_drift", msg); err != nil {
		slog.Error("live: error recording drift alert", "err", err)
	}
	// Shares on the venue that the ledger does not know are unhedged.
	for _, ext := range report.MissingLocally {
		untracked := fmt.Sprintf("venue holds %s yes=%.2f no=%.2f not in ledger",
			ext.MarketID, ext.YesSize, ext.NoSize)
		if err := le.risk.RaiseCritical(ctx, "untracked_position", untracked); err != nil {
			slog.Error("live: error recording untracked position alert", "err", err)
		}
	}
}

// flushAlerts forwards the alerts raised since the previous flush.
func (le *Engine) flushAlerts(ctx context.Context, result *CycleResult) {
	alerts, seq := le.risk.AlertsAfter(le.alertSeq)
	le.alertSeq = seq
	if len(alerts) == 0 {
		return
	}
	result.Alerts = alerts
	if le.src.Notifier == nil {
		return
	}
	if err := le.src.Notifier.NotifyAlerts(ctx, alerts); err != nil {
		slog.Warn("live: error notifying alerts", "err", err)
	}
}

func (le *Engine) publish(result *CycleResult) {
	exp := le.ledger.Exposure()
	metrics.LedgerDelta.Set(exp.Delta)
	metrics.LedgerExposure.WithLabelValues(string(domain.OutcomeYes)).Set(exp.Yes)
	metrics.LedgerExposure.WithLabelValues(string(domain.OutcomeNo)).Set(exp.No)
	metrics.OpenPositions.Set(float64(exp.Positions))
	result.Exposure = exp
}
