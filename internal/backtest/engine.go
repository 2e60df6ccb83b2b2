// Package backtest replays historical top-of-book snapshots to estimate how
// a quoting configuration would have performed. Windows are independent and
// are simulated in parallel; a bad window becomes a skip result and never
// aborts the batch.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
	"github.com/alejandrodnm/deltamaker/internal/strategy"
)

// Config are the simulation parameters.
type Config struct {
	Strategy       string
	PositionSize   float64 // shares per leg
	SpreadOffset   float64
	RebateRate     float64 // fraction of filled notional paid back
	MinEntrySpread float64
	Tick           float64 // 0 quotes mid ± offset without tick rounding

	// Spread-collapse heuristic. Tunable: it is a proxy for aggressive
	// flow, not an observed fill.
	CollapseSpread    float64
	CollapseProximity float64

	// ResidualScale is the price distance at which the residual fill
	// probability of an unfilled leg drops to 1/e.
	ResidualScale float64

	// Probabilistic mode.
	AtBestProb float64 // per-snapshot fill probability resting at the best bid
	DecayScale float64 // price distance at which that probability drops to 1/e

	Workers int
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Strategy:          "mid_offset",
		PositionSize:      100,
		SpreadOffset:      0.01,
		RebateRate:        0.002,
		MinEntrySpread:    0.02,
		CollapseSpread:    0.01,
		CollapseProximity: 0.01,
		ResidualScale:     0.02,
		AtBestProb:        0.35,
		DecayScale:        0.01,
		Workers:           runtime.NumCPU(),
	}
}

func (c Config) validate() error {
	var errs []error
	if c.PositionSize <= 0 {
		errs = append(errs, fmt.Errorf("position_size must be positive, got %v", c.PositionSize))
	}
	if c.SpreadOffset < 0 {
		errs = append(errs, fmt.Errorf("spread_offset must be >= 0, got %v", c.SpreadOffset))
	}
	if c.RebateRate < 0 || c.RebateRate > 1 {
		errs = append(errs, fmt.Errorf("rebate_rate must be in [0,1], got %v", c.RebateRate))
	}
	if c.MinEntrySpread < 0 {
		errs = append(errs, fmt.Errorf("min_entry_spread must be >= 0, got %v", c.MinEntrySpread))
	}
	if c.AtBestProb < 0 || c.AtBestProb > 1 {
		errs = append(errs, fmt.Errorf("at_best_prob must be in [0,1], got %v", c.AtBestProb))
	}
	return errors.Join(errs...)
}

func (c Config) params() strategy.Params {
	return strategy.Params{
		PositionSize:   c.PositionSize,
		SpreadOffset:   c.SpreadOffset,
		MinEntrySpread: c.MinEntrySpread,
		Tick:           c.Tick,
	}
}

// Engine simulates MarketWindows with a fixed configuration.
type Engine struct {
	cfg   Config
	strat strategy.Strategy
}

// New validates cfg and resolves its strategy.
func New(cfg Config) (*Engine, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = "mid_offset"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("backtest.New: %w", err)
	}
	s, err := strategy.NewRegistry().Get(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("backtest.New: %w", err)
	}
	return &Engine{cfg: cfg, strat: s}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// filler decides the fill of one leg; idx is the window index.
type filler func(idx int, snaps []domain.Snapshot, side domain.Outcome, price, size float64) domain.LegFill

// Run simulates every window with the deterministic fill rule. Results are
// in input order. Only context cancellation returns an error.
func (e *Engine) Run(ctx context.Context, windows []domain.MarketWindow) ([]domain.WindowResult, error) {
	f := func(_ int, snaps []domain.Snapshot, side domain.Outcome, price, size float64) domain.LegFill {
		return e.fillDeterministic(snaps, side, price, size)
	}
	return e.runBatch(ctx, windows, f)
}

// RunProbabilistic simulates every window with Bernoulli fills. Each window
// gets its own generator derived from seed and its index, so the outcome
// does not depend on scheduling.
func (e *Engine) RunProbabilistic(ctx context.Context, windows []domain.MarketWindow, seed uint64) ([]domain.WindowResult, error) {
	return e.runBatch(ctx, windows, e.probabilisticFiller(seed))
}

func (e *Engine) probabilisticFiller(seed uint64) filler {
	return func(idx int, snaps []domain.Snapshot, side domain.Outcome, price, size float64) domain.LegFill {
		stream := uint64(idx)<<1 | sideBit(side)
		rng := rand.New(rand.NewPCG(seed, stream))
		return e.fillProbabilistic(rng, snaps, side, price, size)
	}
}

func sideBit(side domain.Outcome) uint64 {
	if side == domain.OutcomeNo {
		return 1
	}
	return 0
}

func (e *Engine) runBatch(ctx context.Context, windows []domain.MarketWindow, fill filler) ([]domain.WindowResult, error) {
	results := make([]domain.WindowResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.simulate(i, windows[i], fill)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	for _, r := range results {
		metrics.BacktestWindows.WithLabelValues(resultLabel(r)).Inc()
	}
	return results, nil
}

// runSequential is runBatch without goroutines, used inside Monte Carlo
// where parallelism is across runs.
func (e *Engine) runSequential(ctx context.Context, windows []domain.MarketWindow, fill filler) ([]domain.WindowResult, error) {
	results := make([]domain.WindowResult, len(windows))
	for i := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.simulate(i, windows[i], fill)
	}
	return results, nil
}

func resultLabel(r domain.WindowResult) string {
	if r.Entered {
		return "entered"
	}
	return string(r.SkipReason)
}

// simulate runs the per-window pipeline: validation, entry check, quote,
// fills, settlement.
func (e *Engine) simulate(idx int, w domain.MarketWindow, fill filler) domain.WindowResult {
	res := domain.WindowResult{MarketID: w.MarketID, Outcome: w.Outcome}

	if err := w.Validate(); err != nil {
		slog.Warn("backtest: invalid window skipped", "market", w.MarketID, "err", err)
		res.SkipReason = domain.SkipInvalidWindow
		res.Err = err
		return res
	}

	snaps := make([]domain.Snapshot, len(w.Snapshots))
	for i, s := range w.Snapshots {
		snaps[i] = s.Normalize()
	}

	q, skip := e.strat.Quote(snaps[0], e.cfg.params())
	if skip != domain.SkipNone {
		res.SkipReason = skip
		return res
	}

	res.Yes = fill(idx, snaps, domain.OutcomeYes, q.YesPrice, q.Size)
	res.No = fill(idx, snaps, domain.OutcomeNo, q.NoPrice, q.Size)
	if !res.Yes.Filled && !res.No.Filled {
		res.SkipReason = domain.SkipNoFill
		return res
	}

	res.Entered = true
	settle(&res, e.cfg.RebateRate)
	return res
}

// settle computes resolution P&L and rebates from the filled legs.
// The winning side pays its filled size at unit value.
func settle(res *domain.WindowResult, rebateRate float64) {
	var payout float64
	switch res.Outcome {
	case domain.OutcomeYes:
		if res.Yes.Filled {
			payout = res.Yes.Size
		}
	case domain.OutcomeNo:
		if res.No.Filled {
			payout = res.No.Size
		}
	}
	cost := res.FilledNotional()
	res.ResolutionPnL = payout - cost
	res.RebateRevenue = cost * rebateRate
	res.TotalPnL = res.ResolutionPnL + res.RebateRevenue
}
