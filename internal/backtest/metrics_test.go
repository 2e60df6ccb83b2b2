package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

func entered(pnl float64, both bool) domain.WindowResult {
	return domain.WindowResult{
		Entered:  true,
		Yes:      domain.LegFill{Filled: true, Price: 0.45, Size: 100},
		No:       domain.LegFill{Filled: both, Price: 0.45, Size: 100},
		TotalPnL: pnl,
	}
}

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil)

	assert.Zero(t, m.Windows)
	assert.False(t, m.IsDefined("fill_rate"))
	assert.False(t, m.IsDefined("sharpe"))
	assert.False(t, m.IsDefined("mean_pnl"))
	assert.False(t, m.IsDefined("entry_rate"))
	assert.False(t, m.IsDefined("sortino"))
	assert.Zero(t, m.Sharpe)
}

func TestComputeMetrics_OnlySkips(t *testing.T) {
	m := ComputeMetrics([]domain.WindowResult{
		{SkipReason: domain.SkipSpreadTooTight},
		{SkipReason: domain.SkipNoFill},
		{SkipReason: domain.SkipInvalidWindow},
	})

	assert.Equal(t, 3, m.Skipped)
	assert.Equal(t, 1, m.Invalid)
	assert.Equal(t, 1, m.SkipReasons[domain.SkipNoFill])
	assert.True(t, m.IsDefined("fill_rate"))
	assert.Zero(t, m.FillRate)
	assert.InDelta(t, 0, m.EntryRate, 1e-9)
	assert.False(t, m.IsDefined("avg_yes_price"))
	assert.False(t, m.IsDefined("win_rate"))
}

func TestComputeMetrics_SingleWindow(t *testing.T) {
	m := ComputeMetrics([]domain.WindowResult{entered(10, true)})

	assert.Equal(t, 1, m.Entered)
	assert.InDelta(t, 10, m.MeanPnL, 1e-9)
	assert.InDelta(t, 1, m.WinRate, 1e-9)
	assert.False(t, m.IsDefined("stddev_pnl"))
	assert.False(t, m.IsDefined("sharpe"))
	assert.False(t, m.IsDefined("profit_factor"))
}

func TestComputeMetrics_Aggregates(t *testing.T) {
	m := ComputeMetrics([]domain.WindowResult{
		entered(1, true),
		entered(-3, false),
		entered(2, true),
		entered(-1, true),
		{SkipReason: domain.SkipNoFill},
	})

	assert.Equal(t, 5, m.Windows)
	assert.Equal(t, 4, m.Entered)
	assert.Equal(t, 3, m.BothFilled)
	assert.Equal(t, 1, m.OneLegFilled)
	assert.InDelta(t, 0.8, m.EntryRate, 1e-9)
	assert.InDelta(t, 7.0/10.0, m.FillRate, 1e-9)
	assert.InDelta(t, 0.8, m.YesFillRate, 1e-9)
	assert.InDelta(t, 0.6, m.NoFillRate, 1e-9)
	assert.InDelta(t, 0.45, m.AvgYesPrice, 1e-9)
	assert.InDelta(t, 0.45, m.AvgNoPrice, 1e-9)
	assert.InDelta(t, 0.75, m.BothFillRate, 1e-9)
	assert.InDelta(t, -1, m.TotalPnL, 1e-9)
	assert.InDelta(t, -0.25, m.MeanPnL, 1e-9)
	assert.InDelta(t, 0, m.MedianPnL, 1e-9)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 3, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.75, m.ProfitFactor, 1e-9)
	assert.Greater(t, m.StdDevPnL, 0.0)
	assert.Less(t, m.Sharpe, 0.0)
	assert.InDelta(t, -0.25/math.Sqrt(2.5), m.Sortino, 1e-9)
	assert.LessOrEqual(t, m.P5PnL, m.P25PnL)
	assert.LessOrEqual(t, m.P25PnL, m.MedianPnL)
	assert.LessOrEqual(t, m.MedianPnL, m.P75PnL)
	assert.LessOrEqual(t, m.P75PnL, m.P95PnL)
	assert.Empty(t, m.Undefined)
}

func TestComputeMetrics_ConstantPnLHasNoSharpe(t *testing.T) {
	m := ComputeMetrics([]domain.WindowResult{entered(-2, true), entered(-2, true)})

	assert.Zero(t, m.StdDevPnL)
	assert.False(t, m.IsDefined("sharpe"))
	assert.InDelta(t, -1, m.Sortino, 1e-9)
	assert.False(t, m.IsDefined("skewness"))
	assert.True(t, m.IsDefined("profit_factor"))
	assert.Zero(t, m.ProfitFactor)
}

func TestDownsideDeviation(t *testing.T) {
	assert.Zero(t, downsideDeviation([]float64{1, 2}))
	assert.InDelta(t, 2, downsideDeviation([]float64{-4, 0, 4, 0}), 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, maxDrawdown(nil))
	assert.Zero(t, maxDrawdown([]float64{1, 2, 3}))
	assert.InDelta(t, 5, maxDrawdown([]float64{-5, 1}), 1e-9)
}

func TestMonteCarlo_Reproducible(t *testing.T) {
	e := newTestEngine(t, nil)
	ws := manyWindows(20)

	a, err := e.MonteCarlo(context.Background(), ws, 25, 7)
	require.NoError(t, err)
	b, err := e.MonteCarlo(context.Background(), ws, 25, 7)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.RunPnL, 25)
	assert.LessOrEqual(t, a.P5PnL, a.P50PnL)
	assert.LessOrEqual(t, a.P50PnL, a.P95PnL)
	assert.GreaterOrEqual(t, a.ProbLoss, 0.0)
	assert.LessOrEqual(t, a.Profitable+a.ProbLoss, 1.0)
}

func TestMonteCarlo_ZeroPnLRunsAreNotProfitable(t *testing.T) {
	e := newTestEngine(t, nil)
	// Spread de un tick: nunca se entra y todas las corridas acaban en 0.
	tight := window("m-tight", domain.OutcomeYes,
		snap(0, 0.50, 0.51),
		snap(1, 0.40, 0.41),
	)

	s, err := e.MonteCarlo(context.Background(), []domain.MarketWindow{tight}, 10, 3)
	require.NoError(t, err)

	assert.Zero(t, s.Profitable)
	assert.Zero(t, s.ProbLoss)
	assert.Zero(t, s.MeanPnL)

	mixed := append(manyWindows(5), tight)
	s, err = e.MonteCarlo(context.Background(), mixed, 40, 3)
	require.NoError(t, err)
	wins := 0
	for _, p := range s.RunPnL {
		if p > 0 {
			wins++
		}
	}
	assert.InDelta(t, float64(wins)/40, s.Profitable, 1e-9)
}

func TestMonteCarlo_RejectsZeroRuns(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.MonteCarlo(context.Background(), nil, 0, 1)
	assert.Error(t, err)
}

func TestRunSeed_Distinct(t *testing.T) {
	seen := make(map[uint64]bool)
	for run := range 1000 {
		s := runSeed(1, run)
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestParseSweep(t *testing.T) {
	p, vs, err := ParseSweep("spread_offset=0.01, 0.02,0.05")
	require.NoError(t, err)
	assert.Equal(t, ParamSpreadOffset, p)
	assert.Equal(t, []float64{0.01, 0.02, 0.05}, vs)

	for _, bad := range []string{"spread_offset", "leverage=2", "rebate_rate=", "rebate_rate=x"} {
		_, _, err := ParseSweep(bad)
		assert.Error(t, err, bad)
	}
}

func TestSensitivity(t *testing.T) {
	e := newTestEngine(t, nil)
	ws := []domain.MarketWindow{pairWindow("m1", domain.OutcomeYes)}

	rows, err := e.Sensitivity(context.Background(), ws, ParamRebateRate, []float64{0, 0.01})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.InDelta(t, 10, rows[0].Metrics.TotalPnL, 1e-6)
	assert.InDelta(t, 10.9, rows[1].Metrics.TotalPnL, 1e-6)
	assert.Zero(t, e.Config().RebateRate)

	_, err = e.Sensitivity(context.Background(), ws, ParamPositionSize, []float64{-1})
	assert.Error(t, err)
}
