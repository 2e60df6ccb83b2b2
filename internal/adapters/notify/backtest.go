package notify

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/deltamaker/internal/backtest"
	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// PrintBacktest imprime la configuración, las métricas agregadas y las
// ventanas con entrada (top por |P&L|).
func (c *Console) PrintBacktest(cfg backtest.Config, results []domain.WindowResult, m backtest.Metrics) {
	c.banner("BACKTEST")

	fmt.Fprintf(c.out, "  Strategy: %s | size %.0f | offset %.3f | min spread %.3f | rebate %s\n",
		cfg.Strategy, cfg.PositionSize, cfg.SpreadOffset, cfg.MinEntrySpread, pct(cfg.RebateRate))

	c.printMetrics(m)
	c.printWindows(results, 15)
	c.printSkips(m)
}

func (c *Console) printMetrics(m backtest.Metrics) {
	section(c.out, "METRICS", -1)
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")

	row := func(name, key, value string) {
		if key != "" && !m.IsDefined(key) {
			value = "n/a"
		}
		table.Append(name, value)
	}
	row("Windows", "", fmt.Sprintf("%d", m.Windows))
	row("Entered", "", fmt.Sprintf("%d", m.Entered))
	row("Both legs filled", "", fmt.Sprintf("%d", m.BothFilled))
	row("One leg filled", "", fmt.Sprintf("%d", m.OneLegFilled))
	row("Entry rate", "entry_rate", pct(m.EntryRate))
	row("Fill rate", "fill_rate", pct(m.FillRate))
	row("  YES fill rate", "yes_fill_rate", pct(m.YesFillRate))
	row("  NO fill rate", "no_fill_rate", pct(m.NoFillRate))
	row("Avg YES fill price", "avg_yes_price", fmt.Sprintf("%.4f", m.AvgYesPrice))
	row("Avg NO fill price", "avg_no_price", fmt.Sprintf("%.4f", m.AvgNoPrice))
	row("Both-fill rate", "both_fill_rate", pct(m.BothFillRate))
	row("Total P&L", "", money(m.TotalPnL))
	row("  resolution", "", money(m.ResolutionPnL))
	row("  rebates", "", money(m.RebatePnL))
	row("Mean P&L / window", "mean_pnl", fmt.Sprintf("$%.4f", m.MeanPnL))
	row("Median P&L / window", "median_pnl", fmt.Sprintf("$%.4f", m.MedianPnL))
	row("Std dev", "stddev_pnl", fmt.Sprintf("$%.4f", m.StdDevPnL))
	row("Sharpe (per window)", "sharpe", fmt.Sprintf("%.3f", m.Sharpe))
	row("Sortino (per window)", "sortino", fmt.Sprintf("%.3f", m.Sortino))
	row("Win rate", "win_rate", pct(m.WinRate))
	row("Profit factor", "profit_factor", fmt.Sprintf("%.2f", m.ProfitFactor))
	row("Max drawdown", "max_drawdown", money(m.MaxDrawdown))
	row("P&L P5 / P25", "percentiles", fmt.Sprintf("$%.4f / $%.4f", m.P5PnL, m.P25PnL))
	row("P&L P75 / P95", "percentiles", fmt.Sprintf("$%.4f / $%.4f", m.P75PnL, m.P95PnL))
	row("Skewness", "skewness", fmt.Sprintf("%.3f", m.Skewness))
	row("Excess kurtosis", "kurtosis", fmt.Sprintf("%.3f", m.Kurtosis))
	table.Render()
}

func (c *Console) printWindows(results []domain.WindowResult, limit int) {
	var entered []domain.WindowResult
	for _, r := range results {
		if r.Entered {
			entered = append(entered, r)
		}
	}
	section(c.out, "ENTERED WINDOWS", len(entered))
	if len(entered) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}
	sort.SliceStable(entered, func(i, j int) bool {
		return abs(entered[i].TotalPnL) > abs(entered[j].TotalPnL)
	})
	if len(entered) > limit {
		entered = entered[:limit]
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Outcome", "YES", "NO", "Resolution", "Rebate", "Total")
	for _, r := range entered {
		table.Append(
			truncate(r.MarketID, 24),
			string(r.Outcome),
			legLabel(r.Yes),
			legLabel(r.No),
			money(r.ResolutionPnL),
			fmt.Sprintf("$%.4f", r.RebateRevenue),
			money(r.TotalPnL),
		)
	}
	table.Render()
}

func (c *Console) printSkips(m backtest.Metrics) {
	if len(m.SkipReasons) == 0 {
		return
	}
	section(c.out, "SKIPPED", m.Skipped)
	reasons := make([]string, 0, len(m.SkipReasons))
	for r := range m.SkipReasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(c.out, "  %-22s %d\n", r, m.SkipReasons[domain.SkipReason(r)])
	}
}

func legLabel(l domain.LegFill) string {
	if l.Filled {
		return fmt.Sprintf("%.2f ✓", l.Price)
	}
	return fmt.Sprintf("%.2f (p=%.2f)", l.Price, l.FillProbability)
}

// PrintMonteCarlo imprime el resumen de N corridas probabilísticas.
func (c *Console) PrintMonteCarlo(s backtest.MonteCarloSummary) {
	c.banner("MONTE CARLO")
	fmt.Fprintf(c.out, "  Runs: %d | seed %d\n", s.Runs, s.Seed)

	table := tablewriter.NewWriter(c.out)
	table.Header("Mean", "Std dev", "P5", "P50", "P95", "Profitable", "P(loss)", "Fill rate")
	table.Append(
		money(s.MeanPnL),
		money(s.StdDevPnL),
		money(s.P5PnL),
		money(s.P50PnL),
		money(s.P95PnL),
		pct(s.Profitable),
		pct(s.ProbLoss),
		pct(s.MeanFillRate),
	)
	table.Render()
}

// PrintSensitivity imprime una fila por valor del parámetro barrido.
func (c *Console) PrintSensitivity(rows []backtest.SensitivityRow) {
	if len(rows) == 0 {
		return
	}
	c.banner("SENSITIVITY: " + string(rows[0].Param))

	table := tablewriter.NewWriter(c.out)
	table.Header("Value", "Entered", "Entry rate", "Fill rate", "Win rate", "Total P&L", "Sharpe", "Max DD")
	for _, r := range rows {
		sharpe := "n/a"
		if r.Metrics.IsDefined("sharpe") {
			sharpe = fmt.Sprintf("%.3f", r.Metrics.Sharpe)
		}
		table.Append(
			fmt.Sprintf("%g", r.Value),
			fmt.Sprintf("%d", r.Metrics.Entered),
			pct(r.Metrics.EntryRate),
			pct(r.Metrics.FillRate),
			pct(r.Metrics.WinRate),
			money(r.Metrics.TotalPnL),
			sharpe,
			money(r.Metrics.MaxDrawdown),
		)
	}
	table.Render()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
