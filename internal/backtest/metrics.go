package backtest

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// Metrics agrega los resultados de un backtest.
// Los campos cuya fórmula no está definida para la muestra quedan a 0 y su
// nombre se añade a Undefined.
type Metrics struct {
	Windows       int
	Entered       int
	Skipped       int
	Invalid       int
	BothFilled    int
	OneLegFilled  int
	EntryRate     float64 // ventanas entradas / ventanas válidas
	FillRate      float64 // piernas llenas / piernas cotizadas
	YesFillRate   float64
	NoFillRate    float64
	AvgYesPrice   float64 // precio medio de las piernas YES llenas
	AvgNoPrice    float64
	BothFillRate  float64 // ventanas con ambas piernas / ventanas entradas
	TotalPnL      float64
	ResolutionPnL float64
	RebatePnL     float64
	MeanPnL       float64
	MedianPnL     float64
	StdDevPnL     float64
	Sharpe        float64 // media / desviación por ventana, sin anualizar
	Sortino       float64 // media / desviación a la baja
	WinRate       float64
	MaxDrawdown   float64
	P5PnL         float64
	P25PnL        float64
	P75PnL        float64
	P95PnL        float64
	Skewness      float64
	Kurtosis      float64 // exceso de curtosis
	ProfitFactor  float64
	SkipReasons   map[domain.SkipReason]int
	Undefined     []string
}

// IsDefined devuelve false si el campo name no pudo calcularse.
func (m Metrics) IsDefined(name string) bool {
	for _, u := range m.Undefined {
		if u == name {
			return false
		}
	}
	return true
}

// ComputeMetrics calcula las métricas sobre las ventanas con entrada.
func ComputeMetrics(results []domain.WindowResult) Metrics {
	m := Metrics{Windows: len(results), SkipReasons: make(map[domain.SkipReason]int)}

	var pnl, yesPrices, noPrices []float64
	quoted := 0
	for _, r := range results {
		if !r.Entered {
			m.Skipped++
			m.SkipReasons[r.SkipReason]++
			if r.SkipReason == domain.SkipInvalidWindow {
				m.Invalid++
			}
			if r.SkipReason == domain.SkipNoFill {
				quoted++
			}
			continue
		}
		m.Entered++
		quoted++
		if r.Yes.Filled {
			yesPrices = append(yesPrices, r.Yes.Price)
		}
		if r.No.Filled {
			noPrices = append(noPrices, r.No.Price)
		}
		if r.BothFilled() {
			m.BothFilled++
		} else {
			m.OneLegFilled++
		}
		m.TotalPnL += r.TotalPnL
		m.ResolutionPnL += r.ResolutionPnL
		m.RebatePnL += r.RebateRevenue
		pnl = append(pnl, r.TotalPnL)
	}

	undefined := func(name string) { m.Undefined = append(m.Undefined, name) }

	if valid := m.Windows - m.Invalid; valid > 0 {
		m.EntryRate = float64(m.Entered) / float64(valid)
	} else {
		undefined("entry_rate")
	}
	if quoted > 0 {
		m.YesFillRate = float64(len(yesPrices)) / float64(quoted)
		m.NoFillRate = float64(len(noPrices)) / float64(quoted)
		m.FillRate = float64(len(yesPrices)+len(noPrices)) / float64(2*quoted)
	} else {
		undefined("fill_rate")
		undefined("yes_fill_rate")
		undefined("no_fill_rate")
	}
	if len(yesPrices) > 0 {
		m.AvgYesPrice, _ = stats.Mean(yesPrices)
	} else {
		undefined("avg_yes_price")
	}
	if len(noPrices) > 0 {
		m.AvgNoPrice, _ = stats.Mean(noPrices)
	} else {
		undefined("avg_no_price")
	}
	if m.Entered == 0 {
		for _, name := range []string{"both_fill_rate", "mean_pnl", "median_pnl", "win_rate", "max_drawdown", "percentiles"} {
			undefined(name)
		}
		for _, name := range []string{"stddev_pnl", "sharpe", "sortino", "skewness", "kurtosis", "profit_factor"} {
			undefined(name)
		}
		return m
	}

	m.BothFillRate = float64(m.BothFilled) / float64(m.Entered)
	m.MeanPnL, _ = stats.Mean(pnl)
	m.MedianPnL, _ = stats.Median(pnl)
	m.MaxDrawdown = maxDrawdown(pnl)
	m.P5PnL = percentile(pnl, 5)
	m.P25PnL = percentile(pnl, 25)
	m.P75PnL = percentile(pnl, 75)
	m.P95PnL = percentile(pnl, 95)

	wins, grossWin, grossLoss := 0, 0.0, 0.0
	for _, p := range pnl {
		switch {
		case p > 0:
			wins++
			grossWin += p
		case p < 0:
			grossLoss -= p
		}
	}
	m.WinRate = float64(wins) / float64(len(pnl))
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else {
		undefined("profit_factor")
	}

	if len(pnl) < 2 {
		for _, name := range []string{"stddev_pnl", "sharpe", "sortino", "skewness", "kurtosis"} {
			undefined(name)
		}
		return m
	}
	m.StdDevPnL, _ = stats.StandardDeviationSample(pnl)
	if m.StdDevPnL > 0 {
		m.Sharpe = m.MeanPnL / m.StdDevPnL
	} else {
		undefined("sharpe")
	}
	if dd := downsideDeviation(pnl); dd > 0 {
		m.Sortino = m.MeanPnL / dd
	} else {
		undefined("sortino")
	}

	skew, kurt, ok := moments(pnl, m.MeanPnL)
	if ok {
		m.Skewness, m.Kurtosis = skew, kurt
	} else {
		undefined("skewness")
		undefined("kurtosis")
	}
	return m
}

// moments devuelve skewness y exceso de curtosis poblacionales.
// ok es false si la varianza es 0.
func moments(xs []float64, mean float64) (skew, kurt float64, ok bool) {
	n := float64(len(xs))
	var m2, m3, m4 float64
	for _, x := range xs {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 < 1e-18 {
		return 0, 0, false
	}
	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3, true
}

// downsideDeviation es la raíz de la media de los cuadrados de las pérdidas,
// con objetivo 0 y dividiendo por el total de ventanas.
func downsideDeviation(pnl []float64) float64 {
	var sum float64
	for _, p := range pnl {
		if p < 0 {
			sum += p * p
		}
	}
	return math.Sqrt(sum / float64(len(pnl)))
}

// maxDrawdown es la mayor caída desde un pico de la curva de P&L acumulado,
// contando el capital inicial (0) como primer pico.
func maxDrawdown(pnl []float64) float64 {
	var equity, peak, dd float64
	for _, p := range pnl {
		equity += p
		peak = math.Max(peak, equity)
		dd = math.Max(dd, peak-equity)
	}
	return dd
}
