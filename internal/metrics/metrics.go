// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlacementsTotal counts terminal dual-order placements by outcome.
	PlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltamaker_placements_total",
		Help: "Dual-order placements by terminal outcome",
	}, []string{"outcome"})

	// PlacementDuration tracks the wall time of a placement attempt.
	PlacementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deltamaker_placement_duration_seconds",
		Help:    "Duration of dual-order placement attempts",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// AdmissionRejections counts risk admission denials by check.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltamaker_admission_rejections_total",
		Help: "Positions denied by the risk monitor, by failing check",
	}, []string{"check"})

	// AlertsTotal counts risk alerts by level.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltamaker_alerts_total",
		Help: "Risk alerts raised, by level",
	}, []string{"level"})

	// AlertsDropped counts alerts evicted from the bounded alert log.
	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltamaker_alerts_dropped_total",
		Help: "Alerts evicted from the alert ring buffer",
	})

	// Halted is 1 while the risk monitor's halt flag is raised.
	Halted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltamaker_halted",
		Help: "1 when trading is halted",
	})

	// DailyPnL is the realized P&L of the current UTC day.
	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltamaker_daily_pnl_usdc",
		Help: "Realized P&L for the current UTC trading day",
	})

	// LedgerDelta is the aggregate yes−no size of open positions.
	LedgerDelta = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltamaker_ledger_delta_shares",
		Help: "Aggregate delta of open positions",
	})

	// LedgerExposure is the notional of open positions by side.
	LedgerExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deltamaker_ledger_exposure_usdc",
		Help: "Open notional by side",
	}, []string{"side"})

	// OpenPositions is the number of positions held by the ledger.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltamaker_open_positions",
		Help: "Number of open YES/NO position pairs",
	})

	// VenueRequests counts guarded exchange calls by operation and result.
	VenueRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltamaker_venue_requests_total",
		Help: "Exchange API calls by operation and result",
	}, []string{"op", "result"})

	// BacktestWindows counts simulated windows by result.
	BacktestWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltamaker_backtest_windows_total",
		Help: "Backtest windows processed, by result",
	}, []string{"result"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag into a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
