package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertLevel is the severity of a risk alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one entry of the risk monitor's bounded alert log.
type Alert struct {
	Level     AlertLevel
	Category  string
	Message   string
	Timestamp time.Time
}

// HaltKind records who raised the halt flag. Only the automatic breakers
// are cleared by a UTC day rollover; manual halts need ManualReset.
type HaltKind string

const (
	HaltNone              HaltKind = ""
	HaltDailyLoss         HaltKind = "daily_loss"
	HaltExecutionFailures HaltKind = "execution_failures"
	HaltManual            HaltKind = "manual"
)

// AutoResets returns true for halts cleared by a new trading day.
func (k HaltKind) AutoResets() bool {
	return k == HaltDailyLoss || k == HaltExecutionFailures
}

// TradingDayLayout formats RiskState.TradingDay.
const TradingDayLayout = "2006-01-02"

// TradingDay returns the UTC calendar day of t.
func TradingDay(t time.Time) string {
	return t.UTC().Format(TradingDayLayout)
}

// DailyRecord is a closed trading day carried into the history list.
type DailyRecord struct {
	Day               string
	PnL               decimal.Decimal
	ExecutionFailures int
	Halted            bool
	HaltReason        string
}

// RiskState es el estado del risk monitor que sobrevive reinicios.
// MarketExposure guarda el tamaño abierto por mercado; el número
// de posiciones y el notional total se leen siempre del ledger.
type RiskState struct {
	TradingDay          string
	DailyPnL            decimal.Decimal
	MarketExposure      map[string]decimal.Decimal
	ExecutionFailures   int
	Halted              bool
	HaltKind            HaltKind
	HaltReason          string
	HaltedAt            time.Time
	// LossLimitOverridden lo activa ManualReset con la pérdida diaria ya por
	// debajo del límite; cualquier pérdida nueva vuelve a disparar el breaker.
	LossLimitOverridden bool
	Alerts              []Alert       // oldest first
	DroppedAlerts       int
	History             []DailyRecord // oldest first
	UpdatedAt           time.Time
}

// NewRiskState returns a fresh state for the trading day of now.
func NewRiskState(now time.Time) RiskState {
	return RiskState{
		TradingDay:     TradingDay(now),
		DailyPnL:       decimal.Zero,
		MarketExposure: make(map[string]decimal.Decimal),
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy safe to hand out of the monitor's lock.
func (s RiskState) Clone() RiskState {
	c := s
	c.MarketExposure = make(map[string]decimal.Decimal, len(s.MarketExposure))
	for k, v := range s.MarketExposure {
		c.MarketExposure[k] = v
	}
	c.Alerts = append([]Alert(nil), s.Alerts...)
	c.History = append([]DailyRecord(nil), s.History...)
	return c
}
