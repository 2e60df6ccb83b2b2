// Package risk implements the admission gate and circuit breaker consulted
// before every placement.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
	"github.com/alejandrodnm/deltamaker/internal/ports"
)

const (
	DefaultAlertCapacity = 100
	DefaultHistoryDays   = 30
)

// Admission check names, in evaluation order. Reasons start with them.
const (
	CheckKillSwitch    = "kill switch"
	CheckHalted        = "halted"
	CheckDailyLoss     = "daily loss limit"
	CheckPositionSize  = "position size cap"
	CheckMarketSize    = "market size cap"
	CheckPositionCount = "concurrent positions cap"
	CheckTotalNotional = "total notional cap"
)

// Config holds the risk limits. A zero limit disables that check.
type Config struct {
	DailyLossLimit         float64 // USDC, positive number
	MaxPositionSize        float64 // shares per leg
	MaxMarketSize          float64 // cumulative shares per market
	MaxConcurrentPositions int
	MaxTotalNotional       float64 // USDC
	MaxDeltaRatio          float64 // |delta| / total exposure before warning
	MaxExecutionFailures   int     // auto-halt after this many failures in a day
	AlertCapacity          int
	HistoryDays            int
}

// DefaultConfig returns conservative limits for a small account.
func DefaultConfig() Config {
	return Config{
		DailyLossLimit:         50,
		MaxPositionSize:        100,
		MaxMarketSize:          200,
		MaxConcurrentPositions: 5,
		MaxTotalNotional:       500,
		MaxDeltaRatio:          0.10,
		MaxExecutionFailures:   5,
		AlertCapacity:          DefaultAlertCapacity,
		HistoryDays:            DefaultHistoryDays,
	}
}

// Monitor owns RiskState. Every mutation is persisted before the method
// returns. Safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	state    domain.RiskState
	alerts   *alertRing
	halt     ports.HaltSource
	store    ports.RiskStateStore
	exposure ports.ExposureSource
	now      func() time.Time
}

// New creates a monitor with a fresh state. Call Restore to load the
// persisted state. halt, store and exposure may be nil.
func New(cfg Config, halt ports.HaltSource, store ports.RiskStateStore, exposure ports.ExposureSource) *Monitor {
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = DefaultAlertCapacity
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	m := &Monitor{
		cfg:      cfg,
		alerts:   newAlertRing(cfg.AlertCapacity),
		halt:     halt,
		store:    store,
		exposure: exposure,
		now:      time.Now,
	}
	m.state = domain.NewRiskState(m.now())
	return m
}

// Config returns the limits in use.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Restore loads the persisted state. A missing state is not an error.
// A state from a previous UTC day is rolled over immediately.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st, err := m.store.Load(ctx)
	if errors.Is(err, domain.ErrStateNotFound) {
		slog.Info("risk: no persisted state, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("risk.Restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st.MarketExposure == nil {
		st.MarketExposure = make(map[string]decimal.Decimal)
	}
	dropped := m.alerts.load(st.Alerts)
	st.DroppedAlerts += dropped
	m.state = st

	slog.Info("risk: state restored",
		"day", st.TradingDay,
		"daily_pnl", st.DailyPnL.StringFixed(2),
		"halted", st.Halted,
		"reason", st.HaltReason,
		"alerts", m.alerts.len(),
	)

	m.rolloverLocked()
	m.publishLocked()
	return m.persistLocked(ctx)
}

// ─── Admission ────────────────────────────────────────────────────────────

// CanOpenPosition runs the admission checks in order and returns the first
// failing one. The kill switch is read first and, when active or unreadable,
// the call returns without touching any state.
func (m *Monitor) CanOpenPosition(ctx context.Context, marketID string, size float64) (bool, string) {
	if ok, reason := m.checkKillSwitch(ctx); !ok {
		return m.deny(CheckKillSwitch, marketID, size, reason)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rolloverLocked() {
		m.persistOrLog(ctx)
	}
	st := &m.state

	if st.Halted {
		return m.deny(CheckHalted, marketID, size, fmt.Sprintf("%s: %s", CheckHalted, st.HaltReason))
	}
	if m.lossBreachedLocked() && !st.LossLimitOverridden {
		return m.deny(CheckDailyLoss, marketID, size, fmt.Sprintf("%s: daily pnl $%s <= -$%.2f",
			CheckDailyLoss, st.DailyPnL.StringFixed(2), m.cfg.DailyLossLimit))
	}
	if m.cfg.MaxPositionSize > 0 && size > m.cfg.MaxPositionSize {
		return m.deny(CheckPositionSize, marketID, size, fmt.Sprintf("%s: size %.2f > %.2f",
			CheckPositionSize, size, m.cfg.MaxPositionSize))
	}
	if m.cfg.MaxMarketSize > 0 {
		cur, _ := st.MarketExposure[marketID].Float64()
		if cur+size > m.cfg.MaxMarketSize {
			return m.deny(CheckMarketSize, marketID, size, fmt.Sprintf("%s: %s %.2f + %.2f > %.2f",
				CheckMarketSize, marketID, cur, size, m.cfg.MaxMarketSize))
		}
	}

	count, total := m.openExposureLocked()
	if m.cfg.MaxConcurrentPositions > 0 && count+1 > m.cfg.MaxConcurrentPositions {
		return m.deny(CheckPositionCount, marketID, size, fmt.Sprintf("%s: %d open, max %d",
			CheckPositionCount, count, m.cfg.MaxConcurrentPositions))
	}
	// size es cota superior del notional del par: yes_price + no_price ≤ 1.
	if m.cfg.MaxTotalNotional > 0 && total+size > m.cfg.MaxTotalNotional {
		return m.deny(CheckTotalNotional, marketID, size, fmt.Sprintf("%s: $%.2f + $%.2f > $%.2f",
			CheckTotalNotional, total, size, m.cfg.MaxTotalNotional))
	}
	return true, ""
}

func (m *Monitor) checkKillSwitch(ctx context.Context) (bool, string) {
	if m.halt == nil {
		return true, ""
	}
	halted, reason, err := m.halt.Halted(ctx)
	if err != nil {
		return false, fmt.Sprintf("%s unreadable: %v", CheckKillSwitch, err)
	}
	if halted {
		if reason == "" {
			reason = "no reason given"
		}
		return false, fmt.Sprintf("%s active: %s", CheckKillSwitch, reason)
	}
	return true, ""
}

func (m *Monitor) deny(check, marketID string, size float64, reason string) (bool, string) {
	metrics.AdmissionRejections.WithLabelValues(check).Inc()
	slog.Info("risk: position denied", "market", marketID, "size", size, "check", check, "reason", reason)
	return false, reason
}

// openExposureLocked reads count and notional from the ledger. Without a
// ledger it falls back to the per-market map.
func (m *Monitor) openExposureLocked() (int, float64) {
	if m.exposure != nil {
		e := m.exposure.Exposure()
		return e.Positions, e.Total
	}
	total := decimal.Zero
	count := 0
	for _, v := range m.state.MarketExposure {
		if v.IsPositive() {
			count++
			total = total.Add(v)
		}
	}
	f, _ := total.Float64()
	return count, f
}

func (m *Monitor) lossBreachedLocked() bool {
	if m.cfg.DailyLossLimit <= 0 {
		return false
	}
	limit := decimal.NewFromFloat(m.cfg.DailyLossLimit).Neg()
	return m.state.DailyPnL.LessThanOrEqual(limit)
}

// Halted reports whether trading must stop, from the kill switch or from
// the persisted halt flag.
func (m *Monitor) Halted(ctx context.Context) (bool, string) {
	if ok, reason := m.checkKillSwitch(ctx); !ok {
		return true, reason
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolloverLocked() {
		m.persistOrLog(ctx)
	}
	if m.state.Halted {
		return true, fmt.Sprintf("%s: %s", CheckHalted, m.state.HaltReason)
	}
	return false, ""
}

// ─── Recording ────────────────────────────────────────────────────────────

// RecordPositionOpened adds size to the market's open exposure.
func (m *Monitor) RecordPositionOpened(ctx context.Context, marketID string, size float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	cur := m.state.MarketExposure[marketID]
	m.state.MarketExposure[marketID] = cur.Add(decimal.NewFromFloat(size))
	return m.persistLocked(ctx)
}

// RecordPositionClosed removes size from the market's exposure and feeds
// pnl into the daily P&L.
func (m *Monitor) RecordPositionClosed(ctx context.Context, marketID string, size, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	left := m.state.MarketExposure[marketID].Sub(decimal.NewFromFloat(size))
	if left.IsPositive() {
		m.state.MarketExposure[marketID] = left
	} else {
		delete(m.state.MarketExposure, marketID)
	}
	m.recordPnLLocked(pnl)
	return m.persistLocked(ctx)
}

// RecordPnL accumulates realized P&L. Reaching -DailyLossLimit raises the
// halt flag; it stays raised until the next UTC day or ManualReset.
func (m *Monitor) RecordPnL(ctx context.Context, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.recordPnLLocked(amount)
	return m.persistLocked(ctx)
}

func (m *Monitor) recordPnLLocked(amount float64) {
	m.state.DailyPnL = m.state.DailyPnL.Add(decimal.NewFromFloat(amount))
	if !m.lossBreachedLocked() || m.state.Halted {
		return
	}
	if m.state.LossLimitOverridden && amount >= 0 {
		return
	}
	reason := fmt.Sprintf("daily loss $%s reached limit -$%.2f", m.state.DailyPnL.StringFixed(2), m.cfg.DailyLossLimit)
	m.haltLocked(domain.HaltDailyLoss, reason)
	m.alertLocked(domain.AlertCritical, "circuit_breaker", reason)
}

// RecordExecutionFailure counts a failed placement and logs an alert at the
// given level. Reaching MaxExecutionFailures in a day halts trading.
func (m *Monitor) RecordExecutionFailure(ctx context.Context, level domain.AlertLevel, category, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.state.ExecutionFailures++
	m.alertLocked(level, category, message)
	if m.cfg.MaxExecutionFailures > 0 && m.state.ExecutionFailures >= m.cfg.MaxExecutionFailures && !m.state.Halted {
		reason := fmt.Sprintf("%d execution failures today", m.state.ExecutionFailures)
		m.haltLocked(domain.HaltExecutionFailures, reason)
		m.alertLocked(domain.AlertCritical, "circuit_breaker", reason)
	}
	return m.persistLocked(ctx)
}

// RaiseCritical records a CRITICAL alert for operator attention.
func (m *Monitor) RaiseCritical(ctx context.Context, category, message string) error {
	return m.Alert(ctx, domain.AlertCritical, category, message)
}

// Alert records an alert at any level.
func (m *Monitor) Alert(ctx context.Context, level domain.AlertLevel, category, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.alertLocked(level, category, message)
	return m.persistLocked(ctx)
}

// CheckDelta warns when |delta| / totalExposure exceeds MaxDeltaRatio.
// It never blocks trading. Returns true when within threshold.
func (m *Monitor) CheckDelta(ctx context.Context, delta, totalExposure float64) bool {
	if m.cfg.MaxDeltaRatio <= 0 || delta == 0 {
		return true
	}
	ratio := math.Inf(1)
	if totalExposure > 0 {
		ratio = math.Abs(delta) / totalExposure
	}
	if ratio <= m.cfg.MaxDeltaRatio {
		return true
	}
	msg := fmt.Sprintf("delta %.2f is %.1f%% of exposure $%.2f (max %.1f%%)",
		delta, ratio*100, totalExposure, m.cfg.MaxDeltaRatio*100)
	if err := m.Alert(ctx, domain.AlertWarning, "delta", msg); err != nil {
		slog.Error("risk: persist state failed", "err", err)
	}
	return false
}

// Halt raises the halt flag by operator request. Only ManualReset clears it.
func (m *Monitor) Halt(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.haltLocked(domain.HaltManual, reason)
	m.alertLocked(domain.AlertCritical, "manual_halt", reason)
	return m.persistLocked(ctx)
}

// ManualReset clears the halt flag and the failure counter. If the daily
// loss is still beyond the limit, trading resumes but the next loss trips
// the breaker again.
func (m *Monitor) ManualReset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	prev := m.state.HaltReason
	m.state.Halted = false
	m.state.HaltKind = domain.HaltNone
	m.state.HaltReason = ""
	m.state.HaltedAt = time.Time{}
	m.state.ExecutionFailures = 0
	m.state.LossLimitOverridden = m.lossBreachedLocked()
	m.alertLocked(domain.AlertInfo, "manual_reset", fmt.Sprintf("halt cleared by operator (was: %s)", prev))
	return m.persistLocked(ctx)
}

func (m *Monitor) haltLocked(kind domain.HaltKind, reason string) {
	m.state.Halted = true
	m.state.HaltKind = kind
	m.state.HaltReason = reason
	m.state.HaltedAt = m.now().UTC()
	slog.Error("risk: trading halted", "kind", kind, "reason", reason)
}

func (m *Monitor) alertLocked(level domain.AlertLevel, category, message string) {
	a := domain.Alert{Level: level, Category: category, Message: message, Timestamp: m.now().UTC()}
	if m.alerts.push(a) {
		m.state.DroppedAlerts++
		metrics.AlertsDropped.Inc()
	}
	metrics.AlertsTotal.WithLabelValues(string(level)).Inc()

	switch level {
	case domain.AlertCritical:
		slog.Error("risk: CRITICAL alert", "category", category, "msg", message)
	case domain.AlertWarning:
		slog.Warn("risk: alert", "category", category, "msg", message)
	default:
		slog.Info("risk: alert", "category", category, "msg", message)
	}
}

// ─── Day rollover ─────────────────────────────────────────────────────────

// rolloverLocked closes the trading day when the UTC date changed.
// Returns true if it did.
func (m *Monitor) rolloverLocked() bool {
	today := domain.TradingDay(m.now())
	if m.state.TradingDay == today {
		return false
	}
	prev := m.state
	if prev.TradingDay != "" {
		m.state.History = append(m.state.History, domain.DailyRecord{
			Day:               prev.TradingDay,
			PnL:               prev.DailyPnL,
			ExecutionFailures: prev.ExecutionFailures,
			Halted:            prev.Halted,
			HaltReason:        prev.HaltReason,
		})
		if over := len(m.state.History) - m.cfg.HistoryDays; over > 0 {
			m.state.History = append([]domain.DailyRecord(nil), m.state.History[over:]...)
		}
	}

	m.state.TradingDay = today
	m.state.DailyPnL = decimal.Zero
	m.state.ExecutionFailures = 0
	m.state.LossLimitOverridden = false
	if m.state.Halted && m.state.HaltKind.AutoResets() {
		m.state.Halted = false
		m.state.HaltKind = domain.HaltNone
		m.state.HaltReason = ""
		m.state.HaltedAt = time.Time{}
	}
	m.alertLocked(domain.AlertInfo, "rollover",
		fmt.Sprintf("trading day %s closed with pnl $%s", prev.TradingDay, prev.DailyPnL.StringFixed(2)))
	return true
}

// ─── Persistence & views ──────────────────────────────────────────────────

func (m *Monitor) persistLocked(ctx context.Context) error {
	m.state.Alerts = m.alerts.snapshot()
	m.state.UpdatedAt = m.now().UTC()
	m.publishLocked()
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, m.state.Clone()); err != nil {
		return fmt.Errorf("risk: save state: %w", err)
	}
	return nil
}

func (m *Monitor) persistOrLog(ctx context.Context) {
	if err := m.persistLocked(ctx); err != nil {
		slog.Error("risk: persist state failed", "err", err)
	}
}

func (m *Monitor) publishLocked() {
	metrics.Halted.Set(metrics.BoolGauge(m.state.Halted))
	pnl, _ := m.state.DailyPnL.Float64()
	metrics.DailyPnL.Set(pnl)
}

// State returns a deep copy of the current state.
func (m *Monitor) State() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state.Clone()
	st.Alerts = m.alerts.snapshot()
	return st
}

// Alerts returns the alert log, oldest first.
func (m *Monitor) Alerts() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.snapshot()
}

// AlertsAfter returns the alerts raised after sequence seq and the sequence
// to pass on the next call. Start with 0.
func (m *Monitor) AlertsAfter(seq uint64) ([]domain.Alert, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.after(seq)
}

// DailyPnL returns the realized P&L of the current trading day.
func (m *Monitor) DailyPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DailyPnL
}
