package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// --- fakes ---

type fakeHalt struct {
	halted bool
	reason string
	err    error
}

func (f *fakeHalt) Halted(_ context.Context) (bool, string, error) {
	return f.halted, f.reason, f.err
}

type memStore struct {
	state *domain.RiskState
	saves int
	err   error
}

func (s *memStore) Load(_ context.Context) (domain.RiskState, error) {
	if s.state == nil {
		return domain.RiskState{}, domain.ErrStateNotFound
	}
	return s.state.Clone(), nil
}

func (s *memStore) Save(_ context.Context, st domain.RiskState) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	c := st.Clone()
	s.state = &c
	return nil
}

type fakeExposure struct{ e domain.Exposure }

func (f *fakeExposure) Exposure() domain.Exposure { return f.e }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	m     *Monitor
	halt  *fakeHalt
	store *memStore
	exp   *fakeExposure
	clk   *clock
}

func newHarness(cfg Config) *harness {
	h := &harness{halt: &fakeHalt{}, store: &memStore{}, exp: &fakeExposure{}, clk: &clock{t: day1}}
	h.m = New(cfg, h.halt, h.store, h.exp)
	h.m.now = h.clk.now
	h.m.state = domain.NewRiskState(day1)
	return h
}

var ctx = context.Background()

// --- admission ---

func TestCanOpenPosition_AllowsWithinLimits(t *testing.T) {
	h := newHarness(DefaultConfig())
	ok, reason := h.m.CanOpenPosition(ctx, "m1", 50)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCanOpenPosition_KillSwitchZeroMutation(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.halt.halted = true
	h.halt.reason = "operator"
	// un cambio de día pendiente tampoco debe aplicarse
	h.clk.t = day1.Add(48 * time.Hour)
	before := h.m.State()

	for i := 0; i < 5; i++ {
		ok, reason := h.m.CanOpenPosition(ctx, fmt.Sprintf("m%d", i), 1)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, "kill switch"), reason)
		assert.Contains(t, reason, "operator")
	}

	assert.Equal(t, before, h.m.State())
	assert.Equal(t, 0, h.store.saves)
}

func TestCanOpenPosition_KillSwitchUnreadableFailsClosed(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.halt.err = errors.New("permission denied")
	ok, reason := h.m.CanOpenPosition(ctx, "m1", 1)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, "kill switch"), reason)
	assert.Equal(t, 0, h.store.saves)
}

func TestCanOpenPosition_CheckOrder(t *testing.T) {
	cfg := Config{
		DailyLossLimit:         50,
		MaxPositionSize:        100,
		MaxMarketSize:          150,
		MaxConcurrentPositions: 2,
		MaxTotalNotional:       300,
	}

	t.Run("position size", func(t *testing.T) {
		h := newHarness(cfg)
		ok, reason := h.m.CanOpenPosition(ctx, "m1", 101)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckPositionSize), reason)
	})

	t.Run("market size", func(t *testing.T) {
		h := newHarness(cfg)
		require.NoError(t, h.m.RecordPositionOpened(ctx, "m1", 100))
		ok, reason := h.m.CanOpenPosition(ctx, "m1", 60)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckMarketSize), reason)
		ok, _ = h.m.CanOpenPosition(ctx, "m1", 50)
		assert.True(t, ok)
	})

	t.Run("concurrent positions", func(t *testing.T) {
		h := newHarness(cfg)
		h.exp.e = domain.Exposure{Positions: 2, Total: 10}
		ok, reason := h.m.CanOpenPosition(ctx, "m3", 10)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckPositionCount), reason)
	})

	t.Run("total notional", func(t *testing.T) {
		h := newHarness(cfg)
		h.exp.e = domain.Exposure{Positions: 1, Total: 250}
		ok, reason := h.m.CanOpenPosition(ctx, "m3", 60)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckTotalNotional), reason)
	})

	t.Run("daily loss beats size", func(t *testing.T) {
		h := newHarness(cfg)
		h.m.state.DailyPnL = decimal.NewFromInt(-60)
		ok, reason := h.m.CanOpenPosition(ctx, "m1", 1000)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckDailyLoss), reason)
	})

	t.Run("halt beats everything but kill switch", func(t *testing.T) {
		h := newHarness(cfg)
		require.NoError(t, h.m.Halt(ctx, "maintenance"))
		h.m.state.DailyPnL = decimal.NewFromInt(-60)
		ok, reason := h.m.CanOpenPosition(ctx, "m1", 1000)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, CheckHalted), reason)

		h.halt.halted = true
		_, reason = h.m.CanOpenPosition(ctx, "m1", 1000)
		assert.True(t, strings.HasPrefix(reason, CheckKillSwitch), reason)
	})
}

func TestCanOpenPosition_FallsBackToExposureMap(t *testing.T) {
	cfg := Config{MaxConcurrentPositions: 1}
	h := newHarness(cfg)
	h.m.exposure = nil
	require.NoError(t, h.m.RecordPositionOpened(ctx, "m1", 10))

	ok, reason := h.m.CanOpenPosition(ctx, "m2", 10)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, CheckPositionCount), reason)

	require.NoError(t, h.m.RecordPositionClosed(ctx, "m1", 10, 0))
	ok, _ = h.m.CanOpenPosition(ctx, "m2", 10)
	assert.True(t, ok)
}

// --- circuit breaker ---

func TestDailyLossBreaker_BlocksUntilRollover(t *testing.T) {
	h := newHarness(DefaultConfig())

	require.NoError(t, h.m.RecordPnL(ctx, -30))
	ok, _ := h.m.CanOpenPosition(ctx, "m1", 10)
	assert.True(t, ok)

	require.NoError(t, h.m.RecordPnL(ctx, -20)) // −50 = −limit
	halted, _ := h.m.Halted(ctx)
	assert.True(t, halted)

	// una ganancia posterior no rearma el breaker
	require.NoError(t, h.m.RecordPnL(ctx, 40))
	for i := 0; i < 20; i++ {
		ok, reason := h.m.CanOpenPosition(ctx, fmt.Sprintf("m%d", i), float64(i+1))
		assert.False(t, ok)
		assert.NotEmpty(t, reason)
	}

	h.clk.t = day1.Add(24 * time.Hour)
	ok, reason := h.m.CanOpenPosition(ctx, "m1", 10)
	assert.True(t, ok, reason)

	st := h.m.State()
	assert.True(t, st.DailyPnL.IsZero())
	require.Len(t, st.History, 1)
	assert.Equal(t, "2026-03-01", st.History[0].Day)
	assert.True(t, st.History[0].Halted)
	assert.Equal(t, "-10", st.History[0].PnL.String())
}

func TestDailyLossBreaker_ManualReset(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.RecordPnL(ctx, -60))
	ok, _ := h.m.CanOpenPosition(ctx, "m1", 10)
	require.False(t, ok)

	require.NoError(t, h.m.ManualReset(ctx))
	ok, reason := h.m.CanOpenPosition(ctx, "m1", 10)
	assert.True(t, ok, reason)

	require.NoError(t, h.m.RecordPnL(ctx, 5))
	ok, _ = h.m.CanOpenPosition(ctx, "m1", 10)
	assert.True(t, ok, "a gain after reset does not re-trip")

	require.NoError(t, h.m.RecordPnL(ctx, -1))
	ok, reason = h.m.CanOpenPosition(ctx, "m1", 10)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, CheckHalted), reason)
}

func TestManualHalt_SurvivesRollover(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.Halt(ctx, "venue incident"))

	h.clk.t = day1.Add(24 * time.Hour)
	halted, reason := h.m.Halted(ctx)
	assert.True(t, halted)
	assert.Contains(t, reason, "venue incident")

	require.NoError(t, h.m.ManualReset(ctx))
	halted, _ = h.m.Halted(ctx)
	assert.False(t, halted)
}

func TestExecutionFailures_AutoHalt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExecutionFailures = 2
	h := newHarness(cfg)

	require.NoError(t, h.m.RecordExecutionFailure(ctx, domain.AlertWarning, "submit", "timeout"))
	halted, _ := h.m.Halted(ctx)
	assert.False(t, halted)

	require.NoError(t, h.m.RecordExecutionFailure(ctx, domain.AlertCritical, "orphan", "cancel failed"))
	halted, reason := h.m.Halted(ctx)
	assert.True(t, halted)
	assert.Contains(t, reason, "execution failures")

	h.clk.t = day1.Add(24 * time.Hour)
	halted, _ = h.m.Halted(ctx)
	assert.False(t, halted)
	assert.Equal(t, 0, h.m.State().ExecutionFailures)
}

func TestRecordPositionClosed_FeedsPnL(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.RecordPositionOpened(ctx, "m1", 100))
	require.NoError(t, h.m.RecordPositionClosed(ctx, "m1", 100, 10))

	st := h.m.State()
	assert.Equal(t, "10", st.DailyPnL.String())
	assert.NotContains(t, st.MarketExposure, "m1")
}

// --- alerts ---

func TestCheckDelta_WarnsButDoesNotBlock(t *testing.T) {
	h := newHarness(DefaultConfig())
	assert.True(t, h.m.CheckDelta(ctx, 5, 100))
	assert.True(t, h.m.CheckDelta(ctx, 0, 0))
	assert.False(t, h.m.CheckDelta(ctx, 20, 100))
	assert.False(t, h.m.CheckDelta(ctx, 1, 0))

	alerts := h.m.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.AlertWarning, alerts[0].Level)
	assert.Equal(t, "delta", alerts[0].Category)

	ok, _ := h.m.CanOpenPosition(ctx, "m1", 10)
	assert.True(t, ok)
}

func TestAlertRing_DropsOldestAndCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertCapacity = 3
	h := newHarness(cfg)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.m.Alert(ctx, domain.AlertWarning, "test", fmt.Sprintf("a%d", i)))
	}
	alerts := h.m.Alerts()
	require.Len(t, alerts, 3)
	assert.Equal(t, "a2", alerts[0].Message)
	assert.Equal(t, "a4", alerts[2].Message)
	assert.Equal(t, 2, h.m.State().DroppedAlerts)
}

func TestAlertsAfter(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.Alert(ctx, domain.AlertInfo, "x", "old"))

	got, seq := h.m.AlertsAfter(0)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), seq)

	// Same timestamp as the alert already read.
	require.NoError(t, h.m.Alert(ctx, domain.AlertInfo, "x", "new"))
	require.NoError(t, h.m.Alert(ctx, domain.AlertWarning, "x", "newer"))
	got, seq = h.m.AlertsAfter(seq)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Message)
	assert.Equal(t, "newer", got[1].Message)

	got, seq2 := h.m.AlertsAfter(seq)
	assert.Empty(t, got)
	assert.Equal(t, seq, seq2)
}

func TestAlertsAfter_SkipsEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertCapacity = 2
	h := newHarness(cfg)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.m.Alert(ctx, domain.AlertInfo, "x", fmt.Sprintf("a%d", i)))
	}
	got, seq := h.m.AlertsAfter(1)
	require.Len(t, got, 2)
	assert.Equal(t, "a3", got[0].Message)
	assert.Equal(t, uint64(5), seq)
}

// --- persistence ---

func TestPersistsAfterEveryMutation(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.RecordPositionOpened(ctx, "m1", 10))
	require.NoError(t, h.m.RecordPnL(ctx, -1))
	require.NoError(t, h.m.Alert(ctx, domain.AlertInfo, "x", "y"))
	assert.Equal(t, 3, h.store.saves)
	assert.Equal(t, "-1", h.store.state.DailyPnL.String())
}

func TestSaveErrorIsReturned(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.store.err = errors.New("disk full")
	err := h.m.RecordPnL(ctx, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRestore_SameDay(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.RecordPnL(ctx, -60))
	require.NoError(t, h.m.RecordPositionOpened(ctx, "m1", 10))

	m2 := New(DefaultConfig(), h.halt, h.store, h.exp)
	m2.now = h.clk.now
	require.NoError(t, m2.Restore(ctx))

	halted, reason := m2.Halted(ctx)
	assert.True(t, halted, "breaker memory must survive restart")
	assert.Contains(t, reason, "daily loss")
	assert.Equal(t, "10", m2.State().MarketExposure["m1"].String())
	assert.Equal(t, len(h.m.Alerts()), len(m2.Alerts()))
}

func TestRestore_PreviousDayRollsOver(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.RecordPnL(ctx, -60))

	m2 := New(DefaultConfig(), h.halt, h.store, h.exp)
	m2.now = func() time.Time { return day1.Add(25 * time.Hour) }
	require.NoError(t, m2.Restore(ctx))

	halted, _ := m2.Halted(ctx)
	assert.False(t, halted)
	st := m2.State()
	assert.Equal(t, "2026-03-02", st.TradingDay)
	require.Len(t, st.History, 1)
	assert.Equal(t, "-60", st.History[0].PnL.String())
}

func TestRestore_NothingSaved(t *testing.T) {
	h := newHarness(DefaultConfig())
	require.NoError(t, h.m.Restore(ctx))
	assert.Equal(t, 0, h.store.saves)
}

func TestHistory_Bounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryDays = 3
	h := newHarness(cfg)
	for d := 1; d <= 6; d++ {
		h.clk.t = day1.Add(time.Duration(d) * 24 * time.Hour)
		require.NoError(t, h.m.RecordPnL(ctx, 1))
	}
	st := h.m.State()
	require.Len(t, st.History, 3)
	assert.Equal(t, "2026-03-04", st.History[0].Day)
	assert.Equal(t, "2026-03-06", st.History[2].Day)
}
