package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/deltamaker/internal/adapters/storage"
	"github.com/alejandrodnm/deltamaker/internal/domain"
)

func TestRiskFile_LoadMissing(t *testing.T) {
	f := storage.NewRiskFile(filepath.Join(t.TempDir(), "risk.yaml"))

	_, err := f.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestRiskFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "risk.yaml")
	f := storage.NewRiskFile(path)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	st := domain.NewRiskState(now)
	st.DailyPnL = decimal.RequireFromString("-12.3456789")
	st.MarketExposure["0xbbb"] = decimal.NewFromInt(50)
	st.MarketExposure["0xaaa"] = decimal.RequireFromString("12.5")
	st.ExecutionFailures = 2
	st.Halted = true
	st.HaltKind = domain.HaltManual
	st.HaltReason = "operator"
	st.HaltedAt = now
	st.DroppedAlerts = 3
	st.Alerts = []domain.Alert{{Level: domain.AlertCritical, Category: "execution", Message: "orphan", Timestamp: now}}
	st.History = []domain.DailyRecord{{Day: "2026-02-28", PnL: decimal.RequireFromString("4.2"), ExecutionFailures: 1}}

	require.NoError(t, f.Save(ctx, st))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.TradingDay, got.TradingDay)
	assert.True(t, st.DailyPnL.Equal(got.DailyPnL), "pnl %s", got.DailyPnL)
	require.Len(t, got.MarketExposure, 2)
	assert.True(t, got.MarketExposure["0xaaa"].Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 2, got.ExecutionFailures)
	assert.True(t, got.Halted)
	assert.Equal(t, domain.HaltManual, got.HaltKind)
	assert.Equal(t, now, got.HaltedAt)
	assert.Equal(t, 3, got.DroppedAlerts)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, domain.AlertCritical, got.Alerts[0].Level)
	require.Len(t, got.History, 1)
	assert.True(t, got.History[0].PnL.Equal(decimal.RequireFromString("4.2")))

	// Sin restos de ficheros temporales
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRiskFile_SaveOverwrites(t *testing.T) {
	f := storage.NewRiskFile(filepath.Join(t.TempDir(), "risk.yaml"))
	ctx := context.Background()
	now := time.Now().UTC()

	first := domain.NewRiskState(now)
	first.DailyPnL = decimal.NewFromInt(-10)
	require.NoError(t, f.Save(ctx, first))

	second := domain.NewRiskState(now)
	second.DailyPnL = decimal.NewFromInt(5)
	require.NoError(t, f.Save(ctx, second))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.DailyPnL.Equal(decimal.NewFromInt(5)))
	assert.False(t, got.Halted)
	assert.NotNil(t, got.MarketExposure)
}

func TestRiskFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daily_pnl: not-a-number\n"), 0o644))

	_, err := storage.NewRiskFile(path).Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStateNotFound)
}

func TestHaltFile(t *testing.T) {
	h := storage.NewHaltFile(filepath.Join(t.TempDir(), "HALT"))
	ctx := context.Background()

	halted, _, err := h.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, h.Set("maintenance window"))
	halted, reason, err := h.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, "maintenance window", reason)

	require.NoError(t, h.Clear())
	require.NoError(t, h.Clear())
	halted, _, err = h.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)
}

func TestHaltFile_EmptyFileStillHalts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HALT")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	halted, reason, err := storage.NewHaltFile(path).Halted(context.Background())
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, storage.DefaultHaltReason, reason)
}
