package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/ledger"
	"github.com/alejandrodnm/deltamaker/internal/risk"
)

type fakeStore struct {
	placements []domain.PlacementResult
	err        error
}

func (f *fakeStore) SavePlacement(_ context.Context, r domain.PlacementResult) error {
	f.placements = append(f.placements, r)
	return nil
}

func (f *fakeStore) ListPlacements(_ context.Context, _, _ time.Time) ([]domain.PlacementResult, error) {
	return f.placements, f.err
}

func filledPlacement(market string, yes, no float64) domain.PlacementResult {
	return domain.PlacementResult{
		ID:        "p-" + market,
		Request:   domain.PlacementRequest{MarketID: market, Size: 100, YesPrice: 0.45, NoPrice: 0.50},
		State:     domain.StateFilled,
		Outcome:   domain.OutcomeFilled,
		YesFilled: yes,
		NoFilled:  no,
	}
}

func TestRecoverLedger(t *testing.T) {
	store := &fakeStore{placements: []domain.PlacementResult{
		filledPlacement("open", 100, 100),
		filledPlacement("resolved", 100, 100),
		{ID: "p-fail", Request: domain.PlacementRequest{MarketID: "failed"}, Outcome: domain.OutcomeYesFailed},
		// An older duplicate of a market already recovered is ignored.
		filledPlacement("open", 50, 50),
	}}
	res := &fakeResolutions{resolved: map[string]domain.Outcome{"resolved": domain.OutcomeNo}}
	tracker := ledger.NewTracker(0.1)
	mon := risk.New(risk.DefaultConfig(), nil, nil, tracker)

	got, err := RecoverLedger(context.Background(), store, res, tracker, mon, now.Add(-24*time.Hour))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].MarketID)
	assert.Equal(t, 100.0, got[0].YesSize)
	assert.InDelta(t, 95.0, got[0].TotalCost, 1e-9)
	assert.Equal(t, 1, tracker.Count())
	assert.False(t, tracker.Has("resolved"))
	assert.False(t, tracker.Has("failed"))
	// "resolved" was not open in the risk state, so nothing is realized.
	assert.True(t, mon.DailyPnL().IsZero())
}

func TestRecoverLedger_SettlesMarketsResolvedWhileStopped(t *testing.T) {
	ctx := context.Background()
	tracker := ledger.NewTracker(0.1)
	mon := risk.New(risk.DefaultConfig(), nil, nil, tracker)
	require.NoError(t, mon.RecordPositionOpened(ctx, "lost", 100))
	require.NoError(t, mon.RecordPositionOpened(ctx, "open", 100))

	store := &fakeStore{placements: []domain.PlacementResult{
		filledPlacement("open", 100, 100),
		// YES 100 @ 0.45 + NO 10 @ 0.50 = $50 cost, NO pays $10.
		filledPlacement("lost", 100, 10),
	}}
	res := &fakeResolutions{resolved: map[string]domain.Outcome{"lost": domain.OutcomeNo}}

	got, err := RecoverLedger(ctx, store, res, tracker, mon, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].MarketID)

	st := mon.State()
	assert.NotContains(t, st.MarketExposure, "lost")
	assert.Contains(t, st.MarketExposure, "open")
	assert.InDelta(t, -40, mon.DailyPnL().InexactFloat64(), 1e-9)

	// A second restart does not realize the same market again.
	tracker = ledger.NewTracker(0.1)
	_, err = RecoverLedger(ctx, store, res, tracker, mon, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, -40, mon.DailyPnL().InexactFloat64(), 1e-9)
}

func TestRecoverLedger_Errors(t *testing.T) {
	tracker := ledger.NewTracker(0.1)
	mon := risk.New(risk.DefaultConfig(), nil, nil, tracker)

	_, err := RecoverLedger(context.Background(), &fakeStore{err: errors.New("disk")},
		&fakeResolutions{}, tracker, mon, now)
	assert.Error(t, err)

	store := &fakeStore{placements: []domain.PlacementResult{filledPlacement("m1", 10, 10)}}
	_, err = RecoverLedger(context.Background(), store,
		&fakeResolutions{err: errors.New("gamma down")}, tracker, mon, now)
	assert.Error(t, err)
	assert.Zero(t, tracker.Count())
}
