package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/deltamaker/internal/adapters/exchange"
	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/executor"
	"github.com/alejandrodnm/deltamaker/internal/ledger"
	"github.com/alejandrodnm/deltamaker/internal/risk"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeMarkets struct {
	markets []domain.Market
	err     error
}

func (f *fakeMarkets) FetchActiveMarkets(_ context.Context) ([]domain.Market, error) {
	return f.markets, f.err
}

type fakeBooks struct {
	books map[string]domain.OrderBook
	calls int
}

func (f *fakeBooks) FetchOrderBooks(_ context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	f.calls++
	out := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		if b, ok := f.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

type fakeResolutions struct {
	resolved map[string]domain.Outcome
	err      error
}

func (f *fakeResolutions) Resolution(_ context.Context, marketID string) (domain.Outcome, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	o, ok := f.resolved[marketID]
	return o, ok, nil
}

type fakeHalt struct {
	halted bool
}

func (f *fakeHalt) Halted(_ context.Context) (bool, string, error) {
	return f.halted, "operator stop", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (f *fakeNotifier) NotifyAlerts(_ context.Context, alerts []domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alerts...)
	return nil
}

// --- helpers ---

func market(id string, endIn time.Duration) domain.Market {
	return domain.Market{
		ConditionID: id,
		Question:    "BTC up or down " + id,
		EndDate:     now.Add(endIn),
		Active:      true,
		Tokens: [2]domain.Token{
			{TokenID: id + "-yes", Outcome: "Yes"},
			{TokenID: id + "-no", Outcome: "No"},
		},
	}
}

func book(id string, bid, ask float64) domain.OrderBook {
	return domain.OrderBook{
		TokenID: id,
		Bids:    []domain.BookEntry{{Price: bid, Size: 500}},
		Asks:    []domain.BookEntry{{Price: ask, Size: 500}},
	}
}

// wideBooks quotes mid 0.50 with a 0.04 spread on both sides.
func wideBooks(ids ...string) map[string]domain.OrderBook {
	out := make(map[string]domain.OrderBook)
	for _, id := range ids {
		out[id+"-yes"] = book(id+"-yes", 0.48, 0.52)
		out[id+"-no"] = book(id+"-no", 0.48, 0.52)
	}
	return out
}

type harness struct {
	engine  *Engine
	venue   *exchange.DryRun
	ledger  *ledger.Tracker
	risk    *risk.Monitor
	halt    *fakeHalt
	markets *fakeMarkets
	books   *fakeBooks
	res     *fakeResolutions
	notify  *fakeNotifier
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		venue:   exchange.NewDryRun(10_000),
		ledger:  ledger.NewTracker(0.10),
		halt:    &fakeHalt{},
		markets: &fakeMarkets{},
		books:   &fakeBooks{books: map[string]domain.OrderBook{}},
		res:     &fakeResolutions{resolved: map[string]domain.Outcome{}},
		notify:  &fakeNotifier{},
	}
	h.risk = risk.New(risk.DefaultConfig(), h.halt, nil, h.ledger)

	execCfg := executor.DefaultConfig()
	execCfg.FillCheckDelay = 0
	exec := executor.New(execCfg, h.venue, h.risk, h.ledger, h.venue, nil)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg, Sources{
		Markets:     h.markets,
		Books:       h.books,
		Resolutions: h.res,
		Positions:   h.venue,
		Notifier:    h.notify,
	}, exec, h.ledger, h.risk)
	require.NoError(t, err)
	eng.now = func() time.Time { return now }
	h.engine = eng
	return h
}

// --- tests ---

func TestNew_Validation(t *testing.T) {
	src := Sources{Markets: &fakeMarkets{}, Books: &fakeBooks{}, Resolutions: &fakeResolutions{}}
	tracker := ledger.NewTracker(0.1)
	mon := risk.New(risk.DefaultConfig(), nil, nil, tracker)
	exec := executor.New(executor.DefaultConfig(), exchange.NewDryRun(0), mon, tracker, nil, nil)

	_, err := New(Config{PositionSize: 0}, src, exec, tracker, mon)
	assert.Error(t, err)

	_, err = New(Config{PositionSize: 10, Strategy: "nope"}, src, exec, tracker, mon)
	assert.Error(t, err)

	_, err = New(Config{PositionSize: 10}, Sources{}, exec, tracker, mon)
	assert.Error(t, err)

	_, err = New(Config{PositionSize: 10}, src, nil, tracker, mon)
	assert.Error(t, err)

	eng, err := New(Config{PositionSize: 10}, src, exec, tracker, mon)
	require.NoError(t, err)
	assert.Equal(t, "mid_offset", eng.Config().Strategy)
	assert.Equal(t, defaultInterval, eng.Config().Interval)
}

func TestRunOnce_PlacesEligibleMarkets(t *testing.T) {
	h := newHarness(t, nil)
	h.markets.markets = []domain.Market{market("m1", 10*time.Minute), market("m2", 5*time.Minute)}
	h.books.books = wideBooks("m1", "m2")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Halted)
	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Eligible)
	assert.Equal(t, 2, res.Filled)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Placements, 2)
	// Soonest resolution goes first.
	assert.Equal(t, "m2", res.Placements[0].Request.MarketID)
	assert.InDelta(t, 0.49, res.Placements[0].Request.YesPrice, 1e-9)
	assert.InDelta(t, 0.49, res.Placements[0].Request.NoPrice, 1e-9)

	assert.True(t, h.ledger.Has("m1"))
	assert.True(t, h.ledger.Has("m2"))
	assert.Equal(t, 2, res.Exposure.Positions)
	assert.InDelta(t, 0, res.Exposure.Delta, 1e-9)
	assert.False(t, res.DeltaBreach)
	require.NotNil(t, res.Reconcile)
	assert.True(t, res.Reconcile.InSync())
	assert.Equal(t, 4, h.venue.Orders())
}

func TestRunOnce_OnePlacementPerMarket(t *testing.T) {
	h := newHarness(t, nil)
	m := market("m1", 10*time.Minute)
	h.markets.markets = []domain.Market{m, m}
	h.books.books = wideBooks("m1")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Placements, 1)

	// Held markets are not quoted again.
	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Placements)
	assert.Equal(t, 2, h.venue.Orders())
}

func TestRunOnce_EntryFilters(t *testing.T) {
	h := newHarness(t, nil)
	h.markets.markets = []domain.Market{
		market("late", 30*time.Second),
		market("tight", 10*time.Minute),
		market("nobook", 10*time.Minute),
	}
	h.books.books = map[string]domain.OrderBook{
		"late-yes":  book("late-yes", 0.48, 0.52),
		"late-no":   book("late-no", 0.48, 0.52),
		"tight-yes": book("tight-yes", 0.50, 0.51),
		"tight-no":  book("tight-no", 0.49, 0.50),
	}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Placements)
	assert.Zero(t, res.Eligible)
	assert.Equal(t, 1, res.Skips[domain.SkipSpreadTooTight])
	assert.Equal(t, 1, res.Skips[domain.SkipNoQuote])
	assert.Zero(t, h.venue.Orders())
}

func TestRunOnce_MaxNewPerCycle(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxNewPerCycle = 1 })
	h.markets.markets = []domain.Market{market("m1", 10*time.Minute), market("m2", 11*time.Minute)}
	h.books.books = wideBooks("m1", "m2")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Eligible)
	assert.Len(t, res.Placements, 1)
}

func TestRunOnce_HaltedSkipsCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.halt.halted = true
	h.markets.markets = []domain.Market{market("m1", 10*time.Minute)}
	h.books.books = wideBooks("m1")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, "operator stop")
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "HALTED")
	assert.Zero(t, h.books.calls)
	assert.Zero(t, h.venue.Orders())
}

func TestRunOnce_ResolvesPositions(t *testing.T) {
	h := newHarness(t, nil)
	h.markets.markets = []domain.Market{market("m1", 10*time.Minute)}
	h.books.books = wideBooks("m1")

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, h.ledger.Has("m1"))

	h.markets.markets = nil
	h.res.resolved["m1"] = domain.OutcomeYes
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Resolved)
	// 100 shares each side at 0.49: payout 100, cost 98.
	assert.InDelta(t, 2.0, res.RealizedPnL, 1e-9)
	assert.False(t, h.ledger.Has("m1"))
	assert.NotContains(t, h.risk.State().MarketExposure, "m1")
	assert.InDelta(t, 2.0, h.risk.DailyPnL().InexactFloat64(), 1e-9)

	// The dry-run venue dropped the market too, so reconciliation is clean.
	require.NotNil(t, res.Reconcile)
	assert.True(t, res.Reconcile.InSync())
}

func TestRunOnce_ResolutionErrorKeepsPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.markets.markets = []domain.Market{market("m1", 10*time.Minute)}
	h.books.books = wideBooks("m1")
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	h.res.err = errors.New("gamma down")
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Resolved)
	assert.True(t, h.ledger.Has("m1"))
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "gamma down")
}

func TestRunOnce_DiscoveryError(t *testing.T) {
	h := newHarness(t, nil)
	h.markets.err = errors.New("timeout")

	_, err := h.engine.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery")
}

func TestRunOnce_ReconcileDriftRaisesAlert(t *testing.T) {
	h := newHarness(t, nil)
	// A position the venue never saw.
	_, err := h.ledger.AddPosition("ghost", 10, 10, 0.45, 0.45)
	require.NoError(t, err)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.Reconcile)
	assert.False(t, res.Reconcile.InSync())
	assert.Equal(t, []string{"ghost"}, res.Reconcile.MissingExternally)

	require.NotEmpty(t, res.Alerts)
	last := res.Alerts[len(res.Alerts)-1]
	assert.Equal(t, domain.AlertWarning, last.Level)
	assert.Equal(t, "reconcile_drift", last.Category)

	h.notify.mu.Lock()
	assert.NotEmpty(t, h.notify.alerts)
	h.notify.mu.Unlock()
}

func TestRunOnce_UntrackedVenuePositionIsCritical(t *testing.T) {
	h := newHarness(t, nil)
	h.venue.Hold(domain.ExternalPosition{MarketID: "orphan", YesSize: 20})

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.Reconcile)
	require.Len(t, res.Reconcile.MissingLocally, 1)

	var critical []domain.Alert
	for _, a := range res.Alerts {
		if a.Level == domain.AlertCritical {
			critical = append(critical, a)
		}
	}
	require.Len(t, critical, 1)
	assert.Equal(t, "untracked_position", critical[0].Category)
	assert.Contains(t, critical[0].Message, "orphan")
}

func TestRunOnce_ReconcileDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Reconcile = false })
	_, err := h.ledger.AddPosition("ghost", 10, 10, 0.45, 0.45)
	require.NoError(t, err)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Reconcile)
}

func TestRunOnce_SuggestsRebalance(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Reconcile = false })
	_, err := h.ledger.AddPosition("skew", 100, 50, 0.45, 0.45)
	require.NoError(t, err)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.Rebalance)
	assert.Equal(t, ledger.DirectionReduceYes, res.Rebalance.Direction)
	// total 67.5, threshold 6.75, delta 50
	assert.InDelta(t, 43.25, res.Rebalance.Size, 1e-9)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "rebalance suggested: REDUCE_YES_OR_INCREASE_NO 43.25")

	var categories []string
	for _, a := range res.Alerts {
		categories = append(categories, a.Category)
	}
	assert.Contains(t, categories, "rebalance")
}

func TestRunOnce_BalancedLedgerHasNoRebalance(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Reconcile = false })
	_, err := h.ledger.AddPosition("even", 100, 100, 0.45, 0.45)
	require.NoError(t, err)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Rebalance)
}

func TestRunOnce_AlertsWithSameTimestampAreForwarded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.risk.Alert(ctx, domain.AlertInfo, "test", "first"))

	res, err := h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	// Raised right after the flush, possibly within the same clock tick.
	require.NoError(t, h.risk.Alert(ctx, domain.AlertInfo, "test", "second"))
	require.NoError(t, h.risk.Alert(ctx, domain.AlertInfo, "test", "third"))

	res, err = h.engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, "second", res.Alerts[0].Message)
	assert.Equal(t, "third", res.Alerts[1].Message)
}

func TestRunOnce_AlertsForwardedOnce(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.risk.Alert(context.Background(), domain.AlertInfo, "test", "hello"))

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 1)

	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)

	h.notify.mu.Lock()
	defer h.notify.mu.Unlock()
	assert.Len(t, h.notify.alerts, 1)
}
