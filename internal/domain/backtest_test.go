package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_NormalizeDerivesNoSide(t *testing.T) {
	s := Snapshot{YesBid: 0.48, YesAsk: 0.52}.Normalize()
	assert.InDelta(t, 0.48, s.NoBid, 1e-9)
	assert.InDelta(t, 0.52, s.NoAsk, 1e-9)
	assert.InDelta(t, 0.50, s.YesMid(), 1e-9)
	assert.InDelta(t, 0.04, s.YesSpread(), 1e-9)
}

func TestSnapshot_NormalizeKeepsExplicitNoSide(t *testing.T) {
	s := Snapshot{YesBid: 0.48, YesAsk: 0.52, NoBid: 0.40, NoAsk: 0.60}.Normalize()
	assert.Equal(t, 0.40, s.NoBid)
	assert.Equal(t, 0.60, s.NoAsk)
}

func TestMarketWindow_Validate(t *testing.T) {
	good := MarketWindow{
		MarketID: "m",
		Outcome:  OutcomeYes,
		Snapshots: []Snapshot{
			{Timestamp: t0, YesBid: 0.4, YesAsk: 0.6},
			{Timestamp: t0.Add(time.Minute), YesBid: 0.4, YesAsk: 0.6},
		},
	}
	assert.NoError(t, good.Validate())

	cases := map[string]func(w *MarketWindow){
		"no snapshots":    func(w *MarketWindow) { w.Snapshots = nil },
		"bad outcome":     func(w *MarketWindow) { w.Outcome = "MAYBE" },
		"empty id":        func(w *MarketWindow) { w.MarketID = "" },
		"time backwards":  func(w *MarketWindow) { w.Snapshots[1].Timestamp = t0.Add(-time.Second) },
		"price above one": func(w *MarketWindow) { w.Snapshots[0].YesAsk = 1.5 },
		"crossed book":    func(w *MarketWindow) { w.Snapshots[0].YesBid = 0.7 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := good
			w.Snapshots = append([]Snapshot(nil), good.Snapshots...)
			mutate(&w)
			err := w.Validate()
			assert.True(t, errors.Is(err, ErrInvalidWindow), "got %v", err)
		})
	}
}
