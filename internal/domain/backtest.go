package domain

import (
	"fmt"
	"time"
)

// Snapshot es el top of book de ambos lados en un instante.
// Depth es el tamaño en el mejor bid de cada lado (shares), 0 si se desconoce.
type Snapshot struct {
	Timestamp   time.Time
	YesBid      float64
	YesAsk      float64
	NoBid       float64
	NoAsk       float64
	YesBidDepth float64
	NoBidDepth  float64
}

// Normalize deriva el lado NO del YES cuando falta: en un mercado binario
// comprar NO a p equivale a vender YES a 1−p.
func (s Snapshot) Normalize() Snapshot {
	if s.NoBid == 0 && s.NoAsk == 0 {
		if s.YesAsk > 0 {
			s.NoBid = 1 - s.YesAsk
		}
		if s.YesBid > 0 {
			s.NoAsk = 1 - s.YesBid
		}
	}
	return s
}

// YesMid devuelve el midpoint del lado YES, 0 si falta un lado.
func (s Snapshot) YesMid() float64 {
	if s.YesBid <= 0 || s.YesAsk <= 0 {
		return 0
	}
	return (s.YesBid + s.YesAsk) / 2
}

// YesSpread devuelve ask − bid del lado YES, 0 si falta un lado.
func (s Snapshot) YesSpread() float64 {
	if s.YesBid <= 0 || s.YesAsk <= 0 {
		return 0
	}
	return s.YesAsk - s.YesBid
}

func (s Snapshot) validate() error {
	for _, p := range []float64{s.YesBid, s.YesAsk, s.NoBid, s.NoAsk} {
		if p < 0 || p > 1 {
			return fmt.Errorf("price %.4f outside [0,1]", p)
		}
	}
	if s.YesBid > 0 && s.YesAsk > 0 && s.YesBid > s.YesAsk {
		return fmt.Errorf("crossed YES book bid=%.4f ask=%.4f", s.YesBid, s.YesAsk)
	}
	if s.YesBidDepth < 0 || s.NoBidDepth < 0 {
		return fmt.Errorf("negative depth")
	}
	return nil
}

// MarketWindow es la serie histórica de un mercado de 15 minutos.
// Inmutable una vez cargada.
type MarketWindow struct {
	MarketID  string
	Start     time.Time
	End       time.Time
	Outcome   Outcome
	Snapshots []Snapshot
}

// Validate comprueba outcome, precios y orden temporal de los snapshots.
func (w MarketWindow) Validate() error {
	if w.MarketID == "" {
		return fmt.Errorf("%w: empty market id", ErrInvalidWindow)
	}
	if !w.Outcome.Valid() {
		return fmt.Errorf("%w: %s: unknown outcome %q", ErrInvalidWindow, w.MarketID, w.Outcome)
	}
	if len(w.Snapshots) == 0 {
		return fmt.Errorf("%w: %s: no snapshots", ErrInvalidWindow, w.MarketID)
	}
	for i, s := range w.Snapshots {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: %s: snapshot %d: %v", ErrInvalidWindow, w.MarketID, i, err)
		}
		if i > 0 && s.Timestamp.Before(w.Snapshots[i-1].Timestamp) {
			return fmt.Errorf("%w: %s: snapshot %d goes back in time", ErrInvalidWindow, w.MarketID, i)
		}
	}
	return nil
}

// SkipReason explica por qué una ventana no tuvo entrada.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipSpreadTooTight SkipReason = "spread_below_minimum"
	SkipNoQuote        SkipReason = "no_valid_quote"
	SkipNoFill         SkipReason = "no_fill"
	SkipInvalidWindow  SkipReason = "invalid_window"
)

// LegFill es el resultado simulado de una pierna.
type LegFill struct {
	Price    float64
	Size     float64
	Filled   bool
	FilledAt time.Time
	// FillProbability es la probabilidad residual estimada cuando la pierna
	// no llenó (diagnóstico), o 1 si llenó.
	FillProbability float64
}

// Cost es price × size si la pierna llenó.
func (l LegFill) Cost() float64 {
	if !l.Filled {
		return 0
	}
	return l.Price * l.Size
}

// WindowResult es el resultado de simular una MarketWindow.
type WindowResult struct {
	MarketID      string
	Outcome       Outcome
	Entered       bool
	Yes           LegFill
	No            LegFill
	ResolutionPnL float64
	RebateRevenue float64
	TotalPnL      float64
	SkipReason    SkipReason
	Err           error
}

// BothFilled devuelve true si llenaron las dos piernas.
func (r WindowResult) BothFilled() bool {
	return r.Yes.Filled && r.No.Filled
}

// FilledNotional es la suma de price×size de las piernas llenas.
func (r WindowResult) FilledNotional() float64 {
	return r.Yes.Cost() + r.No.Cost()
}
