// Package strategy calcula los precios de reposo del par YES/NO. Las mismas
// reglas se usan en vivo y en el backtest.
package strategy

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

const (
	// MinPrice y MaxPrice acotan cualquier precio de reposo.
	MinPrice = 0.01
	MaxPrice = 0.99
	// DefaultTick es el tick de precio del venue.
	DefaultTick = 0.01
)

// Params son los parámetros de quoting.
type Params struct {
	PositionSize   float64 // shares por pierna
	SpreadOffset   float64 // distancia al mid de cada bid
	MinEntrySpread float64 // spread YES mínimo para entrar
	Tick           float64 // 0 = sin redondeo
}

// Quote es un par de bids listo para enviar.
type Quote struct {
	YesPrice float64
	NoPrice  float64
	Size     float64
}

// Edge es 1 − yes − no: lo que el par captura por unidad si ambos llenan.
func (q Quote) Edge() float64 {
	return 1 - q.YesPrice - q.NoPrice
}

// Strategy define cómo se cotiza un mercado a partir de su top of book.
type Strategy interface {
	// Name devuelve el identificador único de la estrategia.
	Name() string

	// Quote devuelve los precios de reposo, o el motivo para no entrar.
	Quote(s domain.Snapshot, p Params) (Quote, domain.SkipReason)
}

// Registry mantiene las estrategias disponibles indexadas por nombre.
type Registry map[string]Strategy

// NewRegistry crea un registry con las estrategias incluidas.
func NewRegistry() Registry {
	r := make(Registry)
	r.Register(MidOffset{})
	r.Register(JoinBid{})
	return r
}

// Register añade una estrategia al registry.
func (r Registry) Register(s Strategy) {
	r[s.Name()] = s
}

// Get devuelve la estrategia por nombre.
func (r Registry) Get(name string) (Strategy, error) {
	s, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return s, nil
}

// EntryCheck aplica las condiciones comunes de entrada sobre el snapshot.
func EntryCheck(s domain.Snapshot, p Params) domain.SkipReason {
	s = s.Normalize()
	if s.YesMid() == 0 {
		return domain.SkipNoQuote
	}
	if s.YesSpread() < p.MinEntrySpread {
		return domain.SkipSpreadTooTight
	}
	return domain.SkipNone
}

// Clamp acota p a [MinPrice, MaxPrice].
func Clamp(p float64) float64 {
	return math.Min(MaxPrice, math.Max(MinPrice, p))
}

// floorTick redondea hacia abajo al tick. Redondear hacia abajo nunca
// aumenta yes+no. Con tick 0 el precio queda tal cual, salvo el ruido de
// coma flotante.
func floorTick(p, tick float64) float64 {
	if tick <= 0 {
		return math.Round(p*1e9) / 1e9
	}
	v := math.Floor(p/tick+1e-9) * tick
	return math.Round(v*1e6) / 1e6
}

func finish(yes, no float64, p Params) (Quote, domain.SkipReason) {
	yes = Clamp(floorTick(yes, p.Tick))
	no = Clamp(floorTick(no, p.Tick))
	if yes+no > 1+1e-9 || p.PositionSize <= 0 {
		return Quote{}, domain.SkipNoQuote
	}
	return Quote{YesPrice: yes, NoPrice: no, Size: p.PositionSize}, domain.SkipNone
}

// MidOffset cotiza ambos lados a la misma distancia del mid:
// YES = mid − offset, NO = (1 − mid) − offset.
type MidOffset struct{}

func (MidOffset) Name() string { return "mid_offset" }

func (MidOffset) Quote(s domain.Snapshot, p Params) (Quote, domain.SkipReason) {
	s = s.Normalize()
	if r := EntryCheck(s, p); r != domain.SkipNone {
		return Quote{}, r
	}
	mid := s.YesMid()
	return finish(mid-p.SpreadOffset, (1-mid)-p.SpreadOffset, p)
}

// JoinBid se une al mejor bid de cada lado y baja de tick en tick el lado
// más caro hasta dejar al menos 2·offset de edge.
type JoinBid struct{}

func (JoinBid) Name() string { return "join_bid" }

func (JoinBid) Quote(s domain.Snapshot, p Params) (Quote, domain.SkipReason) {
	s = s.Normalize()
	if r := EntryCheck(s, p); r != domain.SkipNone {
		return Quote{}, r
	}
	tick := p.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	yes, no := s.YesBid, s.NoBid
	for yes+no > 1-2*p.SpreadOffset+1e-9 {
		if yes > no {
			yes -= tick
		} else {
			no -= tick
		}
		if yes < MinPrice || no < MinPrice {
			return Quote{}, domain.SkipNoQuote
		}
	}
	return finish(yes, no, p)
}
