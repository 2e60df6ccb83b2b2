package backtest

// Modelos de fill para una orden de compra en reposo.
//
// Determinista: la pierna llena en el primer snapshot en que el mejor ask
// del mismo token cae a nuestro precio (un vendedor agresivo nos habría
// cruzado), o en que el spread colapsa con nuestro bid pegado al mejor bid.
//
// Probabilístico: en cada snapshot se sortea un Bernoulli con una
// probabilidad alta en el mejor precio que decae con la distancia al mejor
// bid y con la profundidad que tenemos delante en la cola.

import (
	"math"
	"math/rand/v2"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

const priceEps = 1e-9

// legView es el top of book de un token en un snapshot.
type legView struct {
	bid   float64
	ask   float64
	depth float64
}

func (l legView) spread() float64 {
	if l.bid <= 0 || l.ask <= 0 {
		return 0
	}
	return l.ask - l.bid
}

func view(s domain.Snapshot, side domain.Outcome) legView {
	if side == domain.OutcomeYes {
		return legView{bid: s.YesBid, ask: s.YesAsk, depth: s.YesBidDepth}
	}
	return legView{bid: s.NoBid, ask: s.NoAsk, depth: s.NoBidDepth}
}

// crossed es true si el ask llegó a nuestro precio.
func crossed(l legView, price float64) bool {
	return l.ask > 0 && l.ask <= price+priceEps
}

// collapsed es la heurística de actividad: spread mínimo y nuestro bid a
// menos de proximity del mejor bid.
func (e *Engine) collapsed(l legView, price float64) bool {
	sp := l.spread()
	if sp <= 0 || sp > e.cfg.CollapseSpread+priceEps {
		return false
	}
	return price >= l.bid-e.cfg.CollapseProximity-priceEps
}

// fillDeterministic recorre los snapshots y devuelve el primer fill.
// Si no llena, FillProbability es la probabilidad residual según lo cerca
// que estuvo el ask de nuestro precio.
func (e *Engine) fillDeterministic(snaps []domain.Snapshot, side domain.Outcome, price, size float64) domain.LegFill {
	leg := domain.LegFill{Price: price, Size: size}
	closest := math.Inf(1)
	for _, s := range snaps {
		l := view(s, side)
		if crossed(l, price) || e.collapsed(l, price) {
			leg.Filled = true
			leg.FilledAt = s.Timestamp
			leg.FillProbability = 1
			return leg
		}
		if l.ask > 0 {
			closest = math.Min(closest, l.ask-price)
		}
	}
	leg.FillProbability = e.residualProbability(closest)
	return leg
}

// residualProbability = exp(−distancia / escala). Sin asks observados es 0.
func (e *Engine) residualProbability(distance float64) float64 {
	if math.IsInf(distance, 1) || e.cfg.ResidualScale <= 0 {
		return 0
	}
	if distance <= 0 {
		return 1
	}
	return math.Exp(-distance / e.cfg.ResidualScale)
}

// snapshotFillProbability es la probabilidad de fill de nuestra orden en un
// snapshot. size/(size+queue) es la fracción del flujo que nos toca con
// queue shares delante.
func (e *Engine) snapshotFillProbability(l legView, price, size float64) float64 {
	if crossed(l, price) {
		return 1
	}
	if l.bid <= 0 {
		return 0
	}
	base := e.cfg.AtBestProb
	distance := l.bid - price
	queue := 0.0
	if distance > priceEps {
		if e.cfg.DecayScale <= 0 {
			return 0
		}
		base *= math.Exp(-distance / e.cfg.DecayScale)
		queue = l.depth
	} else if distance > -priceEps {
		queue = l.depth
	}
	if queue > 0 && size > 0 {
		base *= size / (size + queue)
	}
	return math.Min(1, math.Max(0, base))
}

// fillProbabilistic sortea un Bernoulli por snapshot hasta el primer fill.
// FillProbability acumula 1 − Π(1 − p) para diagnóstico.
func (e *Engine) fillProbabilistic(rng *rand.Rand, snaps []domain.Snapshot, side domain.Outcome, price, size float64) domain.LegFill {
	leg := domain.LegFill{Price: price, Size: size}
	miss := 1.0
	for _, s := range snaps {
		p := e.snapshotFillProbability(view(s, side), price, size)
		miss *= 1 - p
		if p > 0 && rng.Float64() < p {
			leg.Filled = true
			leg.FilledAt = s.Timestamp
			leg.FillProbability = 1 - miss
			return leg
		}
	}
	leg.FillProbability = 1 - miss
	return leg
}
