// Package ledger es la fuente única de verdad de la exposición abierta.
//
// El Tracker guarda un par YES/NO por mercado y calcula delta y exposición
// bajo un único mutex, de forma que ambos valores se leen siempre como un
// par consistente. Risk monitor, orquestador y reporting leen de aquí en
// lugar de mantener copias propias.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// DefaultMaxDeltaPct es el desbalance tolerado antes de sugerir rebalanceo.
const DefaultMaxDeltaPct = 0.05

// Direction indica cómo corregir un desbalance.
type Direction string

const (
	DirectionNone      Direction = "NONE"
	DirectionReduceYes Direction = "REDUCE_YES_OR_INCREASE_NO"
	DirectionReduceNo  Direction = "REDUCE_NO_OR_INCREASE_YES"
)

// Suggestion es la corrección estimada para volver a tolerancia.
type Suggestion struct {
	Direction Direction
	Size      float64 // exceso sobre el umbral, en shares
	Delta     float64
	Threshold float64 // max_delta_pct × total_exposure
}

// Tracker es el registro de posiciones abiertas. Seguro para uso concurrente.
type Tracker struct {
	mu          sync.Mutex
	positions   map[string]domain.Position
	maxDeltaPct float64
	now         func() time.Time
}

// NewTracker crea un ledger vacío. maxDeltaPct ≤ 0 usa DefaultMaxDeltaPct.
func NewTracker(maxDeltaPct float64) *Tracker {
	if maxDeltaPct <= 0 {
		maxDeltaPct = DefaultMaxDeltaPct
	}
	return &Tracker{
		positions:   make(map[string]domain.Position),
		maxDeltaPct: maxDeltaPct,
		now:         time.Now,
	}
}

// AddPosition registra un par nuevo. Falla con ErrDuplicateMarket si el
// mercado ya tiene posición, y con los errores de domain.ValidatePair si
// precios o tamaños no son válidos.
func (t *Tracker) AddPosition(marketID string, yesSize, noSize, yesPrice, noPrice float64) (domain.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.positions[marketID]; ok {
		return domain.Position{}, fmt.Errorf("ledger.AddPosition: %s: %w", marketID, domain.ErrDuplicateMarket)
	}
	p, err := domain.NewPosition(marketID, yesSize, noSize, yesPrice, noPrice, t.now().UTC())
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger.AddPosition: %s: %w", marketID, err)
	}
	t.positions[marketID] = p
	return p, nil
}

// RemovePosition elimina y devuelve la posición del mercado, si existe.
func (t *Tracker) RemovePosition(marketID string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[marketID]
	if ok {
		delete(t.positions, marketID)
	}
	return p, ok
}

// Position devuelve una copia de la posición del mercado.
func (t *Tracker) Position(marketID string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[marketID]
	return p, ok
}

// Has devuelve true si el mercado tiene posición abierta.
func (t *Tracker) Has(marketID string) bool {
	_, ok := t.Position(marketID)
	return ok
}

// Positions devuelve copias de todas las posiciones ordenadas por mercado.
func (t *Tracker) Positions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Count devuelve el número de posiciones abiertas.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Exposure calcula delta y exposición en una sola pasada bajo el lock.
func (t *Tracker) Exposure() domain.Exposure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exposureLocked()
}

func (t *Tracker) exposureLocked() domain.Exposure {
	var e domain.Exposure
	for _, p := range t.positions {
		e.Delta += p.Delta()
		e.Yes += p.YesNotional()
		e.No += p.NoNotional()
	}
	e.Total = e.Yes + e.No
	e.Positions = len(t.positions)
	return e
}

// Delta devuelve Σ (yes_size − no_size).
func (t *Tracker) Delta() float64 { return t.Exposure().Delta }

// TotalExposure devuelve el notional abierto de ambos lados.
func (t *Tracker) TotalExposure() float64 { return t.Exposure().Total }

// YesExposure devuelve el notional abierto del lado YES.
func (t *Tracker) YesExposure() float64 { return t.Exposure().Yes }

// NoExposure devuelve el notional abierto del lado NO.
func (t *Tracker) NoExposure() float64 { return t.Exposure().No }

// NeedsRebalance es true si |delta| > max_delta_pct × total_exposure.
func (t *Tracker) NeedsRebalance() bool {
	e := t.Exposure()
	return needsRebalance(e, t.maxDeltaPct)
}

func needsRebalance(e domain.Exposure, maxDeltaPct float64) bool {
	return math.Abs(e.Delta) > maxDeltaPct*e.Total
}

// RebalancingSuggestion devuelve la dirección y el tamaño para volver a
// tolerancia. Con el ledger en tolerancia devuelve DirectionNone y Size 0.
func (t *Tracker) RebalancingSuggestion() Suggestion {
	e := t.Exposure()
	threshold := t.maxDeltaPct * e.Total
	s := Suggestion{Direction: DirectionNone, Delta: e.Delta, Threshold: threshold}
	if !needsRebalance(e, t.maxDeltaPct) {
		return s
	}
	s.Size = math.Abs(e.Delta) - threshold
	if e.Delta > 0 {
		s.Direction = DirectionReduceYes
	} else {
		s.Direction = DirectionReduceNo
	}
	return s
}
