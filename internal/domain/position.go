package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Outcome es el resultado de resolución de un mercado binario.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid devuelve true si el outcome es uno de los dos lados del mercado.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// ParseOutcome acepta "yes"/"no" en cualquier capitalización.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return OutcomeYes, nil
	case "NO":
		return OutcomeNo, nil
	}
	return "", fmt.Errorf("domain.ParseOutcome: unknown outcome %q", s)
}

// DeltaNeutralTolerance es la fracción del tamaño combinado (yes+no) dentro
// de la cual una posición se considera delta-neutral.
const DeltaNeutralTolerance = 0.01

// priceSumEpsilon absorbe el error de redondeo de float64 en yes+no.
const priceSumEpsilon = 1e-9

// Position es un par YES/NO abierto en un mercado. La ownership es
// exclusiva del ledger; fuera de él solo circulan copias.
type Position struct {
	MarketID  string
	YesSize   float64
	NoSize    float64
	YesPrice  float64
	NoPrice   float64
	TotalCost float64 // yes_size·yes_price + no_size·no_price
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPosition valida el par y construye la posición.
// El orden de validación es: precio fuera de rango, suma > 1, tamaño ≤ 0.
func NewPosition(marketID string, yesSize, noSize, yesPrice, noPrice float64, now time.Time) (Position, error) {
	if err := ValidatePair(yesSize, noSize, yesPrice, noPrice); err != nil {
		return Position{}, err
	}
	return Position{
		MarketID:  marketID,
		YesSize:   yesSize,
		NoSize:    noSize,
		YesPrice:  yesPrice,
		NoPrice:   noPrice,
		TotalCost: yesSize*yesPrice + noSize*noPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidatePair aplica las reglas de precio y tamaño de una posición.
func ValidatePair(yesSize, noSize, yesPrice, noPrice float64) error {
	if !openUnit(yesPrice) {
		return fmt.Errorf("%w: yes_price=%.4f", ErrInvalidPrice, yesPrice)
	}
	if !openUnit(noPrice) {
		return fmt.Errorf("%w: no_price=%.4f", ErrInvalidPrice, noPrice)
	}
	if yesPrice+noPrice > 1+priceSumEpsilon {
		return fmt.Errorf("%w: %.4f + %.4f = %.4f", ErrLossGuaranteed, yesPrice, noPrice, yesPrice+noPrice)
	}
	if !(yesSize > 0) {
		return fmt.Errorf("%w: yes_size=%.4f", ErrNonPositiveSize, yesSize)
	}
	if !(noSize > 0) {
		return fmt.Errorf("%w: no_size=%.4f", ErrNonPositiveSize, noSize)
	}
	return nil
}

func openUnit(p float64) bool {
	return p > 0 && p < 1 && !math.IsNaN(p)
}

// Delta devuelve yes_size − no_size.
func (p Position) Delta() float64 {
	return p.YesSize - p.NoSize
}

// IsDeltaNeutral devuelve true si |delta| está dentro del 1% del tamaño combinado.
func (p Position) IsDeltaNeutral() bool {
	return math.Abs(p.Delta()) <= DeltaNeutralTolerance*(p.YesSize+p.NoSize)
}

// YesNotional es el coste del lado YES.
func (p Position) YesNotional() float64 { return p.YesSize * p.YesPrice }

// NoNotional es el coste del lado NO.
func (p Position) NoNotional() float64 { return p.NoSize * p.NoPrice }

// Edge es el margen por unidad capturado si ambos lados llenan: 1 − yes − no.
func (p Position) Edge() float64 { return 1 - p.YesPrice - p.NoPrice }

// Payout es lo que paga el lado ganador: su tamaño a valor unitario.
func (p Position) Payout(outcome Outcome) float64 {
	if outcome == OutcomeYes {
		return p.YesSize
	}
	return p.NoSize
}

// ResolutionPnL = payout − total_cost.
func (p Position) ResolutionPnL(outcome Outcome) float64 {
	return p.Payout(outcome) - p.TotalCost
}

// Exposure es una foto consistente de los agregados del ledger.
type Exposure struct {
	Delta     float64 // Σ (yes_size − no_size)
	Yes       float64 // Σ yes_size·yes_price
	No        float64 // Σ no_size·no_price
	Total     float64 // Yes + No
	Positions int
}

// ExternalPosition es el tamaño que reporta una fuente externa (el exchange)
// para un mercado.
type ExternalPosition struct {
	MarketID string
	YesSize  float64
	NoSize   float64
}
