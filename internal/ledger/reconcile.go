package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// ReconcileTolerance es la diferencia en shares atribuible a redondeo.
const ReconcileTolerance = 0.01

// Discrepancy es una diferencia de tamaño en un lado de un mercado.
type Discrepancy struct {
	MarketID string
	Side     domain.Outcome
	Local    float64
	External float64
}

// Diff devuelve external − local.
func (d Discrepancy) Diff() float64 {
	return d.External - d.Local
}

// ReconcileReport es el resultado de comparar el ledger con el exchange.
type ReconcileReport struct {
	Matched           []string
	Discrepancies     []Discrepancy
	MissingExternally []string                  // en el ledger, no en el exchange
	MissingLocally    []domain.ExternalPosition // en el exchange, no en el ledger
	CheckedAt         time.Time
}

// InSync devuelve true si no hay ninguna diferencia.
func (r ReconcileReport) InSync() bool {
	return len(r.Discrepancies) == 0 && len(r.MissingExternally) == 0 && len(r.MissingLocally) == 0
}

// Reconcile compara el ledger con un snapshot externo. Solo detecta drift:
// nunca modifica el ledger. Entradas externas repetidas para un mismo
// mercado se suman; las que están por debajo de la tolerancia en ambos
// lados se ignoran como polvo.
func (t *Tracker) Reconcile(external []domain.ExternalPosition) ReconcileReport {
	ext := make(map[string]domain.ExternalPosition, len(external))
	for _, e := range external {
		cur := ext[e.MarketID]
		cur.MarketID = e.MarketID
		cur.YesSize += e.YesSize
		cur.NoSize += e.NoSize
		ext[e.MarketID] = cur
	}

	local := t.Positions()
	report := ReconcileReport{CheckedAt: t.now().UTC()}

	for _, p := range local {
		e, ok := ext[p.MarketID]
		if !ok || isDust(e) {
			report.MissingExternally = append(report.MissingExternally, p.MarketID)
			continue
		}
		delete(ext, p.MarketID)

		matched := true
		if math.Abs(e.YesSize-p.YesSize) > ReconcileTolerance {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				MarketID: p.MarketID, Side: domain.OutcomeYes, Local: p.YesSize, External: e.YesSize,
			})
			matched = false
		}
		if math.Abs(e.NoSize-p.NoSize) > ReconcileTolerance {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				MarketID: p.MarketID, Side: domain.OutcomeNo, Local: p.NoSize, External: e.NoSize,
			})
			matched = false
		}
		if matched {
			report.Matched = append(report.Matched, p.MarketID)
		}
	}

	for _, e := range ext {
		if isDust(e) {
			continue
		}
		report.MissingLocally = append(report.MissingLocally, e)
	}
	sort.Slice(report.MissingLocally, func(i, j int) bool {
		return report.MissingLocally[i].MarketID < report.MissingLocally[j].MarketID
	})
	return report
}

func isDust(e domain.ExternalPosition) bool {
	return math.Abs(e.YesSize) <= ReconcileTolerance && math.Abs(e.NoSize) <= ReconcileTolerance
}
