package live

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/ledger"
	"github.com/alejandrodnm/deltamaker/internal/ports"
	"github.com/alejandrodnm/deltamaker/internal/risk"
)

// RecoverLedger rebuilds the in-memory ledger after a restart from the
// placement audit log: every FILLED placement since `since` whose market is
// still unresolved is registered again.
//
// A market that resolved while the process was down and that the risk
// monitor still counts as open is settled instead: its exposure is
// released and its resolution P&L recorded. Once released it is not
// counted again on later restarts.
func RecoverLedger(ctx context.Context, store ports.PlacementStore, res ports.ResolutionSource, tracker *ledger.Tracker, monitor *risk.Monitor, since time.Time) ([]domain.Position, error) {
	placements, err := store.ListPlacements(ctx, since, time.Now())
	if err != nil {
		return nil, fmt.Errorf("live.RecoverLedger: list placements: %w", err)
	}

	open := monitor.State().MarketExposure
	seen := make(map[string]bool)
	var recovered []domain.Position
	settled, realized := 0, 0.0
	for _, p := range placements {
		id := p.Request.MarketID
		if !p.Success() || seen[id] || tracker.Has(id) {
			continue
		}
		seen[id] = true

		yesPrice, noPrice := p.Request.YesPrice, p.Request.NoPrice
		if p.Position != nil {
			yesPrice, noPrice = p.Position.YesPrice, p.Position.NoPrice
		}
		outcome, resolved, err := res.Resolution(ctx, id)
		if err != nil {
			return recovered, fmt.Errorf("live.RecoverLedger: resolution %s: %w", id, err)
		}
		if resolved {
			if _, stillOpen := open[id]; !stillOpen {
				continue
			}
			pos, err := domain.NewPosition(id, p.YesFilled, p.NoFilled, yesPrice, noPrice, p.StartedAt)
			if err != nil {
				slog.Warn("live: resolved placement not settleable", "market", id, "err", err)
				continue
			}
			pnl := pos.ResolutionPnL(outcome)
			if err := monitor.RecordPositionClosed(ctx, id, math.Max(pos.YesSize, pos.NoSize), pnl); err != nil {
				return recovered, fmt.Errorf("live.RecoverLedger: close %s: %w", id, err)
			}
			settled++
			realized += pnl
			slog.Info("live: position resolved while stopped",
				"market", id,
				"outcome", outcome,
				"pnl", fmt.Sprintf("$%.2f", pnl),
			)
			continue
		}

		pos, err := tracker.AddPosition(id, p.YesFilled, p.NoFilled, yesPrice, noPrice)
		if err != nil {
			slog.Warn("live: placement not recoverable", "market", id, "err", err)
			continue
		}
		recovered = append(recovered, pos)
	}

	if len(recovered) > 0 || settled > 0 {
		exp := tracker.Exposure()
		slog.Info("live: ledger recovered from placement log",
			"positions", len(recovered),
			"settled", settled,
			"realized_pnl", fmt.Sprintf("$%.2f", realized),
			"delta", fmt.Sprintf("%.2f", exp.Delta),
			"exposure", fmt.Sprintf("$%.2f", exp.Total),
		)
	}
	return recovered, nil
}
