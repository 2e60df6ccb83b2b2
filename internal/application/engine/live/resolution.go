package live

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// settleResolved closes every ledger position whose market resolved: the
// payout is realized, the ledger entry removed and the risk monitor told.
func (le *Engine) settleResolved(ctx context.Context, result *CycleResult) {
	for _, pos := range le.ledger.Positions() {
		if ctx.Err() != nil {
			return
		}
		outcome, resolved, err := le.src.Resolutions.Resolution(ctx, pos.MarketID)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("resolution %s: %v", pos.MarketID, err))
			slog.Warn("live: error checking resolution", "market", pos.MarketID, "err", err)
			continue
		}
		if !resolved {
			continue
		}

		pnl := pos.ResolutionPnL(outcome)
		le.ledger.RemovePosition(pos.MarketID)
		if err := le.risk.RecordPositionClosed(ctx, pos.MarketID, math.Max(pos.YesSize, pos.NoSize), pnl); err != nil {
			slog.Error("live: error recording closed position", "market", pos.MarketID, "err", err)
		}
		if s, ok := le.src.Positions.(Settler); ok {
			s.Settle(pos.MarketID)
		}

		result.Resolved++
		result.RealizedPnL += pnl
		slog.Info("live: position resolved",
			"market", pos.MarketID,
			"outcome", outcome,
			"cost", fmt.Sprintf("$%.2f", pos.TotalCost),
			"pnl", fmt.Sprintf("$%.2f", pnl),
		)
	}
}
