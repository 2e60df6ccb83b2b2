package live

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/strategy"
)

// discover returns the markets worth quoting this cycle with their books.
// Markets already held or too close to resolution are dropped before the
// books are fetched.
func (le *Engine) discover(ctx context.Context, result *CycleResult) ([]domain.MarketQuote, error) {
	markets, err := le.src.Markets.FetchActiveMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	result.Discovered = len(markets)

	now := le.now()
	var candidates []domain.Market
	var tokenIDs []string
	seen := make(map[string]bool, len(markets))
	for _, m := range markets {
		if m.Closed || seen[m.ConditionID] || le.ledger.Has(m.ConditionID) {
			continue
		}
		seen[m.ConditionID] = true
		if m.SecondsToEnd(now) < le.cfg.MinSecondsToEnd {
			continue
		}
		yes, no := m.YesToken().TokenID, m.NoToken().TokenID
		if yes == "" || no == "" {
			continue
		}
		candidates = append(candidates, m)
		tokenIDs = append(tokenIDs, yes, no)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	books, err := le.src.Books.FetchOrderBooks(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("order books: %w", err)
	}

	quotes := make([]domain.MarketQuote, 0, len(candidates))
	for _, m := range candidates {
		yes, okYes := books[m.YesToken().TokenID]
		no, okNo := books[m.NoToken().TokenID]
		if !okYes || !okNo {
			result.Skips[domain.SkipNoQuote]++
			continue
		}
		quotes = append(quotes, domain.MarketQuote{Market: m, Yes: yes, No: no})
	}
	// Soonest resolution first.
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Market.EndDate.Before(quotes[j].Market.EndDate)
	})
	return quotes, nil
}

// placeEntries quotes each market and sends at most one placement per market.
func (le *Engine) placeEntries(ctx context.Context, quotes []domain.MarketQuote, result *CycleResult) {
	now := le.now()
	placed := 0
	for _, mq := range quotes {
		if ctx.Err() != nil {
			result.Warnings = append(result.Warnings, "cycle cancelled during placement")
			return
		}
		snap := mq.Snapshot(now)
		if reason := strategy.EntryCheck(snap, le.params); reason != domain.SkipNone {
			result.Skips[reason]++
			continue
		}
		q, reason := le.strat.Quote(snap, le.params)
		if reason != domain.SkipNone {
			result.Skips[reason]++
			continue
		}
		result.Eligible++
		if le.cfg.MaxNewPerCycle > 0 && placed >= le.cfg.MaxNewPerCycle {
			continue
		}

		m := mq.Market
		req := domain.PlacementRequest{
			MarketID: m.ConditionID,
			YesToken: m.YesToken().TokenID,
			NoToken:  m.NoToken().TokenID,
			Size:     q.Size,
			YesPrice: q.YesPrice,
			NoPrice:  q.NoPrice,
		}
		res := le.placer.PlaceDeltaNeutral(ctx, req)
		placed++
		result.Placements = append(result.Placements, res)

		if res.Success() {
			result.Filled++
			slog.Info("live: placement filled",
				"market", m.ConditionID,
				"question", domain.TruncateQuestion(m.Question, m.ConditionID, 50),
				"yes", q.YesPrice,
				"no", q.NoPrice,
				"size", q.Size,
				"edge", fmt.Sprintf("$%.2f", q.Edge()*q.Size),
			)
			continue
		}
		result.Failed++
		if res.Outcome.LeavesExposure() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s may have a resting leg: %s", m.ConditionID, res.Reason))
		}
		slog.Warn("live: placement failed",
			"market", m.ConditionID,
			"outcome", res.Outcome,
			"reason", res.Reason,
		)
		// Once the monitor halts, every later placement would be denied.
		if res.Outcome == domain.OutcomeDenied {
			if halted, _ := le.risk.Halted(ctx); halted {
				result.Warnings = append(result.Warnings, "halted during placement: "+res.Reason)
				return
			}
		}
	}
}
