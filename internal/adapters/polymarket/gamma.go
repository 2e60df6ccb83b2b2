package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageSize    = 100
)

// FetchActiveMarkets implementa ports.MarketProvider: pagina /markets de Gamma
// con active=true&closed=false y aplica el filtro de Discovery.
// Los mercados con tokens ilegibles se descartan con un debug log.
func (c *Client) FetchActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	now := time.Now().UTC()

	for page := 0; page < c.discovery.MaxPages; page++ {
		q := url.Values{}
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("limit", fmt.Sprint(gammaPageSize))
		q.Set("offset", fmt.Sprint(page*gammaPageSize))
		q.Set("end_date_min", now.Format(time.RFC3339))

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("gamma.FetchActiveMarkets: page %d: %w", page, err)
		}

		for _, gm := range resp {
			m, err := mapGammaMarket(gm)
			if err != nil {
				slog.Debug("gamma: skipping market", "condition_id", gm.ConditionID, "err", err)
				continue
			}
			if c.accept(m) {
				all = append(all, m)
			}
		}

		if len(resp) < gammaPageSize {
			break
		}
	}

	slog.Debug("gamma: active markets fetched", "total", len(all))
	return all, nil
}

// accept aplica el filtro de Discovery.
func (c *Client) accept(m domain.Market) bool {
	if !m.Active || m.Closed {
		return false
	}
	if c.discovery.SlugContains != "" && !strings.Contains(m.Slug, c.discovery.SlugContains) {
		return false
	}
	if c.discovery.MaxDuration > 0 {
		if m.StartDate.IsZero() || m.EndDate.IsZero() {
			return false
		}
		if m.EndDate.Sub(m.StartDate) > c.discovery.MaxDuration {
			return false
		}
	}
	return true
}

// Resolution implementa ports.ResolutionSource consultando el mercado por
// condition_id.
func (c *Client) Resolution(ctx context.Context, marketID string) (domain.Outcome, bool, error) {
	q := url.Values{}
	q.Set("condition_ids", marketID)
	q.Set("limit", "1")

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
		return "", false, fmt.Errorf("gamma.Resolution: %s: %w", marketID, err)
	}
	for _, gm := range resp {
		if gm.ConditionID != marketID {
			continue
		}
		outcome, ok := mapResolution(gm)
		return outcome, ok, nil
	}
	return "", false, fmt.Errorf("gamma.Resolution: %s: %w", marketID, domain.ErrMarketNotFound)
}
