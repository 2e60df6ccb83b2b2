package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// resolvedPrice es el precio a partir del cual un outcome de un mercado
// cerrado se considera ganador.
const resolvedPrice = 0.99

// mapGammaMarket convierte un gammaMarket DTO a domain.Market.
// Devuelve error si los tokens no se pueden decodificar.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	m := domain.Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		StartDate:   parseDate(gm.StartDate),
		EndDate:     parseDate(gm.EndDate),
		Active:      gm.Active,
		Closed:      gm.Closed,
	}

	ids, err := decodeStringList(gm.ClobTokenIDs)
	if err != nil {
		return m, fmt.Errorf("clobTokenIds: %w", err)
	}
	outcomes, err := decodeStringList(gm.Outcomes)
	if err != nil {
		return m, fmt.Errorf("outcomes: %w", err)
	}
	if len(ids) != 2 || len(outcomes) != 2 {
		return m, fmt.Errorf("expected 2 tokens, got %d ids and %d outcomes", len(ids), len(outcomes))
	}
	for i := range 2 {
		m.Tokens[i] = domain.Token{TokenID: ids[i], Outcome: outcomes[i]}
	}
	return m, nil
}

// mapResolution interpreta outcomePrices de un mercado cerrado. El primer
// outcome es el lado YES ("Yes", "Up") y el segundo el NO, igual que Tokens.
// Devuelve ok=false mientras el mercado siga abierto o sin precio ganador.
func mapResolution(gm gammaMarket) (domain.Outcome, bool) {
	if !gm.Closed {
		return "", false
	}
	prices, err := decodeStringList(gm.OutcomePrices)
	if err != nil || len(prices) != 2 {
		return "", false
	}
	for i, raw := range prices {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < resolvedPrice {
			continue
		}
		if i == 0 {
			return domain.OutcomeYes, true
		}
		return domain.OutcomeNo, true
	}
	return "", false
}

// decodeStringList decodifica un array JSON embebido en un string,
// p.ej. "[\"123\", \"456\"]".
func decodeStringList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseDate acepta los formatos que usa Gamma. Devuelve zero time si ninguno encaja.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		ob := domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
		result[r.AssetID] = ob
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price := domain.ParsePrice(r.Price)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
