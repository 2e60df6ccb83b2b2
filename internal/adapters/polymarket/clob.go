package polymarket

// Books del CLOB para cotizar: el ciclo en vivo pide los books YES y NO de
// todos los candidatos en una sola llamada.

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

const (
	booksPath = "/books"
	batchSize = 20 // máx token_ids por request a /books
)

// FetchOrderBooks devuelve los books de tokenIDs indexados por token.
// Los batches van en paralelo y el rate limiter de books marca el ritmo.
// Un token sin book en la respuesta simplemente no aparece en el mapa; el
// llamador decide si el mercado es cotizable. Si falla un batch falla todo,
// porque un par YES/NO a medias no sirve para cotizar.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}, nil
	}

	batches := slices.Collect(slices.Chunk(tokenIDs, batchSize))
	parts := make([]map[string]domain.OrderBook, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			books, err := c.fetchBooksBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			parts[i] = books
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}

	result := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, p := range parts {
		for id, ob := range p {
			result[id] = ob
		}
	}
	slog.Debug("polymarket: books fetched",
		"requested", len(tokenIDs),
		"batches", len(batches),
		"missing", len(tokenIDs)-len(result),
	)
	return result, nil
}

func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapOrderBooks(resp), nil
}
