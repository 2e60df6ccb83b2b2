package ports

import (
	"context"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// MarketProvider obtiene los mercados de corta duración abiertos.
type MarketProvider interface {
	// FetchActiveMarkets devuelve los mercados activos aún no cerrados.
	FetchActiveMarkets(ctx context.Context) ([]domain.Market, error)
}

// ResolutionSource informa si un mercado ya resolvió y con qué outcome.
type ResolutionSource interface {
	// Resolution devuelve (outcome, true, nil) si el mercado resolvió,
	// ("", false, nil) si sigue abierto.
	Resolution(ctx context.Context, marketID string) (domain.Outcome, bool, error)
}
