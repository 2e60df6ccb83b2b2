package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// PlacementStore keeps an audit log of every terminal placement result.
type PlacementStore interface {
	SavePlacement(ctx context.Context, r domain.PlacementResult) error
	// ListPlacements returns placements started in [from, to], newest first.
	ListPlacements(ctx context.Context, from, to time.Time) ([]domain.PlacementResult, error)
}

// WindowSource produces historical market windows for the backtest engine.
type WindowSource interface {
	LoadWindows(ctx context.Context) ([]domain.MarketWindow, error)
}
