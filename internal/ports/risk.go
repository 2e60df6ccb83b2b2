package ports

import (
	"context"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// HaltSource is the out-of-band kill switch. It can be set or cleared by an
// operator without touching the running process.
type HaltSource interface {
	// Halted returns whether trading must stop and why.
	Halted(ctx context.Context) (bool, string, error)
}

// RiskStateStore persists the risk monitor's state across restarts.
type RiskStateStore interface {
	// Load returns domain.ErrStateNotFound when nothing was saved yet.
	Load(ctx context.Context) (domain.RiskState, error)
	// Save must be atomic: a crash mid-write leaves the previous state intact.
	Save(ctx context.Context, state domain.RiskState) error
}

// ExposureSource exposes the ledger's aggregates to readers that must not
// keep their own copy of open exposure.
type ExposureSource interface {
	Exposure() domain.Exposure
}

// PositionSource reports positions as the venue sees them, for drift checks.
type PositionSource interface {
	FetchPositions(ctx context.Context) ([]domain.ExternalPosition, error)
}
