package ports

import (
	"context"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// OrderAPI is the venue's order surface. Every call may be slow or fail;
// the executor owns the retry and verification policy.
type OrderAPI interface {
	// SubmitOrder places a maker BUY. An empty OrderID is treated as failure.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)

	// CancelOrder cancels a resting order by venue ID.
	CancelOrder(ctx context.Context, orderID string) error

	// OrderStatus returns the current status and filled size of an order.
	OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error)
}

// BalanceSource returns the available collateral for an address.
// Advisory only: callers skip the check when it is not configured.
type BalanceSource interface {
	AvailableBalance(ctx context.Context, address string) (float64, error)
}
