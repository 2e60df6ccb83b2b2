package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// DryRun is an in-process venue that accepts every order and reports it
// filled at the limit price. Nothing leaves the process.
type DryRun struct {
	mu      sync.Mutex
	orders  map[string]domain.OrderState
	held    map[string]*domain.ExternalPosition
	balance float64
	now     func() time.Time
}

// NewDryRun creates a dry-run venue. balance is returned by AvailableBalance.
func NewDryRun(balance float64) *DryRun {
	return &DryRun{
		orders:  make(map[string]domain.OrderState),
		held:    make(map[string]*domain.ExternalPosition),
		balance: balance,
		now:     time.Now,
	}
}

func (d *DryRun) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.OrderAck{}, fmt.Errorf("exchange.DryRun.SubmitOrder: invalid order %.4f x %.2f", req.Price, req.Size)
	}
	id := "dry-" + uuid.NewString()

	d.mu.Lock()
	d.orders[id] = domain.OrderState{
		OrderID:    id,
		Status:     domain.OrderStatusFilled,
		FilledSize: req.Size,
		AvgPrice:   req.Price,
	}
	d.balance -= req.Notional()
	pos, ok := d.held[req.MarketID]
	if !ok {
		pos = &domain.ExternalPosition{MarketID: req.MarketID}
		d.held[req.MarketID] = pos
	}
	if req.Outcome == domain.OutcomeYes {
		pos.YesSize += req.Size
	} else {
		pos.NoSize += req.Size
	}
	d.mu.Unlock()

	slog.Info("exchange: dry-run order filled",
		"id", id,
		"market", req.MarketID,
		"side", req.Outcome,
		"price", req.Price,
		"size", req.Size,
		"cost", fmt.Sprintf("$%.2f", req.Notional()),
	)
	return domain.OrderAck{OrderID: id, SubmittedAt: d.now()}, nil
}

func (d *DryRun) CancelOrder(_ context.Context, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.orders[orderID]
	if !ok {
		return fmt.Errorf("exchange.DryRun.CancelOrder: unknown order %s", orderID)
	}
	if st.Status != domain.OrderStatusFilled {
		st.Status = domain.OrderStatusCancelled
		d.orders[orderID] = st
	}
	return nil
}

func (d *DryRun) OrderStatus(_ context.Context, orderID string) (domain.OrderState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.orders[orderID]
	if !ok {
		return domain.OrderState{OrderID: orderID, Status: domain.OrderStatusUnknown}, nil
	}
	return st, nil
}

// AvailableBalance implements ports.BalanceSource.
func (d *DryRun) AvailableBalance(_ context.Context, _ string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balance, nil
}

// FetchPositions implements ports.PositionSource with the shares bought so far.
func (d *DryRun) FetchPositions(_ context.Context) ([]domain.ExternalPosition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ExternalPosition, 0, len(d.held))
	for _, p := range d.held {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// Settle drops a resolved market from the held positions.
func (d *DryRun) Settle(marketID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.held, marketID)
}

// Hold registers shares bought before a restart so FetchPositions keeps
// reporting them.
func (d *DryRun) Hold(p domain.ExternalPosition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.held[p.MarketID]
	if !ok {
		cur = &domain.ExternalPosition{MarketID: p.MarketID}
		d.held[p.MarketID] = cur
	}
	cur.YesSize += p.YesSize
	cur.NoSize += p.NoSize
}

// Orders returns the number of orders accepted so far.
func (d *DryRun) Orders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.orders)
}
