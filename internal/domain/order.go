package domain

import "time"

// OrderStatus represents the lifecycle of an order on the venue.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusUnknown   OrderStatus = "UNKNOWN"
)

// Terminal returns true when the venue will not change the order any more.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// FillRatio is the fraction of the requested size that counts as a full fill.
// Venues round sizes, so 99.9% is treated as filled.
const FillRatio = 0.999

// OrderRequest is a maker BUY for one outcome token.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Outcome  Outcome
	Price    float64
	Size     float64 // shares
}

// Notional is price × size.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// OrderAck is the venue's answer to a successful submission.
type OrderAck struct {
	OrderID     string
	SubmittedAt time.Time
}

// OrderState is a status poll result.
type OrderState struct {
	OrderID    string
	Status     OrderStatus
	FilledSize float64
	AvgPrice   float64
}

// IsFilled reports whether the order counts as filled for the requested size.
func (s OrderState) IsFilled(requested float64) bool {
	if s.Status == OrderStatusFilled {
		return true
	}
	return requested > 0 && s.FilledSize >= requested*FillRatio
}

// FilledOr returns the reported filled size, or fallback when the venue
// reports FILLED without a size.
func (s OrderState) FilledOr(fallback float64) float64 {
	if s.FilledSize > 0 {
		return s.FilledSize
	}
	if s.Status == OrderStatusFilled {
		return fallback
	}
	return 0
}
