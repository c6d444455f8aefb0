package execution

import (
	"context"
	"time"

	"github.com/edgewatch/edgewatch/internal/decision"
)

// OrderStatus follows the order through the venue.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a single limit order. Market orders are never emitted.
type Order struct {
	ID         string          `json:"id"`
	MarketID   string          `json:"market_id"`
	TokenID    string          `json:"token_id,omitempty"`
	Side       decision.Side   `json:"side"`
	LimitPrice float64         `json:"limit_price"`
	SizeUSD    float64         `json:"size_usd"`
	Status     OrderStatus     `json:"status"`
	FilledSize float64         `json:"filled_size"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Open reports whether the order can still fill or be cancelled.
func (o Order) Open() bool {
	return o.Status == OrderPending || o.Status == OrderPartial
}

// OrderConnector is the venue-side surface the executor consumes. The
// implementation owns the wire protocol and signing.
type OrderConnector interface {
	PlaceLimit(ctx context.Context, tokenID string, side decision.Side, price, sizeUSD float64) (string, error)
	Status(ctx context.Context, orderID string) (OrderStatus, float64, error)
	Cancel(ctx context.Context, orderID string) error
}
