package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

var (
	// ErrNoneDecision rejects a NONE decision; the executor cannot turn
	// observation into a trade.
	ErrNoneDecision = errors.New("cannot execute a NONE decision")

	// ErrDuplicatePosition rejects a trade on a market that already has
	// an open position. No averaging down.
	ErrDuplicatePosition = errors.New("position already open for market")

	// ErrOrderRejected wraps venue-side rejections.
	ErrOrderRejected = errors.New("order rejected")

	// ErrAlreadyFilled refuses cancellation of a filled order.
	ErrAlreadyFilled = errors.New("order already filled")

	// ErrSafetyLimit rejects trades that would breach a configured
	// safety bound.
	ErrSafetyLimit = errors.New("safety limit reached")
)

// Fill describes a completed simulated or live fill handed to the
// position tracker. Belief bounds, confidence, and open unknowns are
// frozen at entry.
type Fill struct {
	MarketID   string
	TokenID    string
	Question   string
	Category   market.Category
	Side       decision.Side
	EntryPrice float64
	SizeUSD    float64
	BeliefLow  float64
	BeliefHigh float64
	Confidence float64
	Unknowns   int
	Edge       float64
	FilledAt   time.Time
}

// PositionBook answers whether a market already carries an open
// position and how many positions are open in total.
type PositionBook interface {
	HasOpen(marketID string) bool
	OpenCount() int
	RealizedPnLToday(now time.Time) float64
}

// FillRegistrar receives completed fills, normally the paper tracker.
type FillRegistrar interface {
	RegisterFill(ctx context.Context, fill Fill) error
}

// SafetyLimits bound execution independently of the decision engine.
type SafetyLimits struct {
	MaxOpenPositions  int
	DailyLossLimitUSD float64
}

// Executor turns binding trade decisions into single limit orders. It
// never mutates belief state and cannot override the decision engine;
// every failure comes back as a typed error for the state machine to
// route through MONITOR back to OBSERVE.
type Executor struct {
	mu        sync.Mutex
	connector OrderConnector
	book      PositionBook
	registrar FillRegistrar
	limits    SafetyLimits
	orders    map[string]Order
	pending   map[string]Fill
	logger    zerolog.Logger
}

// NewExecutor wires the execution layer.
func NewExecutor(connector OrderConnector, book PositionBook, registrar FillRegistrar, limits SafetyLimits, logger zerolog.Logger) *Executor {
	return &Executor{
		connector: connector,
		book:      book,
		registrar: registrar,
		limits:    limits,
		orders:    make(map[string]Order),
		pending:   make(map[string]Fill),
		logger:    logger,
	}
}

// Execute places exactly one limit order for the decision at its entry
// price. Duplicate markets, NONE decisions, and safety breaches are
// rejected before anything reaches the venue.
func (e *Executor) Execute(ctx context.Context, d decision.TradeDecision, b belief.State, m market.Market, tokenID string, now time.Time) (Order, error) {
	if d.Side == decision.SideNone {
		return Order{}, ErrNoneDecision
	}
	if e.book.HasOpen(m.ID) {
		return Order{}, fmt.Errorf("%w: %s", ErrDuplicatePosition, m.ID)
	}
	if e.limits.MaxOpenPositions > 0 && e.book.OpenCount() >= e.limits.MaxOpenPositions {
		return Order{}, fmt.Errorf("%w: %d positions open", ErrSafetyLimit, e.book.OpenCount())
	}
	if e.limits.DailyLossLimitUSD > 0 && -e.book.RealizedPnLToday(now) >= e.limits.DailyLossLimitUSD {
		return Order{}, fmt.Errorf("%w: daily loss limit", ErrSafetyLimit)
	}

	venueID, err := e.connector.PlaceLimit(ctx, tokenID, d.Side, d.EntryPrice, d.SizeUSD)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	if venueID == "" {
		venueID = uuid.NewString()
	}

	order := Order{
		ID:         venueID,
		MarketID:   m.ID,
		TokenID:    tokenID,
		Side:       d.Side,
		LimitPrice: d.EntryPrice,
		SizeUSD:    d.SizeUSD,
		Status:     OrderPending,
		CreatedAt:  now,
	}

	fill := Fill{
		MarketID:   m.ID,
		TokenID:    tokenID,
		Question:   m.Question,
		Category:   m.Category,
		Side:       d.Side,
		EntryPrice: d.EntryPrice,
		SizeUSD:    d.SizeUSD,
		BeliefLow:  b.Low,
		BeliefHigh: b.High,
		Confidence: b.Confidence,
		Unknowns:   b.OpenUnknowns(),
		Edge:       d.Edge,
		FilledAt:   now,
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.pending[order.ID] = fill
	e.mu.Unlock()

	e.logger.Info().
		Str("market_id", m.ID).
		Str("order_id", order.ID).
		Str("side", string(d.Side)).
		Float64("limit_price", d.EntryPrice).
		Float64("size_usd", d.SizeUSD).
		Msg("Placed limit order")

	if err := e.pollOnce(ctx, &order); err != nil {
		return order, err
	}
	return order, nil
}

// Poll refreshes an order's status from the venue and registers the
// position on fill.
func (e *Executor) Poll(ctx context.Context, orderID string) (Order, error) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown order %s", ErrOrderRejected, orderID)
	}
	if err := e.pollOnce(ctx, &o); err != nil {
		return o, err
	}
	return o, nil
}

// Cancel withdraws an open order. Filled orders refuse cancellation.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown order %s", ErrOrderRejected, orderID)
	}
	if o.Status == OrderFilled {
		return fmt.Errorf("%w: %s", ErrAlreadyFilled, orderID)
	}

	if err := e.connector.Cancel(ctx, orderID); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}

	o.Status = OrderCancelled
	e.mu.Lock()
	e.orders[orderID] = o
	delete(e.pending, orderID)
	e.mu.Unlock()

	e.logger.Info().Str("order_id", orderID).Msg("Cancelled order")
	return nil
}

// Order returns a tracked order by id.
func (e *Executor) Order(orderID string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	return o, ok
}

func (e *Executor) pollOnce(ctx context.Context, o *Order) error {
	if !o.Open() {
		return nil
	}

	status, filled, err := e.connector.Status(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("order status %s: %w", o.ID, err)
	}

	prev := o.Status
	o.Status = status
	o.FilledSize = filled

	e.mu.Lock()
	e.orders[o.ID] = *o
	fill, hasFill := e.pending[o.ID]
	if status == OrderFilled {
		delete(e.pending, o.ID)
	}
	e.mu.Unlock()

	if status == OrderFilled && prev != OrderFilled && hasFill {
		if err := e.registrar.RegisterFill(ctx, fill); err != nil {
			return fmt.Errorf("register fill for %s: %w", o.MarketID, err)
		}
		e.logger.Info().
			Str("order_id", o.ID).
			Str("market_id", o.MarketID).
			Msg("Order filled, position registered")
	}
	return nil
}
