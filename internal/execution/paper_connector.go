package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/edgewatch/edgewatch/internal/decision"
)

// PaperConnector simulates a venue for paper sessions: every limit
// order fills immediately at its limit price.
type PaperConnector struct {
	mu     sync.Mutex
	filled map[string]float64
}

// NewPaperConnector creates an empty simulated venue.
func NewPaperConnector() *PaperConnector {
	return &PaperConnector{filled: make(map[string]float64)}
}

// PlaceLimit accepts and fills the order.
func (c *PaperConnector) PlaceLimit(_ context.Context, _ string, _ decision.Side, _, sizeUSD float64) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.filled[id] = sizeUSD
	c.mu.Unlock()
	return id, nil
}

// Status reports every known order as filled.
func (c *PaperConnector) Status(_ context.Context, orderID string) (OrderStatus, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, ok := c.filled[orderID]
	if !ok {
		return OrderCancelled, 0, fmt.Errorf("unknown order %s", orderID)
	}
	return OrderFilled, size, nil
}

// Cancel refuses; paper orders fill at placement.
func (c *PaperConnector) Cancel(_ context.Context, orderID string) error {
	return fmt.Errorf("%w: paper order %s filled at placement", ErrAlreadyFilled, orderID)
}
