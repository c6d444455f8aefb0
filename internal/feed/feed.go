// Package feed distributes raw observations and market resolutions
// from the connector edge to the orchestrator. The production bus runs
// over NATS; an in-process bus backs single-binary and test setups.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// ItemBatch is one delivery of raw observations for a category.
type ItemBatch struct {
	Category  market.Category  `json:"category"`
	Items     []signal.RawItem `json:"items"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Resolution announces that a market has settled.
type Resolution struct {
	MarketID   string         `json:"market_id"`
	Outcome    market.Outcome `json:"outcome"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// ItemHandler consumes one item batch.
type ItemHandler func(batch ItemBatch)

// ResolutionHandler consumes one resolution.
type ResolutionHandler func(res Resolution)

// Bus moves item batches and resolutions between producers and the
// pipeline.
type Bus interface {
	PublishItems(ctx context.Context, batch ItemBatch) error
	SubscribeItems(handler ItemHandler) error
	PublishResolution(ctx context.Context, res Resolution) error
	SubscribeResolutions(handler ResolutionHandler) error
	Close() error
}

// InProcBus is a synchronous in-memory bus. Handlers run on the
// publisher's goroutine.
type InProcBus struct {
	mu          sync.RWMutex
	itemSubs    []ItemHandler
	resolveSubs []ResolutionHandler
	closed      bool
}

// NewInProcBus creates an empty in-process bus.
func NewInProcBus() *InProcBus {
	return &InProcBus{}
}

func (b *InProcBus) PublishItems(_ context.Context, batch ItemBatch) error {
	b.mu.RLock()
	subs := b.itemSubs
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	for _, h := range subs {
		h(batch)
	}
	return nil
}

func (b *InProcBus) SubscribeItems(handler ItemHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.itemSubs = append(b.itemSubs, handler)
	return nil
}

func (b *InProcBus) PublishResolution(_ context.Context, res Resolution) error {
	b.mu.RLock()
	subs := b.resolveSubs
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	for _, h := range subs {
		h(res)
	}
	return nil
}

func (b *InProcBus) SubscribeResolutions(handler ResolutionHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveSubs = append(b.resolveSubs, handler)
	return nil
}

func (b *InProcBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
