// Package connectors defines the narrow interfaces to external
// collaborators and the resilience wrappers around them. The pipeline
// never talks to a venue or feed directly.
package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/signal"
)

var (
	// ErrUnavailable marks a source that is down or circuit-broken.
	ErrUnavailable = errors.New("connector unavailable")
	// ErrTimeout marks a source call that exceeded its deadline.
	ErrTimeout = errors.New("connector timeout")
)

// MarketSource lists and resolves tradeable markets.
type MarketSource interface {
	// ListMarkets returns active markets, already filtered of closed
	// and resolved ones.
	ListMarkets(ctx context.Context) ([]market.Market, error)
	// GetMarket returns one market by ID. ok is false when the market
	// no longer exists at the venue.
	GetMarket(ctx context.Context, id string) (market.Market, bool, error)
}

// SignalSource produces raw observations for classification.
type SignalSource interface {
	Name() string
	FetchRecent(ctx context.Context, category market.Category) ([]signal.RawItem, error)
}

// Clock abstracts time so the pipeline is deterministic under test.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
