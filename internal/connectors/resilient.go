package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// Circuit breaker thresholds for external sources.
const (
	SourceMinRequests     = 5                // Minimum requests before tripping
	SourceFailureRatio    = 0.6              // Failure ratio threshold (60%)
	SourceOpenTimeout     = 30 * time.Second // How long circuit stays open
	SourceHalfOpenMaxReqs = 3                // Max requests in half-open state
	SourceCountInterval   = 10 * time.Second // Window for counting failures

	// DefaultCallTimeout bounds any single source call.
	DefaultCallTimeout = 10 * time.Second

	// DefaultFetchInterval is the minimum gap between fetches from
	// the same signal source for the same category.
	DefaultFetchInterval = 5 * time.Minute
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: SourceHalfOpenMaxReqs,
		Interval:    SourceCountInterval,
		Timeout:     SourceOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= SourceMinRequests && failureRatio >= SourceFailureRatio
		},
	})
}

// ResilientMarketSource wraps a MarketSource with a per-call deadline
// and a circuit breaker. A failed list degrades to an empty slice so
// the caller keeps its current view; a failed lookup reports
// ErrUnavailable, which is distinct from "market gone".
type ResilientMarketSource struct {
	inner   MarketSource
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  zerolog.Logger
}

// NewResilientMarketSource wraps inner. timeout <= 0 uses the default.
func NewResilientMarketSource(inner MarketSource, timeout time.Duration, logger zerolog.Logger) *ResilientMarketSource {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &ResilientMarketSource{
		inner:   inner,
		breaker: newBreaker("market_source"),
		timeout: timeout,
		logger:  logger.With().Str("component", "market_source").Logger(),
	}
}

// ListMarkets returns the venue's active markets, or an empty slice
// when the venue is unreachable.
func (r *ResilientMarketSource) ListMarkets(ctx context.Context) ([]market.Market, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.ListMarkets(callCtx)
	})
	if err != nil {
		metrics.ConnectorErrors.WithLabelValues("market_source", metrics.NormalizeConnectorError(err)).Inc()
		r.logger.Warn().Err(err).Msg("Market listing failed, keeping current view")
		return nil, nil
	}
	return out.([]market.Market), nil
}

// GetMarket looks one market up. ok is false only when the venue
// affirmatively reports the market gone.
func (r *ResilientMarketSource) GetMarket(ctx context.Context, id string) (market.Market, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		m  market.Market
		ok bool
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		m, ok, err := r.inner.GetMarket(callCtx, id)
		if err != nil {
			return nil, err
		}
		return result{m: m, ok: ok}, nil
	})
	if err != nil {
		metrics.ConnectorErrors.WithLabelValues("market_source", metrics.NormalizeConnectorError(err)).Inc()
		r.logger.Warn().Err(err).Str("market_id", id).Msg("Market lookup failed")
		return market.Market{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res := out.(result)
	return res.m, res.ok, nil
}

// ResilientSignalSource wraps a SignalSource with a per-call deadline,
// a circuit breaker, and a minimum inter-fetch interval per category.
// Every failure mode degrades to an empty batch; the classifier just
// sees fewer items.
type ResilientSignalSource struct {
	inner       SignalSource
	breaker     *gobreaker.CircuitBreaker
	timeout     time.Duration
	minInterval time.Duration
	clock       Clock

	mu        sync.Mutex
	lastFetch map[market.Category]time.Time

	logger zerolog.Logger
}

// NewResilientSignalSource wraps inner. Zero timeout and minInterval
// use the defaults.
func NewResilientSignalSource(inner SignalSource, timeout, minInterval time.Duration, clock Clock, logger zerolog.Logger) *ResilientSignalSource {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if minInterval <= 0 {
		minInterval = DefaultFetchInterval
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &ResilientSignalSource{
		inner:       inner,
		breaker:     newBreaker(inner.Name()),
		timeout:     timeout,
		minInterval: minInterval,
		clock:       clock,
		lastFetch:   make(map[market.Category]time.Time),
		logger:      logger.With().Str("component", "signal_source").Str("source", inner.Name()).Logger(),
	}
}

// Name reports the wrapped source's name.
func (r *ResilientSignalSource) Name() string { return r.inner.Name() }

// FetchRecent fetches new raw items for a category. Calls inside the
// minimum interval, timeouts, and open-circuit rejections all return
// an empty batch without error.
func (r *ResilientSignalSource) FetchRecent(ctx context.Context, category market.Category) ([]signal.RawItem, error) {
	now := r.clock.Now()

	r.mu.Lock()
	if last, ok := r.lastFetch[category]; ok && now.Sub(last) < r.minInterval {
		r.mu.Unlock()
		return nil, nil
	}
	r.lastFetch[category] = now
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.FetchRecent(callCtx, category)
	})
	if err != nil {
		metrics.ConnectorErrors.WithLabelValues(r.inner.Name(), metrics.NormalizeConnectorError(err)).Inc()
		r.logger.Warn().Err(err).Str("category", string(category)).Msg("Signal fetch failed, returning empty batch")
		return nil, nil
	}

	items := out.([]signal.RawItem)
	metrics.ItemsFetched.WithLabelValues(r.inner.Name()).Add(float64(len(items)))
	return items, nil
}
