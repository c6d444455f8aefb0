package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/signal"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeSignalSource struct {
	items   []signal.RawItem
	err     error
	fetches int
}

func (s *fakeSignalSource) Name() string { return "fake_feed" }

func (s *fakeSignalSource) FetchRecent(_ context.Context, _ market.Category) ([]signal.RawItem, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type fakeMarketSource struct {
	markets []market.Market
	err     error
}

func (s *fakeMarketSource) ListMarkets(_ context.Context) ([]market.Market, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.markets, nil
}

func (s *fakeMarketSource) GetMarket(_ context.Context, id string) (market.Market, bool, error) {
	if s.err != nil {
		return market.Market{}, false, s.err
	}
	for _, m := range s.markets {
		if m.ID == id {
			return m, true, nil
		}
	}
	return market.Market{}, false, nil
}

// TestFetchRecentPassesThrough returns the wrapped source's items
func TestFetchRecentPassesThrough(t *testing.T) {
	inner := &fakeSignalSource{items: []signal.RawItem{{Source: "reuters.com", Title: "news"}}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := NewResilientSignalSource(inner, time.Second, time.Minute, clock, zerolog.Nop())

	items, err := src.FetchRecent(context.Background(), market.CategoryPolitics)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "reuters.com", items[0].Source)
}

// TestFetchRecentThrottled skips fetches inside the minimum interval
func TestFetchRecentThrottled(t *testing.T) {
	inner := &fakeSignalSource{items: []signal.RawItem{{Source: "a", Title: "t"}}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := NewResilientSignalSource(inner, time.Second, 5*time.Minute, clock, zerolog.Nop())

	_, err := src.FetchRecent(context.Background(), market.CategoryCrypto)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	items, err := src.FetchRecent(context.Background(), market.CategoryCrypto)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, inner.fetches)

	clock.Advance(5 * time.Minute)
	_, err = src.FetchRecent(context.Background(), market.CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.fetches)
}

// TestFetchRecentThrottlePerCategory tracks intervals per category
func TestFetchRecentThrottlePerCategory(t *testing.T) {
	inner := &fakeSignalSource{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := NewResilientSignalSource(inner, time.Second, 5*time.Minute, clock, zerolog.Nop())

	_, _ = src.FetchRecent(context.Background(), market.CategoryCrypto)
	_, _ = src.FetchRecent(context.Background(), market.CategoryPolitics)
	assert.Equal(t, 2, inner.fetches)
}

// TestFetchRecentDegradesToEmpty swallows source failures
func TestFetchRecentDegradesToEmpty(t *testing.T) {
	inner := &fakeSignalSource{err: errors.New("connection refused")}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := NewResilientSignalSource(inner, time.Second, time.Millisecond, clock, zerolog.Nop())

	items, err := src.FetchRecent(context.Background(), market.CategorySports)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// TestBreakerOpensAfterRepeatedFailures stops hitting a dead source
func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &fakeSignalSource{err: errors.New("connection refused")}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := NewResilientSignalSource(inner, time.Second, time.Nanosecond, clock, zerolog.Nop())

	for i := 0; i < 10; i++ {
		clock.Advance(time.Millisecond)
		items, err := src.FetchRecent(context.Background(), market.CategoryWeather)
		require.NoError(t, err)
		assert.Empty(t, items)
	}
	assert.Less(t, inner.fetches, 10)
}

// TestListMarketsDegradesToEmpty keeps the current view on failure
func TestListMarketsDegradesToEmpty(t *testing.T) {
	inner := &fakeMarketSource{err: errors.New("timeout")}
	src := NewResilientMarketSource(inner, time.Second, zerolog.Nop())

	markets, err := src.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markets)
}

// TestGetMarketDistinguishesGoneFromUnavailable reports gone markets
// without error and dead venues with ErrUnavailable
func TestGetMarketDistinguishesGoneFromUnavailable(t *testing.T) {
	inner := &fakeMarketSource{markets: []market.Market{{ID: "m1", Question: "Will it?"}}}
	src := NewResilientMarketSource(inner, time.Second, zerolog.Nop())

	m, ok, err := src.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Will it?", m.Question)

	_, ok, err = src.GetMarket(context.Background(), "m2")
	require.NoError(t, err)
	assert.False(t, ok)

	inner.err = errors.New("connection refused")
	_, ok, err = src.GetMarket(context.Background(), "m1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
}
