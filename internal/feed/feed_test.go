package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// startTestNATSServer starts an embedded NATS server for testing
func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // Random port
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func testBatch() ItemBatch {
	return ItemBatch{
		Category: market.CategoryPolitics,
		Items: []signal.RawItem{
			{Source: "reuters.com", Title: "Commission issues final ruling", Origin: signal.OriginRSS},
		},
		FetchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestInProcBusDeliversItems routes batches to all subscribers
func TestInProcBusDeliversItems(t *testing.T) {
	bus := NewInProcBus()

	var got []ItemBatch
	require.NoError(t, bus.SubscribeItems(func(batch ItemBatch) {
		got = append(got, batch)
	}))

	require.NoError(t, bus.PublishItems(context.Background(), testBatch()))
	require.Len(t, got, 1)
	assert.Equal(t, market.CategoryPolitics, got[0].Category)
	assert.Equal(t, "reuters.com", got[0].Items[0].Source)
}

// TestInProcBusDeliversResolutions routes settlements
func TestInProcBusDeliversResolutions(t *testing.T) {
	bus := NewInProcBus()

	var got []Resolution
	require.NoError(t, bus.SubscribeResolutions(func(res Resolution) {
		got = append(got, res)
	}))

	require.NoError(t, bus.PublishResolution(context.Background(), Resolution{
		MarketID: "m1",
		Outcome:  market.OutcomeYes,
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MarketID)
}

// TestInProcBusClosedDropsQuietly publishes after Close are no-ops
func TestInProcBusClosedDropsQuietly(t *testing.T) {
	bus := NewInProcBus()

	delivered := 0
	require.NoError(t, bus.SubscribeItems(func(ItemBatch) { delivered++ }))
	require.NoError(t, bus.Close())
	require.NoError(t, bus.PublishItems(context.Background(), testBatch()))
	assert.Zero(t, delivered)
}

// TestNATSBusRoundTrip publishes and receives over an embedded server
func TestNATSBusRoundTrip(t *testing.T) {
	ns := startTestNATSServer(t)

	bus, err := NewNATSBus(NATSBusConfig{URL: ns.ClientURL(), Prefix: "test.edgewatch."}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	var mu sync.Mutex
	var batches []ItemBatch
	var resolutions []Resolution

	require.NoError(t, bus.SubscribeItems(func(batch ItemBatch) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	}))
	require.NoError(t, bus.SubscribeResolutions(func(res Resolution) {
		mu.Lock()
		resolutions = append(resolutions, res)
		mu.Unlock()
	}))

	require.NoError(t, bus.PublishItems(context.Background(), testBatch()))
	require.NoError(t, bus.PublishResolution(context.Background(), Resolution{
		MarketID: "m1",
		Outcome:  market.OutcomeNo,
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1 && len(resolutions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, market.CategoryPolitics, batches[0].Category)
	assert.Equal(t, market.OutcomeNo, resolutions[0].Outcome)
}
