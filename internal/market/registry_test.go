package market

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarket(id string, liquidity float64) Market {
	return Market{
		ID:                       id,
		Question:                 "Will it happen?",
		Category:                 CategoryPolitics,
		CurrentPrice:             50,
		Liquidity:                liquidity,
		ResolutionAuthorityClear: true,
		OutcomeObjective:         true,
	}
}

// TestRegistryEvictsLowestLiquidity verifies overflow evicts the thinnest market first
func TestRegistryEvictsLowestLiquidity(t *testing.T) {
	r := NewRegistry(2, zerolog.Nop())

	r.Upsert(testMarket("m1", 5000))
	r.Upsert(testMarket("m2", 20000))
	evicted := r.Upsert(testMarket("m3", 10000))

	require.Equal(t, []string{"m1"}, evicted)
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("m1")
	assert.False(t, ok)
}

// TestRegistryUpsertRefreshes verifies re-upserting the same id does not evict
func TestRegistryUpsertRefreshes(t *testing.T) {
	r := NewRegistry(2, zerolog.Nop())

	r.Upsert(testMarket("m1", 5000))
	r.Upsert(testMarket("m2", 20000))
	evicted := r.Upsert(testMarket("m1", 6000))

	assert.Empty(t, evicted)
	m, ok := r.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 6000.0, m.Liquidity)
}

// TestRegistryGetReturnsCopy verifies callers cannot mutate the stored snapshot
func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry(10, zerolog.Nop())
	r.Upsert(testMarket("m1", 5000))

	m, ok := r.Get("m1")
	require.True(t, ok)
	m.Liquidity = 1

	stored, _ := r.Get("m1")
	assert.Equal(t, 5000.0, stored.Liquidity)
}

// TestRegistryPurge removes resolved and closed markets
func TestRegistryPurge(t *testing.T) {
	r := NewRegistry(10, zerolog.Nop())
	now := time.Now()

	resolved := testMarket("resolved", 5000)
	resolvedAt := now.Add(-time.Hour)
	resolved.ResolvedAt = &resolvedAt

	closed := testMarket("closed", 5000)
	closesAt := now.Add(-time.Minute)
	closed.ClosesAt = &closesAt

	open := testMarket("open", 5000)

	r.Upsert(resolved)
	r.Upsert(closed)
	r.Upsert(open)

	purged := r.Purge(now)
	assert.ElementsMatch(t, []string{"resolved", "closed"}, purged)
	assert.Equal(t, 1, r.Len())
}

// TestRegistryShrinkToFraction drops lowest-liquidity markets to the target
func TestRegistryShrinkToFraction(t *testing.T) {
	r := NewRegistry(10, zerolog.Nop())
	for i, liq := range []float64{100, 200, 300, 400, 500} {
		r.Upsert(testMarket(string(rune('a'+i)), liq))
	}

	evicted := r.ShrinkToFraction(0.4) // target = 4
	assert.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0])
	assert.Equal(t, 4, r.Len())
}

// TestParseCategory defaults unknown categories to other
func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryCrypto, ParseCategory("crypto"))
	assert.Equal(t, CategoryOther, ParseCategory("memes"))
}
