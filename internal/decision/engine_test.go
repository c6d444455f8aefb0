package decision

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/market"
)

func testThresholds() Thresholds {
	minEdge := make(map[market.Category]float64)
	for cat, v := range config.DefaultMinEdge() {
		minEdge[market.ParseCategory(cat)] = v
	}
	return Thresholds{
		MinConfidence: 65,
		MaxWidth:      25,
		MinLiquidity:  1000,
		MinEdge:       minEdge,
	}
}

func newTestEngine() *Engine {
	settings := NewSettings(testThresholds(), 5, zerolog.Nop())
	sizing := NewFractionalKelly(0.25, 100)
	return NewEngine(settings, sizing, 10000, zerolog.Nop())
}

func eligibleMarket(category market.Category, price float64) market.Market {
	return market.Market{
		ID:                       "m1",
		Question:                 "Will it happen?",
		Category:                 category,
		CurrentPrice:             price,
		Liquidity:                5000,
		ResolutionAuthorityClear: true,
		OutcomeObjective:         true,
	}
}

func confidentBelief(low, high, confidence float64) belief.State {
	return belief.State{Low: low, High: high, Confidence: confidence}
}

// TestEvaluateInsufficientEdge rejects a crypto market one point short of
// its minimum edge
func TestEvaluateInsufficientEdge(t *testing.T) {
	e := newTestEngine()

	b := confidentBelief(65, 80, 78)
	m := eligibleMarket(market.CategoryCrypto, 52) // edge YES = 13, crypto needs 15

	r := e.Evaluate(b, m, time.Now())
	require.False(t, r.Trade())
	assert.Equal(t, ReasonInsufficientEdge, r.Reason)
}

// TestEvaluateBeliefTooWide rejects a wide range regardless of confidence
func TestEvaluateBeliefTooWide(t *testing.T) {
	e := newTestEngine()

	b := confidentBelief(40, 75, 85) // width 35
	m := eligibleMarket(market.CategoryPolitics, 20)

	r := e.Evaluate(b, m, time.Now())
	require.False(t, r.Trade())
	assert.Equal(t, ReasonBeliefTooWide, r.Reason)
}

// TestEvaluateGateOrder returns the first failing gate's reason
func TestEvaluateGateOrder(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	m := eligibleMarket(market.CategoryPolitics, 20)
	m.ResolutionAuthorityClear = false
	m.OutcomeObjective = false
	m.Liquidity = 10

	b := confidentBelief(40, 75, 40) // also too wide and underconfident

	r := e.Evaluate(b, m, now)
	assert.Equal(t, ReasonAuthorityUnclear, r.Reason)

	m.ResolutionAuthorityClear = true
	assert.Equal(t, ReasonOutcomeSubjective, e.Evaluate(b, m, now).Reason)

	m.OutcomeObjective = true
	assert.Equal(t, ReasonIlliquid, e.Evaluate(b, m, now).Reason)

	m.Liquidity = 5000
	assert.Equal(t, ReasonBeliefTooWide, e.Evaluate(b, m, now).Reason)

	b = confidentBelief(40, 60, 40)
	assert.Equal(t, ReasonConfidenceTooLow, e.Evaluate(b, m, now).Reason)
}

// TestEvaluatePriceOnBoundIsInside treats equality with a bound as inside
func TestEvaluatePriceOnBoundIsInside(t *testing.T) {
	e := newTestEngine()
	b := confidentBelief(40, 60, 80)

	for _, price := range []float64{40, 60, 50} {
		r := e.Evaluate(b, eligibleMarket(market.CategoryWeather, price), time.Now())
		require.False(t, r.Trade())
		assert.Equal(t, ReasonPriceInsideBelief, r.Reason)
	}
}

// TestEvaluateEdgeExactlyAtMinimumPasses accepts edge equal to the
// category minimum
func TestEvaluateEdgeExactlyAtMinimumPasses(t *testing.T) {
	e := newTestEngine()

	b := confidentBelief(40, 60, 80)
	m := eligibleMarket(market.CategoryWeather, 32) // edge YES = 8 == MIN_EDGE[weather]

	r := e.Evaluate(b, m, time.Now())
	require.True(t, r.Trade())
	assert.Equal(t, SideYes, r.Decision.Side)
	assert.Equal(t, 8.0, r.Decision.Edge)
}

// TestEvaluateWidthExactlyAtMaximumPasses accepts width 25 and rejects
// just above
func TestEvaluateWidthExactlyAtMaximumPasses(t *testing.T) {
	e := newTestEngine()
	m := eligibleMarket(market.CategoryWeather, 10)

	r := e.Evaluate(confidentBelief(40, 65, 80), m, time.Now())
	assert.True(t, r.Trade())

	r = e.Evaluate(confidentBelief(40, 65.0001, 80), m, time.Now())
	require.False(t, r.Trade())
	assert.Equal(t, ReasonBeliefTooWide, r.Reason)
}

// TestEvaluateNoSide produces a NO decision when price sits above the range
func TestEvaluateNoSide(t *testing.T) {
	e := newTestEngine()

	b := confidentBelief(20, 40, 80)
	m := eligibleMarket(market.CategoryPolitics, 55) // edge NO = 15 >= 12

	r := e.Evaluate(b, m, time.Now())
	require.True(t, r.Trade())
	assert.Equal(t, SideNo, r.Decision.Side)
	assert.Equal(t, 55.0, r.Decision.EntryPrice)
	assert.Equal(t, 15.0, r.Decision.Edge)
}

// TestDecisionCarriesExitPlan attaches all three exit variants
func TestDecisionCarriesExitPlan(t *testing.T) {
	e := newTestEngine()

	b := confidentBelief(40, 60, 80)
	m := eligibleMarket(market.CategoryWeather, 30)

	r := e.Evaluate(b, m, time.Now())
	require.True(t, r.Trade())
	require.Len(t, r.Decision.ExitConditions, 3)

	kinds := map[ExitKind]ExitCondition{}
	for _, ec := range r.Decision.ExitConditions {
		kinds[ec.Kind] = ec
	}
	assert.Equal(t, 0.5, kinds[ExitInvalidation].BeliefShiftPct)
	assert.Equal(t, 50.0, kinds[ExitProfit].PriceTarget) // halfway to the opposite bound
	assert.Equal(t, 500.0, kinds[ExitEmergency].MinLiquidity)

	assert.NotEmpty(t, r.Decision.Rationale)
	assert.Len(t, r.Decision.RationaleHash, 64)
}

// TestEvaluateIdempotent yields the same rejection for the same inputs
func TestEvaluateIdempotent(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	b := confidentBelief(65, 80, 78)
	m := eligibleMarket(market.CategoryCrypto, 52)

	first := e.Evaluate(b, m, now)
	second := e.Evaluate(b, m, now)
	assert.Equal(t, first, second)
}

// TestRaiseMinEdgeCapped applies +1 raises up to the ceiling over baseline
func TestRaiseMinEdgeCapped(t *testing.T) {
	s := NewSettings(testThresholds(), 5, zerolog.Nop())

	for i := 0; i < 5; i++ {
		v, ok := s.RaiseMinEdge(market.CategoryCrypto)
		require.True(t, ok)
		assert.Equal(t, 15.0+float64(i+1), v)
	}

	v, ok := s.RaiseMinEdge(market.CategoryCrypto)
	assert.False(t, ok)
	assert.Equal(t, 20.0, v)

	assert.Equal(t, 20.0, s.Snapshot().MinEdgeFor(market.CategoryCrypto))
	assert.Equal(t, 12.0, s.Snapshot().MinEdgeFor(market.CategoryPolitics))
}

// TestSizingNeverCreatesTrade returns zero for non-positive edge
func TestSizingNeverCreatesTrade(t *testing.T) {
	k := NewFractionalKelly(0.25, 100)
	assert.Zero(t, k.Size(0, 80, 10000))
	assert.Zero(t, k.Size(-5, 80, 10000))
	assert.LessOrEqual(t, k.Size(50, 95, 100000), 100.0)
}
