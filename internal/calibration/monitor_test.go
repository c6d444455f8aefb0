package calibration

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

type haltCapture struct {
	reason HaltReason
	detail string
	fired  bool
}

func (h *haltCapture) fn() HaltFunc {
	return func(reason HaltReason, detail string) {
		h.reason = reason
		h.detail = detail
		h.fired = true
	}
}

func coveredRecord(conf float64, won bool) Record {
	r := Record{
		MarketID:    "m1",
		Category:    market.CategoryPolitics,
		Side:        decision.SideYes,
		BeliefLow:   60,
		BeliefHigh:  100,
		Confidence:  conf,
		EdgeAtEntry: 10,
		ResolvedAt:  time.Now(),
	}
	if won {
		r.ActualOutcome = market.OutcomeYes
		r.RealizedEdge = 10
	} else {
		r.ActualOutcome = market.OutcomeNo
		r.BeliefLow = 60 // actual 0 falls outside [60,100]
		r.RealizedEdge = -10
	}
	return r
}

func newTestMonitor(halt HaltFunc, adjust AdjustFunc) *Monitor {
	return NewMonitor(200, 20, 10, 0.80, halt, adjust, zerolog.Nop())
}

// TestRecordCovered evaluates coverage against the side taken
func TestRecordCovered(t *testing.T) {
	yes := Record{Side: decision.SideYes, BeliefLow: 60, BeliefHigh: 90, ActualOutcome: market.OutcomeYes}
	assert.False(t, yes.Covered()) // actual 100 outside [60,90]

	yes.BeliefHigh = 100
	assert.True(t, yes.Covered())

	no := Record{Side: decision.SideNo, BeliefLow: 0, BeliefHigh: 30, ActualOutcome: market.OutcomeNo}
	assert.True(t, no.Covered()) // actual 0 inside [0,30]
}

// TestCoverageDeviationHalts fires after 20 records more than 15pp off target
func TestCoverageDeviationHalts(t *testing.T) {
	var halt haltCapture
	m := newTestMonitor(halt.fn(), nil)

	// Every record misses its range: coverage 0.0 vs target 0.80.
	for i := 0; i < 20; i++ {
		m.Add(coveredRecord(70, false))
		if halt.fired {
			break
		}
	}

	require.True(t, halt.fired)
	assert.Equal(t, HaltCoverageDeviation, halt.reason)
	assert.Contains(t, halt.detail, "range coverage")
}

// TestBucketInversionHalts fires when high confidence underperforms low
func TestBucketInversionHalts(t *testing.T) {
	var halt haltCapture
	// minRecords 50 keeps the coverage condition quiet while the
	// buckets fill.
	m := NewMonitor(200, 50, 10, 0.80, halt.fn(), nil, zerolog.Nop())

	// Low-confidence bucket wins everything, high-confidence loses
	// everything.
	for i := 0; i < 10; i++ {
		m.Add(coveredRecord(55, true))
	}
	for i := 0; i < 10; i++ {
		m.Add(coveredRecord(90, false))
		if halt.fired {
			break
		}
	}

	require.True(t, halt.fired)
	assert.Equal(t, HaltBucketInversion, halt.reason)
}

// TestInvalidationStreakHalts fires on three consecutive invalidations
// in one category
func TestInvalidationStreakHalts(t *testing.T) {
	var halt haltCapture
	m := newTestMonitor(halt.fn(), nil)

	rec := coveredRecord(70, true)
	rec.Invalidated = true
	rec.Category = market.CategoryCrypto

	m.Add(rec)
	m.Add(rec)
	assert.False(t, halt.fired)
	m.Add(rec)

	require.True(t, halt.fired)
	assert.Equal(t, HaltInvalidationStreak, halt.reason)
	assert.Contains(t, halt.detail, "crypto")
}

// TestInvalidationStreakResets breaks the streak on a clean exit or a
// different category
func TestInvalidationStreakResets(t *testing.T) {
	var halt haltCapture
	m := newTestMonitor(halt.fn(), nil)

	inv := coveredRecord(70, true)
	inv.Invalidated = true
	inv.Category = market.CategoryCrypto

	other := inv
	other.Category = market.CategoryPolitics

	m.Add(inv)
	m.Add(inv)
	m.Add(other) // streak restarts on politics
	m.Add(inv)
	m.Add(inv)
	assert.False(t, halt.fired)
}

// TestRisingUnknownDensityHalts fires when density strictly rises across
// three equal windows
func TestRisingUnknownDensityHalts(t *testing.T) {
	var halt haltCapture
	m := NewMonitor(200, 100, 3, 0.80, halt.fn(), nil, zerolog.Nop())

	add := func(unknowns int) {
		rec := coveredRecord(70, true)
		rec.UnknownsCount = unknowns
		m.Add(rec)
	}

	for i := 0; i < 3; i++ {
		add(0)
	}
	for i := 0; i < 3; i++ {
		add(1)
	}
	add(2)
	add(2)
	assert.False(t, halt.fired)
	add(2)

	require.True(t, halt.fired)
	assert.Equal(t, HaltRisingUnknowns, halt.reason)
}

// TestCoverageShortfallTriggersAdjust raises the category minimum edge
// when coverage slips below target minus the tolerance
func TestCoverageShortfallTriggersAdjust(t *testing.T) {
	var adjusted []market.Category
	m := newTestMonitor(nil, func(c market.Category) { adjusted = append(adjusted, c) })

	// Coverage 0.70: within 15pp of 0.80 (no halt) but below 0.75.
	for i := 0; i < 14; i++ {
		m.Add(coveredRecord(70, true))
	}
	for i := 0; i < 6; i++ {
		m.Add(coveredRecord(70, false))
	}

	require.NotEmpty(t, adjusted)
	assert.Equal(t, market.CategoryPolitics, adjusted[len(adjusted)-1])
}

// TestMetricsSummary computes coverage, effectiveness, and density
func TestMetricsSummary(t *testing.T) {
	m := newTestMonitor(nil, nil)

	win := coveredRecord(72, true)
	win.UnknownsCount = 2
	loss := coveredRecord(55, false)
	loss.UnknownsCount = 0

	m.Add(win)
	m.Add(loss)

	got := m.Metrics()
	assert.Equal(t, 2, got.Records)
	assert.Equal(t, 0.5, got.RangeCoverage)
	assert.Equal(t, 1.0, got.UnknownDensity)
	assert.Equal(t, 0.0, got.EdgeEffectiveness) // +10 and -10 cancel
	require.Len(t, got.Buckets, 2)
	assert.Equal(t, 0.0, got.Buckets[0].WinRate)
	assert.Equal(t, 1.0, got.Buckets[1].WinRate)
}
