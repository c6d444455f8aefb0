package calibration

import (
	"time"

	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

// Record captures one resolved position for calibration scoring. The
// belief bounds and confidence are frozen at entry time.
type Record struct {
	MarketID      string          `json:"market_id"`
	Category      market.Category `json:"category"`
	Side          decision.Side   `json:"side"`
	BeliefLow     float64         `json:"belief_low"`
	BeliefHigh    float64         `json:"belief_high"`
	Confidence    float64         `json:"confidence_at_entry"`
	UnknownsCount int             `json:"unknowns_count"`
	ActualOutcome market.Outcome  `json:"actual_outcome"`
	ResolvedAt    time.Time       `json:"resolved_ts"`
	EdgeAtEntry   float64         `json:"edge_at_entry"`
	RealizedEdge  float64         `json:"realized_edge"`
	Invalidated   bool            `json:"invalidated"`
}

// Won reports whether the taken side matched the actual outcome.
func (r Record) Won() bool {
	return (r.Side == decision.SideYes && r.ActualOutcome == market.OutcomeYes) ||
		(r.Side == decision.SideNo && r.ActualOutcome == market.OutcomeNo)
}

// Covered reports whether the realized outcome probability fell inside
// the entry belief range. Binary outcomes realize as 100 or 0.
func (r Record) Covered() bool {
	actual := 0.0
	if r.ActualOutcome == market.OutcomeYes {
		actual = 100
	}
	return actual >= r.BeliefLow && actual <= r.BeliefHigh
}
