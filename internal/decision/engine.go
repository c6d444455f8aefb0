package decision

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/market"
)

// Engine runs the ordered eligibility gates over a belief and a market
// snapshot. Evaluation is pure: the same inputs always produce the same
// result and touch no state.
type Engine struct {
	settings *Settings
	sizing   SizingPolicy
	capital  float64
	logger   zerolog.Logger
}

// NewEngine creates a decision engine reading thresholds from the
// settings actor.
func NewEngine(settings *Settings, sizing SizingPolicy, capitalUSD float64, logger zerolog.Logger) *Engine {
	return &Engine{
		settings: settings,
		sizing:   sizing,
		capital:  capitalUSD,
		logger:   logger,
	}
}

// Evaluate runs the gates in order and fails fast on the first miss.
// A price exactly on a belief bound counts as inside; an edge exactly at
// the category minimum passes.
func (e *Engine) Evaluate(b belief.State, m market.Market, now time.Time) Result {
	t := e.settings.Snapshot()

	if !m.ResolutionAuthorityClear {
		return e.rejected(m, ReasonAuthorityUnclear)
	}
	if !m.OutcomeObjective {
		return e.rejected(m, ReasonOutcomeSubjective)
	}
	if m.Liquidity < t.MinLiquidity {
		return e.rejected(m, ReasonIlliquid)
	}
	if b.Width() > t.MaxWidth {
		return e.rejected(m, ReasonBeliefTooWide)
	}
	if b.Confidence < t.MinConfidence {
		return e.rejected(m, ReasonConfidenceTooLow)
	}

	var side Side
	var edge float64
	switch {
	case m.CurrentPrice < b.Low:
		side = SideYes
		edge = b.Low - m.CurrentPrice
	case m.CurrentPrice > b.High:
		side = SideNo
		edge = m.CurrentPrice - b.High
	default:
		return e.rejected(m, ReasonPriceInsideBelief)
	}

	minEdge := t.MinEdgeFor(m.Category)
	if edge < minEdge {
		return e.rejected(m, ReasonInsufficientEdge)
	}

	size := e.sizing.Size(edge, b.Confidence, e.capital)
	if size <= 0 {
		return e.rejected(m, ReasonInsufficientEdge)
	}

	rationale := fmt.Sprintf("%s %s: price %.2f outside belief [%.2f, %.2f], edge %.2f >= %.2f, confidence %.1f",
		side, m.ID, m.CurrentPrice, b.Low, b.High, edge, minEdge, b.Confidence)

	d := &TradeDecision{
		Side:           side,
		SizeUSD:        size,
		EntryPrice:     m.CurrentPrice,
		Edge:           edge,
		ExitConditions: exitPlan(side, b, t.MinLiquidity),
		Rationale:      rationale,
		RationaleHash:  hashRationale(rationale),
		Timestamp:      now,
	}

	e.logger.Info().
		Str("market_id", m.ID).
		Str("side", string(side)).
		Float64("edge", edge).
		Float64("size_usd", size).
		Msg("Trade opportunity")

	return Result{Decision: d}
}

// exitPlan builds the mandatory exit set: one invalidation, one profit,
// one emergency rule.
func exitPlan(side Side, b belief.State, minLiquidity float64) []ExitCondition {
	// Profit target sits halfway to the opposite bound of the range.
	var target float64
	if side == SideYes {
		target = b.Low + b.Width()/2
	} else {
		target = b.High - b.Width()/2
	}

	return []ExitCondition{
		{Kind: ExitInvalidation, BeliefShiftPct: 0.5},
		{Kind: ExitProfit, PriceTarget: target},
		{Kind: ExitEmergency, MinLiquidity: minLiquidity / 2},
	}
}

func (e *Engine) rejected(m market.Market, reason NoTradeReason) Result {
	e.logger.Debug().
		Str("market_id", m.ID).
		Str("reason", string(reason)).
		Msg("No trade")
	return noTrade(reason)
}
