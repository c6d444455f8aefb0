package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Side of a trade decision. NONE is the designed common outcome.
type Side string

const (
	SideYes  Side = "YES"
	SideNo   Side = "NO"
	SideNone Side = "NONE"
)

// NoTradeReason is the closed set of gate names. Every rejection names
// the first gate that failed.
type NoTradeReason string

const (
	ReasonAuthorityUnclear  NoTradeReason = "authority_unclear"
	ReasonOutcomeSubjective NoTradeReason = "outcome_subjective"
	ReasonIlliquid          NoTradeReason = "illiquid"
	ReasonBeliefTooWide     NoTradeReason = "belief_too_wide"
	ReasonConfidenceTooLow  NoTradeReason = "confidence_too_low"
	ReasonPriceInsideBelief NoTradeReason = "price_inside_belief"
	ReasonInsufficientEdge  NoTradeReason = "insufficient_edge"
)

// ExitKind tags the exit-condition variant.
type ExitKind string

const (
	ExitInvalidation ExitKind = "invalidation"
	ExitProfit       ExitKind = "profit"
	ExitEmergency    ExitKind = "emergency"
)

// ExitCondition is one predefined exit rule attached at decision time.
type ExitCondition struct {
	Kind ExitKind `json:"kind"`

	// BeliefShiftPct applies to invalidation exits: the belief midpoint
	// moving at least this share of the entry width against the position.
	BeliefShiftPct float64 `json:"belief_shift_pct,omitempty"`

	// PriceTarget applies to profit exits.
	PriceTarget float64 `json:"price_target,omitempty"`

	// MinLiquidity applies to emergency exits: liquidity below this
	// level abandons the position.
	MinLiquidity float64 `json:"min_liquidity,omitempty"`
}

// TradeDecision is a fully-formed, binding decision. A non-NONE decision
// has passed every gate and always carries exit conditions.
type TradeDecision struct {
	Side           Side            `json:"side"`
	SizeUSD        float64         `json:"size_usd"`
	EntryPrice     float64         `json:"entry_price"`
	Edge           float64         `json:"edge"`
	ExitConditions []ExitCondition `json:"exit_conditions"`
	Rationale      string          `json:"rationale"`
	RationaleHash  string          `json:"rationale_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Result is the outcome of one evaluation: either a decision or a
// NO_TRADE reason, never both.
type Result struct {
	Decision *TradeDecision
	Reason   NoTradeReason
}

// Trade reports whether the evaluation produced a binding decision.
func (r Result) Trade() bool {
	return r.Decision != nil
}

func hashRationale(rationale string) string {
	sum := sha256.Sum256([]byte(rationale))
	return hex.EncodeToString(sum[:])
}

func noTrade(reason NoTradeReason) Result {
	return Result{Reason: reason}
}

func (r Result) String() string {
	if r.Trade() {
		return fmt.Sprintf("TRADE(%s @ %.2f, $%.2f)", r.Decision.Side, r.Decision.EntryPrice, r.Decision.SizeUSD)
	}
	return fmt.Sprintf("NO_TRADE(%s)", r.Reason)
}
