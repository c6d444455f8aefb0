package paper

import (
	"encoding/json"
	"time"

	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

// Status of a paper position. OPEN positions mutate only at resolution
// or expiry.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusWin     Status = "WIN"
	StatusLoss    Status = "LOSS"
	StatusExpired Status = "EXPIRED"
)

// Position is one virtual trade. Serialized records are
// forward-compatible: fields written by newer schema revisions survive
// a load/store round trip untouched.
type Position struct {
	ID                string          `json:"id"`
	MarketID          string          `json:"market_id"`
	Question          string          `json:"question,omitempty"`
	Category          market.Category `json:"category"`
	Side              decision.Side   `json:"side"`
	EntryPrice        float64         `json:"entry_price"`
	BeliefLow         float64         `json:"belief_low"`
	BeliefHigh        float64         `json:"belief_high"`
	ConfidenceAtEntry float64         `json:"confidence_at_entry"`
	UnknownsAtEntry   int             `json:"unknowns_at_entry"`
	EdgeAtEntry       float64         `json:"edge_at_entry"`
	SizeUSD           float64         `json:"size_usd"`
	EntryTS           time.Time       `json:"entry_ts"`
	Status            Status          `json:"status"`
	ExitPrice         *float64        `json:"exit_price,omitempty"`
	ResolvedTS        *time.Time      `json:"resolved_ts,omitempty"`
	PnL               *float64        `json:"pnl,omitempty"`
	ActualOutcome     *market.Outcome `json:"actual_outcome,omitempty"`
	Invalidated       bool            `json:"invalidated,omitempty"`

	extra map[string]json.RawMessage
}

// Resolved reports whether the position left OPEN.
func (p Position) Resolved() bool {
	return p.Status != StatusOpen
}

// positionAlias strips the custom JSON methods for en/decoding.
type positionAlias Position

// UnmarshalJSON decodes the known fields and stashes everything else so
// records written by newer revisions survive unchanged.
func (p *Position) UnmarshalJSON(data []byte) error {
	var a positionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return err
	}
	for k := range knownKeys {
		delete(raw, k)
	}
	// Omitted optional fields are still known.
	for _, k := range []string{"question", "exit_price", "resolved_ts", "pnl", "actual_outcome", "invalidated"} {
		delete(raw, k)
	}

	a.extra = nil
	if len(raw) > 0 {
		a.extra = raw
	}
	*p = Position(a)
	return nil
}

// MarshalJSON writes the known fields merged with any preserved ones.
func (p Position) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(positionAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
