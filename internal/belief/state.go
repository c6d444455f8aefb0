package belief

import (
	"math"
	"time"

	"github.com/edgewatch/edgewatch/internal/signal"
)

// Confidence bounds. Confidence reflects belief stability, not optimism.
const (
	MinConfidence = 30.0
	MaxConfidence = 95.0
)

// widthEpsilon keeps a belief from collapsing into a point estimate.
const widthEpsilon = 0.5

// Unknown is a named open question whose unresolved presence penalizes
// confidence.
type Unknown struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	AddedAt     time.Time  `json:"added_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the question has been answered.
func (u Unknown) Resolved() bool {
	return u.ResolvedAt != nil
}

// State is the per-market belief: an inclusive probability range for the
// YES outcome plus the evidence that produced it. Bounds stay unrounded
// through computation; Round2 applies at the storage boundary.
type State struct {
	Low         float64          `json:"belief_low"`
	High        float64          `json:"belief_high"`
	Confidence  float64          `json:"confidence"`
	Unknowns    []Unknown        `json:"unknowns,omitempty"`
	History     []signal.Signal  `json:"signal_history,omitempty"`
	LastUpdated time.Time        `json:"last_updated"`
	LastSignal  *signal.Signal   `json:"last_signal,omitempty"`
}

// NewState starts a belief at the given range with baseline confidence.
func NewState(low, high float64, now time.Time) State {
	if low > high {
		low, high = high, low
	}
	return State{
		Low:         clampPrice(low),
		High:        clampPrice(high),
		Confidence:  50,
		LastUpdated: now,
	}
}

// Width is the span of the belief range.
func (s State) Width() float64 {
	return s.High - s.Low
}

// Midpoint is the center of the belief range.
func (s State) Midpoint() float64 {
	return (s.Low + s.High) / 2
}

// OpenUnknowns counts unknowns without a resolution.
func (s State) OpenUnknowns() int {
	var n int
	for _, u := range s.Unknowns {
		if !u.Resolved() {
			n++
		}
	}
	return n
}

// Contains reports whether a price lies inside the inclusive range.
func (s State) Contains(price float64) bool {
	return price >= s.Low && price <= s.High
}

// Round2 rounds the bounds to two decimals for persistence and audit.
// Intermediate arithmetic never rounds.
func (s State) Round2() State {
	s.Low = math.Round(s.Low*100) / 100
	s.High = math.Round(s.High*100) / 100
	return s
}

func clampPrice(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func clampConfidence(v float64) float64 {
	return math.Min(MaxConfidence, math.Max(MinConfidence, v))
}
