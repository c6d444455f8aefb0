package decision

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/market"
)

// Thresholds is an immutable snapshot of the eligibility parameters an
// evaluation runs against.
type Thresholds struct {
	MinConfidence float64
	MaxWidth      float64
	MinLiquidity  float64
	MinEdge       map[market.Category]float64
}

// MinEdgeFor returns the category's minimum edge, falling back to the
// other-category threshold.
func (t Thresholds) MinEdgeFor(c market.Category) float64 {
	if v, ok := t.MinEdge[c]; ok {
		return v
	}
	return t.MinEdge[market.CategoryOther]
}

// Settings serializes threshold reads and the single in-band mutation,
// the calibration-driven minimum-edge raise. Evaluations read immutable
// snapshots.
type Settings struct {
	mu       sync.Mutex
	current  Thresholds
	baseline map[market.Category]float64
	limit    float64
	logger   zerolog.Logger
}

// NewSettings captures the starting thresholds as the adjustment
// baseline. The limit caps how far above baseline a category's minimum
// edge may be raised.
func NewSettings(t Thresholds, limit float64, logger zerolog.Logger) *Settings {
	baseline := make(map[market.Category]float64, len(t.MinEdge))
	edges := make(map[market.Category]float64, len(t.MinEdge))
	for c, v := range t.MinEdge {
		baseline[c] = v
		edges[c] = v
	}
	t.MinEdge = edges
	return &Settings{
		current:  t,
		baseline: baseline,
		limit:    limit,
		logger:   logger,
	}
}

// Snapshot returns an immutable copy of the current thresholds.
func (s *Settings) Snapshot() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.current
	out.MinEdge = make(map[market.Category]float64, len(s.current.MinEdge))
	for c, v := range s.current.MinEdge {
		out.MinEdge[c] = v
	}
	return out
}

// RaiseMinEdge bumps a category's minimum edge by one percentage point,
// capped at the configured ceiling over baseline. Returns the new value
// and whether a raise was applied.
func (s *Settings) RaiseMinEdge(c market.Category) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.baseline[c]
	if !ok {
		base = s.baseline[market.CategoryOther]
		c = market.CategoryOther
	}

	cur := s.current.MinEdge[c]
	if cur+1 > base+s.limit {
		return cur, false
	}

	s.current.MinEdge[c] = cur + 1
	s.logger.Info().
		Str("category", string(c)).
		Float64("min_edge", cur+1).
		Float64("baseline", base).
		Msg("Raised minimum edge after coverage shortfall")
	return cur + 1, true
}
