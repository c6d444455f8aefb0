package calibration

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/market"
)

// HaltReason enumerates the calibration failures that force a halt.
type HaltReason string

const (
	HaltCoverageDeviation  HaltReason = "coverage_deviation"
	HaltBucketInversion    HaltReason = "bucket_inversion"
	HaltInvalidationStreak HaltReason = "invalidation_streak"
	HaltRisingUnknowns     HaltReason = "rising_unknown_density"
)

// invalidationStreakLimit halts after this many consecutive
// invalidation exits on one category.
const invalidationStreakLimit = 3

// Metrics is a point-in-time calibration summary.
type Metrics struct {
	Records           int
	RangeCoverage     float64
	EdgeEffectiveness float64
	UnknownDensity    float64
	Buckets           []Bucket
}

// Bucket is one confidence decile with its realized win rate.
type Bucket struct {
	Low      float64
	High     float64
	Records  int
	WinRate  float64
	Midpoint float64
}

// HaltFunc receives the enum reason and a rendered detail string.
type HaltFunc func(reason HaltReason, detail string)

// AdjustFunc is invoked when coverage falls short of target, naming the
// category whose minimum edge should rise.
type AdjustFunc func(category market.Category)

// Monitor keeps a bounded append-only window of calibration records and
// triggers a forced halt when calibration breaks. Readers snapshot; the
// window is never mutated in place.
type Monitor struct {
	mu             sync.Mutex
	window         []Record
	windowSize     int
	minRecords     int
	densityWindow  int
	coverageTarget float64

	streakCategory market.Category
	streak         int

	halt   HaltFunc
	adjust AdjustFunc
	logger zerolog.Logger
}

// NewMonitor creates a calibration monitor. The halt callback routes to
// the state machines; the adjust callback to the decision settings.
func NewMonitor(windowSize, minRecords, densityWindow int, coverageTarget float64, halt HaltFunc, adjust AdjustFunc, logger zerolog.Logger) *Monitor {
	return &Monitor{
		windowSize:     windowSize,
		minRecords:     minRecords,
		densityWindow:  densityWindow,
		coverageTarget: coverageTarget,
		halt:           halt,
		adjust:         adjust,
		logger:         logger,
	}
}

// Add appends a resolved record, evicting the oldest past the bound,
// then evaluates every halt condition and the coverage auto-adjust.
func (m *Monitor) Add(rec Record) {
	m.mu.Lock()

	m.window = append(m.window, rec)
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}

	if rec.Invalidated && rec.Category == m.streakCategory {
		m.streak++
	} else if rec.Invalidated {
		m.streakCategory = rec.Category
		m.streak = 1
	} else {
		m.streak = 0
	}

	window := append([]Record(nil), m.window...)
	streak := m.streak
	streakCategory := m.streakCategory
	m.mu.Unlock()

	metrics := compute(window)

	if streak >= invalidationStreakLimit {
		m.fireHalt(HaltInvalidationStreak,
			fmt.Sprintf("%d consecutive invalidation exits on category %s", streak, streakCategory))
		return
	}

	if metrics.Records >= m.minRecords {
		deviation := metrics.RangeCoverage - m.coverageTarget
		if deviation > 0.15 || deviation < -0.15 {
			m.fireHalt(HaltCoverageDeviation,
				fmt.Sprintf("range coverage %.2f deviates from target %.2f by more than 15pp over %d records",
					metrics.RangeCoverage, m.coverageTarget, metrics.Records))
			return
		}
	}

	if high, low, ok := bucketInversion(window); ok {
		m.fireHalt(HaltBucketInversion,
			fmt.Sprintf("high-confidence win rate %.2f below low-confidence win rate %.2f", high, low))
		return
	}

	if risingDensity(window, m.densityWindow) {
		m.fireHalt(HaltRisingUnknowns,
			fmt.Sprintf("unknown density rose across three consecutive windows of %d records", m.densityWindow))
		return
	}

	if metrics.Records >= m.minRecords && metrics.RangeCoverage < m.coverageTarget-0.05 && m.adjust != nil {
		m.logger.Warn().
			Float64("coverage", metrics.RangeCoverage).
			Float64("target", m.coverageTarget).
			Str("category", string(rec.Category)).
			Msg("Coverage shortfall, raising category minimum edge")
		m.adjust(rec.Category)
	}
}

// Metrics computes the summary over a snapshot of the window.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	window := append([]Record(nil), m.window...)
	m.mu.Unlock()
	return compute(window)
}

func (m *Monitor) fireHalt(reason HaltReason, detail string) {
	m.logger.Error().
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Calibration failure")
	if m.halt != nil {
		m.halt(reason, detail)
	}
}

func compute(window []Record) Metrics {
	m := Metrics{Records: len(window)}
	if len(window) == 0 {
		return m
	}

	var covered int
	var predictedEdge, realizedEdge, unknowns float64
	for _, r := range window {
		if r.Covered() {
			covered++
		}
		predictedEdge += r.EdgeAtEntry
		realizedEdge += r.RealizedEdge
		unknowns += float64(r.UnknownsCount)
	}

	n := float64(len(window))
	m.RangeCoverage = float64(covered) / n
	m.UnknownDensity = unknowns / n
	if predictedEdge != 0 {
		m.EdgeEffectiveness = realizedEdge / predictedEdge
	}
	m.Buckets = buckets(window)
	return m
}

// buckets partitions records by confidence deciles.
func buckets(window []Record) []Bucket {
	out := make([]Bucket, 0, 10)
	for lo := 0.0; lo < 100; lo += 10 {
		hi := lo + 10
		var n, wins int
		for _, r := range window {
			if r.Confidence >= lo && r.Confidence < hi {
				n++
				if r.Won() {
					wins++
				}
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, Bucket{
			Low:      lo,
			High:     hi,
			Records:  n,
			WinRate:  float64(wins) / float64(n),
			Midpoint: (lo + hi) / 2,
		})
	}
	return out
}

// bucketInversion checks the high-confidence group (>= 85) against the
// low-confidence group (<= 60), each needing at least 10 records.
func bucketInversion(window []Record) (highRate, lowRate float64, inverted bool) {
	var highN, highWins, lowN, lowWins int
	for _, r := range window {
		switch {
		case r.Confidence >= 85:
			highN++
			if r.Won() {
				highWins++
			}
		case r.Confidence <= 60:
			lowN++
			if r.Won() {
				lowWins++
			}
		}
	}
	if highN < 10 || lowN < 10 {
		return 0, 0, false
	}
	highRate = float64(highWins) / float64(highN)
	lowRate = float64(lowWins) / float64(lowN)
	return highRate, lowRate, highRate < lowRate
}

// risingDensity reports whether mean unknown counts strictly increase
// across the last three consecutive windows of equal size.
func risingDensity(window []Record, size int) bool {
	if size <= 0 || len(window) < 3*size {
		return false
	}
	tail := window[len(window)-3*size:]
	mean := func(recs []Record) float64 {
		var sum float64
		for _, r := range recs {
			sum += float64(r.UnknownsCount)
		}
		return sum / float64(len(recs))
	}
	a := mean(tail[:size])
	b := mean(tail[size : 2*size])
	c := mean(tail[2*size:])
	return a < b && b < c
}
