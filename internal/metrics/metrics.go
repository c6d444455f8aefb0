// Package metrics defines the Prometheus instrumentation surface and
// the HTTP server that exposes it.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Halt reasons (bounded set)
	HaltReasonCalibration = "calibration_failure"
	HaltReasonInvariant   = "invariant_violation"
	HaltReasonTransition  = "illegal_transition"
	HaltReasonPersistence = "persistence_failure"
	HaltReasonManual      = "manual_halt"
	HaltReasonOther       = "other"

	// Connector error categories (bounded set)
	ConnectorErrorTimeout     = "timeout"
	ConnectorErrorUnavailable = "unavailable"
	ConnectorErrorParse       = "parse_rejected"
	ConnectorErrorOther       = "other"
)

// NormalizeHaltReason maps arbitrary halt reasons to the bounded set.
func NormalizeHaltReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "calibration") || strings.Contains(lower, "coverage") ||
		strings.Contains(lower, "inversion") || strings.Contains(lower, "invalidation") ||
		strings.Contains(lower, "unknown"):
		return HaltReasonCalibration
	case strings.Contains(lower, "invariant"):
		return HaltReasonInvariant
	case strings.Contains(lower, "transition"):
		return HaltReasonTransition
	case strings.Contains(lower, "persist"):
		return HaltReasonPersistence
	case strings.Contains(lower, "manual") || strings.Contains(lower, "operator"):
		return HaltReasonManual
	default:
		return HaltReasonOther
	}
}

// NormalizeConnectorError maps arbitrary connector failures to the bounded set.
func NormalizeConnectorError(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ConnectorErrorTimeout
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "refused") ||
		strings.Contains(lower, "circuit"):
		return ConnectorErrorUnavailable
	case strings.Contains(lower, "parse") || strings.Contains(lower, "unmarshal") ||
		strings.Contains(lower, "decode"):
		return ConnectorErrorParse
	default:
		return ConnectorErrorOther
	}
}

// Pipeline metrics
var (
	// Raw items fetched from external sources, by origin
	ItemsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgewatch_items_fetched_total",
		Help: "Total raw items fetched from external sources by origin",
	}, []string{"origin"})

	// Signals that survived classification, by type
	SignalsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgewatch_signals_ingested_total",
		Help: "Total signals accepted by the classifier by signal type",
	}, []string{"type"})

	// Items dropped during classification
	SignalsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgewatch_signals_rejected_total",
		Help: "Total raw items dropped as irrelevant or ineligible",
	})

	// Belief updates applied
	BeliefUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgewatch_belief_updates_total",
		Help: "Total belief range updates applied",
	})

	// Evaluations that ended in no trade, by closed reason
	NoTradeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgewatch_no_trade_total",
		Help: "Total evaluations ending in no trade by reason",
	}, []string{"reason"})

	// Trades executed
	TradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgewatch_trades_executed_total",
		Help: "Total paper trades executed",
	})

	// Forced halts, by normalized reason
	ForcedHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgewatch_forced_halts_total",
		Help: "Total forced halts by reason",
	}, []string{"reason"})

	// Connector failures, by source and normalized category
	ConnectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgewatch_connector_errors_total",
		Help: "Total connector failures by source and category",
	}, []string{"source", "category"})

	// Tick duration per market
	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgewatch_tick_latency_ms",
		Help:    "Per-market pipeline tick latency in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	})
)

// Portfolio metrics
var (
	// Markets currently tracked
	TrackedMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_tracked_markets",
		Help: "Number of markets currently tracked",
	})

	// Open paper positions
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_open_positions",
		Help: "Number of currently open paper positions",
	})

	// Cumulative realized profit and loss
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_realized_pnl_usd",
		Help: "Cumulative realized paper profit and loss in USD",
	})

	// Range coverage over the calibration window
	RangeCoverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_range_coverage",
		Help: "Fraction of resolved outcomes that fell inside the belief range at entry",
	})

	// Mean open unknowns over the calibration window
	UnknownDensity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_unknown_density",
		Help: "Mean open unknowns per position at entry over the calibration window",
	})

	// Mean belief width across tracked markets
	MeanBeliefWidth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_mean_belief_width",
		Help: "Mean belief range width across tracked markets",
	})

	// Mean confidence across tracked markets
	MeanConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_mean_confidence",
		Help: "Mean belief confidence across tracked markets",
	})
)

// Lifecycle metrics
var (
	// Markets by lifecycle state
	MarketsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgewatch_markets_by_state",
		Help: "Number of tracked markets in each lifecycle state",
	}, []string{"state"})

	// Memory pressure level, 0 normal, 1 aggressive, 2 emergency
	MemoryPressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgewatch_memory_pressure_level",
		Help: "Current memory pressure level (0 normal, 1 aggressive, 2 emergency)",
	})
)
