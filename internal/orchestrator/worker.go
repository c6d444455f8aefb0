package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/audit"
	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/lifecycle"
	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/paper"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// mailboxSize bounds queued work per market. A tick that arrives while
// the mailbox is full is dropped, not queued.
const mailboxSize = 16

type taskKind int

const (
	taskTick taskKind = iota
	taskResolution
	taskShrink
)

// task is one unit of work for a market worker. All mutation of
// per-market state happens inside the worker goroutine.
type task struct {
	kind     taskKind
	market   market.Market
	items    []signal.RawItem
	now      time.Time
	outcome  market.Outcome
	resolved time.Time
	bound    int
}

// worker owns one market's belief state and state machine. It processes
// its mailbox serially, so a belief update and the trade evaluation
// that follows it are atomic with respect to newer signals.
type worker struct {
	id       string
	snapshot market.Market
	machine  *lifecycle.Machine
	state    belief.State
	deps     *Deps
	mailbox  chan task
	quit     chan struct{}
	done     chan struct{}
	logger   zerolog.Logger

	// published copies for observers outside the worker goroutine
	statsMu       sync.Mutex
	pubWidth      float64
	pubConfidence float64
}

// stats reports the last published belief width and confidence.
func (w *worker) stats() (width, confidence float64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.pubWidth, w.pubConfidence
}

func (w *worker) publishStats() {
	w.statsMu.Lock()
	w.pubWidth = w.state.Width()
	w.pubConfidence = w.state.Confidence
	w.statsMu.Unlock()
}

func newWorker(m market.Market, deps *Deps, now time.Time) *worker {
	// An unobserved market starts with a prior centered on the current
	// price. Signals move the range; conflicts widen it.
	low := m.CurrentPrice - 10
	high := m.CurrentPrice + 10

	w := &worker{
		id:       m.ID,
		snapshot: m,
		machine:  lifecycle.NewMachine(m.ID, deps.Logger),
		state:    belief.NewState(low, high, now),
		deps:     deps,
		mailbox:  make(chan task, mailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   deps.Logger.With().Str("component", "worker").Str("market_id", m.ID).Logger(),
	}
	w.publishStats()
	return w
}

// run drains the mailbox until the context is cancelled or the worker
// is stopped. HALT does not stop the goroutine; halted workers discard
// work so the process quiesces instead of exiting.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			// Drain what is already queued, then exit.
			for {
				select {
				case t := <-w.mailbox:
					w.handle(ctx, t)
				default:
					return
				}
			}
		case t := <-w.mailbox:
			w.handle(ctx, t)
		}
	}
}

func (w *worker) stop() {
	close(w.quit)
	<-w.done
}

// enqueue offers a task without blocking. Overrun ticks are dropped.
func (w *worker) enqueue(t task) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.mailbox <- t:
		return true
	default:
		w.logger.Warn().Int("kind", int(t.kind)).Msg("Mailbox full, dropping task")
		return false
	}
}

func (w *worker) handle(ctx context.Context, t task) {
	defer w.publishStats()
	switch t.kind {
	case taskTick:
		w.tick(ctx, t.market, t.items, t.now)
	case taskResolution:
		w.resolve(ctx, t.outcome, t.resolved)
	case taskShrink:
		w.state = w.deps.Beliefs.ShrinkHistory(w.state, t.bound)
	}
}

// tick runs one full pass for this market: ingest whatever items
// arrived, update belief, evaluate, maybe execute. With no items the
// belief only decays.
func (w *worker) tick(ctx context.Context, m market.Market, items []signal.RawItem, now time.Time) {
	if w.machine.Halted() {
		return
	}
	start := time.Now()
	defer func() {
		metrics.TickLatency.Observe(float64(time.Since(start).Milliseconds()))
	}()

	w.snapshot = m

	if len(items) == 0 {
		w.state = w.deps.Beliefs.Decay(w.state, now)
		w.checkExits(ctx, now)
		return
	}

	// Signals apply in wall-clock order; ties keep arrival order.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})

	for _, item := range items {
		if w.machine.Halted() {
			return
		}
		w.applyItem(ctx, item, now)
	}
}

// applyItem walks one item through INGEST_SIGNAL, UPDATE_BELIEF,
// EVALUATE_TRADE and, for an eligible opportunity, EXECUTE_TRADE.
func (w *worker) applyItem(ctx context.Context, item signal.RawItem, now time.Time) {
	if !w.transition(lifecycle.StateIngestSignal, "item received") {
		return
	}

	sig, ok := w.deps.Classifier.Classify(item, w.snapshot, w.state.History)
	if !ok {
		metrics.SignalsRejected.Inc()
		w.transition(lifecycle.StateObserve, "item irrelevant")
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = signal.ObservedAt(item, now)
	}
	metrics.SignalsIngested.WithLabelValues(string(sig.Type)).Inc()
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:     audit.EventSignalIngested,
		MarketID: w.snapshot.ID,
		Question: w.snapshot.Question,
		Action:   string(sig.Direction),
		Detail:   fmt.Sprintf("%s s%d from %s", sig.Type, sig.Strength, sig.Source),
	})

	if !w.transition(lifecycle.StateUpdateBelief, "signal accepted") {
		return
	}

	next, err := w.deps.Beliefs.Apply(w.state, sig)
	switch {
	case errors.Is(err, belief.ErrSignalIneligible):
		w.transition(lifecycle.StateObserve, "speculative signal without corroboration")
		return
	case errors.Is(err, belief.ErrInvariantViolation):
		w.forceHalt(ctx, fmt.Sprintf("invariant violation: %v", err))
		return
	case err != nil:
		w.logger.Error().Err(err).Msg("Belief update failed")
		w.transition(lifecycle.StateObserve, "belief update failed")
		return
	}
	w.state = next
	metrics.BeliefUpdates.Inc()
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:       audit.EventBeliefUpdated,
		MarketID:   w.snapshot.ID,
		Question:   w.snapshot.Question,
		Action:     string(sig.Direction),
		Detail:     fmt.Sprintf("confidence %.1f", w.state.Confidence),
		BeliefLow:  audit.Float(w.state.Low),
		BeliefHigh: audit.Float(w.state.High),
	})

	w.checkExits(ctx, now)

	if !w.transition(lifecycle.StateEvaluateTrade, "belief updated") {
		return
	}
	w.evaluate(ctx, now)
}

// evaluate runs the gate sequence from EVALUATE_TRADE and follows the
// outcome to OBSERVE, either directly or through EXECUTE_TRADE and
// MONITOR.
func (w *worker) evaluate(ctx context.Context, now time.Time) {
	result := w.deps.Decisions.Evaluate(w.state, w.snapshot, now)

	if !result.Trade() {
		metrics.NoTradeDecisions.WithLabelValues(string(result.Reason)).Inc()
		w.deps.Audit.Emit(ctx, audit.Event{
			Type:       audit.EventMarketEvaluated,
			MarketID:   w.snapshot.ID,
			Question:   w.snapshot.Question,
			Action:     "NO_TRADE",
			Detail:     string(result.Reason),
			BeliefLow:  audit.Float(w.state.Low),
			BeliefHigh: audit.Float(w.state.High),
		})
		w.transition(lifecycle.StateObserve, string(result.Reason))
		return
	}

	d := *result.Decision
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:       audit.EventTradeOpportunity,
		MarketID:   w.snapshot.ID,
		Question:   w.snapshot.Question,
		Action:     string(d.Side),
		Detail:     d.Rationale,
		BeliefLow:  audit.Float(w.state.Low),
		BeliefHigh: audit.Float(w.state.High),
		Edge:       audit.Float(d.Edge),
		SizeUSD:    audit.Float(d.SizeUSD),
	})

	if !w.transition(lifecycle.StateExecuteTrade, "all gates passed") {
		return
	}

	order, err := w.deps.Executor.Execute(ctx, d, w.state, w.snapshot, w.snapshot.ID, now)
	if err != nil {
		w.deps.Audit.Emit(ctx, audit.Event{
			Type:     audit.EventError,
			MarketID: w.snapshot.ID,
			Action:   "ORDER_REJECTED",
			Detail:   err.Error(),
		})
		w.transition(lifecycle.StateMonitor, "order rejected")
		w.transition(lifecycle.StateObserve, "back to observation")
		return
	}

	metrics.TradesExecuted.Inc()
	event := audit.Event{
		Type:       audit.EventTradeExecuted,
		MarketID:   w.snapshot.ID,
		Question:   w.snapshot.Question,
		Action:     string(d.Side),
		Detail:     fmt.Sprintf("%s @ %.2f, order %s", d.Side, d.EntryPrice, order.ID),
		BeliefLow:  audit.Float(w.state.Low),
		BeliefHigh: audit.Float(w.state.High),
		Edge:       audit.Float(d.Edge),
		SizeUSD:    audit.Float(d.SizeUSD),
	}
	w.deps.Audit.Emit(ctx, event)
	w.deps.Notify.Emit(ctx, event)

	w.transition(lifecycle.StateMonitor, "order placed")
	w.transition(lifecycle.StateObserve, "back to observation")
}

// checkExits tests the open position, if any, against its exit plan.
// In paper mode an exit is recorded as an invalidation on the tracked
// position; PnL still settles at resolution.
func (w *worker) checkExits(ctx context.Context, now time.Time) {
	pos, ok := w.deps.Tracker.Open(w.snapshot.ID)
	if !ok || pos.Invalidated {
		return
	}

	entryMid := (pos.BeliefLow + pos.BeliefHigh) / 2
	entryWidth := pos.BeliefHigh - pos.BeliefLow
	if entryWidth <= 0 {
		return
	}
	shift := (w.state.Midpoint() - entryMid) / entryWidth
	against := (pos.Side == decision.SideYes && shift <= -0.5) ||
		(pos.Side == decision.SideNo && shift >= 0.5)

	var trigger string
	switch {
	case against:
		trigger = "invalidation: belief midpoint moved against position"
	case w.snapshot.Liquidity < w.deps.EmergencyLiquidity:
		trigger = "emergency: liquidity collapsed"
	default:
		return
	}

	if err := w.deps.Tracker.MarkInvalidated(ctx, w.snapshot.ID); err != nil {
		w.handlePersistence(ctx, err)
		return
	}
	w.deps.Audit.Emit(ctx, audit.Event{
		Type:     audit.EventMarketEvaluated,
		MarketID: w.snapshot.ID,
		Question: w.snapshot.Question,
		Action:   "EXIT",
		Detail:   trigger,
	})
}

// resolve settles the market's paper position and emits the
// calibration record through the tracker's sink.
func (w *worker) resolve(ctx context.Context, outcome market.Outcome, resolvedAt time.Time) {
	pos, err := w.deps.Tracker.Resolve(ctx, w.snapshot.ID, outcome, resolvedAt)
	if err != nil {
		if errors.Is(err, paper.ErrNoOpenPosition) {
			return
		}
		w.handlePersistence(ctx, err)
		return
	}

	event := audit.Event{
		Type:     audit.EventPositionResolved,
		MarketID: w.snapshot.ID,
		Question: w.snapshot.Question,
		Action:   string(pos.Status),
		Detail:   fmt.Sprintf("outcome %s", outcome),
	}
	if pos.PnL != nil {
		event.PnL = audit.Float(*pos.PnL)
	}
	w.deps.Audit.Emit(ctx, event)
	w.deps.Notify.Emit(ctx, event)
}

// transition attempts a state change; an illegal one has already forced
// the machine to HALT, so the worker only reports it upward.
func (w *worker) transition(to lifecycle.State, reason string) bool {
	err := w.machine.Transition(to, reason)
	if err == nil {
		return true
	}
	if errors.Is(err, lifecycle.ErrIllegalTransition) {
		metrics.ForcedHalts.WithLabelValues(metrics.HaltReasonTransition).Inc()
		w.deps.OnHalt(w.snapshot.ID, fmt.Sprintf("illegal transition to %s", to))
	}
	return false
}

func (w *worker) forceHalt(ctx context.Context, reason string) {
	w.machine.ForceHalt(reason)
	metrics.ForcedHalts.WithLabelValues(metrics.NormalizeHaltReason(reason)).Inc()
	event := audit.Event{
		Type:     audit.EventSystemHalt,
		MarketID: w.snapshot.ID,
		Action:   "HALT",
		Detail:   reason,
	}
	w.deps.Audit.Emit(ctx, event)
	w.deps.Notify.Emit(ctx, event)
	w.deps.OnHalt(w.snapshot.ID, reason)
}

func (w *worker) handlePersistence(ctx context.Context, err error) {
	w.logger.Error().Err(err).Msg("Persistence failed")
	w.forceHalt(ctx, fmt.Sprintf("persistence failure: %v", err))
}
