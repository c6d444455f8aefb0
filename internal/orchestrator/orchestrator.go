// Package orchestrator runs the per-market processing loop: discovery,
// signal ingestion, belief updates, trade evaluation, paper settlement
// and the global halt surface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edgewatch/edgewatch/internal/audit"
	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/calibration"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/connectors"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/execution"
	"github.com/edgewatch/edgewatch/internal/feed"
	"github.com/edgewatch/edgewatch/internal/lifecycle"
	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/notifications"
	"github.com/edgewatch/edgewatch/internal/paper"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// ErrNotHalted rejects a reset attempted while the system is running.
var ErrNotHalted = errors.New("system is not halted")

// lifecycleStates is the fixed label set for the per-state gauge.
var lifecycleStates = []lifecycle.State{
	lifecycle.StateObserve, lifecycle.StateIngestSignal, lifecycle.StateUpdateBelief,
	lifecycle.StateEvaluateTrade, lifecycle.StateExecuteTrade, lifecycle.StateMonitor,
	lifecycle.StateHalt,
}

// Deps bundles the shared components every market worker uses. The
// orchestrator owns one instance; workers never copy it.
type Deps struct {
	Classifier *signal.Classifier
	Beliefs    *belief.Engine
	Decisions  *decision.Engine
	Executor   *execution.Executor
	Tracker    *paper.Tracker
	Audit      audit.Sink
	Notify     *notifications.Service
	Logger     zerolog.Logger

	// OnHalt escalates a per-market halt to the whole system.
	OnHalt func(marketID, reason string)

	// EmergencyLiquidity is the level below which an open position is
	// abandoned (half the decision-time minimum).
	EmergencyLiquidity float64
}

// Orchestrator coordinates market discovery, the per-market workers,
// settlement watching and resource policy.
type Orchestrator struct {
	cfg      *config.Config
	registry *market.Registry
	source   connectors.MarketSource
	feeds    []connectors.SignalSource
	bus      feed.Bus
	deps     *Deps
	monitor  *calibration.Monitor
	settings *decision.Settings
	clock    connectors.Clock
	log      zerolog.Logger

	cache *market.SnapshotCache

	workersMu sync.RWMutex
	workers   map[string]*worker
	runCtx    context.Context

	haltMu     sync.RWMutex
	halted     bool
	haltReason string
}

// New wires an orchestrator. The calibration monitor is passed in for
// metric reporting; its halt callback should point at ForceHalt.
func New(
	cfg *config.Config,
	registry *market.Registry,
	source connectors.MarketSource,
	feeds []connectors.SignalSource,
	bus feed.Bus,
	deps *Deps,
	monitor *calibration.Monitor,
	settings *decision.Settings,
	clock connectors.Clock,
	logger zerolog.Logger,
) *Orchestrator {
	if clock == nil {
		clock = connectors.RealClock{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		source:   source,
		feeds:    feeds,
		bus:      bus,
		deps:     deps,
		monitor:  monitor,
		settings: settings,
		clock:    clock,
		log:      logger.With().Str("component", "orchestrator").Logger(),
		workers:  make(map[string]*worker),
	}
	if o.deps.OnHalt == nil {
		o.deps.OnHalt = func(marketID, reason string) {
			o.ForceHalt(fmt.Sprintf("market %s: %s", marketID, reason))
		}
	}
	return o
}

// Run drives all loops until the context is cancelled. A HALT quiesces
// the loops but does not return; shutdown is the caller's context.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx

	if err := o.bus.SubscribeItems(func(batch feed.ItemBatch) {
		o.dispatchItems(batch)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to item feed: %w", err)
	}
	if err := o.bus.SubscribeResolutions(func(res feed.Resolution) {
		o.dispatchResolution(res)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to resolution feed: %w", err)
	}

	o.deps.Audit.Emit(ctx, audit.Event{Type: audit.EventSystemStart, Action: "START"})
	if err := o.Tick(ctx); err != nil {
		o.log.Warn().Err(err).Msg("Initial discovery pass failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.loop(gctx, o.cfg.Markets.PollInterval(), o.discoverAndFetch) })
	g.Go(func() error { return o.loop(gctx, o.cfg.Markets.ResolutionCheckInterval(), o.watchResolutions) })
	g.Go(func() error { return o.loop(gctx, o.cfg.Markets.CleanupInterval(), o.cleanup) })
	g.Go(func() error { return o.loop(gctx, 30*time.Second, o.checkMemoryPressure) })
	g.Go(func() error { return o.loop(gctx, 15*time.Second, o.refreshGauges) })

	err := g.Wait()

	o.workersMu.Lock()
	for _, w := range o.workers {
		w.stop()
	}
	o.workers = make(map[string]*worker)
	o.workersMu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs fn on a fixed interval. A pass that overruns simply delays
// the next tick; it is never queued twice.
func (o *Orchestrator) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Tick runs one manual discovery-and-fetch pass. Exposed as the
// operator control surface alongside ForceHalt and Reset.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if o.isHalted() {
		return nil
	}
	o.discoverAndFetch(ctx)
	return nil
}

// ForceHalt stops all trading activity. Workers finish their current
// task and then discard everything; persisted positions stay intact.
func (o *Orchestrator) ForceHalt(reason string) {
	o.haltMu.Lock()
	if o.halted {
		o.haltMu.Unlock()
		return
	}
	o.halted = true
	o.haltReason = reason
	o.haltMu.Unlock()

	o.log.Warn().Str("reason", reason).Msg("Forced halt")
	metrics.ForcedHalts.WithLabelValues(metrics.NormalizeHaltReason(reason)).Inc()

	o.workersMu.RLock()
	for _, w := range o.workers {
		w.machine.ForceHalt(reason)
	}
	o.workersMu.RUnlock()

	ctx := context.Background()
	event := audit.Event{Type: audit.EventSystemHalt, Action: "HALT", Detail: reason}
	o.deps.Audit.Emit(ctx, event)
	o.deps.Notify.Emit(ctx, event)
}

// Reset clears a halt. Operator action only; refused while running.
func (o *Orchestrator) Reset() error {
	o.haltMu.Lock()
	if !o.halted {
		o.haltMu.Unlock()
		return ErrNotHalted
	}
	o.halted = false
	o.haltReason = ""
	o.haltMu.Unlock()

	o.workersMu.RLock()
	defer o.workersMu.RUnlock()
	for _, w := range o.workers {
		if err := w.machine.Reset(); err != nil {
			return fmt.Errorf("failed to reset market %s: %w", w.id, err)
		}
	}
	o.log.Info().Msg("Halt cleared by operator")
	return nil
}

// Halted reports the global halt state and its reason.
func (o *Orchestrator) Halted() (bool, string) {
	o.haltMu.RLock()
	defer o.haltMu.RUnlock()
	return o.halted, o.haltReason
}

func (o *Orchestrator) isHalted() bool {
	h, _ := o.Halted()
	return h
}

// discoverAndFetch refreshes the tracked universe, fetches raw items
// for every active category and publishes them on the feed bus. Every
// tracked market also gets a decay tick so stale beliefs keep fading.
func (o *Orchestrator) discoverAndFetch(ctx context.Context) {
	if o.isHalted() {
		return
	}
	now := o.clock.Now()

	markets, err := o.source.ListMarkets(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Market discovery failed")
	}
	for _, m := range markets {
		if m.Resolved() || m.Closed(now) || m.Liquidity < o.cfg.Markets.MinLiquidityUSD {
			continue
		}
		evicted := o.registry.Upsert(m)
		for _, id := range evicted {
			o.removeWorker(id)
		}
		o.ensureWorker(m, now)
	}
	metrics.TrackedMarkets.Set(float64(o.registry.Len()))

	if o.cache != nil && len(markets) > 0 {
		o.cache.Mirror(ctx, markets)
	}

	categories := o.activeCategories()
	for _, src := range o.feeds {
		for _, cat := range categories {
			items, err := src.FetchRecent(ctx, cat)
			if err != nil || len(items) == 0 {
				continue
			}
			batch := feed.ItemBatch{Category: cat, Items: items, FetchedAt: now}
			if err := o.bus.PublishItems(ctx, batch); err != nil {
				o.log.Warn().Err(err).Str("source", src.Name()).Msg("Failed to publish item batch")
			}
		}
	}

	// Decay pass for markets that saw no new items this tick.
	o.workersMu.RLock()
	for id, w := range o.workers {
		if m, ok := o.registry.Get(id); ok {
			w.enqueue(task{kind: taskTick, market: m, now: now})
		}
	}
	o.workersMu.RUnlock()
}

// dispatchItems routes an item batch to every worker in its category.
func (o *Orchestrator) dispatchItems(batch feed.ItemBatch) {
	if o.isHalted() {
		return
	}
	now := o.clock.Now()

	o.workersMu.RLock()
	defer o.workersMu.RUnlock()
	for id, w := range o.workers {
		m, ok := o.registry.Get(id)
		if !ok || m.Category != batch.Category {
			continue
		}
		w.enqueue(task{kind: taskTick, market: m, items: batch.Items, now: now})
	}
}

// watchResolutions polls the venue for markets carrying open paper
// positions and publishes settlements on the feed bus.
func (o *Orchestrator) watchResolutions(ctx context.Context) {
	now := o.clock.Now()
	for _, id := range o.deps.Tracker.OpenMarketIDs() {
		m, ok, err := o.source.GetMarket(ctx, id)
		if err != nil {
			continue
		}
		if !ok {
			// Market vanished at the venue; the position can never
			// settle, so it expires without PnL.
			if _, err := o.deps.Tracker.Expire(ctx, id, now); err != nil &&
				!errors.Is(err, paper.ErrNoOpenPosition) {
				o.ForceHalt(fmt.Sprintf("persistence failure: %v", err))
				return
			}
			o.removeWorker(id)
			o.registry.Remove(id)
			continue
		}
		if m.Resolved() && m.ResolutionOutcome != nil {
			res := feed.Resolution{MarketID: id, Outcome: *m.ResolutionOutcome, ResolvedAt: now}
			if m.ResolvedAt != nil {
				res.ResolvedAt = *m.ResolvedAt
			}
			if err := o.bus.PublishResolution(ctx, res); err != nil {
				o.log.Warn().Err(err).Str("market_id", id).Msg("Failed to publish resolution")
			}
		}
	}
}

// dispatchResolution hands a settlement to the owning worker so it is
// processed in order with that market's other work.
func (o *Orchestrator) dispatchResolution(res feed.Resolution) {
	o.workersMu.RLock()
	w, ok := o.workers[res.MarketID]
	o.workersMu.RUnlock()
	if !ok {
		// No live worker; settle directly.
		if _, err := o.deps.Tracker.Resolve(context.Background(), res.MarketID, res.Outcome, res.ResolvedAt); err != nil &&
			!errors.Is(err, paper.ErrNoOpenPosition) {
			o.ForceHalt(fmt.Sprintf("persistence failure: %v", err))
		}
		return
	}
	w.enqueue(task{kind: taskResolution, outcome: res.Outcome, resolved: res.ResolvedAt})

	o.removeWorkerAfterDrain(res.MarketID)
	o.registry.Remove(res.MarketID)
}

// cleanup purges closed and resolved markets and applies position
// retention.
func (o *Orchestrator) cleanup(ctx context.Context) {
	now := o.clock.Now()
	for _, id := range o.registry.Purge(now) {
		o.removeWorker(id)
	}
	cutoff := now.Add(-o.cfg.Paper.Retention())
	if _, err := o.deps.Tracker.EvictResolvedBefore(ctx, cutoff); err != nil {
		o.log.Warn().Err(err).Msg("Retention eviction failed")
	}
	metrics.TrackedMarkets.Set(float64(o.registry.Len()))
}

// checkMemoryPressure applies the two-level shrink policy. The
// reductions are parameter changes on the owning stores; pipeline
// logic is untouched.
func (o *Orchestrator) checkMemoryPressure(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := int(ms.HeapAlloc / (1 << 20))

	switch {
	case heapMB >= o.cfg.Memory.EmergencyMB:
		metrics.MemoryPressureLevel.Set(2)
		o.log.Warn().Int("heap_mb", heapMB).Msg("Emergency memory pressure")
		o.shrink(o.cfg.Memory.EmergencyFraction)
		cutoff := o.clock.Now().Add(-o.cfg.Paper.Retention() / 4)
		if _, err := o.deps.Tracker.EvictResolvedBefore(ctx, cutoff); err != nil {
			o.log.Warn().Err(err).Msg("Emergency retention eviction failed")
		}
	case heapMB >= o.cfg.Memory.CriticalMB:
		metrics.MemoryPressureLevel.Set(1)
		o.log.Warn().Int("heap_mb", heapMB).Msg("Aggressive memory pressure")
		o.shrink(o.cfg.Memory.AggressiveFraction)
	default:
		metrics.MemoryPressureLevel.Set(0)
	}
}

func (o *Orchestrator) shrink(fraction float64) {
	for _, id := range o.registry.ShrinkToFraction(fraction) {
		o.removeWorker(id)
	}
	bound := int(float64(o.cfg.Belief.MaxSignalHistory) * fraction)
	if bound < 1 {
		bound = 1
	}
	o.workersMu.RLock()
	for _, w := range o.workers {
		w.enqueue(task{kind: taskShrink, bound: bound})
	}
	o.workersMu.RUnlock()
}

// refreshGauges publishes portfolio and calibration gauges.
func (o *Orchestrator) refreshGauges(context.Context) {
	metrics.OpenPositions.Set(float64(o.deps.Tracker.OpenCount()))

	var realized float64
	for _, p := range o.deps.Tracker.Positions() {
		if p.PnL != nil {
			realized += *p.PnL
		}
	}
	metrics.RealizedPnL.Set(realized)

	cal := o.monitor.Metrics()
	if cal.Records > 0 {
		metrics.RangeCoverage.Set(cal.RangeCoverage)
		metrics.UnknownDensity.Set(cal.UnknownDensity)
	}

	o.workersMu.RLock()
	defer o.workersMu.RUnlock()

	states := make(map[lifecycle.State]int)
	var widthSum, confSum float64
	for _, w := range o.workers {
		width, conf := w.stats()
		widthSum += width
		confSum += conf
		states[w.machine.State()]++
	}
	for _, s := range lifecycleStates {
		metrics.MarketsByState.WithLabelValues(string(s)).Set(float64(states[s]))
	}
	if n := len(o.workers); n > 0 {
		metrics.MeanBeliefWidth.Set(widthSum / float64(n))
		metrics.MeanConfidence.Set(confSum / float64(n))
	}
}

func (o *Orchestrator) activeCategories() []market.Category {
	seen := make(map[market.Category]bool)
	var out []market.Category
	for _, id := range o.registry.IDs() {
		if m, ok := o.registry.Get(id); ok && !seen[m.Category] {
			seen[m.Category] = true
			out = append(out, m.Category)
		}
	}
	return out
}

func (o *Orchestrator) ensureWorker(m market.Market, now time.Time) {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	if _, ok := o.workers[m.ID]; ok {
		return
	}
	w := newWorker(m, o.deps, now)
	o.workers[m.ID] = w
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go w.run(ctx)
}

func (o *Orchestrator) removeWorker(id string) {
	o.workersMu.Lock()
	w, ok := o.workers[id]
	if ok {
		delete(o.workers, id)
	}
	o.workersMu.Unlock()
	if ok {
		w.stop()
	}
}

// removeWorkerAfterDrain detaches a worker and lets it finish its
// queued tasks in the background before stopping.
func (o *Orchestrator) removeWorkerAfterDrain(id string) {
	o.workersMu.Lock()
	w, ok := o.workers[id]
	if ok {
		delete(o.workers, id)
	}
	o.workersMu.Unlock()
	if ok {
		go w.stop()
	}
}

// SetSnapshotCache attaches an optional Redis mirror for market
// snapshots. Call before Run.
func (o *Orchestrator) SetSnapshotCache(cache *market.SnapshotCache) {
	o.cache = cache
}

// WorkerCount reports live workers. Used by status reporting and tests.
func (o *Orchestrator) WorkerCount() int {
	o.workersMu.RLock()
	defer o.workersMu.RUnlock()
	return len(o.workers)
}
