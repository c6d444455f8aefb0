package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/calibration"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/execution"
	"github.com/edgewatch/edgewatch/internal/market"
)

// ErrPersistenceFailure marks a position write that kept failing past
// the retry budget. The caller must force a halt; in-memory state stays
// consistent with the last successful write plus the failed change.
var ErrPersistenceFailure = errors.New("position persistence failed")

// ErrNoOpenPosition rejects a resolution for a market without an open
// position.
var ErrNoOpenPosition = errors.New("no open position for market")

// CalibrationSink receives one record per resolved position.
type CalibrationSink interface {
	Add(rec calibration.Record)
}

// Tracker owns the virtual position ledger. Every state change is
// persisted before the tracker moves on; the ledger recovers completely
// on restart.
type Tracker struct {
	mu        sync.Mutex
	store     PositionStore
	sink      CalibrationSink
	positions map[string]Position

	retries int
	backoff time.Duration
	logger  zerolog.Logger
}

// NewTracker creates a tracker over the given store. Call Recover
// before use.
func NewTracker(store PositionStore, sink CalibrationSink, retries int, backoff time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		sink:      sink,
		positions: make(map[string]Position),
		retries:   retries,
		backoff:   backoff,
		logger:    logger,
	}
}

// Recover loads the persisted ledger.
func (t *Tracker) Recover(ctx context.Context) error {
	positions, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover positions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]Position, len(positions))
	for _, p := range positions {
		t.positions[p.ID] = p
	}

	t.logger.Info().Int("positions", len(positions)).Msg("Recovered paper positions")
	return nil
}

// RegisterFill opens a position from a simulated fill.
func (t *Tracker) RegisterFill(ctx context.Context, fill execution.Fill) error {
	p := Position{
		ID:                uuid.NewString(),
		MarketID:          fill.MarketID,
		Question:          fill.Question,
		Category:          fill.Category,
		Side:              fill.Side,
		EntryPrice:        fill.EntryPrice,
		BeliefLow:         fill.BeliefLow,
		BeliefHigh:        fill.BeliefHigh,
		ConfidenceAtEntry: fill.Confidence,
		UnknownsAtEntry:   fill.Unknowns,
		EdgeAtEntry:       fill.Edge,
		SizeUSD:           fill.SizeUSD,
		EntryTS:           fill.FilledAt,
		Status:            StatusOpen,
	}

	t.mu.Lock()
	t.positions[p.ID] = p
	t.mu.Unlock()

	t.logger.Info().
		Str("position_id", p.ID).
		Str("market_id", p.MarketID).
		Str("side", string(p.Side)).
		Float64("entry_price", p.EntryPrice).
		Float64("size_usd", p.SizeUSD).
		Msg("Opened paper position")

	return t.persist(ctx, p)
}

// MarkInvalidated flags the open position on a market whose
// invalidation exit fired. The position stays open until resolution;
// the flag feeds the calibration streak check.
func (t *Tracker) MarkInvalidated(ctx context.Context, marketID string) error {
	t.mu.Lock()
	p, ok := t.openByMarketLocked(marketID)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoOpenPosition, marketID)
	}
	p.Invalidated = true
	t.positions[p.ID] = p
	t.mu.Unlock()

	return t.persist(ctx, p)
}

// Resolve realizes the open position on a market against the actual
// outcome. The winning side exits at 100, the losing side at 0.
func (t *Tracker) Resolve(ctx context.Context, marketID string, outcome market.Outcome, resolvedAt time.Time) (Position, error) {
	t.mu.Lock()
	p, ok := t.openByMarketLocked(marketID)
	if !ok {
		t.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, marketID)
	}

	won := (p.Side == decision.SideYes && outcome == market.OutcomeYes) ||
		(p.Side == decision.SideNo && outcome == market.OutcomeNo)

	// Exit is the settled YES price: 100 when YES occurred, 0 otherwise.
	exit := 0.0
	if outcome == market.OutcomeYes {
		exit = 100
	}

	var pnl float64
	if p.Side == decision.SideYes {
		pnl = (exit - p.EntryPrice) * p.SizeUSD / 100
	} else {
		pnl = (p.EntryPrice - exit) * p.SizeUSD / 100
	}

	p.Status = StatusLoss
	if won {
		p.Status = StatusWin
	}
	p.ExitPrice = &exit
	p.ResolvedTS = &resolvedAt
	p.PnL = &pnl
	o := outcome
	p.ActualOutcome = &o
	t.positions[p.ID] = p
	t.mu.Unlock()

	t.logger.Info().
		Str("position_id", p.ID).
		Str("market_id", p.MarketID).
		Str("status", string(p.Status)).
		Float64("pnl", pnl).
		Msg("Resolved paper position")

	if err := t.persist(ctx, p); err != nil {
		return p, err
	}

	if t.sink != nil {
		t.sink.Add(calibration.Record{
			MarketID:      p.MarketID,
			Category:      p.Category,
			Side:          p.Side,
			BeliefLow:     p.BeliefLow,
			BeliefHigh:    p.BeliefHigh,
			Confidence:    p.ConfidenceAtEntry,
			UnknownsCount: p.UnknownsAtEntry,
			ActualOutcome: outcome,
			ResolvedAt:    resolvedAt,
			EdgeAtEntry:   p.EdgeAtEntry,
			RealizedEdge:  pnl / p.SizeUSD * 100,
			Invalidated:   p.Invalidated,
		})
	}
	return p, nil
}

// Expire closes the open position on a market that disappeared before
// resolution. PnL stays unset.
func (t *Tracker) Expire(ctx context.Context, marketID string, now time.Time) (Position, error) {
	t.mu.Lock()
	p, ok := t.openByMarketLocked(marketID)
	if !ok {
		t.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, marketID)
	}
	p.Status = StatusExpired
	p.ResolvedTS = &now
	t.positions[p.ID] = p
	t.mu.Unlock()

	t.logger.Warn().
		Str("position_id", p.ID).
		Str("market_id", p.MarketID).
		Msg("Paper position expired, market gone before resolution")

	if err := t.persist(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// EvictResolvedBefore removes WIN/LOSS/EXPIRED positions older than the
// cutoff. Open positions are never evicted.
func (t *Tracker) EvictResolvedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	t.mu.Lock()
	var evict []string
	for id, p := range t.positions {
		if p.Status == StatusOpen || p.ResolvedTS == nil {
			continue
		}
		if p.ResolvedTS.Before(cutoff) {
			evict = append(evict, id)
		}
	}
	for _, id := range evict {
		delete(t.positions, id)
	}
	t.mu.Unlock()

	for _, id := range evict {
		if err := t.store.Delete(ctx, id); err != nil {
			return evict, fmt.Errorf("failed to evict position %s: %w", id, err)
		}
	}
	if len(evict) > 0 {
		t.logger.Info().Int("evicted", len(evict)).Msg("Evicted resolved positions past retention")
	}
	return evict, nil
}

// Positions returns a snapshot of the ledger.
func (t *Tracker) Positions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// Open returns the market's open position, if any.
func (t *Tracker) Open(marketID string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openByMarketLocked(marketID)
}

// HasOpen reports whether the market carries an open position.
func (t *Tracker) HasOpen(marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.openByMarketLocked(marketID)
	return ok
}

// OpenCount counts open positions.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, p := range t.positions {
		if p.Status == StatusOpen {
			n++
		}
	}
	return n
}

// OpenMarketIDs lists markets with open positions.
func (t *Tracker) OpenMarketIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, p := range t.positions {
		if p.Status == StatusOpen {
			ids = append(ids, p.MarketID)
		}
	}
	return ids
}

// RealizedPnLToday sums the realized PnL of positions resolved on the
// same UTC day as now.
func (t *Tracker) RealizedPnLToday(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	y, m, d := now.UTC().Date()
	var sum float64
	for _, p := range t.positions {
		if p.PnL == nil || p.ResolvedTS == nil {
			continue
		}
		py, pm, pd := p.ResolvedTS.UTC().Date()
		if py == y && pm == m && pd == d {
			sum += *p.PnL
		}
	}
	return sum
}

// persist writes one position with bounded retries. Exhausting the
// budget returns ErrPersistenceFailure for the caller to halt on.
func (t *Tracker) persist(ctx context.Context, p Position) error {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrPersistenceFailure, ctx.Err())
			case <-time.After(t.backoff * time.Duration(attempt)):
			}
		}
		if lastErr = t.store.Upsert(ctx, p); lastErr == nil {
			return nil
		}
		t.logger.Warn().
			Err(lastErr).
			Str("position_id", p.ID).
			Int("attempt", attempt+1).
			Msg("Position write failed, retrying")
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, lastErr)
}

func (t *Tracker) openByMarketLocked(marketID string) (Position, bool) {
	for _, p := range t.positions {
		if p.MarketID == marketID && p.Status == StatusOpen {
			return p, true
		}
	}
	return Position{}, false
}
