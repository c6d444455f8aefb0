package market

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry holds the tracked market universe, bounded by a configured
// maximum. When the bound is exceeded the lowest-liquidity markets are
// evicted first. Resolved and expired markets are purged periodically.
type Registry struct {
	mu         sync.RWMutex
	markets    map[string]*Market
	maxMarkets int
	logger     zerolog.Logger
}

// NewRegistry creates a registry bounded by maxMarkets.
func NewRegistry(maxMarkets int, logger zerolog.Logger) *Registry {
	return &Registry{
		markets:    make(map[string]*Market),
		maxMarkets: maxMarkets,
		logger:     logger,
	}
}

// Upsert inserts or refreshes a market snapshot, evicting the
// lowest-liquidity markets if the bound is exceeded. It returns the ids
// evicted to make room.
func (r *Registry) Upsert(m Market) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := m
	r.markets[m.ID] = &copied

	if len(r.markets) <= r.maxMarkets {
		return nil
	}
	evicted := r.evictLowestLiquidityLocked(len(r.markets) - r.maxMarkets)
	if len(evicted) > 0 {
		r.logger.Debug().
			Int("evicted", len(evicted)).
			Int("tracked", len(r.markets)).
			Msg("Market bound exceeded, evicted lowest-liquidity markets")
	}
	return evicted
}

// Get returns a snapshot copy of the market, if tracked.
func (r *Registry) Get(id string) (Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[id]
	if !ok {
		return Market{}, false
	}
	return *m, true
}

// Remove drops a market from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markets, id)
}

// IDs returns the ids of all tracked markets.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.markets))
	for id := range r.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Purge removes resolved and closed markets and returns their ids.
func (r *Registry) Purge(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged []string
	for id, m := range r.markets {
		if m.Resolved() || m.Closed(now) {
			delete(r.markets, id)
			purged = append(purged, id)
		}
	}
	if len(purged) > 0 {
		r.logger.Info().
			Int("purged", len(purged)).
			Int("tracked", len(r.markets)).
			Msg("Purged resolved and closed markets")
	}
	return purged
}

// ShrinkToFraction drops lowest-liquidity markets until the registry
// holds at most fraction*maxMarkets entries. It is the memory-pressure
// action for the market store; belief and decision logic are unaffected
// by the bound in force.
func (r *Registry) ShrinkToFraction(fraction float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := int(float64(r.maxMarkets) * fraction)
	if target < 1 {
		target = 1
	}
	if len(r.markets) <= target {
		return nil
	}
	evicted := r.evictLowestLiquidityLocked(len(r.markets) - target)
	r.logger.Warn().
		Int("evicted", len(evicted)).
		Int("target", target).
		Msg("Memory pressure: shrank tracked market set")
	return evicted
}

func (r *Registry) evictLowestLiquidityLocked(n int) []string {
	type entry struct {
		id        string
		liquidity float64
	}
	entries := make([]entry, 0, len(r.markets))
	for id, m := range r.markets {
		entries = append(entries, entry{id: id, liquidity: m.Liquidity})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].liquidity != entries[j].liquidity {
			return entries[i].liquidity < entries[j].liquidity
		}
		return entries[i].id < entries[j].id
	})

	if n > len(entries) {
		n = len(entries)
	}
	evicted := make([]string, 0, n)
	for _, e := range entries[:n] {
		delete(r.markets, e.id)
		evicted = append(evicted, e.id)
	}
	return evicted
}
