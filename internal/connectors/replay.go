package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/signal"
)

// ReplayItem is one raw observation tagged with the category it should
// be delivered under.
type ReplayItem struct {
	Category market.Category `json:"category"`
	Item     signal.RawItem  `json:"item"`
}

// ReplayFile is the on-disk shape of a recorded session.
type ReplayFile struct {
	Markets []market.Market `json:"markets"`
	Items   []ReplayItem    `json:"items"`
}

// ReplaySource serves a recorded market universe and item stream from
// a file. It backs paper sessions and offline runs; each item is
// delivered exactly once.
type ReplaySource struct {
	mu      sync.Mutex
	markets map[string]market.Market
	pending map[market.Category][]signal.RawItem
}

// LoadReplay reads a recorded session file.
func LoadReplay(path string) (*ReplaySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}

	var file ReplayFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse replay file: %w", err)
	}

	s := &ReplaySource{
		markets: make(map[string]market.Market, len(file.Markets)),
		pending: make(map[market.Category][]signal.RawItem),
	}
	for _, m := range file.Markets {
		s.markets[m.ID] = m
	}
	for _, it := range file.Items {
		s.pending[it.Category] = append(s.pending[it.Category], it.Item)
	}
	return s, nil
}

// Name identifies the source.
func (s *ReplaySource) Name() string { return "replay" }

// ListMarkets returns every unresolved market in the recording.
func (s *ReplaySource) ListMarkets(_ context.Context) ([]market.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

// GetMarket looks one market up by ID.
func (s *ReplaySource) GetMarket(_ context.Context, id string) (market.Market, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	return m, ok, nil
}

// FetchRecent drains the recorded items for a category.
func (s *ReplaySource) FetchRecent(_ context.Context, category market.Category) ([]signal.RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.pending[category]
	delete(s.pending, category)
	return items, nil
}

// Resolve marks a recorded market as settled, for driving settlement
// flows in a session.
func (s *ReplaySource) Resolve(id string, outcome market.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return
	}
	m.ResolutionOutcome = &outcome
	s.markets[id] = m
}
