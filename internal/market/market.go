package market

import (
	"time"
)

// Outcome is a binary market resolution outcome.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Category classifies a market's subject area. The trade decision engine
// keys its minimum edge table on this.
type Category string

const (
	CategoryPolitics      Category = "politics"
	CategoryCrypto        Category = "crypto"
	CategorySports        Category = "sports"
	CategoryEconomics     Category = "economics"
	CategoryEntertainment Category = "entertainment"
	CategoryWeather       Category = "weather"
	CategoryTechnology    Category = "technology"
	CategoryWorld         Category = "world"
	CategoryOther         Category = "other"
)

// Categories lists all known categories.
func Categories() []Category {
	return []Category{
		CategoryPolitics, CategoryCrypto, CategorySports, CategoryEconomics,
		CategoryEntertainment, CategoryWeather, CategoryTechnology,
		CategoryWorld, CategoryOther,
	}
}

// ParseCategory maps a raw category string to a known Category,
// defaulting to CategoryOther.
func ParseCategory(raw string) Category {
	c := Category(raw)
	for _, known := range Categories() {
		if c == known {
			return known
		}
	}
	return CategoryOther
}

// Market is a read-only snapshot of an external binary prediction market.
// Identity fields are immutable; price, liquidity and resolution state
// change between snapshots. Prices are YES probabilities in [0, 100].
type Market struct {
	ID                       string     `json:"id"`
	Question                 string     `json:"question"`
	Category                 Category   `json:"category"`
	CurrentPrice             float64    `json:"current_price"`
	Liquidity                float64    `json:"liquidity"`
	ClosesAt                 *time.Time `json:"closes_at,omitempty"`
	ResolvedAt               *time.Time `json:"resolved_at,omitempty"`
	ResolutionOutcome        *Outcome   `json:"resolution_outcome,omitempty"`
	ResolutionAuthorityClear bool       `json:"resolution_authority_clear"`
	OutcomeObjective         bool       `json:"outcome_objective"`
	Keywords                 []string   `json:"keywords,omitempty"`
}

// Resolved reports whether the market has an observed resolution.
func (m *Market) Resolved() bool {
	return m.ResolvedAt != nil || m.ResolutionOutcome != nil
}

// Closed reports whether the market's close time has passed.
func (m *Market) Closed(now time.Time) bool {
	return m.ClosesAt != nil && now.After(*m.ClosesAt)
}
