package signal

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/market"
)

// relevanceFloor drops items that barely mention the market.
const relevanceFloor = 0.3

// classCredibility feeds the strength computation; ordered with the
// impact caps the belief engine applies per class.
var classCredibility = map[Type]float64{
	TypeAuthoritative: 1.0,
	TypeProcedural:    0.8,
	TypeQuantitative:  0.7,
	TypeInterpretive:  0.5,
	TypeSpeculative:   0.3,
}

// authoritativeSources matches official wires by substring, optionally
// scoped per category.
var authoritativeSources = map[market.Category][]string{
	market.CategoryPolitics:  {"fec.gov", "supremecourt", "whitehouse.gov", "parliament"},
	market.CategoryCrypto:    {"sec.gov", "cftc.gov", "federalreserve"},
	market.CategoryEconomics: {"bls.gov", "federalreserve", "treasury.gov", "ecb.europa"},
	market.CategoryWeather:   {"noaa.gov", "weather.gov", "metoffice"},
	market.CategoryWorld:     {"un.org", "icj-cij.org"},
	market.CategoryOther:     {"official", "registry"},
}

var proceduralMarkers = []string{
	"filing", "filed", "docket", "hearing scheduled", "scheduled for",
	"motion", "registration", "ballot access", "deadline",
}

var quantitativeMarkers = []string{
	"poll", "survey", "percent", "%", "index", "cpi", "gdp",
	"turnout", "approval rating", "odds",
}

var interpretiveMarkers = []string{
	"analysis", "opinion", "op-ed", "column", "expert", "analyst",
	"forecast", "outlook",
}

var positiveIndicators = []string{
	"wins", "approved", "confirms", "confirmed", "passes", "passed",
	"leads", "leading", "surges", "ahead", "secures", "granted",
	"succeeds", "advances", "gains", "record high",
}

var negativeIndicators = []string{
	"loses", "rejected", "denies", "denied", "fails", "failed",
	"trails", "trailing", "collapses", "behind", "blocked", "delayed",
	"withdrawn", "drops out", "declines", "record low",
}

// Classifier turns raw connector items into Signals. Classification is
// deterministic and never errors; items below the relevance floor or
// without usable text yield no signal.
type Classifier struct {
	logger zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify tags a raw item against a market and its recent signal
// history. The second return value is false when the item is dropped.
func (c *Classifier) Classify(item RawItem, m market.Market, history []Signal) (Signal, bool) {
	title := strings.ToLower(item.Title)
	body := strings.ToLower(item.Body)
	if title == "" && body == "" {
		return Signal{}, false
	}

	relevance := c.relevance(title, body, m.Keywords)
	if relevance < relevanceFloor {
		c.logger.Debug().
			Str("market_id", m.ID).
			Str("source", item.Source).
			Float64("relevance", relevance).
			Msg("Dropped item below relevance floor")
		return Signal{}, false
	}

	class := c.classify(item, m.Category, title, body)
	direction := c.direction(title, body)
	strength := c.strength(class, relevance)

	sig := Signal{
		Type:                  class,
		Direction:             direction,
		Strength:              strength,
		ConflictsWithExisting: conflictsWithHistory(direction, history),
		Timestamp:             item.PublishedAt,
		Source:                item.Source,
		Description:           item.Title,
	}

	c.logger.Debug().
		Str("market_id", m.ID).
		Str("type", string(sig.Type)).
		Str("direction", string(sig.Direction)).
		Int("strength", int(sig.Strength)).
		Bool("conflicts", sig.ConflictsWithExisting).
		Msg("Classified signal")

	return sig, true
}

// relevance scores keyword hits: title hits weigh 0.3, body hits 0.15,
// clipped to [0, 1].
func (c *Classifier) relevance(title, body string, keywords []string) float64 {
	var titleHits, bodyHits int
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" {
			continue
		}
		titleHits += strings.Count(title, k)
		bodyHits += strings.Count(body, k)
	}
	r := 0.3*float64(titleHits) + 0.15*float64(bodyHits)
	return math.Min(r, 1.0)
}

// classify picks the signal class, highest credibility first.
func (c *Classifier) classify(item RawItem, category market.Category, title, body string) Type {
	source := strings.ToLower(item.Source)
	for _, s := range authoritativeSources[category] {
		if strings.Contains(source, s) {
			return TypeAuthoritative
		}
	}

	text := title + " " + body
	if containsAny(text, proceduralMarkers) {
		return TypeProcedural
	}
	if item.Origin == OriginPolling || containsAny(text, quantitativeMarkers) {
		return TypeQuantitative
	}

	switch item.Origin {
	case OriginSocialRSS, OriginSocialAPI, OriginHN:
		return TypeSpeculative
	}

	if containsAny(text, interpretiveMarkers) {
		return TypeInterpretive
	}
	return TypeInterpretive
}

// direction sums signed indicator hits; ties are neutral.
func (c *Classifier) direction(title, body string) Direction {
	text := title + " " + body
	var score int
	for _, w := range positiveIndicators {
		score += strings.Count(text, w)
	}
	for _, w := range negativeIndicators {
		score -= strings.Count(text, w)
	}
	switch {
	case score > 0:
		return DirectionUp
	case score < 0:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// strength combines class credibility and relevance, rounded half-up
// into [1, 5].
func (c *Classifier) strength(class Type, relevance float64) Strength {
	raw := 5 * (0.6*classCredibility[class] + 0.4*relevance)
	n := int(math.Floor(raw + 0.5))
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return Strength(n)
}

// conflictsWithHistory reports whether dir opposes the majority
// direction of the recent history.
func conflictsWithHistory(dir Direction, history []Signal) bool {
	if dir == DirectionNeutral {
		return false
	}
	var up, down int
	for _, s := range history {
		switch s.Direction {
		case DirectionUp:
			up++
		case DirectionDown:
			down++
		}
	}
	if dir == DirectionUp {
		return down > up
	}
	return up > down
}

// ObservedAt defaults a zero publish time to the injected clock reading.
func ObservedAt(item RawItem, now time.Time) time.Time {
	if item.PublishedAt.IsZero() {
		return now
	}
	return item.PublishedAt
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
