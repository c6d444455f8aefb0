package signal

import (
	"fmt"
	"time"
)

// Type is a signal class ordered by source credibility.
type Type string

const (
	TypeAuthoritative Type = "authoritative" // official regulator/court/registry wires
	TypeProcedural    Type = "procedural"    // filings, scheduling announcements
	TypeQuantitative  Type = "quantitative"  // polls, metrics, structured numeric claims
	TypeInterpretive  Type = "interpretive"  // bylined analysis, expert opinion
	TypeSpeculative   Type = "speculative"   // social, unverified
)

// Direction is the implied movement of the YES probability.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// Strength grades a signal from 1 (weak) to 5 (decisive).
type Strength int

// NewStrength validates the 1..5 bound at the construction boundary.
func NewStrength(n int) (Strength, error) {
	if n < 1 || n > 5 {
		return 0, fmt.Errorf("signal strength must be in [1, 5], got %d", n)
	}
	return Strength(n), nil
}

// Origin identifies the transport a raw item arrived through.
type Origin string

const (
	OriginRSS       Origin = "rss"
	OriginSocialRSS Origin = "social_rss"
	OriginHN        Origin = "hn"
	OriginSocialAPI Origin = "social_api"
	OriginPolling   Origin = "polling"
)

// RawItem is an unclassified observation handed over by a connector.
// Raw text is never retained past classification.
type RawItem struct {
	Source      string
	PublishedAt time.Time
	Title       string
	Body        string
	Origin      Origin
}

// Signal is a classified observation ready for the belief engine.
type Signal struct {
	Type                  Type      `json:"type"`
	Direction             Direction `json:"direction"`
	Strength              Strength  `json:"strength"`
	ConflictsWithExisting bool      `json:"conflicts_with_existing"`
	Timestamp             time.Time `json:"timestamp"`
	Source                string    `json:"source,omitempty"`
	Description           string    `json:"description,omitempty"`
}

// Speculative reports whether the signal is of the lowest-credibility class.
func (s Signal) Speculative() bool {
	return s.Type == TypeSpeculative
}
