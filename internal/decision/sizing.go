package decision

import "math"

// SizingPolicy turns an eligible opportunity into a position size. It is
// consulted only after every gate has passed; a policy can shrink a
// trade but never create one.
type SizingPolicy interface {
	Size(edge, confidence, capital float64) float64
}

// FractionalKelly sizes positions with a conservative Kelly-style
// fraction of capital, scaled by edge and confidence and bounded by the
// configured maximum.
type FractionalKelly struct {
	Fraction   float64
	MaxSizeUSD float64
}

// NewFractionalKelly builds the default sizing policy.
func NewFractionalKelly(fraction, maxSizeUSD float64) *FractionalKelly {
	return &FractionalKelly{Fraction: fraction, MaxSizeUSD: maxSizeUSD}
}

// Size computes the stake in USD. Edge is in percentage points,
// confidence in [30, 95], capital in USD.
func (k *FractionalKelly) Size(edge, confidence, capital float64) float64 {
	if edge <= 0 || capital <= 0 {
		return 0
	}
	stake := capital * k.Fraction * (edge / 100) * (confidence / 100)
	return math.Min(stake, k.MaxSizeUSD)
}
