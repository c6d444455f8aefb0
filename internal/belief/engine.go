package belief

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/signal"
)

var (
	// ErrSignalIneligible rejects a signal that cannot move the belief,
	// such as a speculative item with no non-speculative corroboration
	// in the recent history. The caller returns to observation.
	ErrSignalIneligible = errors.New("signal ineligible")

	// ErrInvariantViolation marks an update whose result breaks a belief
	// invariant. The caller must force a halt.
	ErrInvariantViolation = errors.New("belief invariant violation")
)

// impactCaps bound the proportional shift a single signal may cause,
// keyed by signal class.
var impactCaps = map[signal.Type]float64{
	signal.TypeAuthoritative: 0.20,
	signal.TypeProcedural:    0.15,
	signal.TypeQuantitative:  0.10,
	signal.TypeInterpretive:  0.07,
	signal.TypeSpeculative:   0.03,
}

// Engine applies classified signals to belief states. All arithmetic is
// deterministic; given the same ordered signal stream and clock the
// resulting states are identical across runs.
type Engine struct {
	maxHistory          int
	maxUnknowns         int
	speculativeLookback int
	logger              zerolog.Logger
}

// NewEngine creates a belief engine with the configured bounds.
func NewEngine(maxHistory, maxUnknowns, speculativeLookback int, logger zerolog.Logger) *Engine {
	return &Engine{
		maxHistory:          maxHistory,
		maxUnknowns:         maxUnknowns,
		speculativeLookback: speculativeLookback,
		logger:              logger,
	}
}

// Apply folds one signal into the belief and returns the new state. The
// input state is never mutated. Speculative signals without recent
// non-speculative corroboration return ErrSignalIneligible; a result
// that would break an invariant returns ErrInvariantViolation.
func (e *Engine) Apply(old State, sig signal.Signal) (State, error) {
	if sig.Speculative() && !e.hasRecentNonSpeculative(old.History) {
		return old, fmt.Errorf("%w: speculative signal without non-speculative corroboration in last %d",
			ErrSignalIneligible, e.speculativeLookback)
	}

	next := cloneState(old)

	width := old.High - old.Low
	cap := impactCaps[sig.Type]
	maxShift := cap * 100 * float64(sig.Strength) / 5
	shift := math.Min(maxShift, width*0.6)

	var dir float64
	switch sig.Direction {
	case signal.DirectionUp:
		dir = 1
	case signal.DirectionDown:
		dir = -1
	}

	next.Low = old.Low + dir*shift
	next.High = old.High + dir*shift

	// A conflicting signal widens the bound in its own direction; the
	// opposite bound holds at its shifted value.
	if sig.ConflictsWithExisting {
		switch sig.Direction {
		case signal.DirectionDown:
			next.Low -= width * 0.25
		case signal.DirectionUp:
			next.High += width * 0.25
		}
	}

	next.Low = clampPrice(next.Low)
	next.High = clampPrice(next.High)
	if next.Low > next.High {
		next.Low, next.High = next.High, next.Low
	}
	ensureMinWidth(&next)

	daysSince := daysBetween(old.LastSignal, sig.Timestamp)
	next.History = appendBounded(next.History, sig, e.maxHistory)
	next.LastSignal = &sig
	next.LastUpdated = sig.Timestamp
	next.Confidence = computeConfidence(next.History, next.OpenUnknowns(), daysSince)

	if err := checkTransition(old, next); err != nil {
		return old, err
	}

	e.logger.Debug().
		Float64("low", next.Low).
		Float64("high", next.High).
		Float64("confidence", next.Confidence).
		Str("signal_type", string(sig.Type)).
		Str("direction", string(sig.Direction)).
		Float64("shift", dir*shift).
		Msg("Applied signal to belief")

	return next, nil
}

// Decay recomputes confidence from the existing history as time passes
// without new signals. The range is untouched.
func (e *Engine) Decay(old State, now time.Time) State {
	next := cloneState(old)
	next.Confidence = computeConfidence(next.History, next.OpenUnknowns(), daysBetween(old.LastSignal, now))
	return next
}

// AddUnknown records an open question. When the bound is exceeded the
// oldest unknown is evicted, newest retained. Confidence is recomputed;
// a rise alongside a grown unknown count returns ErrInvariantViolation.
func (e *Engine) AddUnknown(old State, u Unknown, now time.Time) (State, error) {
	next := cloneState(old)
	next.Unknowns = append(next.Unknowns, u)
	if len(next.Unknowns) > e.maxUnknowns {
		next.Unknowns = next.Unknowns[len(next.Unknowns)-e.maxUnknowns:]
	}
	next.Confidence = computeConfidence(next.History, next.OpenUnknowns(), daysBetween(old.LastSignal, now))
	next.LastUpdated = now

	if err := checkTransition(old, next); err != nil {
		return old, err
	}
	return next, nil
}

// ResolveUnknown marks an open question answered and recomputes
// confidence.
func (e *Engine) ResolveUnknown(old State, id string, now time.Time) State {
	next := cloneState(old)
	for i := range next.Unknowns {
		if next.Unknowns[i].ID == id && !next.Unknowns[i].Resolved() {
			resolved := now
			next.Unknowns[i].ResolvedAt = &resolved
		}
	}
	next.Confidence = computeConfidence(next.History, next.OpenUnknowns(), daysBetween(old.LastSignal, now))
	next.LastUpdated = now
	return next
}

// ShrinkHistory drops the oldest history entries down to the given
// bound. Memory-pressure action; belief arithmetic is unaffected by the
// bound itself.
func (e *Engine) ShrinkHistory(old State, bound int) State {
	next := cloneState(old)
	if bound >= 0 && len(next.History) > bound {
		next.History = next.History[len(next.History)-bound:]
	}
	return next
}

// computeConfidence is the pure scoring function over the current
// evidence. Speculative signals contribute neither bonus.
func computeConfidence(history []signal.Signal, openUnknowns int, daysSincePrev float64) float64 {
	c := 50.0
	conflict := false
	for _, s := range history {
		switch s.Type {
		case signal.TypeAuthoritative:
			c += 10
		case signal.TypeProcedural:
			c += 5
		}
		if s.ConflictsWithExisting {
			conflict = true
		}
	}
	c -= 7 * float64(openUnknowns)
	if conflict {
		c -= 10
	}
	c -= 0.5 * daysSincePrev
	return clampConfidence(c)
}

// checkTransition enforces the range and confidence invariants between
// two successive states.
func checkTransition(old, next State) error {
	if next.Low > next.High || next.Low < 0 || next.High > 100 {
		return fmt.Errorf("%w: range [%f, %f] out of bounds", ErrInvariantViolation, next.Low, next.High)
	}
	if next.OpenUnknowns() > old.OpenUnknowns() && next.Confidence > old.Confidence {
		return fmt.Errorf("%w: confidence rose from %f to %f while unknowns grew",
			ErrInvariantViolation, old.Confidence, next.Confidence)
	}
	return nil
}

func (e *Engine) hasRecentNonSpeculative(history []signal.Signal) bool {
	start := len(history) - e.speculativeLookback
	if start < 0 {
		start = 0
	}
	for _, s := range history[start:] {
		if !s.Speculative() {
			return true
		}
	}
	return false
}

func ensureMinWidth(s *State) {
	if s.High-s.Low >= widthEpsilon {
		return
	}
	mid := (s.Low + s.High) / 2
	s.Low = clampPrice(mid - widthEpsilon/2)
	s.High = clampPrice(mid + widthEpsilon/2)
	if s.High-s.Low < widthEpsilon {
		if s.Low == 0 {
			s.High = widthEpsilon
		} else {
			s.Low = s.High - widthEpsilon
		}
	}
}

func appendBounded(history []signal.Signal, sig signal.Signal, bound int) []signal.Signal {
	history = append(history, sig)
	if bound > 0 && len(history) > bound {
		history = history[len(history)-bound:]
	}
	return history
}

func daysBetween(prev *signal.Signal, now time.Time) float64 {
	if prev == nil {
		return 0
	}
	d := now.Sub(prev.Timestamp)
	if d < 0 {
		return 0
	}
	return d.Hours() / 24
}

func cloneState(s State) State {
	out := s
	out.Unknowns = append([]Unknown(nil), s.Unknowns...)
	out.History = append([]signal.Signal(nil), s.History...)
	if s.LastSignal != nil {
		ls := *s.LastSignal
		out.LastSignal = &ls
	}
	return out
}
