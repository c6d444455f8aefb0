package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is a step of the per-market processing loop.
type State string

const (
	StateObserve       State = "OBSERVE"
	StateIngestSignal  State = "INGEST_SIGNAL"
	StateUpdateBelief  State = "UPDATE_BELIEF"
	StateEvaluateTrade State = "EVALUATE_TRADE"
	StateExecuteTrade  State = "EXECUTE_TRADE"
	StateMonitor       State = "MONITOR"
	StateHalt          State = "HALT"
)

// ErrIllegalTransition marks a transition outside the legal table. The
// machine moves to HALT before returning it.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrHalted rejects any transition attempted after HALT. HALT is
// terminal until an operator reset.
var ErrHalted = errors.New("machine halted")

// legalTransitions is the full transition table. HALT is reachable from
// every non-terminal state and absent as a source.
var legalTransitions = map[State][]State{
	StateObserve:       {StateIngestSignal, StateHalt},
	StateIngestSignal:  {StateUpdateBelief, StateObserve, StateHalt},
	StateUpdateBelief:  {StateEvaluateTrade, StateObserve, StateHalt},
	StateEvaluateTrade: {StateExecuteTrade, StateObserve, StateHalt},
	StateExecuteTrade:  {StateMonitor, StateHalt},
	StateMonitor:       {StateObserve, StateHalt},
	StateHalt:          {},
}

// Transition is one audited state change.
type Transition struct {
	From   State
	To     State
	Reason string
}

// Machine is the per-market state machine. There is no global machine;
// each tracked market owns one.
type Machine struct {
	mu         sync.Mutex
	marketID   string
	state      State
	haltReason string
	observers  []func(Transition)
	logger     zerolog.Logger
}

// NewMachine starts a machine in OBSERVE.
func NewMachine(marketID string, logger zerolog.Logger) *Machine {
	return &Machine{
		marketID: marketID,
		state:    StateObserve,
		logger:   logger,
	}
}

// OnTransition registers an observer notified after every state change,
// including forced halts. Observers run with the lock held; keep them
// non-blocking.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Halted reports whether the machine reached HALT.
func (m *Machine) Halted() bool {
	return m.State() == StateHalt
}

// HaltReason returns the reason recorded when the machine halted.
func (m *Machine) HaltReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.haltReason
}

// Transition moves to the target state, carrying a reason for audit. An
// attempt outside the legal table forces HALT and returns
// ErrIllegalTransition.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateHalt {
		return fmt.Errorf("%w: cannot leave HALT without operator reset", ErrHalted)
	}

	if !legal(m.state, to) {
		from := m.state
		m.haltLocked(fmt.Sprintf("illegal transition %s -> %s", from, to))
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	from := m.state
	m.state = to
	if to == StateHalt {
		m.haltReason = reason
	}

	m.logger.Debug().
		Str("market_id", m.marketID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("State transition")

	m.notifyLocked(Transition{From: from, To: to, Reason: reason})
	return nil
}

// ForceHalt jumps unconditionally to HALT from any non-terminal state.
// Invoked on invariant violations and by the calibration monitor.
func (m *Machine) ForceHalt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateHalt {
		return
	}
	m.haltLocked(reason)
}

// Reset returns a halted machine to OBSERVE. Operator action only; a
// reset of a running machine is refused.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateHalt {
		return fmt.Errorf("reset refused: machine in %s, not HALT", m.state)
	}

	m.logger.Info().
		Str("market_id", m.marketID).
		Str("halt_reason", m.haltReason).
		Msg("Operator reset from HALT")

	from := m.state
	m.state = StateObserve
	m.haltReason = ""
	m.notifyLocked(Transition{From: from, To: StateObserve, Reason: "operator reset"})
	return nil
}

func (m *Machine) haltLocked(reason string) {
	from := m.state
	m.state = StateHalt
	m.haltReason = reason

	m.logger.Warn().
		Str("market_id", m.marketID).
		Str("from", string(from)).
		Str("reason", reason).
		Msg("Forced HALT")

	m.notifyLocked(Transition{From: from, To: StateHalt, Reason: reason})
}

func (m *Machine) notifyLocked(t Transition) {
	for _, fn := range m.observers {
		fn(t)
	}
}

func legal(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
