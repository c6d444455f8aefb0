package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edgewatch/edgewatch/internal/audit"
)

type captureBackend struct {
	sent []string
	err  error
}

func (b *captureBackend) Send(_ context.Context, text string) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, text)
	return nil
}

func (b *captureBackend) Name() string { return "capture" }

// TestEmitDeliversRenderedEvent sends a human-readable rendering
func TestEmitDeliversRenderedEvent(t *testing.T) {
	backend := &captureBackend{}
	s := NewService(backend, 10, zerolog.Nop())

	s.Emit(context.Background(), audit.Event{
		Type:   audit.EventSystemHalt,
		Detail: "calibration failure: coverage deviation",
	})

	assert.Len(t, backend.sent, 1)
	assert.Contains(t, backend.sent[0], "HALT")
	assert.Contains(t, backend.sent[0], "coverage deviation")
}

// TestEmitRateLimited drops messages past the per-minute burst
func TestEmitRateLimited(t *testing.T) {
	backend := &captureBackend{}
	s := NewService(backend, 10, zerolog.Nop())

	for i := 0; i < 25; i++ {
		s.Emit(context.Background(), audit.Event{Type: audit.EventSignalIngested, MarketID: "m1"})
	}

	assert.LessOrEqual(t, len(backend.sent), 11)
	assert.NotEmpty(t, backend.sent)
}

// TestEmitSwallowsBackendFailure never panics or propagates send errors
func TestEmitSwallowsBackendFailure(t *testing.T) {
	backend := &captureBackend{err: errors.New("network down")}
	s := NewService(backend, 10, zerolog.Nop())

	s.Emit(context.Background(), audit.Event{Type: audit.EventTradeExecuted, MarketID: "m1"})
	assert.Empty(t, backend.sent)
}

// TestEmitWithoutBackendIsNoop allows running without a configured sink
func TestEmitWithoutBackendIsNoop(t *testing.T) {
	s := NewService(nil, 10, zerolog.Nop())
	s.Emit(context.Background(), audit.Event{Type: audit.EventSystemStart})
}
