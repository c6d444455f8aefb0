package notifications

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/edgewatch/edgewatch/internal/audit"
)

// Backend delivers one rendered message to a human channel.
type Backend interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Service mirrors the audit surface toward human consumers. Delivery is
// best-effort and rate-limited; failures and overflow are swallowed
// after a log line, never surfaced into the pipeline.
type Service struct {
	backend Backend
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewService creates a notification service. perMinute bounds outbound
// messages; the default is 10.
func NewService(backend Backend, perMinute int, logger zerolog.Logger) *Service {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Service{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		logger:  logger,
	}
}

// Emit renders and sends one event, subject to the rate limit.
func (s *Service) Emit(ctx context.Context, event audit.Event) {
	if s.backend == nil {
		return
	}
	if !s.limiter.Allow() {
		s.logger.Debug().
			Str("event", string(event.Type)).
			Msg("Notification dropped by rate limit")
		return
	}

	if err := s.backend.Send(ctx, render(event)); err != nil {
		s.logger.Warn().
			Err(err).
			Str("backend", s.backend.Name()).
			Str("event", string(event.Type)).
			Msg("Notification delivery failed")
	}
}

func render(event audit.Event) string {
	switch event.Type {
	case audit.EventSystemHalt:
		return fmt.Sprintf("🛑 HALT: %s", event.Detail)
	case audit.EventTradeExecuted:
		return fmt.Sprintf("✅ Trade on %s: %s (%s)", event.MarketID, event.Action, event.Detail)
	case audit.EventPositionResolved:
		return fmt.Sprintf("📊 Resolved %s: %s", event.MarketID, event.Detail)
	case audit.EventCalibrationReport:
		return fmt.Sprintf("📈 Calibration: %s", event.Detail)
	case audit.EventError:
		return fmt.Sprintf("⚠️ Error on %s: %s", event.MarketID, event.Detail)
	default:
		return fmt.Sprintf("%s %s: %s", event.Type, event.MarketID, event.Detail)
	}
}
