package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// EventType tags an audit record.
type EventType string

const (
	EventSystemStart       EventType = "system_start"
	EventSystemHalt        EventType = "system_halt"
	EventSignalIngested    EventType = "signal_ingested"
	EventBeliefUpdated     EventType = "belief_updated"
	EventMarketEvaluated   EventType = "market_evaluated"
	EventTradeOpportunity  EventType = "trade_opportunity"
	EventTradeExecuted     EventType = "trade_executed"
	EventPositionResolved  EventType = "position_resolved"
	EventCalibrationReport EventType = "calibration_report"
	EventError             EventType = "error"
)

// Event is one audit record. The numeric fields are pointers so absent
// values render as empty columns rather than zeros.
type Event struct {
	ID         uuid.UUID
	Timestamp  time.Time
	Type       EventType
	MarketID   string
	Question   string
	Action     string
	Detail     string
	BeliefLow  *float64
	BeliefHigh *float64
	Edge       *float64
	SizeUSD    *float64
	PnL        *float64
}

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// PoolInterface is the database surface the optional mirror uses.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// columns is the fixed line layout of the audit trail.
var columns = []string{
	"ts", "event", "market_id", "question", "action", "detail",
	"belief_low", "belief_high", "edge", "size_usd", "pnl",
}

// Logger writes line-delimited audit records to a file, mirrors them to
// the structured log, and optionally persists them to PostgreSQL.
// Writes are serialized; a write failure is logged and dropped rather
// than surfaced into the decision path.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	db     PoolInterface
	logger zerolog.Logger
}

// NewLogger opens (or creates) the audit file and writes the header on
// first use. db may be nil.
func NewLogger(path string, db PoolInterface, logger zerolog.Logger) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	info, err := os.Stat(path)
	fresh := err != nil || info.Size() == 0

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	l := &Logger{file: file, db: db, logger: logger}
	if fresh {
		if _, err := file.WriteString(strings.Join(columns, ",") + "\n"); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write audit header: %w", err)
		}
	}
	return l, nil
}

// Emit writes one event. Failures never propagate.
func (l *Logger) Emit(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	line := renderLine(event)

	l.mu.Lock()
	_, err := l.file.WriteString(line + "\n")
	l.mu.Unlock()
	if err != nil {
		l.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to write audit record")
	}

	l.mirror(event)

	if l.db != nil {
		l.persist(ctx, event)
	}
}

// Close flushes and closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) mirror(event Event) {
	entry := l.logger.Info()
	if event.Type == EventError || event.Type == EventSystemHalt {
		entry = l.logger.Warn()
	}
	entry.
		Str("event", string(event.Type)).
		Str("market_id", event.MarketID).
		Str("action", event.Action).
		Str("detail", event.Detail).
		Msg("Audit")
}

func (l *Logger) persist(ctx context.Context, event Event) {
	query := `
		INSERT INTO audit_events (
			id, ts, event, market_id, question, action, detail,
			belief_low, belief_high, edge, size_usd, pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := l.db.Exec(ctx, query,
		event.ID, event.Timestamp, string(event.Type), event.MarketID, event.Question,
		event.Action, event.Detail, event.BeliefLow, event.BeliefHigh,
		event.Edge, event.SizeUSD, event.PnL,
	)
	if err != nil {
		l.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to persist audit record")
	}
}

func renderLine(event Event) string {
	fields := []string{
		event.Timestamp.Format(time.RFC3339),
		string(event.Type),
		escape(event.MarketID),
		escape(event.Question),
		escape(event.Action),
		escape(event.Detail),
		renderFloat(event.BeliefLow),
		renderFloat(event.BeliefHigh),
		renderFloat(event.Edge),
		renderFloat(event.SizeUSD),
		renderFloat(event.PnL),
	}
	return strings.Join(fields, ",")
}

func renderFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// escape keeps the line format single-line and comma-safe.
func escape(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `"`, `""`), "\n", " ") + `"`
}

// Float is a convenience for building optional columns.
func Float(v float64) *float64 {
	return &v
}
