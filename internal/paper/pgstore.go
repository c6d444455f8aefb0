package paper

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

// PoolInterface defines the interface for database pool operations
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGStore persists paper positions in PostgreSQL for deployments where
// a shared durable store is preferred over the local file.
type PGStore struct {
	pool PoolInterface
}

// NewPGStore creates a store over an existing pool interface.
func NewPGStore(pool PoolInterface) *PGStore {
	return &PGStore{pool: pool}
}

// NewPGStoreWithPool creates a store over a pgxpool.Pool.
func NewPGStoreWithPool(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the positions table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS paper_positions (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			question TEXT,
			category TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			belief_low DOUBLE PRECISION NOT NULL,
			belief_high DOUBLE PRECISION NOT NULL,
			confidence_at_entry DOUBLE PRECISION NOT NULL,
			unknowns_at_entry INT NOT NULL,
			edge_at_entry DOUBLE PRECISION NOT NULL,
			size_usd DOUBLE PRECISION NOT NULL,
			entry_ts TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			exit_price DOUBLE PRECISION,
			resolved_ts TIMESTAMPTZ,
			pnl DOUBLE PRECISION,
			actual_outcome TEXT,
			invalidated BOOLEAN NOT NULL DEFAULT FALSE
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create paper_positions table: %w", err)
	}
	return nil
}

// Load reads all persisted positions.
func (s *PGStore) Load(ctx context.Context) ([]Position, error) {
	query := `
		SELECT id, market_id, question, category, side, entry_price,
		       belief_low, belief_high, confidence_at_entry, unknowns_at_entry,
		       edge_at_entry, size_usd, entry_ts, status,
		       exit_price, resolved_ts, pnl, actual_outcome, invalidated
		FROM paper_positions
		ORDER BY entry_ts
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load paper positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		var question *string
		var category, side string
		var outcome *string
		if err := rows.Scan(
			&p.ID, &p.MarketID, &question, &category, &side, &p.EntryPrice,
			&p.BeliefLow, &p.BeliefHigh, &p.ConfidenceAtEntry, &p.UnknownsAtEntry,
			&p.EdgeAtEntry, &p.SizeUSD, &p.EntryTS, (*string)(&p.Status),
			&p.ExitPrice, &p.ResolvedTS, &p.PnL, &outcome, &p.Invalidated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan paper position: %w", err)
		}
		if question != nil {
			p.Question = *question
		}
		p.Category = market.ParseCategory(category)
		p.Side = decision.Side(side)
		if outcome != nil {
			o := market.Outcome(*outcome)
			p.ActualOutcome = &o
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read paper positions: %w", err)
	}
	return positions, nil
}

// Upsert writes one position.
func (s *PGStore) Upsert(ctx context.Context, p Position) error {
	query := `
		INSERT INTO paper_positions (
			id, market_id, question, category, side, entry_price,
			belief_low, belief_high, confidence_at_entry, unknowns_at_entry,
			edge_at_entry, size_usd, entry_ts, status,
			exit_price, resolved_ts, pnl, actual_outcome, invalidated
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exit_price = EXCLUDED.exit_price,
			resolved_ts = EXCLUDED.resolved_ts,
			pnl = EXCLUDED.pnl,
			actual_outcome = EXCLUDED.actual_outcome,
			invalidated = EXCLUDED.invalidated
	`
	var outcome *string
	if p.ActualOutcome != nil {
		o := string(*p.ActualOutcome)
		outcome = &o
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Question, string(p.Category), string(p.Side), p.EntryPrice,
		p.BeliefLow, p.BeliefHigh, p.ConfidenceAtEntry, p.UnknownsAtEntry,
		p.EdgeAtEntry, p.SizeUSD, p.EntryTS, string(p.Status),
		p.ExitPrice, p.ResolvedTS, p.PnL, outcome, p.Invalidated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert paper position %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes one position.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM paper_positions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete paper position %s: %w", id, err)
	}
	return nil
}
