package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Record appends ev to the event log. The detail map is stored as JSONB.
func (s *EventStore) Record(ctx context.Context, ev domain.BookEvent) error {
	var detail []byte
	if len(ev.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(ev.Detail); err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}

	query := `INSERT INTO book_events (symbol, kind, detail) VALUES ($1, $2, $3)`
	args := []any{ev.Symbol, ev.Kind, detail}
	if !ev.CreatedAt.IsZero() {
		query = `INSERT INTO book_events (symbol, kind, detail, created_at) VALUES ($1, $2, $3, $4)`
		args = append(args, ev.CreatedAt)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: record event %s: %w", ev.Kind, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.BookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, symbol, kind, detail, created_at
		FROM book_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.BookEvent
	for rows.Next() {
		var (
			ev     domain.BookEvent
			detail []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.Kind, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events created before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM book_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}
