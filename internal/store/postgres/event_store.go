package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// EventStore implements domain.EventLog using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Emit appends env. Re-emitting an ID already stored is a no-op.
func (s *EventStore) Emit(ctx context.Context, env domain.EventEnvelope) error {
	const query = `
		INSERT INTO settlement_events (id, event, data, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, env.ID, env.Event, []byte(env.Data), env.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", env.ID, err)
	}
	return nil
}

// List returns events oldest first with pagination and optional time
// filtering. Since is inclusive and Until exclusive.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EventEnvelope, error) {
	query := `SELECT id, event, data, occurred_at FROM settlement_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY occurred_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.EventEnvelope
	for rows.Next() {
		var (
			env  domain.EventEnvelope
			data []byte
		)
		if err := rows.Scan(&env.ID, &env.Event, &data, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		env.Data = data
		env.Timestamp = env.Timestamp.UTC()
		events = append(events, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events that occurred before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM settlement_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.EventLog = (*EventStore)(nil)
