package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT NOT NULL,
	handler_name TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, handler_name)
);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("dedup: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, eventID, handler string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE event_id = $1 AND handler_name = $2
		)`, eventID, handler).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup: lookup %s/%s: %w", eventID, handler, err)
	}
	return exists, nil
}

// MarkProcessed tolerates duplicate inserts: a concurrent delivery racing on
// the same pair is the situation this store exists to absorb.
func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID, handler string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, handler_name)
		 VALUES ($1, $2)
		 ON CONFLICT (event_id, handler_name) DO NOTHING`, eventID, handler)
	if err != nil {
		return fmt.Errorf("dedup: mark %s/%s: %w", eventID, handler, err)
	}
	return nil
}
