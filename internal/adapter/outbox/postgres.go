package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decisio/eventcore/internal/adapter/persistence"
	"github.com/decisio/eventcore/internal/domain/envelope"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS outbox_events (
	event_id     TEXT PRIMARY KEY,
	envelope     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_events_unpublished
	ON outbox_events (created_at)
	WHERE published_at IS NULL;
`

// PostgresStore is the production outbox backed by pgx. Stage joins the
// transaction carried in the context; the other operations run on the pool
// because the publisher owns no unit of work of its own.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the outbox table and its partial index on unpublished
// rows. Idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("outbox: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stage(ctx context.Context, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	tx, ok := persistence.TxFrom(ctx)
	if !ok {
		return ErrNoUnitOfWork
	}

	raw, err := env.Encode()
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO outbox_events (event_id, envelope, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, raw)
	if err != nil {
		return fmt.Errorf("outbox: stage %s: %w", env.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, env.EventID)
	}
	return nil
}

func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT envelope, created_at
		 FROM outbox_events
		 WHERE published_at IS NULL
		 ORDER BY created_at, event_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch unpublished: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			raw       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&raw, &createdAt); err != nil {
			return nil, fmt.Errorf("outbox: scan record: %w", err)
		}
		env, err := envelope.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &Record{Envelope: env, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

// MarkPublished is a conditional update: setting a timestamp is safe to
// repeat, so concurrent publishers racing on the same record are harmless.
func (s *PostgresStore) MarkPublished(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET published_at = now()
		 WHERE event_id = $1 AND published_at IS NULL`, eventID)
	if err != nil {
		return fmt.Errorf("outbox: mark published %s: %w", eventID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outbox_events
		 WHERE published_at IS NOT NULL AND published_at < now() - make_interval(secs => $1)`,
		retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox: retention sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
