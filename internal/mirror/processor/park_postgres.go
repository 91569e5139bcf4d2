package processor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
)

// PgxParkStore keeps parked events in postgres so they survive restarts and
// can be inspected with SQL.
type PgxParkStore struct {
	pool *pgxpool.Pool
}

func NewPgxParkStore(ctx context.Context, dsn string) (*PgxParkStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect park store: %w", err)
	}
	store := &PgxParkStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PgxParkStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parked_events (
			id          BIGSERIAL PRIMARY KEY,
			subject     TEXT NOT NULL,
			sequence    BIGINT NOT NULL,
			kind        TEXT NOT NULL,
			raw         BYTEA NOT NULL,
			reason      TEXT NOT NULL,
			parked_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (subject, sequence)
		)`)
	if err != nil {
		return fmt.Errorf("migrate parked_events: %w", err)
	}
	return nil
}

func (s *PgxParkStore) Park(ctx context.Context, event ParkedEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parked_events (subject, sequence, kind, raw, reason, parked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject, sequence) DO NOTHING`,
		event.Subject.String(), int64(event.Sequence), string(event.Kind),
		event.Raw, event.Reason, event.ParkedAt)
	if err != nil {
		return fmt.Errorf("park event %s/%d: %w", event.Subject, event.Sequence, err)
	}
	return nil
}

func (s *PgxParkStore) List(ctx context.Context) ([]ParkedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject, sequence, kind, raw, reason, parked_at
		FROM parked_events ORDER BY parked_at`)
	if err != nil {
		return nil, fmt.Errorf("list parked events: %w", err)
	}
	defer rows.Close()

	var out []ParkedEvent
	for rows.Next() {
		var event ParkedEvent
		var subject, kind string
		var sequence int64
		if err := rows.Scan(&subject, &sequence, &kind, &event.Raw, &event.Reason, &event.ParkedAt); err != nil {
			return nil, fmt.Errorf("scan parked event: %w", err)
		}
		event.Subject = id.Address(subject)
		event.Sequence = uint64(sequence)
		event.Kind = models.Kind(kind)
		out = append(out, event)
	}
	return out, rows.Err()
}

func (s *PgxParkStore) Close() { s.pool.Close() }
