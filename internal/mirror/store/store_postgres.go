package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	txcontext "trustledger/pkg/platform/tx"
)

// PostgresStore persists mirror records as JSON documents keyed by subject.
// The last applied sequence is broken out into its own column so operators
// can inspect mirror lag with plain SQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects and applies the schema.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS mirror_records (
    subject                TEXT PRIMARY KEY,
    record                 JSONB NOT NULL,
    last_applied_sequence  BIGINT NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL
)`

// Migrate creates the mirror table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate mirror schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := txcontext.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, subject id.Address) (models.MirrorRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT record FROM mirror_records WHERE subject = $1`, subject.String())

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MirrorRecord{}, sentinel.ErrNotFound
		}
		return models.MirrorRecord{}, fmt.Errorf("query mirror record: %w", err)
	}

	var record models.MirrorRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return models.MirrorRecord{}, fmt.Errorf("decode mirror record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record models.MirrorRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode mirror record: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO mirror_records (subject, record, last_applied_sequence, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE SET
			record = EXCLUDED.record,
			last_applied_sequence = EXCLUDED.last_applied_sequence,
			updated_at = EXCLUDED.updated_at`,
		record.Subject.String(), raw, int64(record.LastAppliedSequence), record.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert mirror record: %w", err)
	}
	return nil
}

// MaxAppliedBefore returns the newest update timestamp in the mirror, used
// by the replay tool to pick a safe starting point. Zero time when empty.
func (s *PostgresStore) MaxAppliedBefore(ctx context.Context) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 'epoch'::timestamptz) FROM mirror_records`)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("query mirror high water: %w", err)
	}
	return ts, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the handle for tx.Run in the replay tool.
func (s *PostgresStore) DB() *sql.DB { return s.db }
