package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	snapshot         BYTEA NOT NULL DEFAULT ''::bytea,
	snapshot_version INTEGER NOT NULL DEFAULT 0,
	version          INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS document_updates (
	doc_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	data    BYTEA NOT NULL,
	PRIMARY KEY (doc_id, version)
);`

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL-backed implementation of DocumentStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the tables if they
// do not exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Create(ctx context.Context, id string, snapshot []byte) error {
	now := time.Now()
	if snapshot == nil {
		snapshot = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, snapshot, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		id, snapshot, now)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info := DocumentInfo{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot, snapshot_version, version, created_at, updated_at FROM documents WHERE id = $1`,
		id).Scan(&info.Snapshot, &info.SnapshotVersion, &info.Version, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, snapshot_version, version, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DocumentInfo, error) {
		var info DocumentInfo
		err := row.Scan(&info.ID, &info.SnapshotVersion, &info.Version, &info.CreatedAt, &info.UpdatedAt)
		return info, err
	})
}

func (s *PostgresStore) UpdateSnapshot(ctx context.Context, id string, snapshot []byte, version int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET snapshot = $2, snapshot_version = $3, updated_at = $4 WHERE id = $1`,
		id, snapshot, version, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return nil
}

// AppendUpdate inserts the log entry and bumps the document version in one
// transaction.
func (s *PostgresStore) AppendUpdate(ctx context.Context, id string, update []byte, version int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET version = $2, updated_at = $3 WHERE id = $1`,
			id, version, time.Now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("document %q: %w", id, ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO document_updates (doc_id, version, data) VALUES ($1, $2, $3)`,
			id, version, update)
		return err
	})
}

func (s *PostgresStore) GetUpdates(ctx context.Context, id string, fromVersion int) ([][]byte, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM document_updates WHERE doc_id = $1 AND version > $2 ORDER BY version`,
		id, fromVersion)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[[]byte])
}
