// Package store persists replicated documents as a snapshot plus an
// append-only log of the binary updates committed since.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// DocumentInfo holds document metadata and its latest snapshot.
// Snapshot covers updates 1..SnapshotVersion; Version counts every update
// appended so far.
type DocumentInfo struct {
	ID              string
	Snapshot        []byte
	SnapshotVersion int
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentStore abstracts document persistence.
// Implementations: MemoryStore, CachedStore, FirestoreStore, PostgresStore.
type DocumentStore interface {
	Create(ctx context.Context, id string, snapshot []byte) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateSnapshot(ctx context.Context, id string, snapshot []byte, version int) error
	// AppendUpdate stores update as the version-th entry of the log.
	AppendUpdate(ctx context.Context, id string, update []byte, version int) error
	// GetUpdates returns the log entries after fromVersion, oldest first.
	GetUpdates(ctx context.Context, id string, fromVersion int) ([][]byte, error)
}
