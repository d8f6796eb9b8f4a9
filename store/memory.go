package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type docRecord struct {
	info    DocumentInfo
	history [][]byte
}

// MemoryStore is an in-memory implementation of DocumentStore. Each
// document holds a snapshot, the full update that was current at
// SnapshotVersion, and a dense log of updates numbered from 1. Version is
// the length of that log; AppendUpdate accepts only Version+1, and
// GetUpdates(v) returns the entries after v. Byte slices are copied on the
// way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*docRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*docRecord)}
}

func (s *MemoryStore) Create(_ context.Context, id string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[id]; exists {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	now := time.Now()
	s.docs[id] = &docRecord{
		info: DocumentInfo{
			ID:        id,
			Snapshot:  slices.Clone(snapshot),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	info := rec.info
	info.Snapshot = slices.Clone(info.Snapshot)
	return &info, nil
}

func (s *MemoryStore) List(_ context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]DocumentInfo, 0, len(s.docs))
	for _, rec := range s.docs {
		info := rec.info
		info.Snapshot = nil
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b DocumentInfo) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *MemoryStore) UpdateSnapshot(_ context.Context, id string, snapshot []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	rec.info.Snapshot = slices.Clone(snapshot)
	rec.info.SnapshotVersion = version
	rec.info.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AppendUpdate(_ context.Context, id string, update []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if version != len(rec.history)+1 {
		return fmt.Errorf("document %q: append version %d, have %d", id, version, len(rec.history))
	}
	rec.history = append(rec.history, slices.Clone(update))
	rec.info.Version = version
	rec.info.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetUpdates(_ context.Context, id string, fromVersion int) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if fromVersion < 0 || fromVersion > len(rec.history) {
		return nil, fmt.Errorf("invalid version %d", fromVersion)
	}
	updates := make([][]byte, 0, len(rec.history)-fromVersion)
	for _, u := range rec.history[fromVersion:] {
		updates = append(updates, slices.Clone(u))
	}
	return updates, nil
}
