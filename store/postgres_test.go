package store

import (
	"context"
	"errors"
	"os"
	"testing"
)

func testPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping Postgres tests")
	}
	s, err := NewPostgresStore(context.Background(), url)
	if err != nil {
		t.Fatalf("failed to connect to Postgres: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func cleanupPostgresDoc(t *testing.T, s *PostgresStore, docID string) {
	t.Helper()
	s.pool.Exec(context.Background(), `DELETE FROM documents WHERE id = $1`, docID)
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupPostgresDoc(t, s, docID) })

	if err := s.Create(ctx, docID, []byte{0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, docID, nil); !errors.Is(err, ErrExists) {
		t.Errorf("got %v, want ErrExists", err)
	}

	info, err := s.Get(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Snapshot) != 2 || info.Version != 0 || info.ID != docID {
		t.Errorf("unexpected info: %+v", info)
	}

	if _, err := s.Get(ctx, "nonexistent-doc-xyz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_SnapshotAndUpdates(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupPostgresDoc(t, s, docID) })

	s.Create(ctx, docID, nil)
	for i, u := range []string{"u1", "u2", "u3"} {
		if err := s.AppendUpdate(ctx, docID, []byte(u), i+1); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpdateSnapshot(ctx, docID, []byte("full"), 2); err != nil {
		t.Fatal(err)
	}

	updates, err := s.GetUpdates(ctx, docID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || string(updates[0]) != "u3" {
		t.Fatalf("got %q, want [u3]", updates)
	}

	info, _ := s.Get(ctx, docID)
	if string(info.Snapshot) != "full" || info.SnapshotVersion != 2 || info.Version != 3 {
		t.Errorf("unexpected info: %+v", info)
	}

	if err := s.AppendUpdate(ctx, "nonexistent-doc-xyz", nil, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := s.GetUpdates(ctx, "nonexistent-doc-xyz", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupPostgresDoc(t, s, docID) })
	s.Create(ctx, docID, nil)

	docs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range docs {
		found = found || d.ID == docID
	}
	if !found {
		t.Errorf("document %q missing from list", docID)
	}
}
