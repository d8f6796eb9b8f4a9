package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is a Firestore-backed implementation of DocumentStore.
// Each document keeps its snapshot in the document itself and its update
// log in an "updates" subcollection keyed by zero-padded index.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "documents",
	}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) updatesCollection(docID string) *firestore.CollectionRef {
	return s.docRef(docID).Collection("updates")
}

func zeroPad(version int) string {
	return fmt.Sprintf("%010d", version)
}

func (s *FirestoreStore) Create(ctx context.Context, id string, snapshot []byte) error {
	now := time.Now()
	_, err := s.docRef(id).Create(ctx, map[string]any{
		"snapshot":        snapshot,
		"snapshotVersion": 0,
		"version":         0,
		"createdAt":       now,
		"updatedAt":       now,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snapshotToDocInfo(id, snap), nil
}

func snapshotToDocInfo(id string, snap *firestore.DocumentSnapshot) *DocumentInfo {
	data := snap.Data()
	snapshot, _ := data["snapshot"].([]byte)
	snapshotVersion, _ := data["snapshotVersion"].(int64)
	version, _ := data["version"].(int64)
	createdAt, _ := data["createdAt"].(time.Time)
	updatedAt, _ := data["updatedAt"].(time.Time)
	return &DocumentInfo{
		ID:              id,
		Snapshot:        snapshot,
		SnapshotVersion: int(snapshotVersion),
		Version:         int(version),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
}

func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.client.Collection(s.collection).
		Select("snapshotVersion", "version", "createdAt", "updatedAt").
		Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, *snapshotToDocInfo(snap.Ref.ID, snap))
	}
	return result, nil
}

func (s *FirestoreStore) UpdateSnapshot(ctx context.Context, id string, snapshot []byte, version int) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "snapshot", Value: snapshot},
		{Path: "snapshotVersion", Value: version},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return err
}

// AppendUpdate writes the log entry and bumps the document version in one
// transaction.
func (s *FirestoreStore) AppendUpdate(ctx context.Context, id string, update []byte, version int) error {
	// Store with 0-based index: version 1 → index 0, matching MemoryStore's
	// history slice semantics where GetUpdates(fromVersion) returns history[fromVersion:].
	index := version - 1
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Update(s.docRef(id), []firestore.Update{
			{Path: "version", Value: version},
			{Path: "updatedAt", Value: time.Now()},
		}); err != nil {
			return err
		}
		return tx.Set(s.updatesCollection(id).Doc(zeroPad(index)), map[string]any{
			"update":  update,
			"version": version,
		})
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return err
}

func (s *FirestoreStore) GetUpdates(ctx context.Context, id string, fromVersion int) ([][]byte, error) {
	// Verify document exists.
	_, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	iter := s.updatesCollection(id).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(zeroPad(fromVersion)).
		Documents(ctx)
	defer iter.Stop()

	var updates [][]byte
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		u, ok := snap.Data()["update"].([]byte)
		if !ok {
			return nil, fmt.Errorf("invalid update field in entry %s", snap.Ref.ID)
		}
		updates = append(updates, u)
	}
	return updates, nil
}
