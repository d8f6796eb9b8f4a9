package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// dirtyState tracks what needs flushing for a single document.
type dirtyState struct {
	snapshotDirty  bool   // snapshot needs writing to backing store
	flushedUpdates int    // number of updates already flushed (index into history)
	created        bool   // doc created locally but not yet in backing store
	flushedSum     uint64 // checksum of the snapshot the backing store holds
}

// CachedStore wraps a backing DocumentStore with an in-memory cache.
// All reads and writes are served from the cache. Dirty documents are
// flushed to the backing store periodically in the background.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	mu            sync.Mutex
	dirty         map[string]*dirtyState
	loads         singleflight.Group
	limiter       *rate.Limiter
	log           logr.Logger
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

type cachedOptions struct {
	logger  logr.Logger
	limiter *rate.Limiter
}

// CachedOption configures a CachedStore.
type CachedOption func(*cachedOptions)

// WithLogger sets the logger used for flush failures. The default writes
// through the standard library logger.
func WithLogger(l logr.Logger) CachedOption {
	return func(o *cachedOptions) { o.logger = l }
}

// WithWriteLimit caps the rate of writes sent to the backing store.
func WithWriteLimit(r rate.Limit, burst int) CachedOption {
	return func(o *cachedOptions) { o.limiter = rate.NewLimiter(r, burst) }
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// dirty documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration, opts ...CachedOption) *CachedStore {
	o := cachedOptions{
		logger:  stdr.New(log.Default()).WithName("cached-store"),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(&o)
	}
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		dirty:         make(map[string]*dirtyState),
		limiter:       o.limiter,
		log:           o.logger,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Create(ctx context.Context, id string, snapshot []byte) error {
	if err := cs.cache.Create(ctx, id, snapshot); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{snapshotDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	// Cache miss: concurrent callers share one load from the backing store.
	if _, err, _ := cs.loads.Do(id, func() (any, error) {
		return nil, cs.loadFromBacking(ctx, id)
	}); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	return cs.backing.List(ctx)
}

func (cs *CachedStore) UpdateSnapshot(ctx context.Context, id string, snapshot []byte, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateSnapshot(ctx, id, snapshot, version); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[id]
	if ds == nil {
		ds = &dirtyState{flushedUpdates: cs.historyLen(id)}
		cs.dirty[id] = ds
	}
	ds.snapshotDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendUpdate(ctx context.Context, id string, update []byte, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot history length before append so we know how many updates
	// were already flushed if this doc was previously clean.
	prevLen := cs.historyLen(id)

	if err := cs.cache.AppendUpdate(ctx, id, update, version); err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedUpdates: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetUpdates(ctx context.Context, id string, fromVersion int) ([][]byte, error) {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetUpdates(ctx, id, fromVersion)
}

func (cs *CachedStore) historyLen(id string) int {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return len(rec.history)
	}
	return 0
}

// loadFromBacking loads a document and its update log from the backing
// store into the cache. It sets flushedUpdates so that already-persisted
// updates are not re-flushed.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	updates, err := cs.backing.GetUpdates(ctx, id, 0)
	if err != nil {
		return err
	}

	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{
			info:    *info,
			history: updates,
		}
	}
	cs.cache.mu.Unlock()

	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{
			flushedUpdates: len(updates),
			flushedSum:     xxhash.Sum64(info.Snapshot),
		}
	}
	cs.mu.Unlock()

	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all dirty documents to the backing store.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	ctx := context.Background()

	for id, ds := range snapshot {
		cs.cache.mu.RLock()
		rec, ok := cs.cache.docs[id]
		if !ok {
			cs.cache.mu.RUnlock()
			continue
		}
		info := rec.info
		total := len(rec.history)
		var pending [][]byte
		if ds.flushedUpdates < total {
			pending = make([][]byte, total-ds.flushedUpdates)
			copy(pending, rec.history[ds.flushedUpdates:])
		}
		cs.cache.mu.RUnlock()

		// 1. Create doc in backing store if needed.
		if ds.created {
			if err := cs.write(ctx, func() error { return cs.backing.Create(ctx, id, nil) }); err != nil {
				cs.log.Error(err, "create document in backing store", "doc", id)
				continue
			}
			ds.created = false
		}

		// 2. Flush new updates before the snapshot, so a crash leaves a
		// replayable log.
		for i, u := range pending {
			version := ds.flushedUpdates + i + 1
			if err := cs.write(ctx, func() error { return cs.backing.AppendUpdate(ctx, id, u, version) }); err != nil {
				cs.log.Error(err, "flush update", "doc", id, "version", version)
				break
			}
			ds.flushedUpdates = version
		}

		// 3. Flush the snapshot if it changed since the last write.
		if ds.snapshotDirty {
			sum := xxhash.Sum64(info.Snapshot)
			if sum == ds.flushedSum {
				cs.log.V(1).Info("snapshot unchanged, skipping write", "doc", id)
				ds.snapshotDirty = false
			} else if err := cs.write(ctx, func() error {
				return cs.backing.UpdateSnapshot(ctx, id, info.Snapshot, info.SnapshotVersion)
			}); err != nil {
				cs.log.Error(err, "flush snapshot", "doc", id)
			} else {
				ds.snapshotDirty = false
				ds.flushedSum = sum
			}
		}

		// Update the authoritative dirty state.
		cs.mu.Lock()
		cur := cs.dirty[id]
		if cur != nil {
			cur.flushedUpdates = ds.flushedUpdates
			cur.created = ds.created
			cur.flushedSum = ds.flushedSum
			if !ds.snapshotDirty && cs.snapshotSum(id) == ds.flushedSum {
				cur.snapshotDirty = false
			}
			if !cur.snapshotDirty && !cur.created && cur.flushedUpdates >= cs.historyLen(id) {
				delete(cs.dirty, id)
			}
		}
		cs.mu.Unlock()
	}
}

// snapshotSum checksums the cached snapshot of id.
func (cs *CachedStore) snapshotSum(id string) uint64 {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return xxhash.Sum64(rec.info.Snapshot)
	}
	return 0
}

// write runs fn once the write limiter allows it.
func (cs *CachedStore) write(ctx context.Context, fn func() error) error {
	if err := cs.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// Close signals the flush loop to perform a final flush and waits for it
// to complete.
func (cs *CachedStore) Close() {
	close(cs.stop)
	<-cs.done
}
