// Package awareness shares ephemeral per-client state, such as cursors or
// user names, between replicas of a document. Each client owns one JSON
// state stamped with a clock it alone increments; peers keep the state with
// the highest clock they have seen.
package awareness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-logr/logr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/alimasry/go-ydoc/internal/subscription"
	"github.com/alimasry/go-ydoc/ydoc"
)

// SubscriptionID identifies an attached observer.
type SubscriptionID = subscription.ID

// Event lists the clients whose state an operation changed, each in
// ascending id order.
type Event struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
}

func (e Event) empty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

// Observer receives awareness events.
type Observer interface {
	OnChange(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnChange(e Event) { f(e) }

// Meta is the bookkeeping kept for every known client, including
// tombstoned ones.
type Meta struct {
	Clock       uint32
	LastUpdated time.Time
}

type entry struct {
	Meta
	state string // empty for a tombstone
}

// Awareness holds the local client's state and the last known state of
// every peer. It is not safe for concurrent use.
type Awareness struct {
	clientID  uint64
	entries   map[uint64]*entry
	observers subscription.Registry[Observer]
	log       logr.Logger
	now       func() time.Time
}

type options struct {
	logger logr.Logger
	now    func() time.Time
}

// Option configures an Awareness.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now for LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an awareness instance for the client that edits doc.
func New(doc *ydoc.Doc, opts ...Option) *Awareness {
	o := options{logger: logr.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Awareness{
		clientID: doc.ClientID(),
		entries:  make(map[uint64]*entry),
		log:      o.logger.WithValues("client", doc.ClientID()),
		now:      o.now,
	}
}

// ClientID returns the local client id, shared with the document.
func (a *Awareness) ClientID() uint64 { return a.clientID }

// SetLocalState replaces the local state with the JSON text state and
// advances the local clock. The JSON literal null behaves like
// CleanLocalState.
func (a *Awareness) SetLocalState(state string) error {
	state = strings.TrimSpace(state)
	if !gjson.Valid(state) {
		return fmt.Errorf("set local state: %w", ErrInvalidState)
	}
	if state == null {
		state = ""
	}
	a.setLocal(state)
	return nil
}

// LocalState returns the local state, or false when it was never set or has
// been cleaned or removed.
func (a *Awareness) LocalState() (string, bool) {
	e, ok := a.entries[a.clientID]
	if !ok || e.state == "" {
		return "", false
	}
	return e.state, true
}

// SetLocalField sets the value at path inside the local state, creating an
// empty object state first if needed. Paths use sjson syntax, e.g.
// "cursor.pos".
func (a *Awareness) SetLocalField(path string, value any) error {
	cur, ok := a.LocalState()
	if !ok {
		cur = "{}"
	}
	next, err := sjson.Set(cur, path, value)
	if err != nil {
		return fmt.Errorf("set local field %q: %w", path, err)
	}
	return a.SetLocalState(next)
}

// LocalField reads the value at path inside the local state.
func (a *Awareness) LocalField(path string) gjson.Result {
	cur, _ := a.LocalState()
	return gjson.Get(cur, path)
}

// CleanLocalState tombstones the local state and advances the local clock,
// announcing to peers that this client left.
func (a *Awareness) CleanLocalState() { a.setLocal("") }

func (a *Awareness) setLocal(state string) {
	var ev Event
	e, ok := a.entries[a.clientID]
	switch {
	case !ok:
		e = &entry{}
		a.entries[a.clientID] = e
		if state != "" {
			ev.Added = []uint64{a.clientID}
		}
	default:
		e.Clock++
		switch {
		case e.state == "" && state != "":
			ev.Added = []uint64{a.clientID}
		case e.state != "" && state == "":
			ev.Removed = []uint64{a.clientID}
		case e.state != state:
			ev.Updated = []uint64{a.clientID}
		}
	}
	e.state = state
	e.LastUpdated = a.now()
	a.emit(ev)
}

// RemoveState tombstones the state of client id without touching its
// clock, so a later update from that client revives it. Unknown ids are
// ignored.
func (a *Awareness) RemoveState(id uint64) {
	e, ok := a.entries[id]
	if !ok || e.state == "" {
		return
	}
	e.state = ""
	e.LastUpdated = a.now()
	a.emit(Event{Removed: []uint64{id}})
}

// Clients returns the state of every client that currently has one.
// Tombstoned clients are left out; Meta still reports them.
func (a *Awareness) Clients() map[uint64]string {
	out := make(map[uint64]string, len(a.entries))
	for id, e := range a.entries {
		if e.state != "" {
			out[id] = e.state
		}
	}
	return out
}

// Meta returns the clock and last update time recorded for client id.
func (a *Awareness) Meta(id uint64) (Meta, bool) {
	e, ok := a.entries[id]
	if !ok {
		return Meta{}, false
	}
	return e.Meta, true
}

// Diff encodes the state of every known client, tombstones included.
func (a *Awareness) Diff() []byte {
	ids := make([]uint64, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return a.encode(ids)
}

// DiffWithClients encodes the state of the given clients only. Any unknown
// id fails the whole call with a *ClientNotFoundError.
func (a *Awareness) DiffWithClients(ids ...uint64) ([]byte, error) {
	for _, id := range ids {
		if _, ok := a.entries[id]; !ok {
			return nil, &ClientNotFoundError{ClientID: id}
		}
	}
	return a.encode(mapset.NewThreadUnsafeSet(ids...).ToSlice()), nil
}

func (a *Awareness) encode(ids []uint64) []byte {
	slices.Sort(ids)
	updates := make([]entryUpdate, len(ids))
	for i, id := range ids {
		e := a.entries[id]
		updates[i] = entryUpdate{client: id, clock: e.Clock, state: e.state}
	}
	return encodeUpdate(updates)
}

// Sync applies an update produced by Diff on a peer. A tuple is accepted
// when its client is unknown or its clock is newer than the known one, or
// when it tombstones a live state at the same clock; everything else is
// stale and ignored. Observers receive one event covering the whole update.
func (a *Awareness) Sync(update []byte) error {
	updates, err := decodeUpdate(update)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	var (
		added   = mapset.NewThreadUnsafeSet[uint64]()
		updated = mapset.NewThreadUnsafeSet[uint64]()
		removed = mapset.NewThreadUnsafeSet[uint64]()
		stale   int
	)
	now := a.now()
	for _, u := range updates {
		e, known := a.entries[u.client]
		switch {
		case !known:
			e = &entry{}
			a.entries[u.client] = e
		case u.clock > e.Clock:
		case u.clock == e.Clock && u.state == "" && e.state != "":
		default:
			stale++
			continue
		}
		switch {
		case u.state == "" && e.state != "":
			removed.Add(u.client)
		case u.state != "" && e.state == "":
			added.Add(u.client)
		case u.state != e.state:
			updated.Add(u.client)
		}
		e.Clock = u.clock
		e.state = u.state
		e.LastUpdated = now
	}
	ev := Event{Added: sorted(added), Updated: sorted(updated), Removed: sorted(removed)}
	a.log.V(1).Info("applied awareness update", "entries", len(updates), "stale", stale,
		"added", len(ev.Added), "updated", len(ev.Updated), "removed", len(ev.Removed))
	a.emit(ev)
	return nil
}

// ApplyUpdate is Sync.
func (a *Awareness) ApplyUpdate(update []byte) error { return a.Sync(update) }

// Attach registers o for awareness events.
func (a *Awareness) Attach(o Observer) (SubscriptionID, error) {
	if f, ok := o.(ObserverFunc); o == nil || ok && f == nil {
		return 0, ydoc.ErrMissingObserver
	}
	return a.observers.Add(o), nil
}

// Detach removes an observer. Unknown ids are ignored.
func (a *Awareness) Detach(id SubscriptionID) { a.observers.Remove(id) }

func (a *Awareness) emit(ev Event) {
	if ev.empty() {
		return
	}
	a.observers.Each(func(_ SubscriptionID, o Observer) { o.OnChange(ev) })
}

func sorted(s mapset.Set[uint64]) []uint64 {
	if s.Cardinality() == 0 {
		return nil
	}
	ids := s.ToSlice()
	slices.Sort(ids)
	return ids
}
