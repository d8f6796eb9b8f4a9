// Package ydoc is a replicated document: a namespace of shared types that
// independent replicas edit locally and reconcile by exchanging updates.
package ydoc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/alimasry/go-ydoc/crdt"
	"github.com/alimasry/go-ydoc/internal/subscription"
)

// ZeroState is the state vector of an empty replica. Diff(ZeroState)
// returns the whole document.
var ZeroState = []byte{0}

// Doc owns the root shared types of one replica and its current transaction.
// A Doc is not safe for concurrent use.
type Doc struct {
	store   *crdt.Store
	codec   crdt.Codec
	log     logr.Logger
	metrics *metrics

	current         *Transaction
	observers       map[*crdt.Branch]*subscription.Registry[Observer]
	updateObservers subscription.Registry[func([]byte)]
}

type options struct {
	clientID      uint64
	hasClientID   bool
	logger        logr.Logger
	codec         crdt.Codec
	meterProvider metric.MeterProvider
}

// Option configures a Doc.
type Option func(*options)

// WithClientID fixes the replica's client id instead of drawing a random one.
func WithClientID(id uint64) Option {
	return func(o *options) {
		o.clientID = id
		o.hasClientID = true
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEncoding selects the update codec. Replicas exchanging updates must
// agree on it. The default is crdt.V1.
func WithEncoding(c crdt.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMeterProvider sets the provider for the document's counters. The
// default is the global provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = p }
}

// New creates an empty document.
func New(opts ...Option) *Doc {
	o := options{logger: logr.Discard(), codec: crdt.V1}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasClientID {
		o.clientID = randomClientID()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	d := &Doc{
		store:     crdt.NewStore(crdt.ClientID(o.clientID)),
		codec:     o.codec,
		log:       o.logger.WithValues("client", o.clientID),
		observers: make(map[*crdt.Branch]*subscription.Registry[Observer]),
	}
	d.metrics = newMetrics(o.meterProvider, d.log)
	return d
}

// randomClientID draws a 32-bit id from a random UUID.
func randomClientID() uint64 {
	u := uuid.New()
	return uint64(binary.BigEndian.Uint32(u[:4]))
}

// ClientID returns the id stamped on this replica's edits.
func (d *Doc) ClientID() uint64 { return uint64(d.store.ClientID()) }

// Codec returns the update codec in use.
func (d *Doc) Codec() crdt.Codec { return d.codec }

// CurrentTransaction returns the open transaction, beginning one if needed.
func (d *Doc) CurrentTransaction() *Transaction {
	if d.current == nil || d.current.txn.Committed() {
		d.current = &Transaction{doc: d, txn: d.store.Begin()}
	}
	return d.current
}

// Transact commits any open transaction, runs fn in a fresh one and commits
// it however fn exits, then opens a new current transaction. Edits made
// before fn returns an error (or panics) stay committed.
func (d *Doc) Transact(fn func(tx *Transaction) error) error {
	d.Commit()
	tx := d.CurrentTransaction()
	defer func() {
		tx.Commit()
		d.CurrentTransaction()
	}()
	return fn(tx)
}

// Commit commits the current transaction, if one is open. The next access
// opens a new one.
func (d *Doc) Commit() {
	if d.current != nil {
		d.current.Commit()
	}
}

func (d *Doc) commit(tx *Transaction) {
	if tx.txn.Committed() {
		return
	}
	changes := tx.txn.Commit()
	if d.current == tx {
		d.current = nil
	}
	changed := tx.txn.Changed()
	d.metrics.committed(changed)
	d.dispatch(changes)
	if changed && d.updateObservers.Len() > 0 {
		update := tx.txn.EncodeUpdate(d.codec)
		d.updateObservers.Each(func(_ SubscriptionID, fn func([]byte)) { fn(update) })
	}
}

// OnUpdate registers fn to receive the incremental update of every commit
// that changed the document, encoded with the document's codec.
func (d *Doc) OnUpdate(fn func(update []byte)) (SubscriptionID, error) {
	if fn == nil {
		return 0, ErrMissingObserver
	}
	return d.updateObservers.Add(fn), nil
}

// OffUpdate removes an update observer.
func (d *Doc) OffUpdate(id SubscriptionID) { d.updateObservers.Remove(id) }

// State returns the encoded state vector of this replica.
func (d *Doc) State() []byte {
	return crdt.EncodeStateVector(d.store.StateVector())
}

// Diff returns the update a replica with the given encoded state vector
// needs to catch up with this one.
func (d *Doc) Diff(stateVector []byte) ([]byte, error) {
	sv, err := crdt.DecodeStateVector(stateVector)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return d.store.EncodeDiff(sv, d.codec), nil
}

// FullDiff returns the whole document as an update.
func (d *Doc) FullDiff() []byte {
	return d.store.EncodeDiff(nil, d.codec)
}

// Sync applies an update produced by a peer in the current transaction.
// Observers see its effects when that transaction commits. Malformed bytes
// are rejected before anything is applied.
func (d *Doc) Sync(update []byte) error {
	tx := d.CurrentTransaction()
	if err := tx.txn.Apply(update, d.codec); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	d.metrics.applied(len(update))
	d.log.V(1).Info("applied update", "bytes", len(update), "pending", d.store.Pending())
	return nil
}

// Restore applies a full snapshot produced by FullDiff. It behaves exactly
// like Sync.
func (d *Doc) Restore(update []byte) error {
	return d.Sync(update)
}

// GetArray returns the root array registered under name.
func (d *Doc) GetArray(name string) *Array {
	return &Array{shared{d, d.store.Root(name, crdt.KindArray)}}
}

// GetMap returns the root map registered under name.
func (d *Doc) GetMap(name string) *Map {
	return &Map{shared{d, d.store.Root(name, crdt.KindMap)}}
}

// GetText returns the root text name, pushing any initial strings in the
// current transaction.
func (d *Doc) GetText(name string, initial ...string) *Text {
	t := &Text{shared{d, d.store.Root(name, crdt.KindText)}}
	for _, s := range initial {
		if err := t.Push(d.CurrentTransaction(), s); err != nil {
			d.log.Error(err, "push initial text", "root", name)
		}
	}
	return t
}

// GetXMLElement returns the root XML element registered under name.
func (d *Doc) GetXMLElement(name string) *XMLElement {
	return &XMLElement{xmlChildren{shared{d, d.store.Root(name, crdt.KindXMLElement)}}}
}

// GetXMLText returns the root XML text registered under name.
func (d *Doc) GetXMLText(name string) *XMLText {
	return &XMLText{Text{shared{d, d.store.Root(name, crdt.KindXMLText)}}}
}

// GetXMLFragment returns the root XML fragment registered under name.
func (d *Doc) GetXMLFragment(name string) *XMLFragment {
	return &XMLFragment{xmlChildren{shared{d, d.store.Root(name, crdt.KindXMLFragment)}}}
}

// GetOrCreate returns the root (name, kind) and adds initial content to it
// in the current transaction: Array appends the values, Map merges Mapping
// values key by key, Text and XMLText push String values. Existing content
// is kept.
func (d *Doc) GetOrCreate(name string, kind Kind, initial ...Value) (SharedType, error) {
	const op = "get or create"
	if kind < KindArray || kind > KindXMLFragment {
		return nil, argError(op, "unknown kind %d", kind)
	}
	t := d.handle(d.store.Root(name, kind))
	if len(initial) == 0 {
		return t, nil
	}
	tx := d.CurrentTransaction()
	switch t := t.(type) {
	case *Array:
		return t, t.Push(tx, initial...)
	case *Map:
		for _, v := range initial {
			if _, ok := v.AsMapping(); !ok {
				return nil, argError(op, "map content must be a mapping, got %s", v.Kind())
			}
		}
		for _, v := range initial {
			m, _ := v.AsMapping()
			for _, k := range sortedKeys(m) {
				if err := t.Set(tx, k, m[k]); err != nil {
					return nil, err
				}
			}
		}
		return t, nil
	case *Text:
		return t, pushStrings(op, tx, t, initial)
	case *XMLText:
		return t, pushStrings(op, tx, &t.Text, initial)
	}
	return nil, argError(op, "%s takes no initial content", kind)
}

func pushStrings(op string, tx *Transaction, t *Text, vs []Value) error {
	for _, v := range vs {
		if _, ok := v.AsString(); !ok {
			return argError(op, "text content must be a string, got %s", v.Kind())
		}
	}
	for _, v := range vs {
		s, _ := v.AsString()
		if err := t.Push(tx, s); err != nil {
			return err
		}
	}
	return nil
}
