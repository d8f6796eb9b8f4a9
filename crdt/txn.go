package crdt

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Txn is a mutation scope over a Store. Every local edit and every applied
// update is recorded against the transaction so that Commit can describe,
// per touched branch, what changed relative to the state at Begin.
type Txn struct {
	store     *Store
	before    StateVector
	deleted   map[*Item]struct{}
	touched   []*Branch
	changes   map[*Branch]*branchChanges
	committed bool
}

type branchChanges struct {
	seq       bool
	keys      mapset.Set[string]
	old       map[string]*Item
	formatted map[*Item]mapset.Set[string]
}

// BranchChange describes the edits made to one branch within a transaction.
type BranchChange struct {
	Branch *Branch
	Delta  []SeqOp
	Keys   map[string]KeyChange
}

// SeqOp is one step of a per-item edit script over a sequence. Exactly one
// of Retain, Delete and Insert is set. Attrs carries the attributes of an
// inserted item or the attributes changed on a retained one (nil = removed).
type SeqOp struct {
	Retain int
	Delete int
	Insert *Item
	Attrs  map[string]any
}

// Action classifies a key change.
type Action uint8

const (
	KeyInserted Action = iota + 1
	KeyUpdated
	KeyRemoved
)

func (a Action) String() string {
	switch a {
	case KeyInserted:
		return "inserted"
	case KeyUpdated:
		return "updated"
	case KeyRemoved:
		return "removed"
	}
	return "unknown"
}

// KeyChange is the effect of a transaction on one map key. Old is nil for
// inserted keys and New is nil for removed ones.
type KeyChange struct {
	Action Action
	Old    *Item
	New    *Item
}

// Store returns the store t mutates.
func (t *Txn) Store() *Store { return t.store }

// Committed reports whether Commit has been called.
func (t *Txn) Committed() bool { return t.committed }

// Before returns the state vector at the start of the transaction.
func (t *Txn) Before() StateVector { return t.before }

// Insert places one item per content at index of b's sequence.
func (t *Txn) Insert(b *Branch, index int, contents ...Content) ([]*Item, error) {
	return t.InsertWithAttrs(b, index, nil, contents...)
}

// InsertWithAttrs is Insert with formatting attributes set on every new item.
func (t *Txn) InsertWithAttrs(b *Branch, index int, attrs map[string]any, contents ...Content) ([]*Item, error) {
	if t.committed {
		return nil, ErrTxnCommitted
	}
	left, err := b.leftOf(index)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(contents))
	for _, c := range contents {
		right := b.c.start
		if left != nil {
			right = left.right
		}
		it := t.create(b.c, left, right, "", false, c)
		for _, k := range sortedKeys(attrs) {
			if attrs[k] != nil {
				t.setAttr(it, k, attrs[k])
			}
		}
		items = append(items, it)
		left = it
	}
	return items, nil
}

// Delete removes n visible items of b's sequence starting at index.
func (t *Txn) Delete(b *Branch, index, n int) error {
	if t.committed {
		return ErrTxnCommitted
	}
	items, err := t.span(b, index, n)
	if err != nil {
		return err
	}
	for _, it := range items {
		t.delete(it)
	}
	return nil
}

// Format sets attrs on n visible items of b's sequence starting at index.
// A nil value removes the attribute.
func (t *Txn) Format(b *Branch, index, n int, attrs map[string]any) error {
	if t.committed {
		return ErrTxnCommitted
	}
	items, err := t.span(b, index, n)
	if err != nil {
		return err
	}
	keys := sortedKeys(attrs)
	for _, it := range items {
		for _, k := range keys {
			if !reflect.DeepEqual(it.attr(k), attrs[k]) {
				t.setAttr(it, k, attrs[k])
			}
		}
	}
	return nil
}

// Set stores c under key in b's map.
func (t *Txn) Set(b *Branch, key string, c Content) (*Item, error) {
	if t.committed {
		return nil, ErrTxnCommitted
	}
	return t.setEntry(b.c, key, c), nil
}

// Remove deletes the current value under key and returns it.
func (t *Txn) Remove(b *Branch, key string) (*Item, bool, error) {
	if t.committed {
		return nil, false, ErrTxnCommitted
	}
	it, ok := b.Get(key)
	if !ok {
		return nil, false, nil
	}
	t.delete(it)
	return it, true, nil
}

// Apply decodes update with codec and integrates it. Decoding completes
// before anything is integrated. Items and deletions whose dependencies are
// missing stay pending in the store until a later update supplies them.
func (t *Txn) Apply(update []byte, codec Codec) error {
	if t.committed {
		return ErrTxnCommitted
	}
	u, err := codec.DecodeUpdate(update)
	if err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	s := t.store
	if err := s.checkBatch(u.Items); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	s.pending = append(s.pending, u.Items...)
	s.pendingDeletes.merge(u.Deletes)
	return t.flushPending()
}

// parentKey identifies a container independently of whether it exists yet.
type parentKey struct {
	root   string
	kind   Kind
	item   ID
	nested bool
}

func keyOf(p ParentRef) parentKey {
	if p.Item != nil {
		return parentKey{item: *p.Item, nested: true}
	}
	return parentKey{root: p.Root, kind: p.RootKind}
}

// checkBatch verifies, before anything is integrated, that every queued or
// incoming item lives in the same list as the neighbours it names, whether
// those are already stored, queued, or part of items.
func (s *Store) checkBatch(items []*Item) error {
	var fresh []*Item
	queued := make(map[ID]*Item, len(s.pending)+len(items))
	for _, it := range slices.Concat(s.pending, items) {
		if s.find(it.ID) != nil {
			continue
		}
		if _, dup := queued[it.ID]; dup {
			continue
		}
		queued[it.ID] = it
		fresh = append(fresh, it)
	}
	lookup := func(id *ID) *Item {
		if id == nil {
			return nil
		}
		if n := s.find(*id); n != nil {
			return n
		}
		return queued[*id]
	}
	for _, it := range fresh {
		for _, ref := range []*ID{it.Origin, it.RightOrigin} {
			n := lookup(ref)
			if n == nil {
				continue
			}
			if keyOf(n.Parent) != keyOf(it.Parent) || n.Keyed != it.Keyed || n.Key != it.Key {
				return fmt.Errorf("item %s: neighbour %s outside parent %s: %w", it.ID, n.ID, it.Parent, ErrMalformedUpdate)
			}
		}
	}
	return nil
}

// EncodeUpdate encodes the items added and deleted during t.
func (t *Txn) EncodeUpdate(codec Codec) []byte {
	u := &Update{Deletes: make(DeleteSet)}
	s := t.store
	for _, c := range sortedKeys(s.clients) {
		items := s.clients[c]
		for i := t.before[c]; i < uint64(len(items)); i++ {
			u.Items = append(u.Items, items[i])
		}
	}
	deleted := make([]*Item, 0, len(t.deleted))
	for it := range t.deleted {
		deleted = append(deleted, it)
	}
	slices.SortFunc(deleted, func(a, b *Item) int { return compareIDs(a.ID, b.ID) })
	for _, it := range deleted {
		u.Deletes.add(it.ID.Client, it.ID.Clock)
	}
	return codec.EncodeUpdate(u)
}

// Changed reports whether t added or deleted anything.
func (t *Txn) Changed() bool {
	if len(t.deleted) > 0 {
		return true
	}
	for c, items := range t.store.clients {
		if uint64(len(items)) > t.before[c] {
			return true
		}
	}
	return false
}

// Commit closes the transaction and reports the changes of every touched
// branch in first-touched order. Branches created or removed within the
// transaction are not reported. Calling Commit again returns nil.
func (t *Txn) Commit() []BranchChange {
	if t.committed {
		return nil
	}
	t.committed = true
	if t.store.txn == t {
		t.store.txn = nil
	}
	var out []BranchChange
	for _, b := range t.touched {
		if (b.item != nil && t.isNew(b.item)) || b.Deleted() {
			continue
		}
		ch := t.changes[b]
		bc := BranchChange{Branch: b}
		if ch.seq || len(ch.formatted) > 0 {
			bc.Delta = t.delta(b, ch)
		}
		if ch.keys.Cardinality() > 0 {
			bc.Keys = t.keyChanges(b, ch)
		}
		if len(bc.Delta) == 0 && len(bc.Keys) == 0 {
			continue
		}
		out = append(out, bc)
	}
	return out
}

func (t *Txn) isNew(it *Item) bool { return it.ID.Clock >= t.before[it.ID.Client] }

func (t *Txn) delta(b *Branch, ch *branchChanges) []SeqOp {
	var ops []SeqOp
	hasChange := false
	for it := b.c.start; it != nil; it = it.right {
		_, deletedNow := t.deleted[it]
		switch {
		case t.isNew(it):
			if !it.Deleted {
				ops = append(ops, SeqOp{Insert: it, Attrs: it.Attrs()})
				hasChange = true
			}
		case deletedNow:
			ops = append(ops, SeqOp{Delete: 1})
			hasChange = true
		case it.Deleted:
		default:
			op := SeqOp{Retain: 1}
			if keys, ok := ch.formatted[it]; ok {
				op.Attrs = make(map[string]any, keys.Cardinality())
				for _, k := range keys.ToSlice() {
					op.Attrs[k] = it.attr(k)
				}
				hasChange = true
			}
			ops = append(ops, op)
		}
	}
	if !hasChange {
		return nil
	}
	return ops
}

func (t *Txn) keyChanges(b *Branch, ch *branchChanges) map[string]KeyChange {
	out := make(map[string]KeyChange)
	for _, k := range ch.keys.ToSlice() {
		old := ch.old[k]
		cur, _ := b.Get(k)
		switch {
		case old == nil && cur != nil:
			out[k] = KeyChange{Action: KeyInserted, New: cur}
		case old != nil && cur == nil:
			out[k] = KeyChange{Action: KeyRemoved, Old: old}
		case old != nil && cur != old:
			out[k] = KeyChange{Action: KeyUpdated, Old: old, New: cur}
		}
	}
	return out
}

func (t *Txn) span(b *Branch, index, n int) ([]*Item, error) {
	if index < 0 || n < 0 {
		return nil, fmt.Errorf("span %d+%d: %w", index, n, ErrIndexOutOfRange)
	}
	items := make([]*Item, 0, n)
	it, ok := b.At(index)
	for ; ok && it != nil && len(items) < n; it = it.Next() {
		items = append(items, it)
	}
	if len(items) < n {
		return nil, fmt.Errorf("span %d+%d of %d: %w", index, n, b.Len(), ErrIndexOutOfRange)
	}
	return items, nil
}

func (t *Txn) setEntry(c *container, key string, content Content) *Item {
	return t.create(c, c.entries[key], nil, key, true, content)
}

func (t *Txn) setAttr(it *Item, key string, v any) {
	if it.attrs == nil {
		it.attrs = newContainer(it.Owner(), it)
	}
	t.setEntry(it.attrs, key, AnyContent(v))
}

// create stamps a new local item and integrates it between left and right.
func (t *Txn) create(c *container, left, right *Item, key string, keyed bool, content Content) *Item {
	s := t.store
	it := &Item{
		ID:      ID{Client: s.clientID, Clock: s.nextClock(s.clientID)},
		Parent:  c.ref(),
		Key:     key,
		Keyed:   keyed,
		Content: content,
	}
	if left != nil {
		id := left.ID
		it.Origin = &id
	}
	if right != nil {
		id := right.ID
		it.RightOrigin = &id
	}
	t.integrate(it, c)
	return it
}

// integrate links it into c following the YATA ordering rules: among
// concurrent inserts at the same position, items are ordered by their
// origins and then by client id, so every replica arrives at the same list.
func (t *Txn) integrate(it *Item, c *container) {
	s := t.store
	it.parent = c
	left := s.findRef(it.Origin)
	var right *Item
	if !it.Keyed {
		right = s.findRef(it.RightOrigin)
	}
	if it.Keyed && c.item == nil {
		t.recordOld(c.owner, it.Key)
	}

	if (left == nil && (right == nil || right.left != nil)) || (left != nil && left.right != right) {
		o := c.first(it)
		if left != nil {
			o = left.right
		}
		conflicting := mapset.NewThreadUnsafeSet[*Item]()
		before := mapset.NewThreadUnsafeSet[*Item]()
		for o != nil && o != right {
			before.Add(o)
			conflicting.Add(o)
			if sameID(it.Origin, o.Origin) {
				if o.ID.Client < it.ID.Client {
					left = o
					conflicting.Clear()
				} else if sameID(it.RightOrigin, o.RightOrigin) {
					break
				}
			} else if oo := s.findRef(o.Origin); oo != nil && before.Contains(oo) {
				if !conflicting.Contains(oo) {
					left = o
					conflicting.Clear()
				}
			} else {
				break
			}
			o = o.right
		}
	}

	it.left = left
	if left != nil {
		it.right = left.right
		left.right = it
	} else {
		it.right = c.first(it)
		if !it.Keyed {
			c.start = it
		}
	}
	if it.right != nil {
		it.right.left = it
	} else if it.Keyed {
		c.entries[it.Key] = it
	}

	s.addItem(it)
	if it.Content.Kind == ContentType {
		it.branch = newBranch(it.Content.Type, "", it.Content.Tag)
		it.branch.item = it
	}
	t.recordChange(it)

	switch {
	case c.deleted():
		t.delete(it)
	case it.Keyed && it.right != nil:
		t.delete(it)
	case it.Keyed && it.left != nil:
		t.delete(it.left)
	}
}

func (t *Txn) delete(it *Item) {
	if it.Deleted {
		return
	}
	c := it.parent
	if it.Keyed && c.item == nil {
		t.recordOld(c.owner, it.Key)
	}
	it.Deleted = true
	t.deleted[it] = struct{}{}
	t.recordChange(it)
	if b := it.branch; b != nil {
		for x := b.c.start; x != nil; x = x.right {
			t.delete(x)
		}
		for _, tail := range b.c.entries {
			t.delete(tail)
		}
	}
}

func (t *Txn) touch(b *Branch) *branchChanges {
	ch, ok := t.changes[b]
	if !ok {
		ch = &branchChanges{
			keys:      mapset.NewThreadUnsafeSet[string](),
			old:       make(map[string]*Item),
			formatted: make(map[*Item]mapset.Set[string]),
		}
		t.changes[b] = ch
		t.touched = append(t.touched, b)
	}
	return ch
}

// recordOld remembers the value key had when the transaction first touched it.
func (t *Txn) recordOld(b *Branch, key string) {
	ch := t.touch(b)
	if _, ok := ch.old[key]; ok {
		return
	}
	cur, _ := b.Get(key)
	ch.old[key] = cur
}

func (t *Txn) recordChange(it *Item) {
	c := it.parent
	ch := t.touch(c.owner)
	switch {
	case c.item != nil:
		keys, ok := ch.formatted[c.item]
		if !ok {
			keys = mapset.NewThreadUnsafeSet[string]()
			ch.formatted[c.item] = keys
		}
		keys.Add(it.Key)
	case it.Keyed:
		ch.keys.Add(it.Key)
	default:
		ch.seq = true
	}
}

func (t *Txn) flushPending() error {
	s := t.store
	var errs []error
	for progress := true; progress && len(s.pending) > 0; {
		progress = false
		slices.SortStableFunc(s.pending, func(a, b *Item) int { return compareIDs(a.ID, b.ID) })
		rest := s.pending[:0]
		for _, it := range s.pending {
			next := s.nextClock(it.ID.Client)
			switch {
			case it.ID.Clock < next:
				// already integrated
			case it.ID.Clock > next || !s.ready(it):
				rest = append(rest, it)
			default:
				c, err := s.resolveParent(it.Parent)
				if err == nil {
					err = s.checkLinks(it, c)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("integrate %s: %w", it.ID, err))
					continue
				}
				t.integrate(it, c)
				progress = true
			}
		}
		clear(s.pending[len(rest):])
		s.pending = rest
	}

	remaining := make(DeleteSet)
	for c, rs := range s.pendingDeletes {
		next := s.nextClock(c)
		for _, r := range rs {
			end := r.Clock + r.Len
			for clock := r.Clock; clock < min(end, next); clock++ {
				t.delete(s.find(ID{Client: c, Clock: clock}))
			}
			if end > next {
				start := max(r.Clock, next)
				remaining[c] = append(remaining[c], Range{Clock: start, Len: end - start})
			}
		}
	}
	s.pendingDeletes = remaining
	return errors.Join(errs...)
}

// checkLinks rejects decoded items whose neighbours live in another list.
func (s *Store) checkLinks(it *Item, c *container) error {
	for _, ref := range []*ID{it.Origin, it.RightOrigin} {
		n := s.findRef(ref)
		if n == nil {
			continue
		}
		if n.parent != c || n.Keyed != it.Keyed || n.Key != it.Key {
			return fmt.Errorf("neighbour %s outside parent %s: %w", n.ID, it.Parent, ErrMalformedUpdate)
		}
	}
	return nil
}

func compareIDs(a, b ID) int {
	if c := cmp.Compare(a.Client, b.Client); c != 0 {
		return c
	}
	return cmp.Compare(a.Clock, b.Clock)
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
