package crdt

import "fmt"

type rootKey struct {
	name string
	kind Kind
}

// Store holds every item a replica has integrated, grouped by client, plus
// the root shared types and any received items whose dependencies are still
// missing.
type Store struct {
	clientID ClientID
	clients  map[ClientID][]*Item
	roots    map[rootKey]*Branch

	pending        []*Item
	pendingDeletes DeleteSet

	txn *Txn
}

// NewStore returns an empty store owned by the given client.
func NewStore(client ClientID) *Store {
	return &Store{
		clientID:       client,
		clients:        make(map[ClientID][]*Item),
		roots:          make(map[rootKey]*Branch),
		pendingDeletes: make(DeleteSet),
	}
}

// ClientID returns the id new local items are stamped with.
func (s *Store) ClientID() ClientID { return s.clientID }

// Root returns the root type registered under (name, kind), creating it on
// first use. Roots exist implicitly on every replica and are not replicated
// as items.
func (s *Store) Root(name string, kind Kind) *Branch {
	k := rootKey{name, kind}
	if b, ok := s.roots[k]; ok {
		return b
	}
	b := newBranch(kind, name, "")
	s.roots[k] = b
	return b
}

// HasRoot reports whether a root (name, kind) has been created.
func (s *Store) HasRoot(name string, kind Kind) bool {
	_, ok := s.roots[rootKey{name, kind}]
	return ok
}

// StateVector returns the next expected clock of every known client.
func (s *Store) StateVector() StateVector {
	sv := make(StateVector, len(s.clients))
	for c, items := range s.clients {
		sv[c] = uint64(len(items))
	}
	return sv
}

// Pending returns the number of received items waiting on missing dependencies.
func (s *Store) Pending() int { return len(s.pending) }

// Active returns the open transaction, if any.
func (s *Store) Active() *Txn { return s.txn }

// Begin opens a transaction. Only one transaction may be open at a time.
func (s *Store) Begin() *Txn {
	if s.txn != nil {
		panic("crdt: Begin called while a transaction is open")
	}
	t := &Txn{
		store:   s,
		before:  s.StateVector(),
		deleted: make(map[*Item]struct{}),
		changes: make(map[*Branch]*branchChanges),
	}
	s.txn = t
	return t
}

func (s *Store) nextClock(c ClientID) uint64 { return uint64(len(s.clients[c])) }

func (s *Store) find(id ID) *Item {
	items := s.clients[id.Client]
	if id.Clock >= uint64(len(items)) {
		return nil
	}
	return items[id.Clock]
}

func (s *Store) findRef(id *ID) *Item {
	if id == nil {
		return nil
	}
	return s.find(*id)
}

func (s *Store) known(id *ID) bool {
	return id == nil || id.Clock < s.nextClock(id.Client)
}

func (s *Store) addItem(it *Item) {
	if it.ID.Clock != s.nextClock(it.ID.Client) {
		panic(fmt.Sprintf("crdt: clock gap adding %s", it.ID))
	}
	s.clients[it.ID.Client] = append(s.clients[it.ID.Client], it)
}

// ready reports whether every item it refers to has been integrated.
func (s *Store) ready(it *Item) bool {
	return s.known(it.Origin) && s.known(it.RightOrigin) && s.known(it.Parent.Item)
}

// resolveParent finds the container a decoded item integrates into.
func (s *Store) resolveParent(ref ParentRef) (*container, error) {
	if ref.Item == nil {
		if !ref.RootKind.valid() {
			return nil, fmt.Errorf("root %q has kind %d: %w", ref.Root, ref.RootKind, ErrMalformedUpdate)
		}
		return s.Root(ref.Root, ref.RootKind).c, nil
	}
	p := s.find(*ref.Item)
	if p == nil {
		return nil, fmt.Errorf("parent %s unknown", ref.Item)
	}
	if p.branch != nil {
		return p.branch.c, nil
	}
	if p.Content.Kind != ContentString && p.Content.Kind != ContentAny {
		return nil, fmt.Errorf("parent %s cannot hold attributes: %w", ref.Item, ErrMalformedUpdate)
	}
	if p.attrs == nil {
		p.attrs = newContainer(p.Owner(), p)
	}
	return p.attrs, nil
}

// deleteSet collects every deleted item into ranges.
func (s *Store) deleteSet() DeleteSet {
	ds := make(DeleteSet)
	for c, items := range s.clients {
		for _, it := range items {
			if it.Deleted {
				ds.add(c, it.ID.Clock)
			}
		}
	}
	return ds
}

// EncodeDiff encodes every item and deletion a replica at sv is missing.
func (s *Store) EncodeDiff(sv StateVector, codec Codec) []byte {
	u := &Update{Deletes: s.deleteSet()}
	for _, c := range sortedKeys(s.clients) {
		items := s.clients[c]
		from := sv[c]
		for i := from; i < uint64(len(items)); i++ {
			u.Items = append(u.Items, items[i])
		}
	}
	return codec.EncodeUpdate(u)
}
