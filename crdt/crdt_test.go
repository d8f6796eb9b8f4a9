package crdt

import (
	"errors"
	"strings"
	"testing"

	"github.com/sanity-io/litter"
)

func runes(s string) []Content {
	var cs []Content
	for _, r := range s {
		cs = append(cs, TextContent(r))
	}
	return cs
}

func text(b *Branch) string {
	var sb strings.Builder
	for _, it := range b.Items() {
		sb.WriteString(it.Content.Str)
	}
	return sb.String()
}

// insertText inserts s into root text "t" in its own transaction and returns
// the transaction's update.
func insertText(t *testing.T, s *Store, index int, str string) []byte {
	t.Helper()
	txn := s.Begin()
	if _, err := txn.Insert(s.Root("t", KindText), index, runes(str)...); err != nil {
		t.Fatalf("insert %q at %d: %v", str, index, err)
	}
	update := txn.EncodeUpdate(V1)
	txn.Commit()
	return update
}

func apply(t *testing.T, s *Store, update []byte) []BranchChange {
	t.Helper()
	txn := s.Begin()
	if err := txn.Apply(update, V1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	return txn.Commit()
}

func TestInsertAndDelete(t *testing.T) {
	s := NewStore(1)
	insertText(t, s, 0, "hello")
	insertText(t, s, 5, " world")

	txn := s.Begin()
	if err := txn.Delete(s.Root("t", KindText), 0, 6); err != nil {
		t.Fatal(err)
	}
	txn.Commit()

	if got := text(s.Root("t", KindText)); got != "world" {
		t.Errorf("text = %q, want %q", got, "world")
	}
	if got := s.StateVector()[1]; got != 11 {
		t.Errorf("clock = %d, want 11", got)
	}
}

func TestInsertOutOfRange(t *testing.T) {
	s := NewStore(1)
	insertText(t, s, 0, "ab")

	tests := []struct {
		name string
		run  func(*Txn) error
	}{
		{"insert past end", func(txn *Txn) error {
			_, err := txn.Insert(s.Root("t", KindText), 3, TextContent('x'))
			return err
		}},
		{"negative insert", func(txn *Txn) error {
			_, err := txn.Insert(s.Root("t", KindText), -1, TextContent('x'))
			return err
		}},
		{"delete past end", func(txn *Txn) error {
			return txn.Delete(s.Root("t", KindText), 1, 2)
		}},
		{"format past end", func(txn *Txn) error {
			return txn.Format(s.Root("t", KindText), 0, 3, map[string]any{"bold": true})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := s.Begin()
			defer txn.Commit()
			if err := tt.run(txn); !errors.Is(err, ErrIndexOutOfRange) {
				t.Errorf("err = %v, want ErrIndexOutOfRange", err)
			}
		})
	}
	if got := text(s.Root("t", KindText)); got != "ab" {
		t.Errorf("text = %q after failed edits, want %q", got, "ab")
	}
}

func TestCommittedTxnRejectsEdits(t *testing.T) {
	s := NewStore(1)
	txn := s.Begin()
	txn.Commit()

	if _, err := txn.Insert(s.Root("t", KindText), 0, TextContent('x')); !errors.Is(err, ErrTxnCommitted) {
		t.Errorf("Insert err = %v, want ErrTxnCommitted", err)
	}
	if _, err := txn.Set(s.Root("m", KindMap), "k", AnyContent(1.0)); !errors.Is(err, ErrTxnCommitted) {
		t.Errorf("Set err = %v, want ErrTxnCommitted", err)
	}
	if txn.Commit() != nil {
		t.Error("second Commit reported changes")
	}
	if s.Active() != nil {
		t.Error("store still has an active transaction")
	}
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a, b := NewStore(1), NewStore(2)
	ua := insertText(t, a, 0, "a")
	ub := insertText(t, b, 0, "b")
	apply(t, a, ub)
	apply(t, b, ua)

	ta, tb := text(a.Root("t", KindText)), text(b.Root("t", KindText))
	if ta != tb {
		t.Fatalf("diverged: %q vs %q", ta, tb)
	}
	if ta != "ab" {
		t.Errorf("text = %q, want lower client first", ta)
	}
}

func TestDeliveryOrderIndependence(t *testing.T) {
	base := NewStore(9)
	seed := insertText(t, base, 0, "xy")

	var updates [][]byte
	for i, edit := range []struct {
		index int
		s     string
	}{{1, "AB"}, {1, "cd"}, {2, "E"}} {
		s := NewStore(ClientID(i + 1))
		apply(t, s, seed)
		updates = append(updates, insertText(t, s, edit.index, edit.s))
	}

	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	var want string
	for _, order := range orders {
		s := NewStore(100)
		apply(t, s, seed)
		for _, i := range order {
			apply(t, s, updates[i])
		}
		got := text(s.Root("t", KindText))
		if want == "" {
			want = got
		}
		if got != want {
			t.Errorf("order %v: text = %q, want %q", order, got, want)
		}
	}
	if len(want) != 7 {
		t.Errorf("merged text %q lost content", want)
	}
}

func TestOutOfOrderUpdates(t *testing.T) {
	a := NewStore(1)
	u1 := insertText(t, a, 0, "a")
	u2 := insertText(t, a, 1, "b")

	txn := a.Begin()
	if err := txn.Delete(a.Root("t", KindText), 0, 1); err != nil {
		t.Fatal(err)
	}
	u3 := txn.EncodeUpdate(V1)
	txn.Commit()

	b := NewStore(2)
	apply(t, b, u3)
	apply(t, b, u2)
	if b.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", b.Pending())
	}
	if got := text(b.Root("t", KindText)); got != "" {
		t.Fatalf("text = %q before dependencies arrive", got)
	}

	apply(t, b, u1)
	if b.Pending() != 0 {
		t.Errorf("pending = %d after dependencies arrived", b.Pending())
	}
	if got := text(b.Root("t", KindText)); got != "b" {
		t.Errorf("text = %q, want %q", got, "b")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	a := NewStore(1)
	insertText(t, a, 0, "hello")
	full := a.EncodeDiff(nil, V1)

	b := NewStore(2)
	apply(t, b, full)
	changes := apply(t, b, full)
	if len(changes) != 0 {
		t.Errorf("second apply reported changes: %s", litter.Sdump(changes))
	}
	if got := text(b.Root("t", KindText)); got != "hello" {
		t.Errorf("text = %q, want hello", got)
	}
}

func TestMapLastWriterWins(t *testing.T) {
	a, b := NewStore(1), NewStore(2)
	set := func(s *Store, v string) []byte {
		txn := s.Begin()
		if _, err := txn.Set(s.Root("m", KindMap), "k", AnyContent(v)); err != nil {
			t.Fatal(err)
		}
		u := txn.EncodeUpdate(V1)
		txn.Commit()
		return u
	}
	ua, ub := set(a, "from a"), set(b, "from b")
	apply(t, a, ub)
	apply(t, b, ua)

	for _, s := range []*Store{a, b} {
		it, ok := s.Root("m", KindMap).Get("k")
		if !ok {
			t.Fatalf("client %d: key missing", s.ClientID())
		}
		if it.Content.Any != "from b" {
			t.Errorf("client %d: k = %v, want higher client to win", s.ClientID(), it.Content.Any)
		}
	}
}

func TestCommitReportsSequenceDelta(t *testing.T) {
	s := NewStore(1)
	insertText(t, s, 0, "abc")

	txn := s.Begin()
	root := s.Root("t", KindText)
	if err := txn.Delete(root, 1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Insert(root, 2, TextContent('X')); err != nil {
		t.Fatal(err)
	}
	changes := txn.Commit()

	if len(changes) != 1 {
		t.Fatalf("got %d branch changes, want 1", len(changes))
	}
	d := changes[0].Delta
	if len(d) != 4 || d[0].Retain != 1 || d[1].Delete != 1 || d[2].Retain != 1 || d[3].Insert == nil {
		t.Fatalf("delta = %s", litter.Sdump(d))
	}
	if d[3].Insert.Content.Str != "X" {
		t.Errorf("inserted %q, want X", d[3].Insert.Content.Str)
	}
}

func TestCommitReportsKeyChanges(t *testing.T) {
	s := NewStore(1)
	m := s.Root("m", KindMap)

	txn := s.Begin()
	txn.Set(m, "a", AnyContent(1.0))
	txn.Set(m, "b", AnyContent(2.0))
	txn.Commit()

	txn = s.Begin()
	txn.Set(m, "a", AnyContent(10.0))
	txn.Remove(m, "b")
	txn.Set(m, "c", AnyContent(3.0))
	txn.Set(m, "tmp", AnyContent(0.0))
	txn.Remove(m, "tmp")
	changes := txn.Commit()

	if len(changes) != 1 {
		t.Fatalf("got %d branch changes, want 1", len(changes))
	}
	keys := changes[0].Keys
	tests := []struct {
		key    string
		action Action
	}{
		{"a", KeyUpdated},
		{"b", KeyRemoved},
		{"c", KeyInserted},
	}
	for _, tt := range tests {
		if got := keys[tt.key].Action; got != tt.action {
			t.Errorf("%s: action = %v, want %v", tt.key, got, tt.action)
		}
	}
	if _, ok := keys["tmp"]; ok {
		t.Error("key set and removed in one transaction was reported")
	}
	if old := keys["a"].Old.Content.Any; old != 1.0 {
		t.Errorf("a: old = %v, want 1", old)
	}
}

func TestFormatReportsRetainAttrs(t *testing.T) {
	s := NewStore(1)
	insertText(t, s, 0, "abc")
	root := s.Root("t", KindText)

	txn := s.Begin()
	if err := txn.Format(root, 1, 1, map[string]any{"bold": true}); err != nil {
		t.Fatal(err)
	}
	changes := txn.Commit()

	if len(changes) != 1 {
		t.Fatalf("got %d branch changes, want 1", len(changes))
	}
	d := changes[0].Delta
	if len(d) != 3 || d[1].Attrs["bold"] != true || d[0].Attrs != nil {
		t.Fatalf("delta = %s", litter.Sdump(d))
	}
	it, _ := root.At(1)
	if it.Attrs()["bold"] != true {
		t.Errorf("attrs = %v", it.Attrs())
	}

	txn = s.Begin()
	if err := txn.Format(root, 1, 1, map[string]any{"bold": true}); err != nil {
		t.Fatal(err)
	}
	if changes := txn.Commit(); len(changes) != 0 {
		t.Errorf("reformatting with the same value reported %d changes", len(changes))
	}
}

func TestNestedTypesReplicate(t *testing.T) {
	for _, codec := range []Codec{V1, V2} {
		a := NewStore(1)
		txn := a.Begin()
		outer, _ := txn.Set(a.Root("m", KindMap), "inner", TypeContent(KindMap, ""))
		txn.Set(outer.Branch(), "x", AnyContent([]any{1.0, "two"}))
		el, _ := txn.Insert(a.Root("x", KindXMLFragment), 0, TypeContent(KindXMLElement, "p"))
		txn.Insert(el[0].Branch(), 0, TypeContent(KindXMLText, ""))
		changes := txn.Commit()
		if len(changes) != 2 {
			t.Errorf("v%d: got %d changes, want only the two roots", codec.Version(), len(changes))
		}

		b := NewStore(2)
		txn = b.Begin()
		if err := txn.Apply(a.EncodeDiff(b.StateVector(), codec), codec); err != nil {
			t.Fatalf("v%d: apply: %v", codec.Version(), err)
		}
		txn.Commit()

		inner, ok := b.Root("m", KindMap).Get("inner")
		if !ok || inner.Branch() == nil {
			t.Fatalf("v%d: nested map missing", codec.Version())
		}
		x, ok := inner.Branch().Get("x")
		if !ok {
			t.Fatalf("v%d: nested key missing", codec.Version())
		}
		if got := litter.Sdump(x.Content.Any); got != litter.Sdump([]any{1.0, "two"}) {
			t.Errorf("v%d: x = %s", codec.Version(), got)
		}
		p := b.Root("x", KindXMLFragment).First()
		if p == nil || p.Branch().Tag != "p" || p.Branch().Len() != 1 {
			t.Errorf("v%d: xml element not replicated", codec.Version())
		}
	}
}

func TestDeletingTypeDeletesChildren(t *testing.T) {
	s := NewStore(1)
	txn := s.Begin()
	items, _ := txn.Insert(s.Root("a", KindArray), 0, TypeContent(KindArray, ""))
	txn.Insert(items[0].Branch(), 0, AnyContent("child"))
	txn.Commit()

	child := items[0].Branch().First()
	txn = s.Begin()
	txn.Delete(s.Root("a", KindArray), 0, 1)
	changes := txn.Commit()

	if !child.Deleted {
		t.Error("child of deleted array is still live")
	}
	if !items[0].Branch().Deleted() {
		t.Error("branch not reported deleted")
	}
	if len(changes) != 1 || changes[0].Branch != s.Root("a", KindArray) {
		t.Errorf("changes = %s", litter.Sdump(changes))
	}
}

func TestDecodeErrors(t *testing.T) {
	a := NewStore(1)
	insertText(t, a, 0, "h")
	v1 := a.EncodeDiff(nil, V1)
	v2 := a.EncodeDiff(nil, V2)

	tests := []struct {
		name  string
		codec Codec
		input []byte
		want  error
	}{
		{"v1 read as v2", V2, v1, ErrVersionMismatch},
		{"v2 read as v1", V1, v2, ErrMalformedUpdate},
		{"truncated v1", V1, v1[:len(v1)-2], ErrMalformedUpdate},
		{"trailing bytes v1", V1, append(append([]byte{}, v1...), 7), ErrMalformedUpdate},
		{"empty v2", V2, nil, ErrVersionMismatch},
		{"empty v1", V1, nil, ErrMalformedUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.DecodeUpdate(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyMalformedLeavesStoreUntouched(t *testing.T) {
	a := NewStore(1)
	insertText(t, a, 0, "hello")
	full := a.EncodeDiff(nil, V1)

	b := NewStore(2)
	txn := b.Begin()
	err := txn.Apply(full[:len(full)-3], V1)
	txn.Commit()
	if !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if len(b.StateVector()) != 0 || b.Pending() != 0 {
		t.Errorf("malformed update was partially applied")
	}
}

func TestApplyRejectsNeighbourInOtherParent(t *testing.T) {
	first := ID{Client: 5, Clock: 0}
	rootA := ParentRef{Root: "a", RootKind: KindArray}
	bad := &Update{
		Items: []*Item{
			{ID: first, Parent: rootA, Content: AnyContent(1.0)},
			{ID: ID{Client: 5, Clock: 1}, Origin: &first, Parent: ParentRef{Root: "b", RootKind: KindArray}, Content: AnyContent(2.0)},
		},
		Deletes: make(DeleteSet),
	}

	s := NewStore(1)
	txn := s.Begin()
	err := txn.Apply(V1.EncodeUpdate(bad), V1)
	txn.Commit()
	if !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if len(s.StateVector()) != 0 || s.Pending() != 0 || s.Root("a", KindArray).Len() != 0 {
		t.Fatalf("rejected update was partially applied: sv=%v pending=%d", s.StateVector(), s.Pending())
	}

	// The client's clocks are not burned: a consistent update still applies.
	good := &Update{
		Items: []*Item{
			{ID: first, Parent: rootA, Content: AnyContent(1.0)},
			{ID: ID{Client: 5, Clock: 1}, Origin: &first, Parent: rootA, Content: AnyContent(2.0)},
		},
		Deletes: make(DeleteSet),
	}
	apply(t, s, V1.EncodeUpdate(good))
	if n := s.Root("a", KindArray).Len(); n != 2 {
		t.Errorf("len = %d, want 2", n)
	}
}

func TestApplyRejectsConflictWithQueuedItem(t *testing.T) {
	queuedID := ID{Client: 7, Clock: 1}
	origin := ID{Client: 7, Clock: 0}
	s := NewStore(1)

	// 7@1 waits for 7@0.
	apply(t, s, V1.EncodeUpdate(&Update{
		Items:   []*Item{{ID: queuedID, Origin: &origin, Parent: ParentRef{Root: "a", RootKind: KindArray}, Content: AnyContent("x")}},
		Deletes: make(DeleteSet),
	}))
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", s.Pending())
	}

	txn := s.Begin()
	err := txn.Apply(V1.EncodeUpdate(&Update{
		Items:   []*Item{{ID: origin, Parent: ParentRef{Root: "b", RootKind: KindArray}, Content: AnyContent("y")}},
		Deletes: make(DeleteSet),
	}), V1)
	txn.Commit()
	if !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if len(s.StateVector()) != 0 || s.Root("b", KindArray).Len() != 0 {
		t.Errorf("rejected update was applied: sv=%v", s.StateVector())
	}
}

func TestReplacementCharacterReplicates(t *testing.T) {
	a := NewStore(1)
	insertText(t, a, 0, "a\uFFFDb")
	b := NewStore(2)
	for _, codec := range []Codec{V1, V2} {
		txn := b.Begin()
		if err := txn.Apply(a.EncodeDiff(nil, codec), codec); err != nil {
			t.Fatalf("%T: %v", codec, err)
		}
		txn.Commit()
	}
	if got := text(b.Root("t", KindText)); got != "a\uFFFDb" {
		t.Errorf("text = %q, want %q", got, "a\uFFFDb")
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	u := &Update{
		Items:   []*Item{{ID: ID{Client: 3}, Parent: ParentRef{Root: "t", RootKind: KindText}, Content: Content{Kind: ContentString, Str: "\xff"}}},
		Deletes: make(DeleteSet),
	}
	if _, err := V1.DecodeUpdate(V1.EncodeUpdate(u)); !errors.Is(err, ErrMalformedUpdate) {
		t.Errorf("err = %v, want ErrMalformedUpdate", err)
	}
}

func TestStateVectorEncoding(t *testing.T) {
	if got := EncodeStateVector(nil); len(got) != 1 || got[0] != 0 {
		t.Errorf("empty state vector = %v, want [0]", got)
	}
	sv := StateVector{1: 5, 300: 1 << 20}
	got, err := DecodeStateVector(EncodeStateVector(sv))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != 5 || got[300] != 1<<20 {
		t.Errorf("decoded %v, want %v", got, sv)
	}
	if _, err := DecodeStateVector([]byte{2, 1}); !errors.Is(err, ErrMalformedStateVector) {
		t.Errorf("truncated: err = %v", err)
	}
}

func TestEncodeDiffSkipsKnownItems(t *testing.T) {
	a := NewStore(1)
	insertText(t, a, 0, "ab")
	b := NewStore(2)
	apply(t, b, a.EncodeDiff(b.StateVector(), V1))
	insertText(t, a, 2, "c")

	u, err := V1.DecodeUpdate(a.EncodeDiff(b.StateVector(), V1))
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Items) != 1 || u.Items[0].Content.Str != "c" {
		t.Errorf("diff items = %s", litter.Sdump(u.Items))
	}
}
