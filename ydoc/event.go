package ydoc

import (
	"maps"

	"github.com/alimasry/go-ydoc/crdt"
	"github.com/alimasry/go-ydoc/internal/subscription"
)

// SubscriptionID identifies an attached observer. Ids are issued in
// increasing order per shared type and never reused.
type SubscriptionID = subscription.ID

// Observer receives the changes made to a shared type, once per commit.
type Observer interface {
	OnChange(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnChange(e Event) { f(e) }

// Event describes everything one transaction changed on one shared type.
// Delta covers sequence content (Array items, Text runs, XML children) and
// Keys covers map entries and XML attributes.
type Event struct {
	Target SharedType
	Delta  []DeltaOp
	Keys   map[string]KeyChange
}

// Attrs holds formatting attributes. A Null value marks a removed attribute.
type Attrs map[string]Value

// DeltaOp is a single step of a delta, relative to the content before the
// transaction. Exactly one of Retain, Delete, Insert and Text is set.
type DeltaOp struct {
	Retain int     `json:"retain,omitempty"` // keep N items, applying Attrs if set
	Delete int     `json:"delete,omitempty"` // remove N items
	Insert []Value `json:"insert,omitempty"` // insert values or embeds
	Text   string  `json:"text,omitempty"`   // insert text
	Attrs  Attrs   `json:"attributes,omitempty"`
}

// IsRetain reports whether op keeps existing items.
func (op DeltaOp) IsRetain() bool { return op.Retain > 0 }

// IsDelete reports whether op removes items.
func (op DeltaOp) IsDelete() bool { return op.Delete > 0 }

// IsInsert reports whether op adds values or text.
func (op DeltaOp) IsInsert() bool { return len(op.Insert) > 0 || op.Text != "" }

// KeyAction classifies a KeyChange.
type KeyAction uint8

const (
	Inserted KeyAction = iota + 1
	Updated
	Removed
)

func (a KeyAction) String() string {
	switch a {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// KeyChange is the effect of a transaction on one key. Old is undefined for
// inserted keys and New is undefined for removed ones.
type KeyChange struct {
	Action KeyAction
	Old    Value
	New    Value
}

// event converts the engine's report for one branch.
func (d *Doc) event(ch crdt.BranchChange) Event {
	ev := Event{Target: d.handle(ch.Branch)}
	if len(ch.Delta) > 0 {
		ops := make([]DeltaOp, 0, len(ch.Delta))
		for _, op := range ch.Delta {
			ops = append(ops, d.deltaOp(op))
		}
		ev.Delta = compact(ops)
	}
	if len(ch.Keys) > 0 {
		ev.Keys = make(map[string]KeyChange, len(ch.Keys))
		for k, kc := range ch.Keys {
			c := KeyChange{Action: KeyAction(kc.Action)}
			if kc.Old != nil {
				c.Old = d.itemValue(kc.Old)
			}
			if kc.New != nil {
				c.New = d.itemValue(kc.New)
			}
			ev.Keys[k] = c
		}
	}
	return ev
}

func (d *Doc) deltaOp(op crdt.SeqOp) DeltaOp {
	out := DeltaOp{Retain: op.Retain, Delete: op.Delete, Attrs: attrsOf(op.Attrs)}
	if it := op.Insert; it != nil {
		if it.Content.Kind == crdt.ContentString {
			out.Text = it.Content.Str
		} else {
			out.Insert = []Value{d.itemValue(it)}
		}
	}
	return out
}

func attrsOf(m map[string]any) Attrs {
	if len(m) == 0 {
		return nil
	}
	out := make(Attrs, len(m))
	for k, v := range m {
		out[k] = fromNative(v)
	}
	return out
}

func (a Attrs) native() map[string]any {
	if a == nil {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.native()
	}
	return out
}

func (a Attrs) equal(b Attrs) bool {
	return maps.EqualFunc(a, b, Value.Equal)
}

// compact merges adjacent ops of the same kind with equal attributes and
// drops a trailing plain retain.
func compact(ops []DeltaOp) []DeltaOp {
	var result []DeltaOp
	for _, op := range ops {
		if len(result) == 0 {
			result = append(result, op)
			continue
		}
		last := &result[len(result)-1]
		switch {
		case op.IsRetain() && last.IsRetain() && op.Attrs.equal(last.Attrs):
			last.Retain += op.Retain
		case op.IsDelete() && last.IsDelete():
			last.Delete += op.Delete
		case op.Text != "" && last.Text != "" && op.Attrs.equal(last.Attrs):
			last.Text += op.Text
		case len(op.Insert) > 0 && len(last.Insert) > 0 && op.Attrs.equal(last.Attrs):
			last.Insert = append(last.Insert, op.Insert...)
		default:
			result = append(result, op)
		}
	}
	if n := len(result); n > 0 && result[n-1].IsRetain() && result[n-1].Attrs == nil {
		result = result[:n-1]
	}
	return result
}

// attach registers o for changes to the shared type backed by b.
func (d *Doc) attach(b *crdt.Branch, o Observer) (SubscriptionID, error) {
	if f, ok := o.(ObserverFunc); o == nil || ok && f == nil {
		return 0, ErrMissingObserver
	}
	r, ok := d.observers[b]
	if !ok {
		r = &subscription.Registry[Observer]{}
		d.observers[b] = r
	}
	return r.Add(o), nil
}

func (d *Doc) detach(b *crdt.Branch, id SubscriptionID) {
	if r, ok := d.observers[b]; ok {
		r.Remove(id)
	}
}

func (d *Doc) dispatch(changes []crdt.BranchChange) {
	for _, ch := range changes {
		r, ok := d.observers[ch.Branch]
		if !ok || r.Len() == 0 {
			continue
		}
		ev := d.event(ch)
		if len(ev.Delta) == 0 && len(ev.Keys) == 0 {
			continue
		}
		r.Each(func(_ SubscriptionID, o Observer) { o.OnChange(ev) })
	}
}
