package ydoc

import (
	"github.com/alimasry/go-ydoc/crdt"
)

// Kind is the kind of a shared type.
type Kind = crdt.Kind

const (
	KindArray       = crdt.KindArray
	KindMap         = crdt.KindMap
	KindText        = crdt.KindText
	KindXMLElement  = crdt.KindXMLElement
	KindXMLText     = crdt.KindXMLText
	KindXMLFragment = crdt.KindXMLFragment
)

// SharedType is implemented by *Array, *Map, *Text, *XMLElement, *XMLText
// and *XMLFragment. A handle refers to document-owned storage; two handles
// for the same root name and kind observe the same content.
type SharedType interface {
	Kind() Kind
	Doc() *Doc
	Attach(Observer) (SubscriptionID, error)
	Detach(SubscriptionID)
	String() string

	branch() *crdt.Branch
	jsonValue() any
}

type shared struct {
	doc *Doc
	b   *crdt.Branch
}

// Kind returns the kind of shared type.
func (s shared) Kind() Kind { return s.b.Kind }

// Doc returns the document the type belongs to.
func (s shared) Doc() *Doc { return s.doc }
func (s shared) branch() *crdt.Branch { return s.b }

// Attach registers o to receive an Event for every commit that changes
// this shared type.
func (s shared) Attach(o Observer) (SubscriptionID, error) { return s.doc.attach(s.b, o) }

// Detach removes the observer registered under id. Unknown ids are ignored.
func (s shared) Detach(id SubscriptionID) { s.doc.detach(s.b, id) }

// handle returns the façade for b.
func (d *Doc) handle(b *crdt.Branch) SharedType {
	s := shared{doc: d, b: b}
	switch b.Kind {
	case crdt.KindArray:
		return &Array{s}
	case crdt.KindMap:
		return &Map{s}
	case crdt.KindText:
		return &Text{s}
	case crdt.KindXMLElement:
		return &XMLElement{xmlChildren{s}}
	case crdt.KindXMLText:
		return &XMLText{Text{s}}
	case crdt.KindXMLFragment:
		return &XMLFragment{xmlChildren{s}}
	}
	return nil
}

// itemValue reads the content of an item as a Value.
func (d *Doc) itemValue(it *crdt.Item) Value {
	switch it.Content.Kind {
	case crdt.ContentString:
		return String(it.Content.Str)
	case crdt.ContentType:
		return Shared(d.handle(it.Branch()))
	}
	return fromNative(it.Content.Any)
}

// check validates that tx may mutate shared types of d.
func (d *Doc) check(op string, tx *Transaction) error {
	if tx == nil {
		return argError(op, "nil transaction")
	}
	if tx.doc != d {
		return argError(op, "transaction belongs to another document")
	}
	if tx.txn.Committed() {
		return ErrTransactionCommitted
	}
	return nil
}

// insertValues validates vs, inserts them at index of b and fills any
// preliminary nested types.
func (d *Doc) insertValues(op string, tx *Transaction, b *crdt.Branch, index int, attrs Attrs, vs ...Value) error {
	for _, v := range vs {
		if err := validate(op, v); err != nil {
			return err
		}
	}
	contents := make([]crdt.Content, len(vs))
	for i, v := range vs {
		contents[i] = contentOf(v)
	}
	items, err := tx.txn.InsertWithAttrs(b, index, attrs.native(), contents...)
	if err != nil {
		return err
	}
	for i, it := range items {
		if p := vs[i].pre; p != nil {
			if err := d.fill(op, tx, it.Branch(), p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Doc) setValue(op string, tx *Transaction, b *crdt.Branch, key string, v Value) error {
	if err := validate(op, v); err != nil {
		return err
	}
	it, err := tx.txn.Set(b, key, contentOf(v))
	if err != nil {
		return err
	}
	if v.pre != nil {
		return d.fill(op, tx, it.Branch(), v.pre)
	}
	return nil
}

// fill writes the content of a preliminary type into its new branch.
func (d *Doc) fill(op string, tx *Transaction, b *crdt.Branch, p *prelim) error {
	switch p.kind {
	case crdt.KindArray:
		if len(p.seq) > 0 {
			return d.insertValues(op, tx, b, 0, nil, p.seq...)
		}
	case crdt.KindMap:
		for _, k := range sortedKeys(p.m) {
			if err := d.setValue(op, tx, b, k, p.m[k]); err != nil {
				return err
			}
		}
	case crdt.KindText:
		_, err := tx.txn.Insert(b, 0, runeContents(p.text)...)
		return err
	}
	return nil
}

func runeContents(s string) []crdt.Content {
	cs := make([]crdt.Content, 0, len(s))
	for _, r := range s {
		cs = append(cs, crdt.TextContent(r))
	}
	return cs
}
