package ydoc

import (
	"strings"

	"github.com/alimasry/go-ydoc/crdt"
)

// undefinedTag is the tag of every root element.
const undefinedTag = "UNDEFINED"

// XMLNode is a child of an XML element or fragment: *XMLElement or *XMLText.
type XMLNode interface {
	SharedType
	xmlNode()
}

func (*XMLElement) xmlNode() {}
func (*XMLText) xmlNode() {}

// XMLFragment is an untagged container of XML nodes.
type XMLFragment struct {
	xmlChildren
}

func (f *XMLFragment) String() string { return f.childrenString() }

func (f *XMLFragment) jsonValue() any { return f.String() }

// XMLElement is a tagged XML node with attributes and children.
type XMLElement struct {
	xmlChildren
}

// Tag returns the element's tag. A root element has no tag of its own and
// reports UNDEFINED.
func (e *XMLElement) Tag() string {
	if e.b.Item() == nil {
		return undefinedTag
	}
	return e.b.Tag
}

// GetAttribute returns the value of attribute name.
func (e *XMLElement) GetAttribute(name string) (string, bool) { return getAttribute(e.shared, name) }

// Attributes returns a copy of all attributes.
func (e *XMLElement) Attributes() map[string]string { return attributes(e.shared) }

// SetAttribute sets attribute name to value.
func (e *XMLElement) SetAttribute(tx *Transaction, name, value string) error {
	return setAttribute(e.shared, tx, name, value)
}

// RemoveAttribute deletes attribute name, if present.
func (e *XMLElement) RemoveAttribute(tx *Transaction, name string) error {
	return removeAttribute(e.shared, tx, name)
}

// Parent returns the element or fragment containing e, or nil for a root.
func (e *XMLElement) Parent() SharedType { return parent(e.shared) }

// NextSibling returns the node after e in its parent, or nil.
func (e *XMLElement) NextSibling() XMLNode { return sibling(e.shared, (*crdt.Item).Next) }

// PrevSibling returns the node before e in its parent, or nil.
func (e *XMLElement) PrevSibling() XMLNode { return sibling(e.shared, (*crdt.Item).Prev) }

// String renders e and its subtree as <tag k="v">children</tag>, with
// attributes in key order.
func (e *XMLElement) String() string {
	var sb strings.Builder
	tag := e.Tag()
	sb.WriteByte('<')
	sb.WriteString(tag)
	attrs := e.Attributes()
	for _, k := range sortedKeys(attrs) {
		sb.WriteString(" " + k + `="` + attrs[k] + `"`)
	}
	sb.WriteByte('>')
	sb.WriteString(e.childrenString())
	sb.WriteString("</" + tag + ">")
	return sb.String()
}

func (e *XMLElement) jsonValue() any { return e.String() }

// XMLText is Text that lives in an XML tree and carries attributes.
type XMLText struct {
	Text
}

// GetAttribute returns the value of attribute name.
func (t *XMLText) GetAttribute(name string) (string, bool) { return getAttribute(t.shared, name) }

// Attributes returns a copy of all attributes.
func (t *XMLText) Attributes() map[string]string { return attributes(t.shared) }

// SetAttribute sets attribute name to value.
func (t *XMLText) SetAttribute(tx *Transaction, name, value string) error {
	return setAttribute(t.shared, tx, name, value)
}

// RemoveAttribute deletes attribute name, if present.
func (t *XMLText) RemoveAttribute(tx *Transaction, name string) error {
	return removeAttribute(t.shared, tx, name)
}

// Parent returns the element or fragment containing t, or nil for a root.
func (t *XMLText) Parent() SharedType { return parent(t.shared) }

// NextSibling returns the node after t in its parent, or nil.
func (t *XMLText) NextSibling() XMLNode { return sibling(t.shared, (*crdt.Item).Next) }

// PrevSibling returns the node before t in its parent, or nil.
func (t *XMLText) PrevSibling() XMLNode { return sibling(t.shared, (*crdt.Item).Prev) }

// String renders the text with every formatted run wrapped in one tag per
// attribute, e.g. <bold>hi</bold>.
func (t *XMLText) String() string {
	var sb strings.Builder
	for _, c := range t.Diff() {
		keys := sortedKeys(c.Attrs)
		for _, k := range keys {
			sb.WriteString("<" + k)
			if m, ok := c.Attrs[k].AsMapping(); ok {
				for _, mk := range sortedKeys(m) {
					sb.WriteString(" " + mk + `="` + m[mk].String() + `"`)
				}
			}
			sb.WriteByte('>')
		}
		sb.WriteString(c.Insert.String())
		for i := len(keys) - 1; i >= 0; i-- {
			sb.WriteString("</" + keys[i] + ">")
		}
	}
	return sb.String()
}

func (t *XMLText) jsonValue() any { return t.String() }

// xmlChildren implements the child list shared by elements and fragments.
type xmlChildren struct {
	shared
}

// Len returns the number of children.
func (x xmlChildren) Len() int { return x.b.Len() }

// Get returns the child at index i.
func (x xmlChildren) Get(i int) (XMLNode, bool) {
	it, ok := x.b.At(i)
	if !ok || it.Branch() == nil {
		return nil, false
	}
	n, ok := x.doc.handle(it.Branch()).(XMLNode)
	return n, ok
}

// Children returns every child in order.
func (x xmlChildren) Children() []XMLNode {
	items := x.b.Items()
	out := make([]XMLNode, 0, len(items))
	for _, it := range items {
		if it.Branch() == nil {
			continue
		}
		if n, ok := x.doc.handle(it.Branch()).(XMLNode); ok {
			out = append(out, n)
		}
	}
	return out
}

// FirstChild returns the first child, or nil.
func (x xmlChildren) FirstChild() XMLNode {
	n, _ := x.Get(0)
	return n
}

// InsertElement creates an element tagged tag at index i.
func (x xmlChildren) InsertElement(tx *Transaction, i int, tag string) (*XMLElement, error) {
	const op = "xml insert element"
	if err := x.doc.check(op, tx); err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, argError(op, "empty tag")
	}
	if i < 0 || i > x.Len() {
		return nil, argError(op, "index %d out of bounds for length %d", i, x.Len())
	}
	items, err := tx.txn.Insert(x.b, i, crdt.TypeContent(crdt.KindXMLElement, tag))
	if err != nil {
		return nil, err
	}
	return x.doc.handle(items[0].Branch()).(*XMLElement), nil
}

// InsertText creates a text node holding s at index i.
func (x xmlChildren) InsertText(tx *Transaction, i int, s string) (*XMLText, error) {
	const op = "xml insert text"
	if err := x.doc.check(op, tx); err != nil {
		return nil, err
	}
	if i < 0 || i > x.Len() {
		return nil, argError(op, "index %d out of bounds for length %d", i, x.Len())
	}
	if err := validText(op, s); err != nil {
		return nil, err
	}
	items, err := tx.txn.Insert(x.b, i, crdt.TypeContent(crdt.KindXMLText, ""))
	if err != nil {
		return nil, err
	}
	t := x.doc.handle(items[0].Branch()).(*XMLText)
	if s != "" {
		if _, err := tx.txn.Insert(t.b, 0, runeContents(s)...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// PushChild appends a new element tagged tag.
func (x xmlChildren) PushChild(tx *Transaction, tag string) (*XMLElement, error) {
	return x.InsertElement(tx, x.Len(), tag)
}

// UnshiftChild prepends a new element tagged tag.
func (x xmlChildren) UnshiftChild(tx *Transaction, tag string) (*XMLElement, error) {
	return x.InsertElement(tx, 0, tag)
}

// PushText appends a new text node holding s.
func (x xmlChildren) PushText(tx *Transaction, s string) (*XMLText, error) {
	return x.InsertText(tx, x.Len(), s)
}

// UnshiftText prepends a new text node holding s.
func (x xmlChildren) UnshiftText(tx *Transaction, s string) (*XMLText, error) {
	return x.InsertText(tx, 0, s)
}

// SetChild replaces the child at index i with a new element tagged tag.
func (x xmlChildren) SetChild(tx *Transaction, i int, tag string) (*XMLElement, error) {
	const op = "xml set child"
	if err := x.doc.check(op, tx); err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, argError(op, "empty tag")
	}
	if i < 0 || i >= x.Len() {
		return nil, argError(op, "index %d out of bounds for length %d", i, x.Len())
	}
	if err := tx.txn.Delete(x.b, i, 1); err != nil {
		return nil, err
	}
	return x.InsertElement(tx, i, tag)
}

// RemoveSlice removes the children selected by spec.
func (x xmlChildren) RemoveSlice(tx *Transaction, spec RemoveSpec) error {
	if err := x.doc.check("xml remove", tx); err != nil {
		return err
	}
	start, n, err := spec.resolve(x.Len())
	if err != nil {
		return err
	}
	return tx.txn.Delete(x.b, start, n)
}

func (x xmlChildren) childrenString() string {
	var sb strings.Builder
	for _, n := range x.Children() {
		sb.WriteString(n.String())
	}
	return sb.String()
}

func getAttribute(s shared, name string) (string, bool) {
	it, ok := s.b.Get(name)
	if !ok {
		return "", false
	}
	v, _ := it.Content.Any.(string)
	return v, true
}

func attributes(s shared) map[string]string {
	out := make(map[string]string)
	for _, k := range s.b.Keys() {
		out[k], _ = getAttribute(s, k)
	}
	return out
}

func setAttribute(s shared, tx *Transaction, name, value string) error {
	const op = "xml set attribute"
	if err := s.doc.check(op, tx); err != nil {
		return err
	}
	if name == "" {
		return argError(op, "empty attribute name")
	}
	if err := validText(op, value); err != nil {
		return err
	}
	_, err := tx.txn.Set(s.b, name, crdt.AnyContent(value))
	return err
}

func removeAttribute(s shared, tx *Transaction, name string) error {
	if err := s.doc.check("xml remove attribute", tx); err != nil {
		return err
	}
	_, _, err := tx.txn.Remove(s.b, name)
	return err
}

func parent(s shared) SharedType {
	p := s.b.Parent()
	if p == nil {
		return nil
	}
	return s.doc.handle(p)
}

func sibling(s shared, step func(*crdt.Item) *crdt.Item) XMLNode {
	it := s.b.Item()
	if it == nil {
		return nil
	}
	next := step(it)
	if next == nil || next.Branch() == nil {
		return nil
	}
	n, _ := s.doc.handle(next.Branch()).(XMLNode)
	return n
}
