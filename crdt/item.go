package crdt

import (
	"fmt"
	"slices"
)

// Kind is the kind of a shared type branch.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindArray
	KindMap
	KindText
	KindXMLElement
	KindXMLText
	KindXMLFragment
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindText:
		return "text"
	case KindXMLElement:
		return "xml_element"
	case KindXMLText:
		return "xml_text"
	case KindXMLFragment:
		return "xml_fragment"
	}
	return "undefined"
}

func (k Kind) valid() bool { return k > KindUndefined && k <= KindXMLFragment }

// ContentKind tags the payload carried by an item.
type ContentKind uint8

const (
	ContentString ContentKind = iota + 1 // a single code point
	ContentAny                           // a JSON-compatible value
	ContentType                          // a nested shared type
)

// Content is the payload of a single item.
type Content struct {
	Kind ContentKind
	Str  string
	Any  any
	Type Kind
	Tag  string
}

// TextContent holds one code point of text.
func TextContent(r rune) Content { return Content{Kind: ContentString, Str: string(r)} }

// AnyContent holds a JSON-compatible value: nil, bool, float64, string,
// []any or map[string]any.
func AnyContent(v any) Content { return Content{Kind: ContentAny, Any: v} }

// TypeContent holds a nested shared type of the given kind. Tag names XML
// elements and is empty otherwise.
func TypeContent(kind Kind, tag string) Content {
	return Content{Kind: ContentType, Type: kind, Tag: tag}
}

// ParentRef names an item's parent: either a root type or the item that
// embeds the parent branch (or, for formatting attributes, the formatted item).
type ParentRef struct {
	Root     string
	RootKind Kind
	Item     *ID
}

func (p ParentRef) String() string {
	if p.Item != nil {
		return p.Item.String()
	}
	return fmt.Sprintf("%s(%q)", p.RootKind, p.Root)
}

// Item is the unit of replication. Every item has length one.
type Item struct {
	ID          ID
	Origin      *ID
	RightOrigin *ID
	Parent      ParentRef
	Key         string
	Keyed       bool
	Content     Content
	Deleted     bool

	left, right *Item
	parent      *container
	branch      *Branch
	attrs       *container
}

// Branch returns the shared type embedded by this item, or nil.
func (it *Item) Branch() *Branch { return it.branch }

// Owner returns the branch this item belongs to.
func (it *Item) Owner() *Branch {
	if it.parent == nil {
		return nil
	}
	return it.parent.owner
}

// Next returns the next visible item in the same sequence.
func (it *Item) Next() *Item {
	for x := it.right; x != nil; x = x.right {
		if !x.Deleted {
			return x
		}
	}
	return nil
}

// Prev returns the previous visible item in the same sequence.
func (it *Item) Prev() *Item {
	for x := it.left; x != nil; x = x.left {
		if !x.Deleted {
			return x
		}
	}
	return nil
}

// Attrs returns the formatting attributes currently set on a text item.
func (it *Item) Attrs() map[string]any {
	if it.attrs == nil {
		return nil
	}
	var m map[string]any
	for k, tail := range it.attrs.entries {
		if tail.Deleted || tail.Content.Any == nil {
			continue
		}
		if m == nil {
			m = make(map[string]any)
		}
		m[k] = tail.Content.Any
	}
	return m
}

func (it *Item) attr(key string) any {
	if it.attrs == nil {
		return nil
	}
	if tail, ok := it.attrs.entries[key]; ok && !tail.Deleted {
		return tail.Content.Any
	}
	return nil
}

// container is either a branch's own storage or the attribute map of a
// formatted text item.
type container struct {
	start   *Item
	entries map[string]*Item
	owner   *Branch
	item    *Item
}

func newContainer(owner *Branch, item *Item) *container {
	return &container{entries: make(map[string]*Item), owner: owner, item: item}
}

// ref is the ParentRef recorded on items integrated into c.
func (c *container) ref() ParentRef {
	if c.item != nil {
		id := c.item.ID
		return ParentRef{Item: &id}
	}
	b := c.owner
	if b.item != nil {
		id := b.item.ID
		return ParentRef{Item: &id}
	}
	return ParentRef{Root: b.Name, RootKind: b.Kind}
}

// first returns the leftmost item of the list it belongs in.
func (c *container) first(it *Item) *Item {
	if !it.Keyed {
		return c.start
	}
	x := c.entries[it.Key]
	for x != nil && x.left != nil {
		x = x.left
	}
	return x
}

func (c *container) deleted() bool {
	if c.item != nil && c.item.Deleted {
		return true
	}
	return c.owner.Deleted()
}

// Branch is the storage of one shared type: an ordered sequence of items and
// a keyed map, either of which may be empty depending on the kind.
type Branch struct {
	c    *container
	Kind Kind
	Name string
	Tag  string
	item *Item
}

func newBranch(kind Kind, name, tag string) *Branch {
	b := &Branch{Kind: kind, Name: name, Tag: tag}
	b.c = newContainer(b, nil)
	return b
}

// Item returns the item embedding b, or nil for a root type.
func (b *Branch) Item() *Item { return b.item }

// Parent returns the branch that contains b, or nil for a root type.
func (b *Branch) Parent() *Branch {
	if b.item == nil {
		return nil
	}
	return b.item.Owner()
}

// Deleted reports whether b was removed from its parent.
func (b *Branch) Deleted() bool {
	for x := b; x != nil && x.item != nil; x = x.item.Owner() {
		if x.item.Deleted {
			return true
		}
	}
	return false
}

// Len returns the number of visible sequence items.
func (b *Branch) Len() int {
	n := 0
	for it := b.c.start; it != nil; it = it.right {
		if !it.Deleted {
			n++
		}
	}
	return n
}

// Items returns the visible sequence items in order.
func (b *Branch) Items() []*Item {
	var items []*Item
	for it := b.c.start; it != nil; it = it.right {
		if !it.Deleted {
			items = append(items, it)
		}
	}
	return items
}

// At returns the visible sequence item at index.
func (b *Branch) At(index int) (*Item, bool) {
	if index < 0 {
		return nil, false
	}
	for it := b.c.start; it != nil; it = it.right {
		if it.Deleted {
			continue
		}
		if index == 0 {
			return it, true
		}
		index--
	}
	return nil, false
}

// First returns the first visible sequence item, or nil.
func (b *Branch) First() *Item {
	it, _ := b.At(0)
	return it
}

// Get returns the current item stored under key.
func (b *Branch) Get(key string) (*Item, bool) {
	tail, ok := b.c.entries[key]
	if !ok || tail.Deleted {
		return nil, false
	}
	return tail, true
}

// Keys returns the keys with a current value, sorted.
func (b *Branch) Keys() []string {
	keys := make([]string, 0, len(b.c.entries))
	for k, tail := range b.c.entries {
		if !tail.Deleted {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// leftOf returns the visible item after which a new item lands at index.
func (b *Branch) leftOf(index int) (*Item, error) {
	if index == 0 {
		return nil, nil
	}
	if index < 0 {
		return nil, fmt.Errorf("insert at %d: %w", index, ErrIndexOutOfRange)
	}
	n := 0
	for it := b.c.start; it != nil; it = it.right {
		if it.Deleted {
			continue
		}
		n++
		if n == index {
			return it, nil
		}
	}
	return nil, fmt.Errorf("insert at %d of %d: %w", index, n, ErrIndexOutOfRange)
}
