package crdt

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec converts updates to and from bytes. Blobs produced by one codec
// cannot be read by another.
type Codec interface {
	// Version identifies the encoding.
	Version() int
	EncodeUpdate(u *Update) []byte
	DecodeUpdate(b []byte) (*Update, error)
}

var (
	// V1 lays items out as positional varints.
	V1 Codec = v1Codec{}
	// V2 lays items out as tagged protobuf fields behind a version marker.
	V2 Codec = v2Codec{}
)

// CodecFor returns the codec with the given version.
func CodecFor(version int) (Codec, error) {
	switch version {
	case 1:
		return V1, nil
	case 2:
		return V2, nil
	}
	return nil, fmt.Errorf("codec version %d: %w", version, ErrVersionMismatch)
}

// reader consumes varints and length-prefixed bytes. Once a read fails all
// further reads return zero values.
type reader struct {
	buf []byte
	bad bool
}

func (r *reader) varint() uint64 {
	if r.bad {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		r.bad = true
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes() []byte {
	if r.bad {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.buf)
	if n < 0 {
		r.bad = true
		return nil
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) byte() byte {
	if r.bad || len(r.buf) == 0 {
		r.bad = true
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) failed() bool { return r.bad }
func (r *reader) done() bool   { return !r.bad && len(r.buf) == 0 }

func encodeAny(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Content is built from JSON-compatible values only.
		panic(fmt.Sprintf("crdt: encode content: %v", err))
	}
	return b
}

func decodeAny(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("content: %v: %w", err, ErrMalformedUpdate)
	}
	return v, nil
}

// validate checks the invariants every decoded item must satisfy.
func validate(it *Item) error {
	switch it.Content.Kind {
	case ContentString:
		str := it.Content.Str
		if _, n := utf8.DecodeRuneInString(str); str == "" || n != len(str) || !utf8.ValidString(str) {
			return fmt.Errorf("item %s: string content must be one code point: %w", it.ID, ErrMalformedUpdate)
		}
	case ContentAny:
	case ContentType:
		if !it.Content.Type.valid() {
			return fmt.Errorf("item %s: type kind %d: %w", it.ID, it.Content.Type, ErrMalformedUpdate)
		}
	default:
		return fmt.Errorf("item %s: content kind %d: %w", it.ID, it.Content.Kind, ErrMalformedUpdate)
	}
	if it.Keyed && it.RightOrigin != nil {
		return fmt.Errorf("item %s: keyed item with right origin: %w", it.ID, ErrMalformedUpdate)
	}
	if it.Parent.Item == nil && !it.Parent.RootKind.valid() {
		return fmt.Errorf("item %s: root kind %d: %w", it.ID, it.Parent.RootKind, ErrMalformedUpdate)
	}
	return nil
}

func validateRange(c ClientID, r Range) error {
	if r.Len == 0 || r.Clock+r.Len < r.Clock {
		return fmt.Errorf("delete range %d@%d+%d: %w", c, r.Clock, r.Len, ErrMalformedUpdate)
	}
	return nil
}

// v1 layout:
//
//	update  = varint(n) item*n deletes
//	item    = client clock info [origin] [rightOrigin] parent [key] content
//	info    = bit0 origin, bit1 right origin, bit2 keyed, bit3 parent is item,
//	          bits4-5 content kind
//	deletes = varint(clients) (client varint(ranges) (clock len)*)*
type v1Codec struct{}

const (
	infoOrigin = 1 << iota
	infoRightOrigin
	infoKeyed
	infoParentItem
	infoContentShift = 4
	infoReserved     = 0xc0
)

// Every v1 item takes at least client, clock, info, two parent bytes and one
// content byte.
const v1MinItemLen = 6

func (v1Codec) Version() int { return 1 }

func (v1Codec) EncodeUpdate(u *Update) []byte {
	b := protowire.AppendVarint(nil, uint64(len(u.Items)))
	for _, it := range u.Items {
		b = protowire.AppendVarint(b, uint64(it.ID.Client))
		b = protowire.AppendVarint(b, it.ID.Clock)
		info := byte(it.Content.Kind) << infoContentShift
		if it.Origin != nil {
			info |= infoOrigin
		}
		if it.RightOrigin != nil {
			info |= infoRightOrigin
		}
		if it.Keyed {
			info |= infoKeyed
		}
		if it.Parent.Item != nil {
			info |= infoParentItem
		}
		b = append(b, info)
		for _, id := range []*ID{it.Origin, it.RightOrigin} {
			if id != nil {
				b = protowire.AppendVarint(b, uint64(id.Client))
				b = protowire.AppendVarint(b, id.Clock)
			}
		}
		if p := it.Parent.Item; p != nil {
			b = protowire.AppendVarint(b, uint64(p.Client))
			b = protowire.AppendVarint(b, p.Clock)
		} else {
			b = protowire.AppendString(b, it.Parent.Root)
			b = protowire.AppendVarint(b, uint64(it.Parent.RootKind))
		}
		if it.Keyed {
			b = protowire.AppendString(b, it.Key)
		}
		switch it.Content.Kind {
		case ContentString:
			b = protowire.AppendString(b, it.Content.Str)
		case ContentAny:
			b = protowire.AppendBytes(b, encodeAny(it.Content.Any))
		case ContentType:
			b = protowire.AppendVarint(b, uint64(it.Content.Type))
			b = protowire.AppendString(b, it.Content.Tag)
		}
	}
	clients := sortedKeys(u.Deletes)
	b = protowire.AppendVarint(b, uint64(len(clients)))
	for _, c := range clients {
		rs := u.Deletes[c]
		b = protowire.AppendVarint(b, uint64(c))
		b = protowire.AppendVarint(b, uint64(len(rs)))
		for _, r := range rs {
			b = protowire.AppendVarint(b, r.Clock)
			b = protowire.AppendVarint(b, r.Len)
		}
	}
	return b
}

func (v1Codec) DecodeUpdate(b []byte) (*Update, error) {
	r := &reader{buf: b}
	n := r.varint()
	if r.failed() || n > uint64(len(r.buf))/v1MinItemLen {
		return nil, fmt.Errorf("v1 item count: %w", ErrMalformedUpdate)
	}
	u := &Update{Items: make([]*Item, 0, n), Deletes: make(DeleteSet)}
	for i := uint64(0); i < n; i++ {
		it := &Item{ID: ID{Client: ClientID(r.varint()), Clock: r.varint()}}
		info := r.byte()
		if info&infoReserved != 0 {
			return nil, fmt.Errorf("v1 item %d: info %#x: %w", i, info, ErrMalformedUpdate)
		}
		if info&infoOrigin != 0 {
			it.Origin = &ID{Client: ClientID(r.varint()), Clock: r.varint()}
		}
		if info&infoRightOrigin != 0 {
			it.RightOrigin = &ID{Client: ClientID(r.varint()), Clock: r.varint()}
		}
		if info&infoParentItem != 0 {
			it.Parent.Item = &ID{Client: ClientID(r.varint()), Clock: r.varint()}
		} else {
			it.Parent.Root = string(r.bytes())
			it.Parent.RootKind = Kind(r.varint())
		}
		if info&infoKeyed != 0 {
			it.Keyed = true
			it.Key = string(r.bytes())
		}
		it.Content.Kind = ContentKind(info >> infoContentShift)
		switch it.Content.Kind {
		case ContentString:
			it.Content.Str = string(r.bytes())
		case ContentAny:
			raw := r.bytes()
			if !r.failed() {
				v, err := decodeAny(raw)
				if err != nil {
					return nil, fmt.Errorf("v1 item %d: %w", i, err)
				}
				it.Content.Any = v
			}
		case ContentType:
			it.Content.Type = Kind(r.varint())
			it.Content.Tag = string(r.bytes())
		}
		if r.failed() {
			return nil, fmt.Errorf("v1 item %d: truncated: %w", i, ErrMalformedUpdate)
		}
		if err := validate(it); err != nil {
			return nil, err
		}
		u.Items = append(u.Items, it)
	}
	clients := r.varint()
	for i := uint64(0); i < clients && !r.failed(); i++ {
		c := ClientID(r.varint())
		ranges := r.varint()
		if ranges > uint64(len(r.buf)) {
			return nil, fmt.Errorf("v1 delete set: %w", ErrMalformedUpdate)
		}
		for j := uint64(0); j < ranges && !r.failed(); j++ {
			rg := Range{Clock: r.varint(), Len: r.varint()}
			if err := validateRange(c, rg); err != nil && !r.failed() {
				return nil, err
			}
			u.Deletes[c] = append(u.Deletes[c], rg)
		}
	}
	if !r.done() {
		return nil, fmt.Errorf("v1 update: %w", ErrMalformedUpdate)
	}
	return u, nil
}

// v2 fields. The version marker must be the first field.
const (
	v2FieldVersion protowire.Number = 1
	v2FieldItem    protowire.Number = 2
	v2FieldDelete  protowire.Number = 3

	v2ItemClient      protowire.Number = 1
	v2ItemClock       protowire.Number = 2
	v2ItemOrigin      protowire.Number = 3
	v2ItemRightOrigin protowire.Number = 4
	v2ItemParent      protowire.Number = 5
	v2ItemRoot        protowire.Number = 6
	v2ItemRootKind    protowire.Number = 7
	v2ItemKey         protowire.Number = 8
	v2ItemKeyed       protowire.Number = 9
	v2ItemContentKind protowire.Number = 10
	v2ItemString      protowire.Number = 11
	v2ItemAny         protowire.Number = 12
	v2ItemType        protowire.Number = 13
	v2ItemTag         protowire.Number = 14

	v2IDClient protowire.Number = 1
	v2IDClock  protowire.Number = 2

	v2RangeClient protowire.Number = 1
	v2RangeClock  protowire.Number = 2
	v2RangeLen    protowire.Number = 3

	v2Version = 2
)

type v2Codec struct{}

func (v2Codec) Version() int { return v2Version }

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendID(b []byte, num protowire.Number, id ID) []byte {
	var m []byte
	m = appendVarintField(m, v2IDClient, uint64(id.Client))
	m = appendVarintField(m, v2IDClock, id.Clock)
	return appendBytesField(b, num, m)
}

func (v2Codec) EncodeUpdate(u *Update) []byte {
	b := appendVarintField(nil, v2FieldVersion, v2Version)
	for _, it := range u.Items {
		var m []byte
		m = appendVarintField(m, v2ItemClient, uint64(it.ID.Client))
		m = appendVarintField(m, v2ItemClock, it.ID.Clock)
		if it.Origin != nil {
			m = appendID(m, v2ItemOrigin, *it.Origin)
		}
		if it.RightOrigin != nil {
			m = appendID(m, v2ItemRightOrigin, *it.RightOrigin)
		}
		if it.Parent.Item != nil {
			m = appendID(m, v2ItemParent, *it.Parent.Item)
		} else {
			m = appendBytesField(m, v2ItemRoot, []byte(it.Parent.Root))
			m = appendVarintField(m, v2ItemRootKind, uint64(it.Parent.RootKind))
		}
		if it.Keyed {
			m = appendVarintField(m, v2ItemKeyed, 1)
			m = appendBytesField(m, v2ItemKey, []byte(it.Key))
		}
		m = appendVarintField(m, v2ItemContentKind, uint64(it.Content.Kind))
		switch it.Content.Kind {
		case ContentString:
			m = appendBytesField(m, v2ItemString, []byte(it.Content.Str))
		case ContentAny:
			m = appendBytesField(m, v2ItemAny, encodeAny(it.Content.Any))
		case ContentType:
			m = appendVarintField(m, v2ItemType, uint64(it.Content.Type))
			m = appendBytesField(m, v2ItemTag, []byte(it.Content.Tag))
		}
		b = appendBytesField(b, v2FieldItem, m)
	}
	for _, c := range sortedKeys(u.Deletes) {
		for _, r := range u.Deletes[c] {
			var m []byte
			m = appendVarintField(m, v2RangeClient, uint64(c))
			m = appendVarintField(m, v2RangeClock, r.Clock)
			m = appendVarintField(m, v2RangeLen, r.Len)
			b = appendBytesField(b, v2FieldDelete, m)
		}
	}
	return b
}

// fields walks the top-level fields of a protobuf message.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %w", ErrMalformedUpdate)
		}
		b = b[n:]
		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, ErrMalformedUpdate)
		}
		b = b[n:]
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}

func decodeID(raw []byte) (*ID, error) {
	id := &ID{}
	err := fields(raw, func(num protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
		switch num {
		case v2IDClient:
			id.Client = ClientID(v)
		case v2IDClock:
			id.Clock = v
		}
		return nil
	})
	return id, err
}

func decodeV2Item(raw []byte) (*Item, error) {
	it := &Item{}
	var anyRaw []byte
	err := fields(raw, func(num protowire.Number, _ protowire.Type, v uint64, b []byte) error {
		var err error
		switch num {
		case v2ItemClient:
			it.ID.Client = ClientID(v)
		case v2ItemClock:
			it.ID.Clock = v
		case v2ItemOrigin:
			it.Origin, err = decodeID(b)
		case v2ItemRightOrigin:
			it.RightOrigin, err = decodeID(b)
		case v2ItemParent:
			it.Parent.Item, err = decodeID(b)
		case v2ItemRoot:
			it.Parent.Root = string(b)
		case v2ItemRootKind:
			it.Parent.RootKind = Kind(v)
		case v2ItemKeyed:
			it.Keyed = v != 0
		case v2ItemKey:
			it.Key = string(b)
		case v2ItemContentKind:
			it.Content.Kind = ContentKind(v)
		case v2ItemString:
			it.Content.Str = string(b)
		case v2ItemAny:
			anyRaw = b
		case v2ItemType:
			it.Content.Type = Kind(v)
		case v2ItemTag:
			it.Content.Tag = string(b)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if it.Content.Kind == ContentAny {
		if it.Content.Any, err = decodeAny(anyRaw); err != nil {
			return nil, err
		}
	}
	return it, validate(it)
}

func (v2Codec) DecodeUpdate(b []byte) (*Update, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 || num != v2FieldVersion || typ != protowire.VarintType {
		return nil, fmt.Errorf("v2 update: missing version marker: %w", ErrVersionMismatch)
	}
	version, m := protowire.ConsumeVarint(b[n:])
	if m < 0 || version != v2Version {
		return nil, fmt.Errorf("v2 update: version %d: %w", version, ErrVersionMismatch)
	}
	u := &Update{Deletes: make(DeleteSet)}
	err := fields(b[n+m:], func(num protowire.Number, typ protowire.Type, _ uint64, raw []byte) error {
		switch num {
		case v2FieldItem:
			if typ != protowire.BytesType {
				return fmt.Errorf("v2 item: wire type %d: %w", typ, ErrMalformedUpdate)
			}
			it, err := decodeV2Item(raw)
			if err != nil {
				return err
			}
			u.Items = append(u.Items, it)
		case v2FieldDelete:
			var (
				c  ClientID
				rg Range
			)
			err := fields(raw, func(num protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
				switch num {
				case v2RangeClient:
					c = ClientID(v)
				case v2RangeClock:
					rg.Clock = v
				case v2RangeLen:
					rg.Len = v
				}
				return nil
			})
			if err == nil {
				err = validateRange(c, rg)
			}
			if err != nil {
				return err
			}
			u.Deletes[c] = append(u.Deletes[c], rg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("v2 update: %w", err)
	}
	return u, nil
}
