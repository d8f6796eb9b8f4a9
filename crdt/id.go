package crdt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ClientID identifies a replica.
type ClientID uint64

// ID is the globally unique identifier of an item: the replica that created
// it and that replica's clock at creation time.
type ID struct {
	Client ClientID
	Clock  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Client, id.Clock)
}

func sameID(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// StateVector maps every known client to the next clock expected from it,
// i.e. the number of items seen from that client.
type StateVector map[ClientID]uint64

// Contains reports whether the item with the given id is covered.
func (sv StateVector) Contains(id ID) bool {
	return id.Clock < sv[id.Client]
}

// EncodeStateVector serializes sv as a varint count followed by
// (client, clock) pairs in ascending client order. An empty vector encodes
// to the single byte 0.
func EncodeStateVector(sv StateVector) []byte {
	b := protowire.AppendVarint(nil, uint64(len(sv)))
	for _, c := range sortedKeys(sv) {
		b = protowire.AppendVarint(b, uint64(c))
		b = protowire.AppendVarint(b, sv[c])
	}
	return b
}

// DecodeStateVector parses the output of EncodeStateVector.
func DecodeStateVector(b []byte) (StateVector, error) {
	r := reader{buf: b}
	n := r.varint()
	if r.failed() || n > uint64(len(b)) {
		return nil, fmt.Errorf("decode state vector: %w", ErrMalformedStateVector)
	}
	sv := make(StateVector, n)
	for i := uint64(0); i < n; i++ {
		c := r.varint()
		clock := r.varint()
		if r.failed() {
			return nil, fmt.Errorf("decode state vector entry %d: %w", i, ErrMalformedStateVector)
		}
		sv[ClientID(c)] = clock
	}
	if !r.done() {
		return nil, fmt.Errorf("decode state vector: %d trailing bytes: %w", len(r.buf), ErrMalformedStateVector)
	}
	return sv, nil
}
