package awareness

import (
	"fmt"

	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/encoding/protowire"
)

// entryUpdate is one (client, clock, state) tuple on the wire. An empty
// state is a tombstone and travels as JSON null.
type entryUpdate struct {
	client uint64
	clock  uint32
	state  string
}

const null = "null"

func encodeUpdate(entries []entryUpdate) []byte {
	b := protowire.AppendVarint(nil, uint64(len(entries)))
	for _, e := range entries {
		b = protowire.AppendVarint(b, e.client)
		b = protowire.AppendVarint(b, uint64(e.clock))
		state := e.state
		if state == "" {
			state = null
		}
		b = protowire.AppendString(b, state)
	}
	return b
}

// decodeUpdate parses a whole update before anything is applied.
func decodeUpdate(b []byte) ([]entryUpdate, error) {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, fmt.Errorf("entry count: %w", ErrMalformedUpdate)
	}
	b = b[n:]
	// every entry takes at least three bytes
	if count > uint64(len(b))/3 {
		return nil, fmt.Errorf("%d entries in %d bytes: %w", count, len(b), ErrMalformedUpdate)
	}
	entries := make([]entryUpdate, 0, count)
	for i := range count {
		client, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("entry %d client: %w", i, ErrMalformedUpdate)
		}
		b = b[n:]
		clock, n := protowire.ConsumeVarint(b)
		if n < 0 || clock > 1<<32-1 {
			return nil, fmt.Errorf("entry %d clock: %w", i, ErrMalformedUpdate)
		}
		b = b[n:]
		state, n := protowire.ConsumeString(b)
		if n < 0 || !gjson.Valid(state) {
			return nil, fmt.Errorf("entry %d state: %w", i, ErrMalformedUpdate)
		}
		b = b[n:]
		if state == null {
			state = ""
		}
		entries = append(entries, entryUpdate{client: client, clock: uint32(clock), state: state})
	}
	if len(b) > 0 {
		return nil, fmt.Errorf("%d trailing bytes: %w", len(b), ErrMalformedUpdate)
	}
	return entries, nil
}
