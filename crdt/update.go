package crdt

// Update is the decoded form of an update blob: new items in ascending
// (client, clock) order and the deletions the sender knows about.
type Update struct {
	Items   []*Item
	Deletes DeleteSet
}

// Range is a run of consecutive clocks of one client.
type Range struct {
	Clock uint64
	Len   uint64
}

// DeleteSet records deleted items as per-client clock ranges.
type DeleteSet map[ClientID][]Range

func (ds DeleteSet) add(c ClientID, clock uint64) {
	rs := ds[c]
	if n := len(rs); n > 0 && rs[n-1].Clock+rs[n-1].Len == clock {
		rs[n-1].Len++
		return
	}
	ds[c] = append(rs, Range{Clock: clock, Len: 1})
}

// merge adds the ranges of other, leaving overlaps in place; applying a
// deletion twice is a no-op.
func (ds DeleteSet) merge(other DeleteSet) {
	for c, rs := range other {
		ds[c] = append(ds[c], rs...)
	}
}
