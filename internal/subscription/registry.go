// Package subscription keeps observer registrations in an append-only arena.
// An id is the arena slot plus one, so ids are issued monotonically, detach
// is O(1) and a detached id is never handed out again.
package subscription

// ID identifies a registration within one Registry.
type ID uint32

// Registry holds observers of type T.
type Registry[T any] struct {
	slots []slot[T]
	live  int
}

type slot[T any] struct {
	value T
	live  bool
}

// Add registers v and returns its id.
func (r *Registry[T]) Add(v T) ID {
	r.slots = append(r.slots, slot[T]{value: v, live: true})
	r.live++
	return ID(len(r.slots))
}

// Remove drops the registration for id. Unknown or already removed ids are
// ignored.
func (r *Registry[T]) Remove(id ID) {
	i := int(id) - 1
	if i < 0 || i >= len(r.slots) || !r.slots[i].live {
		return
	}
	var zero T
	r.slots[i] = slot[T]{value: zero}
	r.live--
}

// Len returns the number of live registrations.
func (r *Registry[T]) Len() int { return r.live }

// Each calls fn for every live registration in registration order. Entries
// added during iteration are not visited; entries removed during iteration
// are skipped.
func (r *Registry[T]) Each(fn func(id ID, v T)) {
	n := len(r.slots)
	for i := 0; i < n; i++ {
		s := r.slots[i]
		if !s.live {
			continue
		}
		fn(ID(i+1), s.value)
	}
}
