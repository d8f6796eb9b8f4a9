package ydoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapOperations(t *testing.T) {
	doc := New()
	m := doc.GetMap("m")
	tx := doc.CurrentTransaction()
	require.NoError(t, m.Set(tx, "b", String("World")))
	require.NoError(t, m.Set(tx, "a", Number(1)))
	require.NoError(t, m.Set(tx, "a", Number(2)))

	assert.Equal(t, 2, m.Size())
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2.0, v.native())
	_, ok = m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "{a: 2, b: World}", m.String())

	var seen []string
	m.Each(func(k string, _ Value) { seen = append(seen, k) })
	assert.Equal(t, []string{"a", "b"}, seen)

	require.NoError(t, m.Clear(tx))
	assert.Equal(t, 0, m.Size())
	assert.Empty(t, m.ToMapping())
}

func TestMapDeleteOr(t *testing.T) {
	doc := New()
	m := doc.GetMap("m")
	tx := doc.CurrentTransaction()
	require.NoError(t, m.Set(tx, "k", Bool(true)))

	var missing []string
	fallback := func(key string) { missing = append(missing, key) }

	v, err := m.DeleteOr(tx, "k", fallback)
	require.NoError(t, err)
	assert.Equal(t, true, v.native())

	v, err = m.DeleteOr(tx, "k", fallback)
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())
	assert.Equal(t, []string{"k"}, missing)
}

func TestMapConcurrentWritesConverge(t *testing.T) {
	a, b := New(WithClientID(1)), New(WithClientID(2))
	require.NoError(t, a.GetMap("m").Set(a.CurrentTransaction(), "k", String("from a")))
	require.NoError(t, b.GetMap("m").Set(b.CurrentTransaction(), "k", String("from b")))
	a.Commit()
	b.Commit()

	syncTo(t, a, b)
	syncTo(t, b, a)

	va, _ := a.GetMap("m").Get("k")
	vb, _ := b.GetMap("m").Get("k")
	assert.Equal(t, "from b", va.String())
	assert.True(t, va.Equal(vb))
}

func TestMapEvents(t *testing.T) {
	doc := New()
	m := doc.GetMap("m")
	var events []Event
	_, err := m.Attach(ObserverFunc(func(e Event) { events = append(events, e) }))
	require.NoError(t, err)

	set := func(k string, v Value) {
		require.NoError(t, doc.Transact(func(tx *Transaction) error { return m.Set(tx, k, v) }))
	}
	set("k", Number(1))
	set("k", Number(2))
	require.NoError(t, doc.Transact(func(tx *Transaction) error {
		_, _, err := m.Delete(tx, "k")
		return err
	}))

	require.Len(t, events, 3)
	assert.Equal(t, Inserted, events[0].Keys["k"].Action)
	assert.Equal(t, 1.0, events[0].Keys["k"].New.native())
	assert.True(t, events[0].Keys["k"].Old.IsUndefined())

	assert.Equal(t, Updated, events[1].Keys["k"].Action)
	assert.Equal(t, 1.0, events[1].Keys["k"].Old.native())
	assert.Equal(t, 2.0, events[1].Keys["k"].New.native())

	assert.Equal(t, Removed, events[2].Keys["k"].Action)
	assert.Equal(t, 2.0, events[2].Keys["k"].Old.native())
	assert.Empty(t, events[2].Delta)
	assert.Equal(t, KindMap, events[2].Target.Kind())
}

func TestMapKeyAddedAndRemovedInOneTransactionIsSilent(t *testing.T) {
	doc := New()
	m := doc.GetMap("m")
	var events int
	_, err := m.Attach(ObserverFunc(func(Event) { events++ }))
	require.NoError(t, err)

	require.NoError(t, doc.Transact(func(tx *Transaction) error {
		if err := m.Set(tx, "tmp", Number(1)); err != nil {
			return err
		}
		_, _, err := m.Delete(tx, "tmp")
		return err
	}))
	assert.Equal(t, 0, events)
}
