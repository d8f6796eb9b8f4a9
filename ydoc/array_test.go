package ydoc

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayInsertAndGet(t *testing.T) {
	doc := New()
	arr := doc.GetArray("a")
	tx := doc.CurrentTransaction()
	require.NoError(t, arr.Push(tx, nums(1, 2, 3)...))
	require.NoError(t, arr.Insert(tx, 1, String("x")))
	require.NoError(t, arr.PushFront(tx, Bool(true)))

	assert.Equal(t, []any{true, 1.0, "x", 2.0, 3.0}, natives(arr.ToSequence()))
	v, ok := arr.Get(2)
	require.True(t, ok)
	assert.Equal(t, "x", v.String())
	_, ok = arr.Get(5)
	assert.False(t, ok)

	require.NoError(t, arr.Set(tx, 0, Null()))
	assert.Equal(t, "[null, 1, x, 2, 3]", arr.String())

	assert.ErrorIs(t, arr.Insert(tx, 6, Number(1)), ErrInvalidArgument)
	assert.ErrorIs(t, arr.Set(tx, 5, Number(1)), ErrInvalidArgument)
}

func TestArrayConcatSkipsNonSequences(t *testing.T) {
	doc := New()
	arr := doc.GetArray("a")
	tx := doc.CurrentTransaction()
	require.NoError(t, arr.Concat(tx, Seq(nums(1, 2)...), Number(9), Seq(String("z"))))
	assert.Equal(t, "[1, 2, z]", arr.String())
}

func TestArrayPopAndShift(t *testing.T) {
	doc := New()
	arr := doc.GetArray("a")
	tx := doc.CurrentTransaction()
	require.NoError(t, arr.Push(tx, nums(1, 2, 3, 4, 5)...))

	v, ok, err := arr.Pop(tx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, v.native())

	v, ok, err = arr.Shift(tx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, v.native())

	vs, err := arr.PopN(tx, 10)
	require.NoError(t, err)
	assert.Equal(t, []any{2.0, 3.0, 4.0}, natives(vs))
	assert.Equal(t, 0, arr.Len())

	_, ok, err = arr.Pop(tx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = arr.ShiftN(tx, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestArrayRemoveSlice(t *testing.T) {
	tests := []struct {
		name string
		spec RemoveSpec
		want []float64
		err  bool
	}{
		{name: "single index", spec: At(2), want: []float64{0, 1, 3, 4, 5}},
		{name: "start and length", spec: Span(1, 3), want: []float64{0, 4, 5}},
		{name: "inclusive range", spec: Range(2, 4), want: []float64{0, 1, 5}},
		{name: "exclusive range", spec: RangeExclusive(2, 4), want: []float64{0, 1, 4, 5}},
		{name: "whole array", spec: Span(0, 6), want: []float64{}},
		{name: "index past end", spec: At(6), err: true},
		{name: "negative start", spec: Span(-1, 2), err: true},
		{name: "zero length", spec: Span(0, 0), err: true},
		{name: "length past end", spec: Span(4, 3), err: true},
		{name: "reversed range", spec: Range(4, 2), err: true},
		{name: "empty exclusive range", spec: RangeExclusive(3, 3), err: true},
		{name: "zero spec", spec: RemoveSpec{}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := New()
			arr := doc.GetArray("a")
			tx := doc.CurrentTransaction()
			require.NoError(t, arr.Push(tx, nums(0, 1, 2, 3, 4, 5)...))

			err := arr.RemoveSlice(tx, tt.spec)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				assert.Equal(t, 6, arr.Len(), "nothing removed")
				return
			}
			require.NoError(t, err)
			want := make([]any, len(tt.want))
			for i, n := range tt.want {
				want[i] = n
			}
			assert.Equal(t, want, natives(arr.ToSequence()))
		})
	}
}

func TestParseRemoveSpec(t *testing.T) {
	spec, err := ParseRemoveSpec(3)
	require.NoError(t, err)
	assert.Equal(t, At(3), spec)

	spec, err = ParseRemoveSpec(1, 2)
	require.NoError(t, err)
	assert.Equal(t, Span(1, 2), spec)

	_, err = ParseRemoveSpec()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseRemoveSpec(1, 2, 3)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestArrayRejectsInvalidValues(t *testing.T) {
	doc := New()
	arr := doc.GetArray("a")
	other := doc.GetMap("m")
	tx := doc.CurrentTransaction()

	tests := []struct {
		name string
		vs   []Value
	}{
		{"undefined", []Value{Number(1), {}}},
		{"integrated handle", []Value{Shared(other)}},
		{"shared inside a sequence", []Value{Seq(NewMapValue(nil))}},
		{"shared inside a mapping", []Value{Mapping(map[string]Value{"k": NewTextValue("x")})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := arr.Push(tx, tt.vs...)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, 0, arr.Len(), "no partial insert")
		})
	}
}

func TestArrayNestedTypes(t *testing.T) {
	a, b := New(), New()
	arr := a.GetArray("a")
	require.NoError(t, a.Transact(func(tx *Transaction) error {
		return arr.Push(tx,
			NewMapValue(map[string]Value{"k": String("v")}),
			NewTextValue("txt"),
			NewArrayValue(Number(1), NewArrayValue(Number(2))),
		)
	}))

	v, ok := arr.Get(0)
	require.True(t, ok)
	m, ok := v.AsMap()
	require.True(t, ok)
	require.NoError(t, m.Set(a.CurrentTransaction(), "k2", Number(2)))

	syncTo(t, a, b)
	assert.Equal(t, "[{k: v, k2: 2}, txt, [1, [2]]]", b.GetArray("a").String())

	v, _ = b.GetArray("a").Get(1)
	text, ok := v.AsText()
	require.True(t, ok)
	assert.Equal(t, 3, text.Len())
}

// An array driven by random edits matches a plain slice driven by the same
// edits, and so does a replica that receives every edit as an update.
func TestArrayMatchesSliceModel(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	doc, replica := New(), New()
	_, err := doc.OnUpdate(func(u []byte) { require.NoError(t, replica.Sync(u)) })
	require.NoError(t, err)

	arr := doc.GetArray("a")
	var model []any
	for i := range 300 {
		err := doc.Transact(func(tx *Transaction) error {
			switch n := len(model); {
			case n == 0 || r.IntN(3) > 0:
				at := r.IntN(n + 1)
				model = slices.Insert(model, at, any(float64(i)))
				return arr.Insert(tx, at, Number(float64(i)))
			case r.IntN(2) == 0:
				at := r.IntN(n)
				model = slices.Delete(model, at, at+1)
				return arr.RemoveAt(tx, at)
			default:
				at := r.IntN(n)
				count := 1 + r.IntN(n-at)
				model = slices.Delete(model, at, at+count)
				return arr.RemoveRange(tx, at, count)
			}
		})
		require.NoError(t, err)
	}

	assert.Equal(t, model, natives(arr.ToSequence()))
	assert.Equal(t, model, natives(replica.GetArray("a").ToSequence()))
}
