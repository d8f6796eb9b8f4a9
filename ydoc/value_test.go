package ydoc

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), "null"},
		{Bool(true), "true"},
		{Number(42), "42"},
		{Number(1.25), "1.25"},
		{String("hi"), "hi"},
		{Seq(nums(1, 2, 3)...), "[1, 2, 3]"},
		{Mapping(map[string]Value{"hello": String("World"), "a": Seq()}), "{a: [], hello: World}"},
		{NewArrayValue(), "array"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String())
	}
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(map[string]any{
		"n":    3,
		"f":    float32(0.5),
		"s":    "x",
		"list": []string{"a", "b"},
		"nil":  nil,
		"v":    Bool(false),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":    3.0,
		"f":    0.5,
		"s":    "x",
		"list": []any{"a", "b"},
		"nil":  nil,
		"v":    false,
	}, v.native())

	_, err = ValueOf(struct{}{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "struct {}")
	_, err = ValueOf(map[int]any{1: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Panics(t, func() { MustValueOf(make(chan int)) })

	for _, x := range []any{math.Inf(1), math.Inf(-1), math.NaN(), float32(math.Inf(1)), []any{1, math.NaN()}} {
		_, err := ValueOf(x)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%v", x)
	}
}

func TestNonFiniteNumbersRejected(t *testing.T) {
	doc := New()
	tx := doc.CurrentTransaction()
	arr := doc.GetArray("a")
	m := doc.GetMap("m")
	text := doc.GetText("t")
	require.NoError(t, text.Push(tx, "x"))

	for _, n := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		assert.ErrorIs(t, arr.Push(tx, Number(n)), ErrInvalidArgument)
		assert.ErrorIs(t, arr.Push(tx, Seq(Number(1), Number(n))), ErrInvalidArgument)
		assert.ErrorIs(t, m.Set(tx, "k", Mapping(map[string]Value{"n": Number(n)})), ErrInvalidArgument)
		assert.ErrorIs(t, text.Format(tx, 0, 1, Attrs{"size": Number(n)}), ErrInvalidArgument)
	}
	assert.Equal(t, 0, arr.Len())
	assert.False(t, m.ContainsKey("k"))

	// Encoding stays possible with an update observer attached.
	var updates int
	_, err := doc.OnUpdate(func([]byte) { updates++ })
	require.NoError(t, err)
	assert.NotPanics(t, func() { doc.Commit() })
	assert.NotPanics(t, func() { doc.FullDiff() })
	assert.Equal(t, 1, updates)
}

func TestValueAccessors(t *testing.T) {
	doc := New()
	arr := Shared(doc.GetArray("a"))

	_, ok := arr.AsArray()
	assert.True(t, ok)
	_, ok = arr.AsMap()
	assert.False(t, ok)
	_, ok = Number(1).AsString()
	assert.False(t, ok)
	n, ok := Number(1).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)

	assert.True(t, arr.Equal(Shared(doc.GetArray("a"))))
	assert.False(t, arr.Equal(Shared(doc.GetArray("b"))))
	assert.True(t, Seq(String("x")).Equal(Seq(String("x"))))
	assert.False(t, Null().Equal(Value{}))
}

func TestValueJSON(t *testing.T) {
	doc := New()
	arr := doc.GetArray("a")
	require.NoError(t, arr.Push(doc.CurrentTransaction(), Number(1), NewMapValue(map[string]Value{"k": Bool(true)})))

	b, err := json.Marshal(Seq(String("x"), Shared(arr)))
	require.NoError(t, err)
	assert.JSONEq(t, `["x", [1, {"k": true}]]`, string(b))

	b, err = json.Marshal(DeltaOp{Insert: []Value{Number(2)}, Attrs: Attrs{"bold": Bool(true)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"insert": [2], "attributes": {"bold": true}}`, string(b))
}
