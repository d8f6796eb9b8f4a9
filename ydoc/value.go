package ydoc

import (
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alimasry/go-ydoc/crdt"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	UndefinedValue ValueKind = iota
	NullValue
	BoolValue
	NumberValue
	StringValue
	SeqValue
	MappingValue
	SharedValue
)

func (k ValueKind) String() string {
	switch k {
	case NullValue:
		return "null"
	case BoolValue:
		return "bool"
	case NumberValue:
		return "number"
	case StringValue:
		return "string"
	case SeqValue:
		return "sequence"
	case MappingValue:
		return "mapping"
	case SharedValue:
		return "shared"
	}
	return "undefined"
}

// Value is the closed union of everything a shared type can hold. The zero
// Value is undefined and cannot be inserted.
type Value struct {
	kind   ValueKind
	b      bool
	n      float64
	s      string
	seq    []Value
	m      map[string]Value
	shared SharedType
	pre    *prelim
}

// prelim describes a nested shared type that does not exist yet. It is
// created in the document when the Value holding it is inserted.
type prelim struct {
	kind crdt.Kind
	seq  []Value
	m    map[string]Value
	text string
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: NullValue} }

// Bool wraps b.
func Bool(b bool) Value { return Value{kind: BoolValue, b: b} }

// Number wraps n. Infinities and NaN are rejected on insert.
func Number(n float64) Value { return Value{kind: NumberValue, n: n} }

// String wraps s.
func String(s string) Value { return Value{kind: StringValue, s: s} }

// Seq builds a plain, non-shared list.
func Seq(vs ...Value) Value { return Value{kind: SeqValue, seq: vs} }

// Mapping builds a plain, non-shared object.
func Mapping(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: MappingValue, m: m}
}

// Shared wraps an integrated shared type handle. Such values are produced by
// reads and cannot be inserted again.
func Shared(t SharedType) Value { return Value{kind: SharedValue, shared: t} }

// NewArrayValue describes a nested Array created on insert.
func NewArrayValue(vs ...Value) Value {
	return Value{kind: SharedValue, pre: &prelim{kind: crdt.KindArray, seq: vs}}
}

// NewMapValue describes a nested Map created on insert.
func NewMapValue(m map[string]Value) Value {
	return Value{kind: SharedValue, pre: &prelim{kind: crdt.KindMap, m: m}}
}

// NewTextValue describes a nested Text created on insert.
func NewTextValue(s string) Value {
	return Value{kind: SharedValue, pre: &prelim{kind: crdt.KindText, text: s}}
}

// ValueOf converts a Go value. Supported: nil, bool, integer and float
// types, string, Value, SharedType, and slices or string-keyed maps of those.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case SharedType:
		return Shared(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return Number(float64(v)), nil
	case int8:
		return Number(float64(v)), nil
	case int16:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint:
		return Number(float64(v)), nil
	case uint8:
		return Number(float64(v)), nil
	case uint16:
		return Number(float64(v)), nil
	case uint32:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		vs := make([]Value, rv.Len())
		for i := range vs {
			v, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			vs[i] = v
		}
		return Seq(vs...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			m[iter.Key().String()] = v
		}
		return Mapping(m), nil
	}
	return Value{}, argError("value", "unsupported type %T", x)
}

func finite(n float64) (Value, error) {
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return Value{}, argError("value", "non-finite number %v", n)
	}
	return Number(n), nil
}

// MustValueOf is ValueOf for literals known to convert.
func MustValueOf(x any) Value {
	v, err := ValueOf(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Kind returns the variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsUndefined reports whether v is the zero Value.
func (v Value) IsUndefined() bool { return v.kind == UndefinedValue }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == NullValue }

// AsBool returns the boolean held by v, if any.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolValue }

// AsNumber returns the number held by v, if any.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == NumberValue }

// AsString returns the string held by v, if any.
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringValue }

// AsSeq returns the list held by v, if any.
func (v Value) AsSeq() ([]Value, bool) { return v.seq, v.kind == SeqValue }

// AsMapping returns the object held by v, if any.
func (v Value) AsMapping() (map[string]Value, bool) {
	return v.m, v.kind == MappingValue
}

// AsShared returns the integrated handle held by v.
func (v Value) AsShared() (SharedType, bool) { return v.shared, v.shared != nil }

// AsArray returns the integrated Array held by v, if any.
func (v Value) AsArray() (*Array, bool) {
	a, ok := v.shared.(*Array)
	return a, ok
}

// AsMap returns the integrated Map held by v, if any.
func (v Value) AsMap() (*Map, bool) {
	m, ok := v.shared.(*Map)
	return m, ok
}

// AsText returns the integrated Text held by v, if any.
func (v Value) AsText() (*Text, bool) {
	t, ok := v.shared.(*Text)
	return t, ok
}

// Equal reports deep equality. Shared handles are equal when they refer to
// the same branch.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case BoolValue:
		return v.b == o.b
	case NumberValue:
		return v.n == o.n
	case StringValue:
		return v.s == o.s
	case SeqValue:
		return slices.EqualFunc(v.seq, o.seq, Value.Equal)
	case MappingValue:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, x := range v.m {
			y, ok := o.m[k]
			if !ok || !x.Equal(y) {
				return false
			}
		}
		return true
	case SharedValue:
		if v.shared != nil && o.shared != nil {
			return v.shared.branch() == o.shared.branch()
		}
		return v.pre == o.pre
	}
	return true
}

// String renders v for display: numbers without trailing zeros, sequences
// as [a, b], mappings as {k: v} with sorted keys, shared types through
// their own String.
func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb)
	return sb.String()
}

func (v Value) write(sb *strings.Builder) {
	switch v.kind {
	case NullValue:
		sb.WriteString("null")
	case BoolValue:
		sb.WriteString(strconv.FormatBool(v.b))
	case NumberValue:
		sb.WriteString(strconv.FormatFloat(v.n, 'f', -1, 64))
	case StringValue:
		sb.WriteString(v.s)
	case SeqValue:
		sb.WriteByte('[')
		for i, x := range v.seq {
			if i > 0 {
				sb.WriteString(", ")
			}
			x.write(sb)
		}
		sb.WriteByte(']')
	case MappingValue:
		sb.WriteByte('{')
		for i, k := range sortedKeys(v.m) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			v.m[k].write(sb)
		}
		sb.WriteByte('}')
	case SharedValue:
		if v.shared != nil {
			sb.WriteString(v.shared.String())
		} else {
			sb.WriteString(v.pre.kind.String())
		}
	default:
		sb.WriteString("undefined")
	}
}

// MarshalJSON encodes v; shared types encode their current content.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.jsonValue())
}

func (v Value) jsonValue() any {
	switch v.kind {
	case SeqValue:
		out := make([]any, len(v.seq))
		for i, x := range v.seq {
			out[i] = x.jsonValue()
		}
		return out
	case MappingValue:
		out := make(map[string]any, len(v.m))
		for k, x := range v.m {
			out[k] = x.jsonValue()
		}
		return out
	case SharedValue:
		if v.shared != nil {
			return v.shared.jsonValue()
		}
		return nil
	}
	return v.native()
}

// native converts a plain value to its engine form.
func (v Value) native() any {
	switch v.kind {
	case BoolValue:
		return v.b
	case NumberValue:
		return v.n
	case StringValue:
		return v.s
	case SeqValue:
		out := make([]any, len(v.seq))
		for i, x := range v.seq {
			out[i] = x.native()
		}
		return out
	case MappingValue:
		out := make(map[string]any, len(v.m))
		for k, x := range v.m {
			out[k] = x.native()
		}
		return out
	}
	return nil
}

// fromNative converts an engine value back.
func fromNative(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case string:
		return String(v)
	case []any:
		vs := make([]Value, len(v))
		for i, e := range v {
			vs[i] = fromNative(e)
		}
		return Seq(vs...)
	case map[string]any:
		m := make(map[string]Value, len(v))
		for k, e := range v {
			m[k] = fromNative(e)
		}
		return Mapping(m)
	}
	return Null()
}

// validate rejects values that cannot be inserted.
func validate(op string, v Value) error {
	return validateNested(op, v, true)
}

func validateNested(op string, v Value, topLevel bool) error {
	switch v.kind {
	case UndefinedValue:
		return argError(op, "undefined value")
	case NumberValue:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return argError(op, "non-finite number %v", v.n)
		}
	case StringValue:
		return validText(op, v.s)
	case SeqValue:
		for _, x := range v.seq {
			if err := validateNested(op, x, false); err != nil {
				return err
			}
		}
	case MappingValue:
		for _, x := range v.m {
			if err := validateNested(op, x, false); err != nil {
				return err
			}
		}
	case SharedValue:
		if v.shared != nil {
			return argError(op, "cannot insert integrated %s; use a preliminary value", v.shared.branch().Kind)
		}
		if !topLevel {
			return argError(op, "shared %s inside a plain collection", v.pre.kind)
		}
		if err := validText(op, v.pre.text); err != nil {
			return err
		}
		for _, x := range v.pre.seq {
			if err := validate(op, x); err != nil {
				return err
			}
		}
		for _, x := range v.pre.m {
			if err := validate(op, x); err != nil {
				return err
			}
		}
	}
	return nil
}

// validText rejects strings that are not valid UTF-8.
func validText(op, s string) error {
	if !utf8.ValidString(s) {
		return argError(op, "invalid UTF-8 in %q", s)
	}
	return nil
}

func contentOf(v Value) crdt.Content {
	if v.pre != nil {
		return crdt.TypeContent(v.pre.kind, "")
	}
	return crdt.AnyContent(v.native())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
