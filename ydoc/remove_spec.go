package ydoc

import "fmt"

type specForm uint8

const (
	formInvalid specForm = iota
	formAt
	formSpan
	formRange
	formRangeExclusive
)

// RemoveSpec selects the items removed by RemoveSlice. Build one with At,
// Span, Range, RangeExclusive or ParseRemoveSpec; the zero value is invalid.
type RemoveSpec struct {
	form specForm
	a, b int
}

// At selects the single item at index i.
func At(i int) RemoveSpec { return RemoveSpec{form: formAt, a: i} }

// Span selects n items starting at start.
func Span(start, n int) RemoveSpec { return RemoveSpec{form: formSpan, a: start, b: n} }

// Range selects first through last inclusive, removing last-first+1 items.
func Range(first, last int) RemoveSpec { return RemoveSpec{form: formRange, a: first, b: last} }

// RangeExclusive selects first up to but excluding last, removing
// last-first items.
func RangeExclusive(first, last int) RemoveSpec {
	return RemoveSpec{form: formRangeExclusive, a: first, b: last}
}

// ParseRemoveSpec builds a spec from positional arguments: one argument is
// an index, two are a start and a length.
func ParseRemoveSpec(args ...int) (RemoveSpec, error) {
	switch len(args) {
	case 1:
		return At(args[0]), nil
	case 2:
		return Span(args[0], args[1]), nil
	}
	return RemoveSpec{}, argError("remove", "expected an index or a start and length, got %d arguments", len(args))
}

func (r RemoveSpec) String() string {
	switch r.form {
	case formAt:
		return fmt.Sprintf("at(%d)", r.a)
	case formSpan:
		return fmt.Sprintf("span(%d, %d)", r.a, r.b)
	case formRange:
		return fmt.Sprintf("[%d..%d]", r.a, r.b)
	case formRangeExclusive:
		return fmt.Sprintf("[%d..%d)", r.a, r.b)
	}
	return "invalid"
}

// resolve turns r into a start and count over a sequence of length n.
func (r RemoveSpec) resolve(n int) (start, count int, err error) {
	switch r.form {
	case formAt:
		start, count = r.a, 1
	case formSpan:
		start, count = r.a, r.b
	case formRange:
		start, count = r.a, r.b-r.a+1
	case formRangeExclusive:
		start, count = r.a, r.b-r.a
	default:
		return 0, 0, argError("remove", "invalid remove spec")
	}
	if start < 0 || count <= 0 || start+count > n {
		return 0, 0, argError("remove", "%s out of bounds for length %d", r, n)
	}
	return start, count, nil
}
