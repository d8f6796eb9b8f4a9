package ydoc

// Array is an ordered sequence of values.
type Array struct {
	shared
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.b.Len() }

// Get returns the element at index i.
func (a *Array) Get(i int) (Value, bool) {
	it, ok := a.b.At(i)
	if !ok {
		return Value{}, false
	}
	return a.doc.itemValue(it), true
}

// Set replaces the element at index i.
func (a *Array) Set(tx *Transaction, i int, v Value) error {
	const op = "array set"
	if err := a.doc.check(op, tx); err != nil {
		return err
	}
	if i < 0 || i >= a.Len() {
		return argError(op, "index %d out of bounds for length %d", i, a.Len())
	}
	if err := validate(op, v); err != nil {
		return err
	}
	if err := tx.txn.Delete(a.b, i, 1); err != nil {
		return err
	}
	return a.doc.insertValues(op, tx, a.b, i, nil, v)
}

// Insert places vs at index i, shifting later elements right.
func (a *Array) Insert(tx *Transaction, i int, vs ...Value) error {
	const op = "array insert"
	if err := a.doc.check(op, tx); err != nil {
		return err
	}
	if i < 0 || i > a.Len() {
		return argError(op, "index %d out of bounds for length %d", i, a.Len())
	}
	return a.doc.insertValues(op, tx, a.b, i, nil, vs...)
}

// Push appends vs.
func (a *Array) Push(tx *Transaction, vs ...Value) error {
	return a.Insert(tx, a.Len(), vs...)
}

// PushFront prepends vs.
func (a *Array) PushFront(tx *Transaction, vs ...Value) error {
	return a.Insert(tx, 0, vs...)
}

// Concat appends the elements of every Seq argument. Other values are
// skipped.
func (a *Array) Concat(tx *Transaction, others ...Value) error {
	var vs []Value
	for _, o := range others {
		if seq, ok := o.AsSeq(); ok {
			vs = append(vs, seq...)
		}
	}
	return a.Push(tx, vs...)
}

// Pop removes and returns the last element.
func (a *Array) Pop(tx *Transaction) (Value, bool, error) {
	vs, err := a.PopN(tx, 1)
	if err != nil || len(vs) == 0 {
		return Value{}, false, err
	}
	return vs[0], true, nil
}

// PopN removes up to n elements from the end and returns them in order.
func (a *Array) PopN(tx *Transaction, n int) ([]Value, error) {
	if n < 0 {
		return nil, argError("array pop", "negative count %d", n)
	}
	n = min(n, a.Len())
	return a.take(tx, "array pop", a.Len()-n, n)
}

// Shift removes and returns the first element.
func (a *Array) Shift(tx *Transaction) (Value, bool, error) {
	vs, err := a.ShiftN(tx, 1)
	if err != nil || len(vs) == 0 {
		return Value{}, false, err
	}
	return vs[0], true, nil
}

// ShiftN removes up to n elements from the front and returns them.
func (a *Array) ShiftN(tx *Transaction, n int) ([]Value, error) {
	if n < 0 {
		return nil, argError("array shift", "negative count %d", n)
	}
	return a.take(tx, "array shift", 0, min(n, a.Len()))
}

func (a *Array) take(tx *Transaction, op string, start, n int) ([]Value, error) {
	if err := a.doc.check(op, tx); err != nil {
		return nil, err
	}
	vs := make([]Value, 0, n)
	for i := start; i < start+n; i++ {
		v, _ := a.Get(i)
		vs = append(vs, v)
	}
	if n == 0 {
		return vs, nil
	}
	return vs, tx.txn.Delete(a.b, start, n)
}

// RemoveAt removes the element at index i.
func (a *Array) RemoveAt(tx *Transaction, i int) error {
	return a.RemoveSlice(tx, At(i))
}

// RemoveRange removes n elements starting at i.
func (a *Array) RemoveRange(tx *Transaction, i, n int) error {
	return a.RemoveSlice(tx, Span(i, n))
}

// RemoveSlice removes the elements selected by spec. An invalid or out of
// bounds spec removes nothing.
func (a *Array) RemoveSlice(tx *Transaction, spec RemoveSpec) error {
	if err := a.doc.check("array remove", tx); err != nil {
		return err
	}
	start, n, err := spec.resolve(a.Len())
	if err != nil {
		return err
	}
	return tx.txn.Delete(a.b, start, n)
}

// ToSequence returns a snapshot of the elements.
func (a *Array) ToSequence() []Value {
	items := a.b.Items()
	vs := make([]Value, len(items))
	for i, it := range items {
		vs[i] = a.doc.itemValue(it)
	}
	return vs
}

// Each calls fn for every element in order.
func (a *Array) Each(fn func(i int, v Value)) {
	for i, v := range a.ToSequence() {
		fn(i, v)
	}
}

func (a *Array) String() string {
	return Seq(a.ToSequence()...).String()
}

func (a *Array) jsonValue() any {
	return Seq(a.ToSequence()...).jsonValue()
}
