package ydoc

// Map is a string-keyed collection of values.
type Map struct {
	shared
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	it, ok := m.b.Get(key)
	if !ok {
		return Value{}, false
	}
	return m.doc.itemValue(it), true
}

// Set stores v under key, replacing any previous value.
func (m *Map) Set(tx *Transaction, key string, v Value) error {
	const op = "map set"
	if err := m.doc.check(op, tx); err != nil {
		return err
	}
	return m.doc.setValue(op, tx, m.b, key, v)
}

// Delete removes key and returns the value it held.
func (m *Map) Delete(tx *Transaction, key string) (Value, bool, error) {
	if err := m.doc.check("map delete", tx); err != nil {
		return Value{}, false, err
	}
	it, ok, err := tx.txn.Remove(m.b, key)
	if err != nil || !ok {
		return Value{}, false, err
	}
	return m.doc.itemValue(it), true, nil
}

// DeleteOr is Delete, except that for an absent key fallback is called with
// the key and the undefined Value is returned.
func (m *Map) DeleteOr(tx *Transaction, key string, fallback func(key string)) (Value, error) {
	v, ok, err := m.Delete(tx, key)
	if err != nil {
		return Value{}, err
	}
	if !ok && fallback != nil {
		fallback(key)
	}
	return v, nil
}

// ContainsKey reports whether key holds a value.
func (m *Map) ContainsKey(key string) bool {
	_, ok := m.b.Get(key)
	return ok
}

// Clear removes every key.
func (m *Map) Clear(tx *Transaction) error {
	if err := m.doc.check("map clear", tx); err != nil {
		return err
	}
	for _, k := range m.b.Keys() {
		if _, _, err := tx.txn.Remove(m.b, k); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of keys.
func (m *Map) Size() int { return len(m.b.Keys()) }

// Keys returns the keys in sorted order.
func (m *Map) Keys() []string { return m.b.Keys() }

// Each calls fn for every entry in key order.
func (m *Map) Each(fn func(key string, v Value)) {
	for _, k := range m.b.Keys() {
		v, _ := m.Get(k)
		fn(k, v)
	}
}

// ToMapping returns a snapshot of the entries.
func (m *Map) ToMapping() map[string]Value {
	out := make(map[string]Value)
	m.Each(func(k string, v Value) { out[k] = v })
	return out
}

func (m *Map) String() string { return Mapping(m.ToMapping()).String() }

func (m *Map) jsonValue() any { return Mapping(m.ToMapping()).jsonValue() }
