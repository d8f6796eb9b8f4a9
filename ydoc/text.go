package ydoc

import (
	"strings"

	"github.com/alimasry/go-ydoc/crdt"
)

// Text is a sequence of characters and embeds, each carrying formatting
// attributes. Offsets count Unicode code points; an embed counts as one.
type Text struct {
	shared
}

// Chunk is a run of content with identical formatting. Insert holds a
// String for text runs and the embedded value otherwise.
type Chunk struct {
	Insert Value
	Attrs  Attrs
}

// Len returns the length in code points.
func (t *Text) Len() int { return t.b.Len() }

// Push appends s.
func (t *Text) Push(tx *Transaction, s string) error {
	return t.Insert(tx, t.Len(), s, nil)
}

// Insert places s at index i. With nil attrs the new text takes the
// formatting of the character before it; a non-nil map is used as is.
func (t *Text) Insert(tx *Transaction, i int, s string, attrs Attrs) error {
	const op = "text insert"
	if err := t.doc.check(op, tx); err != nil {
		return err
	}
	if i < 0 || i > t.Len() {
		return argError(op, "index %d out of bounds for length %d", i, t.Len())
	}
	if err := validateAttrs(op, attrs); err != nil {
		return err
	}
	if err := validText(op, s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if attrs == nil && i > 0 {
		left, _ := t.b.At(i - 1)
		attrs = attrsOf(left.Attrs())
	}
	_, err := tx.txn.InsertWithAttrs(t.b, i, attrs.native(), runeContents(s)...)
	return err
}

// InsertEmbed places a non-text value at index i.
func (t *Text) InsertEmbed(tx *Transaction, i int, v Value, attrs Attrs) error {
	const op = "text insert embed"
	if err := t.doc.check(op, tx); err != nil {
		return err
	}
	if i < 0 || i > t.Len() {
		return argError(op, "index %d out of bounds for length %d", i, t.Len())
	}
	if err := validateAttrs(op, attrs); err != nil {
		return err
	}
	return t.doc.insertValues(op, tx, t.b, i, attrs, v)
}

// Format applies attrs to n code points starting at i. A Null attribute
// value removes that attribute.
func (t *Text) Format(tx *Transaction, i, n int, attrs Attrs) error {
	const op = "text format"
	if err := t.doc.check(op, tx); err != nil {
		return err
	}
	if i < 0 || n < 0 || i+n > t.Len() {
		return argError(op, "range %d+%d out of bounds for length %d", i, n, t.Len())
	}
	if err := validateAttrs(op, attrs); err != nil {
		return err
	}
	if n == 0 || len(attrs) == 0 {
		return nil
	}
	return tx.txn.Format(t.b, i, n, attrs.native())
}

// RemoveRange removes n code points starting at i.
func (t *Text) RemoveRange(tx *Transaction, i, n int) error {
	return t.RemoveSlice(tx, Span(i, n))
}

// RemoveSlice removes the code points selected by spec, with the same
// semantics as Array.RemoveSlice.
func (t *Text) RemoveSlice(tx *Transaction, spec RemoveSpec) error {
	if err := t.doc.check("text remove", tx); err != nil {
		return err
	}
	start, n, err := spec.resolve(t.Len())
	if err != nil {
		return err
	}
	return tx.txn.Delete(t.b, start, n)
}

// Diff returns the content as runs of equally formatted text and embeds.
func (t *Text) Diff() []Chunk {
	var (
		chunks []Chunk
		run    strings.Builder
		attrs  Attrs
	)
	flush := func() {
		if run.Len() > 0 {
			chunks = append(chunks, Chunk{Insert: String(run.String()), Attrs: attrs})
			run.Reset()
		}
	}
	for _, it := range t.b.Items() {
		a := attrsOf(it.Attrs())
		if it.Content.Kind != crdt.ContentString {
			flush()
			chunks = append(chunks, Chunk{Insert: t.doc.itemValue(it), Attrs: a})
			continue
		}
		if run.Len() > 0 && !a.equal(attrs) {
			flush()
		}
		attrs = a
		run.WriteString(it.Content.Str)
	}
	flush()
	return chunks
}

// String returns the text with embeds rendered inline.
func (t *Text) String() string {
	var sb strings.Builder
	for _, it := range t.b.Items() {
		if it.Content.Kind == crdt.ContentString {
			sb.WriteString(it.Content.Str)
		} else {
			sb.WriteString(t.doc.itemValue(it).String())
		}
	}
	return sb.String()
}

func (t *Text) jsonValue() any { return t.String() }

func validateAttrs(op string, attrs Attrs) error {
	for k, v := range attrs {
		if v.IsUndefined() {
			return argError(op, "attribute %q is undefined", k)
		}
		if v.Kind() == SharedValue {
			return argError(op, "attribute %q holds a shared type", k)
		}
		if err := validateNested(op, v, false); err != nil {
			return err
		}
	}
	return nil
}
