package ydoc

import "github.com/alimasry/go-ydoc/crdt"

// Transaction is the scope every mutation runs in. Observers are notified
// once per transaction, when it commits.
type Transaction struct {
	doc *Doc
	txn *crdt.Txn
}

// Doc returns the document tx belongs to.
func (tx *Transaction) Doc() *Doc { return tx.doc }

// Commit ends the transaction and notifies observers. Committing twice is
// a no-op.
func (tx *Transaction) Commit() { tx.doc.commit(tx) }

// Committed reports whether the transaction has been committed.
func (tx *Transaction) Committed() bool { return tx.txn.Committed() }

// GetArray is Doc.GetArray on the transaction's document.
func (tx *Transaction) GetArray(name string) *Array { return tx.doc.GetArray(name) }

// GetMap is Doc.GetMap on the transaction's document.
func (tx *Transaction) GetMap(name string) *Map { return tx.doc.GetMap(name) }

// GetText is Doc.GetText on the transaction's document.
func (tx *Transaction) GetText(name string) *Text { return tx.doc.GetText(name) }

// GetXMLElement is Doc.GetXMLElement on the transaction's document.
func (tx *Transaction) GetXMLElement(name string) *XMLElement { return tx.doc.GetXMLElement(name) }

// GetXMLText is Doc.GetXMLText on the transaction's document.
func (tx *Transaction) GetXMLText(name string) *XMLText { return tx.doc.GetXMLText(name) }

// GetXMLFragment is Doc.GetXMLFragment on the transaction's document.
func (tx *Transaction) GetXMLFragment(name string) *XMLFragment {
	return tx.doc.GetXMLFragment(name)
}
