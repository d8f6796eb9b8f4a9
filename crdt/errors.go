package crdt

import "errors"

var (
	// ErrMalformedUpdate is returned when update bytes cannot be decoded.
	ErrMalformedUpdate = errors.New("malformed update")
	// ErrMalformedStateVector is returned when state vector bytes cannot be decoded.
	ErrMalformedStateVector = errors.New("malformed state vector")
	// ErrVersionMismatch is returned when an update was produced by a different codec.
	ErrVersionMismatch = errors.New("update encoding version mismatch")
	// ErrTxnCommitted is returned when mutating through a committed transaction.
	ErrTxnCommitted = errors.New("transaction already committed")
	// ErrIndexOutOfRange is returned when a sequence position lies past the end.
	ErrIndexOutOfRange = errors.New("index out of range")
)
