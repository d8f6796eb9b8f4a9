package ydoc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is the sentinel every *ArgumentError unwraps to.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMissingObserver is returned by Attach and OnUpdate when given nil.
	ErrMissingObserver = errors.New("missing observer")
	// ErrTransactionCommitted is returned when mutating through a committed transaction.
	ErrTransactionCommitted = errors.New("transaction already committed")
)

// ArgumentError reports input rejected before any mutation took place.
type ArgumentError struct {
	Op  string
	Msg string
}

func (e *ArgumentError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

func argError(op, format string, args ...any) error {
	return &ArgumentError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
