package awareness

import (
	"errors"
	"fmt"
)

var (
	// ErrClientNotFound is returned when an update is requested for a client
	// this instance has never seen.
	ErrClientNotFound = errors.New("awareness client not found")
	// ErrMalformedUpdate is returned for update bytes that do not decode.
	ErrMalformedUpdate = errors.New("malformed awareness update")
	// ErrInvalidState is returned when a local state is not valid JSON.
	ErrInvalidState = errors.New("awareness state is not valid JSON")
)

// ClientNotFoundError names the unknown client.
type ClientNotFoundError struct {
	ClientID uint64
}

func (e *ClientNotFoundError) Error() string {
	return fmt.Sprintf("awareness client %d not found", e.ClientID)
}

func (e *ClientNotFoundError) Unwrap() error { return ErrClientNotFound }
