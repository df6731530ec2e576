package gocbmcx

import (
	"errors"
	"fmt"

	"github.com/couchbase/gocbmcx/memdx"
)

var (
	ErrKeyExists     = memdx.ErrKeyExists
	ErrNotStored     = memdx.ErrNotStored
	ErrValueTooLarge = memdx.ErrValueTooLarge
	ErrBadDelta      = memdx.ErrBadDelta
)

var (
	// ErrClientClosed is returned for any operation on a Client after Close.
	ErrClientClosed = errors.New("client closed")

	// ErrReconnectBlocked is returned while recent reconnect attempts have been
	// failing and new attempts are being held back.
	ErrReconnectBlocked = errors.New("reconnect blocked after repeated failures")
)

// ClientDispatchError indicates that an operation was never written to the
// server, so it is always safe to retry.
type ClientDispatchError struct {
	Cause error
}

func (e ClientDispatchError) Error() string {
	return fmt.Sprintf("dispatch error: %s", e.Cause)
}

func (e ClientDispatchError) Unwrap() error {
	return e.Cause
}
