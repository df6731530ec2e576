package memdx

import (
	"errors"
	"fmt"
)

var (
	ErrKeyExists      = errors.New("key exists")
	ErrValueTooLarge  = errors.New("value too large")
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrNotStored      = errors.New("not stored")
	ErrBadDelta       = errors.New("bad delta")
	ErrNotMyVbucket   = errors.New("not my vbucket")
	ErrAuthError      = errors.New("auth error")
	ErrUnknownCommand = errors.New("unknown command")
	ErrOutOfMemory    = errors.New("out of memory")
	ErrNotSupported   = errors.New("not supported")
	ErrInternalError  = errors.New("internal error")
	ErrBusy           = errors.New("busy")
	ErrTmpFail        = errors.New("temporary failure")
	ErrUnknownStatus  = errors.New("unknown status")
)

var (
	ErrProtocol       = errors.New("protocol error")
	ErrMalformedFrame = errors.New("malformed frame")
)

var (
	// ErrDispatch indicates that a command could not be handed to the connection,
	// it was never written and no response will ever be read for it.
	ErrDispatch = errors.New("dispatch error")

	// ErrClosedInFlight indicates that the connection went away while the command
	// was waiting for its response.
	ErrClosedInFlight = errors.New("connection closed while operation in flight")

	// ErrRequestCancelled indicates that the command was resolved from outside
	// before its response arrived.
	ErrRequestCancelled = errors.New("request cancelled")
)

type protocolError struct {
	message string
}

func (e protocolError) Error() string {
	return "protocol error: " + e.message
}

func (e protocolError) Unwrap() error {
	return ErrProtocol
}

type malformedFrameError struct {
	message string
}

func (e malformedFrameError) Error() string {
	return "malformed frame: " + e.message
}

func (e malformedFrameError) Unwrap() []error {
	return []error{ErrMalformedFrame, ErrProtocol}
}

// ServerError is returned when the server answers a command with a status
// that is neither success nor the negative key-not-found result.
type ServerError struct {
	Cause   error
	OpCode  OpCode
	Status  Status
	Message string
}

func (e ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %s (status: %s, opcode: %s)",
			e.Cause, e.Status, e.OpCode)
	}

	return fmt.Sprintf("server error: %s (status: %s, opcode: %s, message: `%s`)",
		e.Cause, e.Status, e.OpCode, e.Message)
}

func (e ServerError) Unwrap() error {
	return e.Cause
}

func statusToError(status Status) error {
	switch status {
	case StatusKeyExists:
		return ErrKeyExists
	case StatusTooBig:
		return ErrValueTooLarge
	case StatusInvalidArgs:
		return ErrInvalidArgs
	case StatusNotStored:
		return ErrNotStored
	case StatusBadDelta:
		return ErrBadDelta
	case StatusNotMyVBucket:
		return ErrNotMyVbucket
	case StatusAuthError:
		return ErrAuthError
	case StatusUnknownCommand:
		return ErrUnknownCommand
	case StatusOutOfMemory:
		return ErrOutOfMemory
	case StatusNotSupported:
		return ErrNotSupported
	case StatusInternalError:
		return ErrInternalError
	case StatusBusy:
		return ErrBusy
	case StatusTmpFail:
		return ErrTmpFail
	}

	return ErrUnknownStatus
}

type closedInFlightError struct {
	cause error
}

func (e closedInFlightError) Error() string {
	if e.cause == nil {
		return ErrClosedInFlight.Error()
	}

	return fmt.Sprintf("%s: %s", ErrClosedInFlight, e.cause)
}

func (e closedInFlightError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrClosedInFlight}
	}

	return []error{ErrClosedInFlight, e.cause}
}

type requestCancelledError struct {
	cause error
}

func (e requestCancelledError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRequestCancelled, e.cause)
}

func (e requestCancelledError) Unwrap() []error {
	return []error{ErrRequestCancelled, e.cause}
}

type dispatchError struct {
	cause error
}

func (e dispatchError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDispatch, e.cause)
}

func (e dispatchError) Unwrap() []error {
	return []error{ErrDispatch, e.cause}
}
