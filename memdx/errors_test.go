package memdx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerErrorText(t *testing.T) {
	err := &ServerError{
		Cause:   ErrKeyExists,
		OpCode:  OpCodeAdd,
		Status:  StatusKeyExists,
		Message: "Data exists for key.",
	}

	assert.Equal(t,
		"server error: key exists (status: KeyExists, opcode: ADD, message: `Data exists for key.`)",
		err.Error())
	assert.ErrorIs(t, err, ErrKeyExists)

	err.Message = ""
	assert.Equal(t, "server error: key exists (status: KeyExists, opcode: ADD)", err.Error())
}

func TestStatusToError(t *testing.T) {
	testCases := map[Status]error{
		StatusKeyExists:      ErrKeyExists,
		StatusTooBig:         ErrValueTooLarge,
		StatusInvalidArgs:    ErrInvalidArgs,
		StatusNotStored:      ErrNotStored,
		StatusBadDelta:       ErrBadDelta,
		StatusNotMyVBucket:   ErrNotMyVbucket,
		StatusAuthError:      ErrAuthError,
		StatusUnknownCommand: ErrUnknownCommand,
		StatusOutOfMemory:    ErrOutOfMemory,
		StatusNotSupported:   ErrNotSupported,
		StatusInternalError:  ErrInternalError,
		StatusBusy:           ErrBusy,
		StatusTmpFail:        ErrTmpFail,
		Status(0x1234):       ErrUnknownStatus,
	}

	for status, expectedErr := range testCases {
		assert.ErrorIs(t, statusToError(status), expectedErr, status.String())
	}
}

func TestTransportErrorsUnwrap(t *testing.T) {
	cause := errors.New("cause")

	assert.ErrorIs(t, closedInFlightError{cause: cause}, ErrClosedInFlight)
	assert.ErrorIs(t, closedInFlightError{cause: cause}, cause)
	assert.ErrorIs(t, closedInFlightError{}, ErrClosedInFlight)
	assert.Equal(t, ErrClosedInFlight.Error(), closedInFlightError{}.Error())

	assert.ErrorIs(t, dispatchError{cause: cause}, ErrDispatch)
	assert.ErrorIs(t, dispatchError{cause: cause}, cause)

	assert.ErrorIs(t, requestCancelledError{cause: cause}, ErrRequestCancelled)
	assert.ErrorIs(t, requestCancelledError{cause: cause}, cause)

	assert.ErrorIs(t, malformedFrameError{"short"}, ErrMalformedFrame)
	assert.ErrorIs(t, malformedFrameError{"short"}, ErrProtocol)
	assert.NotErrorIs(t, protocolError{"bad"}, ErrMalformedFrame)
}
