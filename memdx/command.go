package memdx

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"
)

type CommandState uint32

const (
	// CommandStatePending is the state of a command that has not been encoded yet.
	CommandStatePending CommandState = iota

	// CommandStateSent is the state of a command whose request has been handed
	// to a transport.
	CommandStateSent

	// CommandStateResolved is the terminal state of a command that received a
	// response, positive or negative.
	CommandStateResolved

	// CommandStateFailed is the terminal state of a command that completed with
	// an error.
	CommandStateFailed
)

func (s CommandState) String() string {
	switch s {
	case CommandStatePending:
		return "Pending"
	case CommandStateSent:
		return "Sent"
	case CommandStateResolved:
		return "Resolved"
	case CommandStateFailed:
		return "Failed"
	}

	return fmt.Sprintf("CommandState(%d)", uint32(s))
}

// Response is the decoded outcome of a command that resolved without error.
type Response struct {
	Status Status
	Cas    uint64
	Extras []byte
	Key    []byte
	Value  []byte

	// Stats holds the entries of a multi-packet response, in arrival order.
	Stats []StatsEntry
}

// Negative reports whether the server answered with the key-not-found /
// not-stored status.  A negative response is a normal outcome and carries
// no value.
func (r *Response) Negative() bool {
	return r.Status == StatusKeyNotFound
}

// Command couples one request to exactly one result.  It is created per
// invocation, resolved exactly once and never reused.
//
// The handler, if any, is invoked synchronously by whichever goroutine
// resolves the command, so it must not block.
type Command struct {
	req     Request
	handler func(*Response, error)

	state  atomic.Uint32
	doneCh chan struct{}
	resp   *Response
	err    error
}

var _ PendingOp = (*Command)(nil)

func NewCommand(req *Request, handler func(*Response, error)) *Command {
	return &Command{
		req:     *req,
		handler: handler,
		doneCh:  make(chan struct{}),
	}
}

func (c *Command) OpCode() OpCode {
	return c.req.OpCode
}

func (c *Command) State() CommandState {
	return CommandState(c.state.Load())
}

// Encode returns the wire encoding of the request and marks the command as sent.
func (c *Command) Encode() ([]byte, error) {
	buf, err := EncodeRequest(&c.req)
	if err != nil {
		return nil, err
	}

	c.state.CompareAndSwap(uint32(CommandStatePending), uint32(CommandStateSent))
	return buf, nil
}

// Bytes reports how many more bytes buf needs before it holds the complete
// response to this command.  See BytesNeeded.
func (c *Command) Bytes(buf []byte) int {
	return BytesNeeded(c.req.OpCode, buf)
}

// Resolve completes the command from a complete response frame, or from a
// transport error when err is non-nil.  It returns false if the command had
// already been resolved, in which case nothing happens.
func (c *Command) Resolve(frame []byte, err error) bool {
	if c.isDone() {
		return false
	}

	if err != nil {
		return c.complete(nil, err)
	}

	resp, err := c.decodeFrame(frame)
	return c.complete(resp, err)
}

// Cancel fails the command with ErrRequestCancelled unless it has already
// been resolved.  The response, if it still arrives, is discarded.
func (c *Command) Cancel(err error) bool {
	if err == nil {
		err = errors.New("unspecified cancellation error")
	}

	return c.complete(nil, requestCancelledError{cause: err})
}

// Done returns a channel which is closed once the command has been resolved.
func (c *Command) Done() <-chan struct{} {
	return c.doneCh
}

// Result returns the outcome of the command.  It is only meaningful once
// Done has been closed.
func (c *Command) Result() (*Response, error) {
	select {
	case <-c.doneCh:
		return c.resp, c.err
	default:
		return nil, errors.New("command has not been resolved")
	}
}

// Wait blocks until the command is resolved.  If ctx finishes first, the
// command is cancelled with the context error.
func (c *Command) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.doneCh:
	case <-ctx.Done():
		c.Cancel(ctx.Err())
		<-c.doneCh
	}

	return c.resp, c.err
}

func (c *Command) isDone() bool {
	state := c.State()
	return state == CommandStateResolved || state == CommandStateFailed
}

func (c *Command) complete(resp *Response, err error) bool {
	finalState := CommandStateResolved
	if err != nil {
		finalState = CommandStateFailed
	}

	for {
		state := c.state.Load()
		if CommandState(state) == CommandStateResolved || CommandState(state) == CommandStateFailed {
			return false
		}

		if c.state.CompareAndSwap(state, uint32(finalState)) {
			break
		}
	}

	c.resp = resp
	c.err = err
	close(c.doneCh)

	if c.handler != nil {
		c.handler(resp, err)
	}

	return true
}

func (c *Command) checkPacket(pak *Packet) error {
	if !pak.Magic.IsResponse() {
		return protocolError{"unexpected request packet in response stream"}
	}

	if pak.OpCode != c.req.OpCode {
		return protocolError{fmt.Sprintf("response opcode %s does not match request opcode %s",
			pak.OpCode, c.req.OpCode)}
	}

	return nil
}

func (c *Command) serverError(pak *Packet) error {
	return &ServerError{
		Cause:   statusToError(pak.Status),
		OpCode:  pak.OpCode,
		Status:  pak.Status,
		Message: string(pak.Value),
	}
}

func (c *Command) decodeFrame(frame []byte) (*Response, error) {
	pak := &Packet{}
	n, err := DecodePacket(frame, pak)
	if err != nil {
		return nil, err
	}

	err = c.checkPacket(pak)
	if err != nil {
		return nil, err
	}

	switch pak.Status {
	case StatusSuccess:
	case StatusKeyNotFound:
		return &Response{
			Status: pak.Status,
			Cas:    pak.Cas,
		}, nil
	default:
		return nil, c.serverError(pak)
	}

	if !c.req.OpCode.IsMultiPacket() {
		return &Response{
			Status: pak.Status,
			Cas:    pak.Cas,
			Extras: pak.Extras,
			Key:    pak.Key,
			Value:  pak.Value,
		}, nil
	}

	entries := make([]StatsEntry, 0)
	offset := 0
	for {
		if pak.Status != StatusSuccess {
			return nil, c.serverError(pak)
		}

		if len(pak.Key) == 0 {
			return &Response{
				Status: StatusSuccess,
				Stats:  entries,
			}, nil
		}

		entries = append(entries, StatsEntry{
			Key:   string(pak.Key),
			Value: string(pak.Value),
		})

		offset += n
		if offset >= len(frame) {
			return nil, malformedFrameError{"multi-packet response ended before its terminating packet"}
		}

		n, err = DecodePacket(frame[offset:], pak)
		if err != nil {
			return nil, err
		}

		err = c.checkPacket(pak)
		if err != nil {
			return nil, err
		}
	}
}
