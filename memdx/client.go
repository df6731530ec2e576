package memdx

import (
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/couchbase/gocbmcx/zaputils"
)

var enablePacketLogging bool = os.Getenv("GOCBMCX_PACKET_LOGGING") != ""

// Client pipelines commands over a single connection.  Requests are written in
// the order Dispatch is called and responses are matched to them strictly in
// that same order, so any number of commands may be in flight at once.
type Client struct {
	conn          *Conn
	orphanHandler func(*Packet)
	closeHandler  func(error)
	logger        *zap.Logger

	// dispatchLock makes queueing a command and writing its request a single
	// step, so the queue order always matches the wire order.
	dispatchLock sync.Mutex
	pending      PendingQueue

	closed  atomic.Bool
	runDone chan struct{}
}

var _ Dispatcher = (*Client)(nil)

type ClientOptions struct {
	// OrphanHandler receives response packets that arrive while no command is
	// pending.  Without one, such a packet closes the client.
	OrphanHandler func(*Packet)

	// CloseHandler is invoked from the read goroutine once the connection has
	// gone away.  It must not call Close.
	CloseHandler func(error)

	Logger *zap.Logger
}

func NewClient(conn *Conn, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		conn:          conn,
		orphanHandler: opts.OrphanHandler,
		closeHandler:  opts.CloseHandler,
		logger:        logger,
		runDone:       make(chan struct{}),
	}
	go c.run()

	return c
}

func (c *Client) run() {
	defer close(c.runDone)

	var closeErr error
	for {
		frame, err := c.conn.ReadFrame(c.frameBytesNeeded)
		if err != nil {
			closeErr = err
			break
		}

		err = c.dispatchFrame(frame)
		if err != nil {
			c.logger.Debug("failed to dispatch frame", zap.Error(err))
			closeErr = err
			break
		}
	}

	_ = c.conn.Close()

	numFailed := c.pending.Close(closedInFlightError{cause: closeErr})
	if numFailed > 0 {
		c.logger.Debug("failed in-flight operations after connection close",
			zap.Int("count", numFailed),
			zap.Error(closeErr))
	}

	if c.closeHandler != nil {
		c.closeHandler(closeErr)
	}
}

// frameBytesNeeded sizes the next frame using the oldest pending command.
// With nothing pending the frame can only be an orphan, which is sized as
// a response to whatever opcode its own header names.
func (c *Client) frameBytesNeeded(buf []byte) int {
	cmd := c.pending.Peek()
	if cmd != nil {
		return cmd.Bytes(buf)
	}

	if len(buf) < HeaderLen {
		return HeaderLen - len(buf)
	}

	return BytesNeeded(OpCode(buf[1]), buf)
}

func (c *Client) dispatchFrame(frame []byte) error {
	if enablePacketLogging {
		pak := &Packet{}
		if _, err := DecodePacket(frame, pak); err == nil {
			c.logger.Debug("read packet",
				zap.String("magic", pak.Magic.String()),
				zaputils.OpCode("opcode", pak.OpCode),
				zap.Uint8("datatype", pak.Datatype),
				zap.String("status", pak.Status.String()),
				zap.Uint64("cas", pak.Cas),
				zap.Binary("extras", pak.Extras),
				zaputils.Key("key", pak.Key),
				zap.Binary("value", pak.Value),
				zap.Int("frameLen", len(frame)),
			)
		}
	}

	cmd := c.pending.Pop()
	if cmd == nil {
		pak := &Packet{}
		_, err := DecodePacket(frame, pak)
		if err != nil {
			return err
		}

		if c.orphanHandler == nil {
			return errors.New("response packet with no pending command")
		}

		c.orphanHandler(pak)
		return nil
	}

	if !cmd.Resolve(frame, nil) {
		c.logger.Debug("discarded response for already resolved command",
			zaputils.OpCode("opcode", cmd.OpCode()),
			zap.String("state", cmd.State().String()))
	}

	return nil
}

// Dispatch writes the command's request and queues it for its response.  The
// command's handler may run before Dispatch returns.  Either the command is
// eventually resolved or Dispatch returns an error, never both.
func (c *Client) Dispatch(cmd *Command) error {
	frame, err := cmd.Encode()
	if err != nil {
		return err
	}

	if enablePacketLogging {
		c.logger.Debug("writing packet",
			zaputils.OpCode("opcode", cmd.OpCode()),
			zap.Binary("frame", frame),
		)
	}

	c.dispatchLock.Lock()

	err = c.pending.Push(cmd)
	if err != nil {
		c.dispatchLock.Unlock()
		return dispatchError{cause: err}
	}

	err = c.conn.WriteFrame(frame)

	c.dispatchLock.Unlock()

	if err != nil {
		c.logger.Debug("failed to write packet",
			zap.Error(err),
			zaputils.OpCode("opcode", cmd.OpCode()),
		)

		if !c.pending.Remove(cmd) {
			// the command was already failed by the connection closing while we
			// were writing, and its handler has run.  Pretend the write worked.
			return nil
		}

		return dispatchError{cause: err}
	}

	return nil
}

// PendingCount returns how many commands are waiting for a response.
func (c *Client) PendingCount() int {
	return c.pending.Len()
}

// Close closes the connection, fails every in-flight command with
// ErrClosedInFlight and waits for the read goroutine to exit.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.conn.Close()

	c.pending.Close(closedInFlightError{cause: net.ErrClosed})

	<-c.runDone

	return err
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
