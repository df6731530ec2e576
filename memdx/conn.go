package memdx

import (
	"context"
	"net"
	"sync"

	"github.com/couchbase/gocbmcx/contrib/leakcheck"
)

const DefaultWriteBufferSize = 16 * 1024

type DialConnOptions struct {
	Dialer          *net.Dialer
	WriteBufferSize int
}

// Conn is a framed memcached connection.  Frames may be written from any
// goroutine; reads must all happen on a single goroutine.
type Conn struct {
	conn   net.Conn
	reader PacketReader
	writer *PacketWriter

	closeOnce sync.Once
	closeErr  error
}

func DialConn(ctx context.Context, addr string, opts *DialConnOptions) (*Conn, error) {
	if opts == nil {
		opts = &DialConnOptions{}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	return NewConn(netConn, opts), nil
}

func NewConn(netConn net.Conn, opts *DialConnOptions) *Conn {
	if opts == nil {
		opts = &DialConnOptions{}
	}

	writeBufferSize := opts.WriteBufferSize
	if writeBufferSize <= 0 {
		writeBufferSize = DefaultWriteBufferSize
	}

	netConn = leakcheck.WrapConn(netConn)

	c := &Conn{
		conn: netConn,
	}

	// a failed write leaves the stream in an unknown state, so the socket is
	// closed, which in turn unblocks the reader.
	c.writer = NewPacketWriter(netConn, writeBufferSize, func(err error) {
		_ = netConn.Close()
	})

	return c
}

func (c *Conn) WriteFrame(frame []byte) error {
	_, err := c.writer.Write(frame)
	return err
}

func (c *Conn) ReadFrame(sizer func([]byte) int) ([]byte, error) {
	return c.reader.ReadFrame(c.conn, sizer)
}

// Close closes the connection and waits for the writer to stop.  It is safe
// to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.writer.Close()
		c.closeErr = c.conn.Close()
		<-c.writer.Done()
	})

	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
