package memdx

import (
	"bufio"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
)

// PacketWriter coalesces frames written from many goroutines into as few
// socket writes as possible.  Frames go out in the order Write was called.
// Write only blocks once more than a buffer's worth of bytes is waiting.
//
// After the first write error the writer stops, every later Write returns
// that error and the error handler is invoked once.
type PacketWriter struct {
	writer       *bufio.Writer
	errorHandler func(error)

	lock         sync.Mutex
	closed       bool
	bytesSig     *sync.Cond
	roomSig      *sync.Cond
	err          error
	frames       [][]byte
	pendingBytes atomic.Int64

	doneCh chan struct{}
}

var _ io.Writer = (*PacketWriter)(nil)

func NewPacketWriter(w io.Writer, size int, errorHandler func(error)) *PacketWriter {
	pw := &PacketWriter{
		writer:       bufio.NewWriterSize(w, size),
		errorHandler: errorHandler,
		frames:       make([][]byte, 0, 1024),
		doneCh:       make(chan struct{}),
	}

	pw.bytesSig = sync.NewCond(&pw.lock)
	pw.roomSig = sync.NewCond(&pw.lock)

	go pw.run()

	return pw
}

func (w *PacketWriter) run() {
	defer close(w.doneCh)

	frames := make([][]byte, 0, 1024)

	var err error
	w.lock.Lock()
	for {
		if w.err != nil {
			break
		}

		if len(w.frames) == 0 {
			if w.closed {
				break
			}

			w.bytesSig.Wait()
			continue
		}

		frames = append(frames[:0], w.frames...)
		w.frames = w.frames[:0]

		w.lock.Unlock()

		w.roomSig.Broadcast()

		var writtenBytes int
		for _, frame := range frames {
			writtenBytes += len(frame)

			_, err = w.writer.Write(frame)
			if err != nil {
				break
			}
		}

		newPendingBytes := w.pendingBytes.Sub(int64(writtenBytes))

		if err == nil {
			// less or equal handles the race between a frame being queued and
			// the pending bytes being updated under the lock in Write.
			if newPendingBytes <= 0 {
				err = w.writer.Flush()
			}
		}

		w.lock.Lock()

		if err != nil {
			w.err = err
			break
		}
	}
	w.lock.Unlock()

	w.roomSig.Broadcast()

	if err != nil && w.errorHandler != nil {
		w.errorHandler(err)
	}
}

func (w *PacketWriter) Write(frame []byte) (int, error) {
	writeBufferSize := int64(w.writer.Size())

	w.lock.Lock()
	for {
		if w.closed {
			w.lock.Unlock()
			return 0, net.ErrClosed
		}

		if w.err != nil {
			err := w.err
			w.lock.Unlock()
			return 0, err
		}

		if w.pendingBytes.Load() < writeBufferSize {
			break
		}

		w.roomSig.Wait()
	}

	w.frames = append(w.frames, frame)
	w.pendingBytes.Add(int64(len(frame)))

	w.lock.Unlock()

	w.bytesSig.Signal()

	return len(frame), nil
}

// Close stops accepting frames.  Frames already queued are still written.
func (w *PacketWriter) Close() error {
	w.lock.Lock()
	w.closed = true
	w.lock.Unlock()

	w.bytesSig.Signal()
	w.roomSig.Broadcast()

	return nil
}

// Done is closed once the writer goroutine has exited.
func (w *PacketWriter) Done() <-chan struct{} {
	return w.doneCh
}
