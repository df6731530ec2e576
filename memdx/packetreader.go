package memdx

import (
	"errors"
	"io"
)

const minReadSize = 4096

// PacketReader reads length-delimited frames out of a byte stream.  Bytes
// read past the end of a frame are kept for the next call, so a single
// reader must be used for the lifetime of the stream.
type PacketReader struct {
	buf []byte
}

// ReadFrame reads until sizer reports that the buffered bytes hold a
// complete frame, then returns a copy of that frame.  sizer follows the
// BytesNeeded contract.
func (pr *PacketReader) ReadFrame(r io.Reader, sizer func([]byte) int) ([]byte, error) {
	for {
		needed := sizer(pr.buf)
		if needed <= 0 {
			frameLen := len(pr.buf) + needed

			// the frame escapes to the caller through the decoded packet, so it
			// gets its own allocation rather than aliasing the read buffer.
			frame := make([]byte, frameLen)
			copy(frame, pr.buf)

			remaining := copy(pr.buf, pr.buf[frameLen:])
			pr.buf = pr.buf[:remaining]

			return frame, nil
		}

		bufLen := len(pr.buf)
		readSize := needed
		if readSize < minReadSize {
			readSize = minReadSize
		}

		if cap(pr.buf)-bufLen < readSize {
			newBuf := make([]byte, bufLen, bufLen+readSize)
			copy(newBuf, pr.buf)
			pr.buf = newBuf
		}

		n, err := io.ReadAtLeast(r, pr.buf[bufLen:bufLen+readSize], needed)
		pr.buf = pr.buf[:bufLen+n]
		if err != nil {
			if errors.Is(err, io.EOF) && len(pr.buf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// ReadPacket reads and decodes a single packet.
func (pr *PacketReader) ReadPacket(r io.Reader, pak *Packet) error {
	frame, err := pr.ReadFrame(r, PacketBytesNeeded)
	if err != nil {
		return err
	}

	_, err = DecodePacket(frame, pak)
	return err
}
