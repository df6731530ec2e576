package memdx

import "encoding/binary"

// PacketBytesNeeded returns how many more bytes buf needs before it holds the
// complete packet that starts at offset 0.  A result <= 0 means the packet is
// complete, and len(buf)+result is its length.
func PacketBytesNeeded(buf []byte) int {
	if len(buf) < HeaderLen {
		return HeaderLen - len(buf)
	}

	payloadLen := int(binary.BigEndian.Uint32(buf[8:]))
	return HeaderLen + payloadLen - len(buf)
}

// BytesNeeded returns how many more bytes buf needs before it holds the
// complete logical response to a request with the given opcode.  A result
// <= 0 means the response is complete, and len(buf)+result is its length.
//
// Multi-packet responses are only complete once a packet with an empty key
// has been fully received.  Until then the result is the number of bytes
// missing from the packet currently being walked, or a full header's worth
// when the buffer ends exactly on a packet boundary.
func BytesNeeded(opCode OpCode, buf []byte) int {
	if !opCode.IsMultiPacket() {
		return PacketBytesNeeded(buf)
	}

	offset := 0
	for {
		needed := PacketBytesNeeded(buf[offset:])
		if needed > 0 {
			return needed
		}

		packetLen := len(buf[offset:]) + needed
		keyLen := binary.BigEndian.Uint16(buf[offset+2:])
		offset += packetLen

		if keyLen == 0 {
			return offset - len(buf)
		}
	}
}

// FrameLen returns the length of the logical response to opCode at the
// start of buf, or false when buf does not hold all of it yet.
func FrameLen(opCode OpCode, buf []byte) (int, bool) {
	needed := BytesNeeded(opCode, buf)
	if needed > 0 {
		return 0, false
	}

	return len(buf) + needed, true
}
