package memdx

import "encoding/hex"

// OpCode represents the specific command the packet is performing.
type OpCode uint8

// These constants provide predefined values for all the operations
// which are supported by this library.
const (
	OpCodeGet       = OpCode(0x00)
	OpCodeSet       = OpCode(0x01)
	OpCodeAdd       = OpCode(0x02)
	OpCodeReplace   = OpCode(0x03)
	OpCodeDelete    = OpCode(0x04)
	OpCodeIncrement = OpCode(0x05)
	OpCodeDecrement = OpCode(0x06)
	OpCodeQuit      = OpCode(0x07)
	OpCodeFlush     = OpCode(0x08)
	OpCodeNoop      = OpCode(0x0a)
	OpCodeVersion   = OpCode(0x0b)
	OpCodeAppend    = OpCode(0x0e)
	OpCodePrepend   = OpCode(0x0f)
	OpCodeStat      = OpCode(0x10)
)

// IsMultiPacket reports whether a single request with this opcode is
// answered by a run of response packets terminated by a packet with
// an empty key, rather than by a single packet.
func (command OpCode) IsMultiPacket() bool {
	return command == OpCodeStat
}

// String returns the string representation of the OpCode.
func (command OpCode) String() string {
	switch command {
	case OpCodeGet:
		return "GET"
	case OpCodeSet:
		return "SET"
	case OpCodeAdd:
		return "ADD"
	case OpCodeReplace:
		return "REPLACE"
	case OpCodeDelete:
		return "DELETE"
	case OpCodeIncrement:
		return "INCREMENT"
	case OpCodeDecrement:
		return "DECREMENT"
	case OpCodeQuit:
		return "QUIT"
	case OpCodeFlush:
		return "FLUSH"
	case OpCodeNoop:
		return "NOOP"
	case OpCodeVersion:
		return "VERSION"
	case OpCodeAppend:
		return "APPEND"
	case OpCodePrepend:
		return "PREPEND"
	case OpCodeStat:
		return "STAT"
	}

	return "x" + hex.EncodeToString([]byte{byte(command)})
}
