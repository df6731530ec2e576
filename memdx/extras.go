package memdx

import "encoding/binary"

// DefaultStoreFlags is the item flags value written by every store operation.
const DefaultStoreFlags = uint32(0xdeadbeef)

// Extras is one of the fixed extras layouts that can precede the key of a
// request.  The set of layouts is closed: StoreExtras, CounterExtras and
// FlushExtras.
type Extras interface {
	extrasLen() int
	appendExtras(buf []byte) []byte
}

// StoreExtras is the extras layout of set, add and replace.
type StoreExtras struct {
	Flags  uint32
	Expiry uint32
}

const storeExtrasLen = 8

func (e StoreExtras) extrasLen() int { return storeExtrasLen }

func (e StoreExtras) appendExtras(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, e.Flags)
	buf = binary.BigEndian.AppendUint32(buf, e.Expiry)
	return buf
}

func DecodeStoreExtras(buf []byte) (StoreExtras, error) {
	if len(buf) != storeExtrasLen {
		return StoreExtras{}, protocolError{"invalid store extras length"}
	}

	return StoreExtras{
		Flags:  binary.BigEndian.Uint32(buf[0:]),
		Expiry: binary.BigEndian.Uint32(buf[4:]),
	}, nil
}

// CounterExtras is the extras layout of increment and decrement.  Initial is
// the value the server creates the item with when it does not exist yet.
type CounterExtras struct {
	Delta   uint64
	Initial uint64
	Expiry  uint32
}

const counterExtrasLen = 20

func (e CounterExtras) extrasLen() int { return counterExtrasLen }

func (e CounterExtras) appendExtras(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, e.Delta)
	buf = binary.BigEndian.AppendUint64(buf, e.Initial)
	buf = binary.BigEndian.AppendUint32(buf, e.Expiry)
	return buf
}

func DecodeCounterExtras(buf []byte) (CounterExtras, error) {
	if len(buf) != counterExtrasLen {
		return CounterExtras{}, protocolError{"invalid counter extras length"}
	}

	return CounterExtras{
		Delta:   binary.BigEndian.Uint64(buf[0:]),
		Initial: binary.BigEndian.Uint64(buf[8:]),
		Expiry:  binary.BigEndian.Uint32(buf[16:]),
	}, nil
}

// FlushExtras is the extras layout of flush.
type FlushExtras struct {
	Expiry uint32
}

const flushExtrasLen = 4

func (e FlushExtras) extrasLen() int { return flushExtrasLen }

func (e FlushExtras) appendExtras(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, e.Expiry)
}

// DecodeFlushExtras decodes flush extras, which may be absent entirely.
func DecodeFlushExtras(buf []byte) (FlushExtras, error) {
	if len(buf) == 0 {
		return FlushExtras{}, nil
	}

	if len(buf) != flushExtrasLen {
		return FlushExtras{}, protocolError{"invalid flush extras length"}
	}

	return FlushExtras{
		Expiry: binary.BigEndian.Uint32(buf[0:]),
	}, nil
}

// Request is an immutable description of a single request packet.
type Request struct {
	OpCode OpCode
	Key    []byte
	Value  []byte
	Extras Extras
}
