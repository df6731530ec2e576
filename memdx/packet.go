package memdx

import (
	"encoding/binary"
	"math"
)

// https://github.com/memcached/memcached/wiki/BinaryProtocolRevamped
//
// Every packet is a fixed 24 byte header followed by the extras, the key
// and the value, in that order. All integers are big-endian.
//
//	Byte/     0       |       1       |       2       |       3       |
//	   /              |               |               |               |
//	  |0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|
//	  +---------------+---------------+---------------+---------------+
//	 0| Magic         | Opcode        | Key length                    |
//	  +---------------+---------------+---------------+---------------+
//	 4| Extras length | Data type     | vbucket id / Status           |
//	  +---------------+---------------+---------------+---------------+
//	 8| Total body length                                             |
//	  +---------------+---------------+---------------+---------------+
//	12| Opaque                                                        |
//	  +---------------+---------------+---------------+---------------+
//	16| CAS                                                           |
//	  |                                                               |
//	  +---------------+---------------+---------------+---------------+
//	  Total 24 bytes

// HeaderLen is the size of the fixed packet header.
const HeaderLen = 24

type Packet struct {
	Magic     Magic
	OpCode    OpCode
	Datatype  uint8
	VbucketID uint16 // Only valid for Req-type packets
	Status    Status // Only valid for Res-type packets
	Opaque    uint32
	Cas       uint64
	Extras    []byte
	Key       []byte
	Value     []byte
}

// AppendPacket appends the wire encoding of pak to buf.
func AppendPacket(buf []byte, pak *Packet) ([]byte, error) {
	extrasLen := len(pak.Extras)
	keyLen := len(pak.Key)
	valueLen := len(pak.Value)
	payloadLen := extrasLen + keyLen + valueLen

	if keyLen > math.MaxUint16 {
		return buf, protocolError{"key too long to encode"}
	}

	if extrasLen > math.MaxUint8 {
		return buf, protocolError{"extras too long to encode"}
	}

	if uint64(payloadLen) > math.MaxUint32 {
		return buf, protocolError{"packet too long to encode"}
	}

	var statusOrVbucket uint16
	switch pak.Magic {
	case MagicReq:
		if pak.Status != 0 {
			return buf, protocolError{"cannot specify status in a request packet"}
		}
		statusOrVbucket = pak.VbucketID
	case MagicRes:
		if pak.VbucketID != 0 {
			return buf, protocolError{"cannot specify vbucket in a response packet"}
		}
		statusOrVbucket = uint16(pak.Status)
	default:
		return buf, protocolError{"invalid magic for encoding"}
	}

	// if the buffer isn't big enough, do a single resize so
	// we dont incrementally increase its size on each append.
	if cap(buf)-len(buf) < HeaderLen+payloadLen {
		newBuf := make([]byte, len(buf), len(buf)+HeaderLen+payloadLen)
		copy(newBuf, buf)
		buf = newBuf
	}

	buf = append(buf, uint8(pak.Magic), uint8(pak.OpCode))
	buf = binary.BigEndian.AppendUint16(buf, uint16(keyLen))
	buf = append(buf, uint8(extrasLen), pak.Datatype)
	buf = binary.BigEndian.AppendUint16(buf, statusOrVbucket)
	buf = binary.BigEndian.AppendUint32(buf, uint32(payloadLen))
	buf = binary.BigEndian.AppendUint32(buf, pak.Opaque)
	buf = binary.BigEndian.AppendUint64(buf, pak.Cas)

	buf = append(buf, pak.Extras...)
	buf = append(buf, pak.Key...)
	buf = append(buf, pak.Value...)

	return buf, nil
}

// DecodePacket decodes the packet starting at offset 0 of buf into pak and
// returns the number of bytes it occupies. The extras, key and value of pak
// reference buf rather than copying it. A key length of 0 leaves pak.Key nil.
func DecodePacket(buf []byte, pak *Packet) (int, error) {
	if len(buf) < HeaderLen {
		return 0, malformedFrameError{"buffer shorter than packet header"}
	}

	magic := Magic(buf[0])
	if !magic.IsRequest() && !magic.IsResponse() {
		return 0, protocolError{"invalid magic " + magic.String()}
	}

	keyLen := int(binary.BigEndian.Uint16(buf[2:]))
	extrasLen := int(buf[4])
	payloadLen := int(binary.BigEndian.Uint32(buf[8:]))

	if payloadLen < extrasLen+keyLen {
		return 0, malformedFrameError{"total body length is smaller than extras and key"}
	}

	packetLen := HeaderLen + payloadLen
	if len(buf) < packetLen {
		return 0, malformedFrameError{"buffer shorter than total body length"}
	}

	pak.Magic = magic
	pak.OpCode = OpCode(buf[1])
	pak.Datatype = buf[5]

	if magic.IsRequest() {
		pak.VbucketID = binary.BigEndian.Uint16(buf[6:])
		pak.Status = 0
	} else {
		pak.VbucketID = 0
		pak.Status = Status(binary.BigEndian.Uint16(buf[6:]))
	}

	pak.Opaque = binary.BigEndian.Uint32(buf[12:])
	pak.Cas = binary.BigEndian.Uint64(buf[16:])

	payloadPos := HeaderLen

	pak.Extras = nil
	if extrasLen > 0 {
		pak.Extras = buf[payloadPos : payloadPos+extrasLen : payloadPos+extrasLen]
	}
	payloadPos += extrasLen

	pak.Key = nil
	if keyLen > 0 {
		pak.Key = buf[payloadPos : payloadPos+keyLen : payloadPos+keyLen]
	}
	payloadPos += keyLen

	pak.Value = nil
	if payloadPos < packetLen {
		pak.Value = buf[payloadPos:packetLen:packetLen]
	}

	return packetLen, nil
}

// EncodeRequest encodes req as a single request packet.  The vbucket, opaque
// and cas fields are always zero.
func EncodeRequest(req *Request) ([]byte, error) {
	var extrasBuf []byte
	if req.Extras != nil {
		extrasBuf = req.Extras.appendExtras(make([]byte, 0, req.Extras.extrasLen()))
	}

	return AppendPacket(nil, &Packet{
		Magic:  MagicReq,
		OpCode: req.OpCode,
		Extras: extrasBuf,
		Key:    req.Key,
		Value:  req.Value,
	})
}

// DecodeResponse decodes the response packet at the start of buf.
func DecodeResponse(buf []byte) (*Packet, error) {
	pak := &Packet{}
	_, err := DecodePacket(buf, pak)
	if err != nil {
		return nil, err
	}

	if !pak.Magic.IsResponse() {
		return nil, protocolError{"expected a response packet but got " + pak.Magic.String()}
	}

	return pak, nil
}
