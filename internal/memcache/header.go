// Package memcache implements the response half of component H: the
// memcached binary protocol (spec §4.5, §6.4), used when a widget's
// content or resolver result is served out of a memcached-compatible
// cache.
package memcache

import (
	"encoding/binary"

	"github.com/cm4all/bengproxy/internal/bperror"
)

const (
	magicRequest  byte = 0x80
	magicResponse byte = 0x81

	headerSize = 24

	// opaqueFixed is the opaque value this engine always sends and
	// expects echoed back (spec §6.4: "Opaque is fixed at 0x1234").
	opaqueFixed uint32 = 0x1234
)

// Opcode identifies a memcached binary-protocol command.
type Opcode byte

const (
	OpcodeGet     Opcode = 0x00
	OpcodeSet     Opcode = 0x01
	OpcodeAdd     Opcode = 0x02
	OpcodeReplace Opcode = 0x03
	OpcodeDelete  Opcode = 0x04
)

// Status is a memcached binary-protocol response status code.
type Status uint16

const (
	StatusOK            Status = 0x0000
	StatusKeyNotFound   Status = 0x0001
	StatusKeyExists     Status = 0x0002
	StatusValueTooLarge Status = 0x0003
	StatusInvalidArgs   Status = 0x0004
	StatusItemNotStored Status = 0x0005
)

// Header is the 24-byte binary-protocol fixed header shared by
// requests and responses, laid out per the standard memcached binary
// protocol (magic, opcode, key length, extras length, data type,
// status/vbucket, total body length, opaque, CAS).
type Header struct {
	Magic        byte
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength byte
	DataType     byte
	Status       Status // request side uses this as vbucket id; unused here
	BodyLength   uint32 // extras + key + value
	Opaque       uint32
	CAS          uint64
}

func (h *Header) marshal() []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.Magic
	buf[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], h.KeyLength)
	buf[4] = h.ExtrasLength
	buf[5] = h.DataType
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Status))
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLength)
	binary.BigEndian.PutUint32(buf[12:16], h.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], h.CAS)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, bperror.New(bperror.Garbage, "memcache: short header")
	}
	h := Header{
		Magic:        buf[0],
		Opcode:       Opcode(buf[1]),
		KeyLength:    binary.BigEndian.Uint16(buf[2:4]),
		ExtrasLength: buf[4],
		DataType:     buf[5],
		Status:       Status(binary.BigEndian.Uint16(buf[6:8])),
		BodyLength:   binary.BigEndian.Uint32(buf[8:12]),
		Opaque:       binary.BigEndian.Uint32(buf[12:16]),
		CAS:          binary.BigEndian.Uint64(buf[16:24]),
	}
	if h.Magic != magicResponse {
		return Header{}, bperror.New(bperror.Garbage, "memcache: bad response magic")
	}
	if uint32(h.KeyLength)+uint32(h.ExtrasLength) > h.BodyLength {
		return Header{}, bperror.New(bperror.Garbage, "memcache: key+extras exceed body length")
	}
	return h, nil
}

// BuildRequest frames a complete request packet (header + extras +
// key + value). Requests are small and sent in one shot, unlike the
// streamed response.
func BuildRequest(opcode Opcode, extras, key, value []byte) []byte {
	h := Header{
		Magic:        magicRequest,
		Opcode:       opcode,
		KeyLength:    uint16(len(key)),
		ExtrasLength: byte(len(extras)),
		BodyLength:   uint32(len(extras) + len(key) + len(value)),
		Opaque:       opaqueFixed,
	}
	out := h.marshal()
	out = append(out, extras...)
	out = append(out, key...)
	out = append(out, value...)
	return out
}
