// Package ajp implements an AJPv13 client (component F, spec §4.3):
// the binary Apache JServ Protocol used to front servlet containers.
package ajp

import (
	"encoding/binary"
	"fmt"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// Code is an AJPv13 packet prefix code (the first payload byte).
type Code byte

const (
	CodeForwardRequest Code = 2
	CodeShutdown       Code = 7
	CodeCPing          Code = 10
	CodeCPong          Code = 9
	CodeSendBodyChunk  Code = 3
	CodeSendHeaders    Code = 4
	CodeEndResponse    Code = 5
	CodeGetBodyChunk   Code = 6
)

const (
	magicToServerA   = 0x12
	magicToServerB   = 0x34
	magicFromServerA = 'A'
	magicFromServerB = 'B'
	headerSize       = 4 // magicA, magicB, length16
)

// WritePacket frames payload as a client->server AJP packet
// ("{ 0x12, 0x34, length16, payload… }", spec §4.3).
func WritePacket(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	out[0] = magicToServerA
	out[1] = magicToServerB
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}

// ParsePacketHeader reads a 4-byte server->client packet header
// ("{ 'A', 'B', length16, payload… }"), returning the declared payload
// length. ok is false if buf doesn't yet hold a full header.
func ParsePacketHeader(buf []byte) (payloadLen int, ok bool, err error) {
	if len(buf) < headerSize {
		return 0, false, nil
	}
	if buf[0] != magicFromServerA || buf[1] != magicFromServerB {
		return 0, false, bperror.New(bperror.Garbage, fmt.Sprintf("ajp: bad packet magic %02x%02x", buf[0], buf[1]))
	}
	return int(binary.BigEndian.Uint16(buf[2:4])), true, nil
}

// putString encodes an AJP string: int16 length (not counting the NUL)
// followed by the bytes and a terminating NUL. An empty string is
// still length-0 + NUL (AJP has a distinct "null string" encoding of
// length -1, used only for absent/optional values, via putNullString).
func putString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, s...)
	dst = append(dst, 0)
	return dst
}

func putNullString(dst []byte) []byte {
	return append(dst, 0xFF, 0xFF)
}

func putUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func putByte(dst []byte, v byte) []byte {
	return append(dst, v)
}

// readString decodes an AJP string starting at buf[0]. A length of
// 0xFFFF denotes the null string and decodes to "".
func readString(buf []byte) (s string, consumed int, err error) {
	if len(buf) < 2 {
		return "", 0, bperror.New(bperror.Garbage, "ajp: truncated string length")
	}
	l := binary.BigEndian.Uint16(buf)
	if l == 0xFFFF {
		return "", 2, nil
	}
	n := int(l)
	if len(buf) < 2+n+1 {
		return "", 0, bperror.New(bperror.Garbage, "ajp: truncated string body")
	}
	return string(buf[2 : 2+n]), 2 + n + 1, nil
}
