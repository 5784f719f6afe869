// Package was implements the Web Application Socket protocol
// (component G, spec §4.4): a typed control channel plus two separate
// data pipes for the request and response bodies.
package was

import (
	"encoding/binary"
	"fmt"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// Command is a WAS control-channel packet type.
type Command byte

const (
	CommandNop         Command = 0
	CommandRequest     Command = 1
	CommandMethod      Command = 2
	CommandURI         Command = 3
	CommandScriptName  Command = 4
	CommandPathInfo    Command = 5
	CommandQueryString Command = 6
	CommandHeader      Command = 7
	CommandParameter   Command = 8
	CommandStatus      Command = 9
	CommandNoData      Command = 10
	CommandData        Command = 11
	CommandLength      Command = 12
	CommandStop        Command = 13
	CommandPremature   Command = 14
)

func (c Command) String() string {
	switch c {
	case CommandNop:
		return "NOP"
	case CommandRequest:
		return "REQUEST"
	case CommandMethod:
		return "METHOD"
	case CommandURI:
		return "URI"
	case CommandScriptName:
		return "SCRIPT_NAME"
	case CommandPathInfo:
		return "PATH_INFO"
	case CommandQueryString:
		return "QUERY_STRING"
	case CommandHeader:
		return "HEADER"
	case CommandParameter:
		return "PARAMETER"
	case CommandStatus:
		return "STATUS"
	case CommandNoData:
		return "NO_DATA"
	case CommandData:
		return "DATA"
	case CommandLength:
		return "LENGTH"
	case CommandStop:
		return "STOP"
	case CommandPremature:
		return "PREMATURE"
	default:
		return fmt.Sprintf("WAS(%d)", byte(c))
	}
}

const controlHeaderSize = 3 // command8, length16

// WritePacket frames a control-channel packet: {command8, length16, payload}.
func WritePacket(cmd Command, payload []byte) []byte {
	out := make([]byte, controlHeaderSize+len(payload))
	out[0] = byte(cmd)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)
	return out
}

// WriteEmpty frames a zero-payload packet (e.g. NO_DATA, STOP).
func WriteEmpty(cmd Command) []byte { return WritePacket(cmd, nil) }

// WriteString frames a packet whose payload is a raw (non-terminated) string.
func WriteString(cmd Command, s string) []byte { return WritePacket(cmd, []byte(s)) }

// WriteUint64 frames an 8-byte little-endian integer payload, matching
// the WAS protocol's native word size for LENGTH/PREMATURE.
func WriteUint64(cmd Command, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return WritePacket(cmd, b[:])
}

// ParsePacketHeader reads the 3-byte control header. ok is false if buf
// doesn't yet hold a complete header.
func ParsePacketHeader(buf []byte) (cmd Command, payloadLen int, ok bool, err error) {
	if len(buf) < controlHeaderSize {
		return 0, 0, false, nil
	}
	cmd = Command(buf[0])
	payloadLen = int(binary.BigEndian.Uint16(buf[1:3]))
	return cmd, payloadLen, true, nil
}

// ReadUint64 decodes an 8-byte little-endian integer payload (LENGTH,
// PREMATURE).
func ReadUint64(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, bperror.New(bperror.Garbage, "was: malformed 8-byte integer payload")
	}
	return binary.LittleEndian.Uint64(payload), nil
}
