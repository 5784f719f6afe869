package ajp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// methodCodes is the AJP13 fixed method-code table (protocol data
// type "method", values 1-28 in the Apache Tomcat AJP specification).
// Only the subset this engine's HTTP layer ever forwards is listed;
// anything else falls back to being rejected rather than guessed.
var methodCodes = map[string]byte{
	http.MethodOptions: 1,
	http.MethodGet:      2,
	http.MethodHead:     3,
	http.MethodPost:     4,
	http.MethodPut:      5,
	http.MethodDelete:   6,
	"TRACE":             7,
	"PROPFIND":          8,
	"PROPPATCH":         9,
}

// commonHeaderCodes is AJP13's table of well-known request header
// names, sent as a 2-byte 0xA0xx code instead of a length-prefixed
// string to save bytes on the wire.
var commonHeaderCodes = map[string]uint16{
	"Accept":            0xA001,
	"Accept-Charset":    0xA002,
	"Accept-Encoding":   0xA003,
	"Accept-Language":   0xA004,
	"Authorization":     0xA005,
	"Connection":        0xA006,
	"Content-Type":      0xA007,
	"Content-Length":    0xA008,
	"Cookie":            0xA009,
	"Cookie2":           0xA00A,
	"Host":              0xA00B,
	"Pragma":            0xA00C,
	"Referer":           0xA00D,
	"User-Agent":        0xA00E,
}

// ForwardRequest is everything BuildForwardRequest needs to frame a
// FORWARD_REQUEST packet (spec §4.3 "Request").
type ForwardRequest struct {
	Method        string
	URI           string
	Headers       http.Header
	ServerName    string
	ServerAddr    string
	ServerPort    int
	RemoteAddr    string
	IsSSL         bool
	ContentLength int64 // -1 if unknown/absent
}

// BuildForwardRequest frames a complete FORWARD_REQUEST packet
// (already length-patched, spec §4.3 "header length is patched before
// send" — here done by building the payload fully in memory first,
// since unlike an HTTP body an AJP header block is always bounded).
func BuildForwardRequest(r ForwardRequest) ([]byte, error) {
	methodCode, ok := methodCodes[strings.ToUpper(r.Method)]
	if !ok {
		return nil, bperror.New(bperror.Semantics, fmt.Sprintf("ajp: unsupported method %q", r.Method))
	}

	payload := make([]byte, 0, 256)
	payload = putByte(payload, byte(CodeForwardRequest))
	payload = putByte(payload, methodCode)
	payload = putString(payload, r.URI)
	payload = putString(payload, r.RemoteAddr)
	payload = putString(payload, "") // remote host: not resolved by this engine
	payload = putString(payload, r.ServerName)
	payload = putUint16(payload, uint16(r.ServerPort))
	if r.IsSSL {
		payload = putByte(payload, 1)
	} else {
		payload = putByte(payload, 0)
	}
	payload = putNullString(payload) // protocol version, unused

	headers := r.Headers.Clone()
	if r.ContentLength >= 0 {
		headers.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	payload = putUint16(payload, uint16(len(names)))
	for _, name := range names {
		value := headers.Get(name)
		if code, ok := commonHeaderCodes[http.CanonicalHeaderKey(name)]; ok {
			payload = putUint16(payload, code)
		} else {
			payload = putString(payload, name)
		}
		payload = putString(payload, value)
	}
	payload = putByte(payload, 0xFF) // request_terminator: no attributes

	return WritePacket(payload), nil
}
