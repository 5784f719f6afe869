package memcache

import (
	"context"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
)

func TestBuildRequestFramesHeaderAndOpaque(t *testing.T) {
	pkt := BuildRequest(OpcodeGet, nil, []byte("widget:1"), nil)
	if pkt[0] != magicRequest {
		t.Fatalf("bad magic %x", pkt[0])
	}
	if Opcode(pkt[1]) != OpcodeGet {
		t.Fatalf("bad opcode %x", pkt[1])
	}
	h, err := parseHeader(append([]byte{magicResponse}, pkt[1:]...))
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if h.Opaque != opaqueFixed {
		t.Fatalf("opaque = %x, want %x", h.Opaque, opaqueFixed)
	}
	if int(h.KeyLength) != len("widget:1") {
		t.Fatalf("key length = %d", h.KeyLength)
	}
}

type capturingHandler struct {
	status Status
	extras []byte
	key    []byte
	value  istream.Istream
	err    error
}

func (h *capturingHandler) OnResponse(status Status, extras, key []byte, value istream.Istream) {
	h.status, h.extras, h.key, h.value = status, extras, key, value
}
func (h *capturingHandler) OnError(err error) { h.err = err }

func TestClientParsesResponseWithValue(t *testing.T) {
	handler := &capturingHandler{}
	c := NewClient(handler)

	h := Header{
		Magic:        magicResponse,
		Opcode:       OpcodeGet,
		KeyLength:    0,
		ExtrasLength: 0,
		Status:       StatusOK,
		BodyLength:   5,
		Opaque:       opaqueFixed,
	}
	wire := append(h.marshal(), []byte("hello")...)

	consumed := c.OnData(wire)
	if consumed != len(wire) {
		t.Fatalf("consumed %d, want %d", consumed, len(wire))
	}
	if handler.status != StatusOK {
		t.Fatalf("status = %v", handler.status)
	}
	col := istreamtest.Drain(context.Background(), handler.value, 5)
	if col.Err != nil {
		t.Fatalf("drain error: %v", col.Err)
	}
	if string(col.Data) != "hello" {
		t.Fatalf("value = %q", col.Data)
	}
	if !col.EOF {
		t.Fatalf("expected EOF once body_length bytes are delivered")
	}
}

func TestClientRejectsOpaqueMismatch(t *testing.T) {
	handler := &capturingHandler{}
	c := NewClient(handler)
	h := Header{Magic: magicResponse, Opcode: OpcodeGet, Status: StatusOK, Opaque: 0xDEAD}
	c.OnData(h.marshal())
	if handler.err == nil {
		t.Fatalf("expected error for opaque mismatch")
	}
}

func TestClientNoValueFiresResponseWithNilBody(t *testing.T) {
	handler := &capturingHandler{}
	c := NewClient(handler)
	h := Header{Magic: magicResponse, Opcode: OpcodeDelete, Status: StatusKeyNotFound, Opaque: opaqueFixed}
	c.OnData(h.marshal())
	if handler.value != nil {
		t.Fatalf("expected nil value istream when body_length is 0")
	}
	if handler.status != StatusKeyNotFound {
		t.Fatalf("status = %v", handler.status)
	}
}
