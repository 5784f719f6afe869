package ajp

import (
	"context"
	"net/http"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
)

func TestBuildForwardRequestFramesPacket(t *testing.T) {
	headers := make(http.Header)
	headers.Set("Host", "widgets.example")
	pkt, err := BuildForwardRequest(ForwardRequest{
		Method:        http.MethodGet,
		URI:           "/index.html",
		Headers:       headers,
		ServerName:    "widgets.example",
		ServerPort:    80,
		RemoteAddr:    "10.0.0.1",
		ContentLength: -1,
	})
	if err != nil {
		t.Fatalf("BuildForwardRequest: %v", err)
	}
	if pkt[0] != magicToServerA || pkt[1] != magicToServerB {
		t.Fatalf("bad magic: %x %x", pkt[0], pkt[1])
	}
	payloadLen, ok, err := ParsePacketHeader(append([]byte{magicFromServerA, magicFromServerB}, pkt[2:]...))
	if err != nil || !ok {
		t.Fatalf("header parse: ok=%v err=%v", ok, err)
	}
	if payloadLen != len(pkt)-headerSize {
		t.Fatalf("length field %d, want %d", payloadLen, len(pkt)-headerSize)
	}
	if Code(pkt[4]) != CodeForwardRequest {
		t.Fatalf("wrong packet code %d", pkt[4])
	}
	if pkt[5] != methodCodes[http.MethodGet] {
		t.Fatalf("wrong method code %d", pkt[5])
	}
}

func TestBuildForwardRequestRejectsUnknownMethod(t *testing.T) {
	_, err := BuildForwardRequest(ForwardRequest{Method: "FROBNICATE", ContentLength: -1})
	if err == nil {
		t.Fatalf("expected error for unsupported method")
	}
}

type recordingHandler struct {
	status  int
	headers http.Header
	body    istream.Istream
	err     error
}

func (h *recordingHandler) OnResponse(status int, headers http.Header, body istream.Istream) {
	h.status, h.headers, h.body = status, headers, body
}
func (h *recordingHandler) OnError(err error) { h.err = err }

// fromServer frames payload as a server->client packet ('A', 'B' magic).
func fromServer(payload []byte) []byte {
	pkt := WritePacket(payload)
	pkt[0], pkt[1] = magicFromServerA, magicFromServerB
	return pkt
}

func sendHeadersPacket(status int, headers map[string]string) []byte {
	payload := []byte{byte(CodeSendHeaders)}
	payload = putUint16(payload, uint16(status))
	payload = putString(payload, "OK")
	payload = putUint16(payload, uint16(len(headers)))
	for name, value := range headers {
		payload = putString(payload, name)
		payload = putString(payload, value)
	}
	return fromServer(payload)
}

func sendBodyChunkPacket(data []byte) []byte {
	payload := []byte{byte(CodeSendBodyChunk)}
	payload = putUint16(payload, uint16(len(data)))
	payload = append(payload, data...)
	return fromServer(payload)
}

func endResponsePacket() []byte {
	return fromServer([]byte{byte(CodeEndResponse)})
}

func TestClientParsesFullResponse(t *testing.T) {
	var got recordingHandler
	c := NewClient(&got)

	wire := append([]byte{}, sendHeadersPacket(200, map[string]string{"Content-Type": "text/plain"})...)
	wire = append(wire, sendBodyChunkPacket([]byte("hello"))...)
	wire = append(wire, endResponsePacket()...)

	consumed := c.OnData(wire)
	if consumed != len(wire) {
		t.Fatalf("consumed %d, want %d", consumed, len(wire))
	}
	if got.status != 200 {
		t.Fatalf("status = %d", got.status)
	}
	if got.headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("headers = %v", got.headers)
	}
	col := istreamtest.Drain(context.Background(), got.body, 5)
	if col.Err != nil {
		t.Fatalf("drain error: %v", col.Err)
	}
	if string(col.Data) != "hello" {
		t.Fatalf("body = %q", col.Data)
	}
	if !col.EOF {
		t.Fatalf("expected body EOF after END_RESPONSE")
	}
}

func TestClientRejectsUnexpectedBodyChunkBeforeHeaders(t *testing.T) {
	var got recordingHandler
	c := NewClient(&got)
	c.OnData(sendBodyChunkPacket([]byte("oops")))
	if got.err == nil {
		t.Fatalf("expected error for out-of-order SEND_BODY_CHUNK")
	}
}

func TestClientEmptyByStatusHasNoBody(t *testing.T) {
	var got recordingHandler
	c := NewClient(&got)
	c.OnData(sendHeadersPacket(204, nil))
	if got.body != nil {
		t.Fatalf("expected nil body for 204")
	}
}
