package was

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
)

func TestBuildRequestPacketsOrdersFieldsAndSkipsMethodForGet(t *testing.T) {
	headers := make(http.Header)
	headers.Set("Host", "widgets.example")
	packets := BuildRequestPackets(Request{
		Method:  http.MethodGet,
		URI:     "/index.html",
		Headers: headers,
		HasBody: false,
	})

	cmd, _, ok, err := ParsePacketHeader(packets[0])
	if err != nil || !ok || cmd != CommandRequest {
		t.Fatalf("first packet should be REQUEST, got cmd=%v ok=%v err=%v", cmd, ok, err)
	}
	cmd, _, _, _ = ParsePacketHeader(packets[1])
	if cmd != CommandURI {
		t.Fatalf("expected URI to directly follow REQUEST for a GET, got %v", cmd)
	}
	last := packets[len(packets)-1]
	cmd, payloadLen, _, _ := ParsePacketHeader(last)
	if cmd != CommandNoData || payloadLen != 0 {
		t.Fatalf("expected trailing NO_DATA, got cmd=%v len=%d", cmd, payloadLen)
	}
}

func TestBuildRequestPacketsSendsMethodForNonGet(t *testing.T) {
	packets := BuildRequestPackets(Request{
		Method:  http.MethodPost,
		URI:     "/submit",
		HasBody: true,
	})
	cmd, _, _, _ := ParsePacketHeader(packets[1])
	if cmd != CommandMethod {
		t.Fatalf("expected METHOD packet for POST, got %v", cmd)
	}
	last := packets[len(packets)-1]
	cmd, _, _, _ = ParsePacketHeader(last)
	if cmd != CommandData {
		t.Fatalf("expected trailing DATA for a request with a body, got %v", cmd)
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

func TestClientParsesResponseWithDataPipe(t *testing.T) {
	pipe := bytes.NewBufferString("hello world")
	var got recordingHandler
	c := NewClient(&got, pipe, nil)

	var statusPayload [4]byte
	statusPayload[0] = 200

	var wire []byte
	wire = append(wire, WriteString(CommandHeader, "Content-Type=text/plain")...)
	wire = append(wire, WritePacket(CommandStatus, statusPayload[:])...)
	wire = append(wire, WriteEmpty(CommandData)...)

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

	col := istreamtest.Drain(context.Background(), got.body, len("hello world"))
	if col.Err != nil {
		t.Fatalf("drain error: %v", col.Err)
	}
	if string(col.Data) != "hello world" {
		t.Fatalf("body = %q", col.Data)
	}
	if !col.EOF {
		t.Fatalf("expected EOF once the pipe reader is exhausted")
	}
}

func TestClientLengthBeforeDataIsProtocolError(t *testing.T) {
	var got recordingHandler
	c := NewClient(&got, bytes.NewBufferString(""), nil)
	c.OnData(WriteUint64(CommandLength, 5))
	if got.err == nil {
		t.Fatalf("expected protocol error for LENGTH before DATA")
	}
}

func TestClientNoDataYieldsNilBody(t *testing.T) {
	var got recordingHandler
	c := NewClient(&got, bytes.NewBufferString(""), nil)
	c.OnData(WriteEmpty(CommandNoData))
	if got.body != nil {
		t.Fatalf("expected nil body after NO_DATA")
	}
}

func TestClientStopTriggersPrematureReply(t *testing.T) {
	var got recordingHandler
	var sentPremature []byte
	c := NewClient(&got, bytes.NewBufferString(""), func(b []byte) error {
		sentPremature = b
		return nil
	})
	c.OnStop = func() uint64 { return 42 }
	c.OnData(WriteEmpty(CommandStop))
	if sentPremature == nil {
		t.Fatalf("expected a PREMATURE reply to be written")
	}
	cmd, _, _, _ := ParsePacketHeader(sentPremature)
	if cmd != CommandPremature {
		t.Fatalf("expected PREMATURE, got %v", cmd)
	}
	n, err := ReadUint64(sentPremature[controlHeaderSize:])
	if err != nil || n != 42 {
		t.Fatalf("premature count = %d, err=%v", n, err)
	}
}
