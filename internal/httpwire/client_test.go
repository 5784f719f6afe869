package httpwire

import (
	"context"
	"net/http"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
)

type recordingResponseHandler struct {
	status    int
	headers   http.Header
	keepAlive bool
	body      istream.Istream
	err       error
}

func TestClientParsesFixedLengthBodyAndKeepAlive(t *testing.T) {
	var got recordingResponseHandler
	c := NewClient("backend", "GET", &got)

	msg := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\n\r\nhello"
	consumed := c.OnData([]byte(msg))
	if consumed != len(msg) {
		t.Fatalf("consumed %d, want %d", consumed, len(msg))
	}
	if got.status != 200 {
		t.Fatalf("status = %d", got.status)
	}
	if !got.keepAlive {
		t.Fatalf("expected keep-alive")
	}

	col := istreamtest.Drain(context.Background(), got.body, 5)
	if col.Err != nil {
		t.Fatalf("body drain error: %v", col.Err)
	}
	if string(col.Data) != "hello" {
		t.Fatalf("body = %q", col.Data)
	}
}

func TestClientParsesChunkedBody(t *testing.T) {
	var got recordingResponseHandler
	c := NewClient("backend", "GET", &got)

	msg := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n"
	consumed := c.OnData([]byte(msg))
	if consumed != len(msg) {
		t.Fatalf("consumed %d, want %d", consumed, len(msg))
	}
	col := istreamtest.Drain(context.Background(), got.body, 5)
	if col.Err != nil {
		t.Fatalf("body drain error: %v", col.Err)
	}
	if string(col.Data) != "Wiki" {
		t.Fatalf("body = %q", col.Data)
	}
}

func TestClientEmptyByStatusOnHeadRequest(t *testing.T) {
	var got recordingResponseHandler
	c := NewClient("backend", http.MethodHead, &got)

	msg := "HTTP/1.1 200 OK\r\nContent-Length: 500\r\n\r\n"
	c.OnData([]byte(msg))
	col := istreamtest.Drain(context.Background(), got.body, 2)
	if !col.EOF || len(col.Data) != 0 {
		t.Fatalf("expected immediate empty EOF body for HEAD, got %q eof=%v", col.Data, col.EOF)
	}
}

func TestClientCloseTerminatedBodyIsNotReusable(t *testing.T) {
	var got recordingResponseHandler
	c := NewClient("backend", "GET", &got)

	msg := "HTTP/1.0 200 OK\r\n\r\nall the bytes until close"
	c.OnData([]byte(msg))
	if got.keepAlive {
		t.Fatalf("HTTP/1.0 with no framing must not be reusable")
	}
	if c.OnClosed(0) {
		t.Fatalf("OnClosed should not ask for further draining once body is finished")
	}
	col := istreamtest.Drain(context.Background(), got.body, 2)
	if !col.EOF || string(col.Data) != "all the bytes until close" {
		t.Fatalf("got %q eof=%v", col.Data, col.EOF)
	}
}

func TestClientRejectsGarbageStatusLine(t *testing.T) {
	var got recordingResponseHandler
	c := NewClient("backend", "GET", &got)
	c.OnData([]byte("NOT A STATUS LINE\r\n"))
	if got.err == nil {
		t.Fatalf("expected parse error")
	}
}

func (h *recordingResponseHandler) OnResponse(status int, headers http.Header, keepAlive bool, body istream.Istream) {
	h.status, h.headers, h.keepAlive, h.body = status, headers, keepAlive, body
}
func (h *recordingResponseHandler) OnError(err error) { h.err = err }
