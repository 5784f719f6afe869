package httpwire

import (
	"context"
	"net/http"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
)

type recordingRequestHandler struct {
	method    string
	target    string
	headers   http.Header
	keepAlive bool
	body      istream.Istream
	err       error
}

func (h *recordingRequestHandler) OnRequest(method, target string, headers http.Header, keepAlive bool, body istream.Istream) {
	h.method, h.target, h.headers, h.keepAlive, h.body = method, target, headers, keepAlive, body
}
func (h *recordingRequestHandler) OnError(err error) { h.err = err }

func TestServerParsesRequestLineAndBody(t *testing.T) {
	var got recordingRequestHandler
	s := NewServer(&got)

	msg := "POST /widgets/cart HTTP/1.1\r\nHost: example.test\r\nContent-Length: 4\r\n\r\nbody"
	consumed := s.OnData([]byte(msg))
	if consumed != len(msg) {
		t.Fatalf("consumed %d, want %d", consumed, len(msg))
	}
	if got.method != "POST" || got.target != "/widgets/cart" {
		t.Fatalf("method/target = %q %q", got.method, got.target)
	}
	if !got.keepAlive {
		t.Fatalf("expected HTTP/1.1 default keep-alive")
	}

	col := istreamtest.Drain(context.Background(), got.body, 5)
	if col.Err != nil {
		t.Fatalf("drain error: %v", col.Err)
	}
	if string(col.Data) != "body" {
		t.Fatalf("body = %q", col.Data)
	}
}

func TestServerNoBodyWhenNoFraming(t *testing.T) {
	var got recordingRequestHandler
	s := NewServer(&got)

	msg := "GET /widgets HTTP/1.1\r\nHost: example.test\r\n\r\n"
	s.OnData([]byte(msg))
	col := istreamtest.Drain(context.Background(), got.body, 2)
	if !col.EOF || len(col.Data) != 0 {
		t.Fatalf("expected immediately-empty body for a framing-less GET")
	}
}

func TestBuildResponseFramesStatusHeadersAndBody(t *testing.T) {
	h := make(http.Header)
	h.Set("Content-Type", "text/html")
	resp := BuildResponse(200, "", h, istream.NewStringStream("<html/>"), 7)
	col := istreamtest.Drain(context.Background(), resp, 10)
	if col.Err != nil {
		t.Fatalf("drain error: %v", col.Err)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Length: 7\r\nContent-Type: text/html\r\n\r\n<html/>"
	if string(col.Data) != want {
		t.Fatalf("got %q want %q", col.Data, want)
	}
}
