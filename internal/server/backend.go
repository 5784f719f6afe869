package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cm4all/bengproxy/internal/httpwire"
	"github.com/cm4all/bengproxy/internal/inline"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/sockbuf"
	"github.com/cm4all/bengproxy/internal/widget"
)

// HTTPBackend implements inline.Backend over a fresh HTTP/1.x
// connection per request, one for each resolved widget's
// widget.HTTPAddress. It is the only transport wired up by default;
// an AJP or WAS backend would satisfy the same interface and plug in
// wherever inline.Driver or the front controller's top-level fetch
// takes a Backend.
type HTTPBackend struct {
	DialTimeout  time.Duration
	SocketTimeout time.Duration
}

// NewHTTPBackend builds a Backend with spec §5's 30s default socket
// timeout.
func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{DialTimeout: 10 * time.Second, SocketTimeout: 30 * time.Second}
}

// SendRequest dials w.Class.Address, issues a GET for the widget's
// resolved path_info/query_string, and delivers the parsed response to
// handler. Cancelling closes the connection, which unblocks any
// in-flight Read and fires handler.OnError.
func (b *HTTPBackend) SendRequest(ctx context.Context, w *widget.Widget, handler inline.ResponseHandler) inline.Cancel {
	addr := w.Class.Address
	if addr == nil {
		handler.OnError(fmt.Errorf("server: widget %q has no backend address", w.IDPath()))
		return func() {}
	}

	cancelled := make(chan struct{})
	go b.run(ctx, w, addr, handler, cancelled)
	return func() { close(cancelled) }
}

func (b *HTTPBackend) run(ctx context.Context, w *widget.Widget, addr *widget.HTTPAddress, handler inline.ResponseHandler, cancelled chan struct{}) {
	dialer := net.Dialer{Timeout: b.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.Host)
	if err != nil {
		handler.OnError(fmt.Errorf("server: dial %s: %w", addr.Host, err))
		return
	}

	go func() {
		<-cancelled
		conn.Close()
	}()

	sock := sockbuf.New(conn, sockbuf.WithTimeouts(b.SocketTimeout, b.SocketTimeout))
	respAdapter := &responseAdapter{handler: handler}
	client := httpwire.NewClient(addr.Host, http.MethodGet, respAdapter)
	sock.SetHandler(client)
	sock.Connect()

	target := w.GetPathInfo(true)
	if target == "" {
		target = "/"
	}
	headers := make(http.Header)
	headers.Set("Host", addr.Host)
	req, _, err := httpwire.BuildRequest(http.MethodGet, target, headers, nil, 0)
	if err != nil {
		handler.OnError(fmt.Errorf("server: build widget request: %w", err))
		return
	}
	if err := pumpToWriter(ctx, req, sock); err != nil {
		handler.OnError(fmt.Errorf("server: write widget request: %w", err))
		return
	}

	// Keep pumping the socket for the connection's whole lifetime: the
	// response body istream delivered through OnResponse only produces
	// bytes while something keeps calling Socket.Read, independent of
	// whether the header block has already been parsed.
	for {
		switch sock.State() {
		case sockbuf.StateEnded, sockbuf.StateDestroyed:
			return
		}
		sock.Read(ctx)
	}
}

// responseAdapter bridges httpwire.ResponseHandler (keepAlive-aware)
// to inline.ResponseHandler (keepAlive is irrelevant here: every
// widget request opens and discards its own connection).
type responseAdapter struct {
	handler inline.ResponseHandler
}

func (a *responseAdapter) OnResponse(status int, headers http.Header, keepAlive bool, body istream.Istream) {
	a.handler.OnResponse(status, headers, body)
}

func (a *responseAdapter) OnError(err error) {
	a.handler.OnError(err)
}
