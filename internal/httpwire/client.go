package httpwire

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
)

// ResponseHandler receives the parsed response a Client assembles off a
// buffered socket. Exactly one of OnResponse/OnError fires.
type ResponseHandler interface {
	// OnResponse delivers the status, the (hop-by-hop-stripped) header
	// set, whether the connection is reusable once body reaches EOF,
	// and the response body istream.
	OnResponse(status int, headers http.Header, keepAlive bool, body istream.Istream)
	OnError(err error)
}

type clientState int

const (
	clientReadStatus clientState = iota
	clientReadHeaders
	clientReadBody
	clientDone
)

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyFixed
	bodyChunked
	bodyUntilClose
)

// Client implements the HTTP/1.x response half of component E (spec
// §4.2): attach it as a sockbuf.Handler on the socket a request was
// written to. OnInterim, if set, is invoked for each "100 Continue"
// status line seen before the final response — the caller is expected
// to Resume() the request body's istream.Optional gate from there.
type Client struct {
	peer      string
	reqMethod string
	handler   ResponseHandler
	OnInterim func()

	lineBuf []byte
	state   clientState

	minor   int
	status  int
	headers http.Header

	bodyMode  bodyMode
	remaining int64
	chunkDec  ChunkedDecoder
	keepAlive bool
	body      *responseBody
}

// NewClient builds a response parser for a request of reqMethod sent to
// peer (used only to tag errors, spec §7 "Propagation").
func NewClient(peer, reqMethod string, handler ResponseHandler) *Client {
	return &Client{peer: peer, reqMethod: reqMethod, handler: handler}
}

// OnData implements sockbuf.Handler.
func (c *Client) OnData(data []byte) int {
	switch c.state {
	case clientReadBody:
		return c.feedBody(data)
	case clientDone:
		return 0
	default:
		return c.feedHeader(data)
	}
}

func (c *Client) feedHeader(data []byte) int {
	prevLen := len(c.lineBuf)
	c.lineBuf = append(c.lineBuf, data...)
	if len(c.lineBuf) > maxLineSize {
		c.fail(bperror.New(bperror.Garbage, "httpwire: header block too large"))
		return len(data)
	}

	pos := 0
	for {
		idx := bytes.Index(c.lineBuf[pos:], []byte("\r\n"))
		if idx < 0 {
			break
		}
		line := c.lineBuf[pos : pos+idx]
		lineEnd := pos + idx + 2

		if c.state == clientReadStatus {
			if c.status == 100 {
				// Skip the interim response's header block up to its
				// terminating blank line.
				if len(line) == 0 {
					c.status = 0
				}
				pos = lineEnd
				continue
			}
			_, minor, status, _, err := parseStatusLine(line)
			if err != nil {
				c.fail(err)
				return len(data)
			}
			c.minor = minor
			c.status = status
			c.headers = make(http.Header)
			pos = lineEnd
			if status == 100 {
				if c.OnInterim != nil {
					c.OnInterim()
				}
				continue
			}
			c.state = clientReadHeaders
			continue
		}

		if len(line) == 0 {
			bodyStart := lineEnd
			if err := c.beginBody(); err != nil {
				c.fail(err)
				return len(data)
			}
			c.lineBuf = nil

			headerPortion := bodyStart - prevLen
			if headerPortion < 0 {
				headerPortion = 0
			}
			if headerPortion > len(data) {
				headerPortion = len(data)
			}
			rest := data[headerPortion:]
			bodyConsumed := 0
			if len(rest) > 0 {
				bodyConsumed = c.feedBody(rest)
			}
			total := headerPortion + bodyConsumed
			if total > len(data) {
				total = len(data)
			}
			return total
		}

		if err := parseHeaderLine(c.headers, line); err != nil {
			c.fail(err)
			return len(data)
		}
		pos = lineEnd
	}
	c.lineBuf = c.lineBuf[pos:]
	return len(data)
}

// beginBody decides body framing per spec §4.2 "Response body" once the
// header block has been fully parsed.
func (c *Client) beginBody() error {
	headers := c.headers
	keepAlive := isKeepAlive(c.minor, headers)

	switch {
	case emptyByStatus(c.status, c.reqMethod):
		c.bodyMode = bodyNone
	case headers.Get("Content-Length") != "":
		n, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
		if err != nil || n < 0 {
			return bperror.New(bperror.Garbage, "httpwire: malformed Content-Length")
		}
		c.bodyMode = bodyFixed
		c.remaining = n
	case headers.Get("Transfer-Encoding") == "chunked":
		c.bodyMode = bodyChunked
	default:
		c.bodyMode = bodyUntilClose
		keepAlive = false
	}

	c.keepAlive = keepAlive
	c.body = newResponseBody()
	c.state = clientReadBody

	out := c.headers.Clone()
	StripHopByHop(out)
	c.handler.OnResponse(c.status, out, c.keepAlive, c.body)

	if c.bodyMode == bodyNone {
		c.body.finish()
		c.state = clientDone
	}
	return nil
}

func (c *Client) feedBody(data []byte) int {
	switch c.bodyMode {
	case bodyNone:
		return 0
	case bodyFixed:
		take := int64(len(data))
		if take > c.remaining {
			take = c.remaining
		}
		c.body.feed(data[:take])
		c.remaining -= take
		if c.remaining == 0 {
			c.body.finish()
			c.state = clientDone
		}
		return int(take)
	case bodyChunked:
		out, consumed, err := c.chunkDec.Feed(nil, data)
		if err != nil {
			c.fail(err)
			return len(data)
		}
		c.body.feed(out)
		if c.chunkDec.Done() {
			c.body.finish()
			c.state = clientDone
		}
		return consumed
	case bodyUntilClose:
		c.body.feed(data)
		return len(data)
	default:
		return len(data)
	}
}

// OnClosed implements sockbuf.Handler.
func (c *Client) OnClosed(remaining int) bool {
	if c.bodyMode == bodyUntilClose && c.state == clientReadBody {
		c.body.finish()
		c.state = clientDone
		return remaining > 0
	}
	if c.state != clientDone {
		c.fail(bperror.New(bperror.IO, "httpwire: connection closed before response completed"))
	}
	return false
}

// OnEnd implements sockbuf.Handler.
func (c *Client) OnEnd() {}

// OnError implements sockbuf.Handler.
func (c *Client) OnError(err error) {
	c.fail(bperror.Wrap(bperror.IO, err, "httpwire: socket error").WithPeer(c.peer))
}

func (c *Client) fail(err error) {
	if c.state == clientDone {
		return
	}
	hadBody := c.state == clientReadBody
	c.state = clientDone
	if hadBody && c.body != nil {
		c.body.fail(err)
		return
	}
	c.handler.OnError(err)
}

// KeepAlive reports whether the connection is reusable once the body
// reaches EOF. Only meaningful once OnResponse has fired.
func (c *Client) KeepAlive() bool { return c.keepAlive }
