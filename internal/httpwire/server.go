package httpwire

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
)

// RequestHandler receives a parsed request off a Server. Exactly one of
// OnRequest/OnError fires per request; a keep-alive connection gets a
// fresh Server for the next request once the prior body has been fully
// read.
type RequestHandler interface {
	OnRequest(method, target string, headers http.Header, keepAlive bool, body istream.Istream)
	OnError(err error)
}

// Server is the request-line/header/body counterpart of Client (spec
// §4.2), used on the accepting side of an HTTP/1.x connection.
type Server struct {
	handler RequestHandler

	lineBuf []byte
	state   clientState

	method  string
	target  string
	minor   int
	headers http.Header

	bodyMode  bodyMode
	remaining int64
	chunkDec  ChunkedDecoder
	keepAlive bool
	body      *responseBody
}

// NewServer builds a request parser.
func NewServer(handler RequestHandler) *Server {
	return &Server{handler: handler}
}

func (s *Server) OnData(data []byte) int {
	switch s.state {
	case clientReadBody:
		return s.feedBody(data)
	case clientDone:
		return 0
	default:
		return s.feedHeader(data)
	}
}

func (s *Server) feedHeader(data []byte) int {
	prevLen := len(s.lineBuf)
	s.lineBuf = append(s.lineBuf, data...)
	if len(s.lineBuf) > maxLineSize {
		s.fail(bperror.New(bperror.Garbage, "httpwire: header block too large"))
		return len(data)
	}

	pos := 0
	for {
		idx := bytes.Index(s.lineBuf[pos:], []byte("\r\n"))
		if idx < 0 {
			break
		}
		line := s.lineBuf[pos : pos+idx]
		lineEnd := pos + idx + 2

		if s.state == clientReadStatus {
			method, target, minor, err := parseRequestLine(line)
			if err != nil {
				s.fail(err)
				return len(data)
			}
			s.method, s.target, s.minor = method, target, minor
			s.headers = make(http.Header)
			s.state = clientReadHeaders
			pos = lineEnd
			continue
		}

		if len(line) == 0 {
			bodyStart := lineEnd
			if err := s.beginBody(); err != nil {
				s.fail(err)
				return len(data)
			}
			s.lineBuf = nil

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
				bodyConsumed = s.feedBody(rest)
			}
			total := headerPortion + bodyConsumed
			if total > len(data) {
				total = len(data)
			}
			return total
		}

		if err := parseHeaderLine(s.headers, line); err != nil {
			s.fail(err)
			return len(data)
		}
		pos = lineEnd
	}
	s.lineBuf = s.lineBuf[pos:]
	return len(data)
}

func parseRequestLine(line []byte) (method, target string, minor int, err error) {
	s := string(bytes.TrimRight(line, "\r\n"))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return "", "", 0, bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: malformed request line %q", s))
	}
	method = parts[0]
	target = parts[1]
	switch parts[2] {
	case "HTTP/1.1":
		minor = 1
	case "HTTP/1.0":
		minor = 0
	default:
		return "", "", 0, bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: unsupported protocol %q", parts[2]))
	}
	return method, target, minor, nil
}

// beginBody picks the request body framing from the headers alone, for
// every method: Transfer-Encoding: chunked or Content-Length frame a
// body, and a request with neither has no body.
func (s *Server) beginBody() error {
	headers := s.headers
	keepAlive := isKeepAlive(s.minor, headers)

	switch {
	case headers.Get("Content-Length") != "":
		n, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
		if err != nil || n < 0 {
			return bperror.New(bperror.Garbage, "httpwire: malformed Content-Length")
		}
		if n == 0 {
			s.bodyMode = bodyNone
		} else {
			s.bodyMode = bodyFixed
			s.remaining = n
		}
	case headers.Get("Transfer-Encoding") == "chunked":
		s.bodyMode = bodyChunked
	default:
		s.bodyMode = bodyNone
	}

	s.keepAlive = keepAlive
	s.body = newResponseBody()
	s.state = clientReadBody

	out := s.headers.Clone()
	StripHopByHop(out)
	s.handler.OnRequest(s.method, s.target, out, s.keepAlive, s.body)

	if s.bodyMode == bodyNone {
		s.body.finish()
		s.state = clientDone
	}
	return nil
}

func (s *Server) feedBody(data []byte) int {
	switch s.bodyMode {
	case bodyNone:
		return 0
	case bodyFixed:
		take := int64(len(data))
		if take > s.remaining {
			take = s.remaining
		}
		s.body.feed(data[:take])
		s.remaining -= take
		if s.remaining == 0 {
			s.body.finish()
			s.state = clientDone
		}
		return int(take)
	case bodyChunked:
		out, consumed, err := s.chunkDec.Feed(nil, data)
		if err != nil {
			s.fail(err)
			return len(data)
		}
		s.body.feed(out)
		if s.chunkDec.Done() {
			s.body.finish()
			s.state = clientDone
		}
		return consumed
	default:
		return len(data)
	}
}

func (s *Server) OnClosed(remaining int) bool {
	if s.state != clientDone {
		s.fail(bperror.New(bperror.IO, "httpwire: connection closed before request completed"))
	}
	return false
}

func (s *Server) OnEnd() {}

func (s *Server) OnError(err error) {
	s.fail(bperror.Wrap(bperror.IO, err, "httpwire: socket error"))
}

func (s *Server) fail(err error) {
	if s.state == clientDone {
		return
	}
	hadBody := s.state == clientReadBody
	s.state = clientDone
	if hadBody && s.body != nil {
		s.body.fail(err)
		return
	}
	s.handler.OnError(err)
}

// KeepAlive reports whether the connection may serve another request
// once the current one's body and response are fully drained.
func (s *Server) KeepAlive() bool { return s.keepAlive }

// BuildResponse frames a status line + headers + optional body exactly
// as BuildRequest does for the client side (spec §4.2 framing), for use
// by the accepting side when writing a response back.
func BuildResponse(status int, reason string, headers http.Header, body istream.Istream, bodyLength int64) istream.Istream {
	if headers == nil {
		headers = make(http.Header)
	}
	headers = headers.Clone()
	StripHopByHop(headers)

	chunked := false
	if body != nil {
		if bodyLength >= 0 {
			headers.Set("Content-Length", fmt.Sprintf("%d", bodyLength))
		} else {
			headers.Set("Transfer-Encoding", "chunked")
			chunked = true
		}
	}

	var statusLine bytes.Buffer
	if reason == "" {
		reason = http.StatusText(status)
	}
	fmt.Fprintf(&statusLine, "HTTP/1.1 %d %s\r\n", status, reason)

	var headerBlock bytes.Buffer
	_ = headers.Write(&headerBlock)
	headerBlock.WriteString("\r\n")

	parts := []istream.Istream{
		istream.NewByteStream(statusLine.Bytes()),
		istream.NewByteStream(headerBlock.Bytes()),
	}
	if body == nil {
		return istream.NewChain(parts...)
	}
	if chunked {
		body = newChunkedWriter(body)
	}
	parts = append(parts, body)
	return istream.NewChain(parts...)
}
