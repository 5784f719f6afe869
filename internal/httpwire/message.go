package httpwire

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// maxLineSize bounds a single status or header line while it is being
// accumulated across OnData calls; exceeding it is treated as garbage
// rather than let a peer hold a connection open with an unbounded line.
const maxLineSize = 64 * 1024

// hopByHop lists the header fields stripped before a response (or
// request) is forwarded onward, per RFC 7230 §6.1 plus the
// engine-specific ones spec §4.2 calls out as framing-only.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// StripHopByHop removes hop-by-hop header fields from h in place,
// including any fields the Connection header nominates by name.
func StripHopByHop(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, tok := range strings.Split(name, ",") {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for name := range hopByHop {
		h.Del(name)
	}
}

// parseStatusLine parses "HTTP/1.1 200 OK" into its three parts.
func parseStatusLine(line []byte) (major, minor, status int, reason string, err error) {
	s := string(bytes.TrimRight(line, "\r\n"))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return 0, 0, 0, "", bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: malformed status line %q", s))
	}
	proto := parts[0]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return 0, 0, 0, "", bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: unsupported protocol %q", proto))
	}
	minor = 0
	if proto == "HTTP/1.1" {
		minor = 1
	} else if proto != "HTTP/1.0" {
		return 0, 0, 0, "", bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: unsupported protocol %q", proto))
	}
	status, serr := strconv.Atoi(parts[1])
	if serr != nil || status < 100 || status > 599 {
		return 0, 0, 0, "", bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: bad status code %q", parts[1]))
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return 1, minor, status, reason, nil
}

// parseHeaderLine splits "Name: value" and folds it into h. A blank
// line (len(line)==0 after CRLF trim) signals end-of-headers to the
// caller, which should stop feeding lines.
func parseHeaderLine(h http.Header, line []byte) error {
	s := string(bytes.TrimRight(line, "\r\n"))
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: malformed header line %q", s))
	}
	name := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+1:])
	if name == "" {
		return bperror.New(bperror.Garbage, "httpwire: empty header name")
	}
	h.Add(name, value)
	return nil
}

// emptyByStatus reports whether status (for a response to a request of
// reqMethod) is defined to carry no body regardless of framing headers
// (spec §4.2 "Empty by status").
func emptyByStatus(status int, reqMethod string) bool {
	if reqMethod == http.MethodHead {
		return true
	}
	if status == 204 || status == 304 {
		return true
	}
	return status >= 100 && status < 200
}

// isKeepAlive implements spec §4.2's exact rule: (HTTP/1.1 AND no
// Connection: close) OR (Connection: keep-alive).
func isKeepAlive(minor int, h http.Header) bool {
	conn := strings.ToLower(h.Get("Connection"))
	if strings.Contains(conn, "keep-alive") {
		return true
	}
	if strings.Contains(conn, "close") {
		return false
	}
	return minor == 1
}
