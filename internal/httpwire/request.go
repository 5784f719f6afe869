package httpwire

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/cm4all/bengproxy/internal/istream"
)

// expectContinueThreshold is the body-size threshold past which the
// client interposes an Expect: 100-continue gate (spec §4.2).
const expectContinueThreshold = 1024

// BuildRequest frames method/target/headers/body as the three-istream
// concatenation spec §4.2 describes: status-line, header-block, body.
// When the body is large or of unknown length, the returned body
// istream is wrapped in an *istream.Optional that the caller must
// Resume (on a 100 Continue) or Discard (on an early final response);
// optionalBody is nil when no such gating is needed.
func BuildRequest(method, target string, headers http.Header, body istream.Istream, bodyLength int64) (req istream.Istream, optionalBody *istream.Optional, err error) {
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
	fmt.Fprintf(&statusLine, "%s %s HTTP/1.1\r\n", method, target)

	var headerBlock bytes.Buffer
	if werr := headers.Write(&headerBlock); werr != nil {
		return nil, nil, werr
	}
	headerBlock.WriteString("\r\n")

	parts := []istream.Istream{
		istream.NewByteStream(statusLine.Bytes()),
		istream.NewByteStream(headerBlock.Bytes()),
	}

	if body == nil {
		return istream.NewChain(parts...), nil, nil
	}

	bodyStream := body
	if chunked {
		bodyStream = newChunkedWriter(body)
	}

	available := bodyStream.Available(true)
	needsGate := bodyLength < 0 || available == istream.Unknown || available > expectContinueThreshold
	if needsGate {
		opt := istream.NewOptional(bodyStream)
		parts = append(parts, opt)
		return istream.NewChain(parts...), opt, nil
	}

	parts = append(parts, bodyStream)
	return istream.NewChain(parts...), nil, nil
}
