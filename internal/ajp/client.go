package ajp

import (
	"net/http"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
)

// ResponseHandler receives the response a Client assembles from an
// AJPv13 connection. Exactly one of OnResponse/OnError fires.
type ResponseHandler interface {
	OnResponse(status int, headers http.Header, body istream.Istream)
	OnError(err error)
}

type readState int

const (
	readBegin readState = iota
	readBody
	readEnd
)

// Client implements the response half of component F (spec §4.3):
// attach it as a sockbuf.Handler after writing a FORWARD_REQUEST packet
// (BuildForwardRequest) to the socket.
type Client struct {
	handler ResponseHandler

	buf []byte

	state readState
	body  *responseBodyAdapter
}

// NewClient builds an AJP response parser.
func NewClient(handler ResponseHandler) *Client {
	return &Client{handler: handler}
}

// OnData implements sockbuf.Handler: it accumulates bytes until one or
// more complete packets are available and dispatches each.
func (c *Client) OnData(data []byte) int {
	c.buf = append(c.buf, data...)
	for {
		n, err := c.step()
		if err != nil {
			c.fail(err)
			return len(data)
		}
		if n == 0 {
			break
		}
	}
	return len(data)
}

// step consumes at most one complete packet from c.buf, returning how
// many bytes it removed; 0 means "need more data". AJP packets are
// always fully self-contained (the outer length field bounds the
// chunk+junk data too), so a packet is either wholly available or not
// dispatched at all.
func (c *Client) step() (int, error) {
	payloadLen, ok, err := ParsePacketHeader(c.buf)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(c.buf) < headerSize+payloadLen {
		return 0, nil
	}
	if payloadLen == 0 {
		return 0, bperror.New(bperror.Garbage, "ajp: empty packet")
	}
	payload := c.buf[headerSize : headerSize+payloadLen]
	code := Code(payload[0])
	if err := c.dispatch(code, payload[1:]); err != nil {
		return 0, err
	}
	total := headerSize + payloadLen
	c.buf = c.buf[total:]
	return total, nil
}

func (c *Client) dispatch(code Code, data []byte) error {
	switch code {
	case CodeSendHeaders:
		return c.consumeSendHeaders(data)
	case CodeSendBodyChunk:
		return c.consumeSendBodyChunkHeader(data)
	case CodeEndResponse:
		if c.state == readBody {
			c.body.finish()
		}
		c.state = readEnd
		return nil
	case CodeGetBodyChunk, CodeCPong:
		// Flow control / keep-alive: no-op per spec §4.3 ("optional,
		// may be ignored in minimal implementation").
		return nil
	default:
		return bperror.New(bperror.Garbage, "ajp: unexpected packet from AJP server")
	}
}

func (c *Client) consumeSendHeaders(data []byte) error {
	if c.state != readBegin {
		return bperror.New(bperror.Semantics, "ajp: unexpected SEND_HEADERS packet")
	}
	if len(data) < 2+2 {
		return bperror.New(bperror.Garbage, "ajp: malformed SEND_HEADERS packet")
	}
	status := int(data[0])<<8 | int(data[1])
	msg, consumed, err := readString(data[2:])
	if err != nil {
		return err
	}
	_ = msg
	rest := data[2+consumed:]
	if len(rest) < 2 {
		return bperror.New(bperror.Garbage, "ajp: malformed SEND_HEADERS packet")
	}
	numHeaders := int(rest[0])<<8 | int(rest[1])
	rest = rest[2:]

	headers := make(http.Header)
	for i := 0; i < numHeaders; i++ {
		if len(rest) < 2 {
			return bperror.New(bperror.Garbage, "ajp: truncated header table")
		}
		var name string
		if rest[0] == 0xA0 {
			code := uint16(rest[0])<<8 | uint16(rest[1])
			name = headerNameForCode(code)
			rest = rest[2:]
		} else {
			n, cons, err := readString(rest)
			if err != nil {
				return err
			}
			name = n
			rest = rest[cons:]
		}
		value, cons, err := readString(rest)
		if err != nil {
			return err
		}
		rest = rest[cons:]
		if name != "" {
			headers.Add(name, value)
		}
	}

	if emptyByStatus(status) {
		c.state = readEnd
		c.handler.OnResponse(status, headers, nil)
		return nil
	}
	c.body = newResponseBodyAdapter()
	c.state = readBody
	c.handler.OnResponse(status, headers, c.body)
	return nil
}

func (c *Client) consumeSendBodyChunkHeader(data []byte) error {
	if c.state != readBody {
		return bperror.New(bperror.Semantics, "ajp: unexpected SEND_BODY_CHUNK packet")
	}
	if len(data) < 2 {
		return bperror.New(bperror.Garbage, "ajp: malformed SEND_BODY_CHUNK packet")
	}
	chunkLen := int(data[0])<<8 | int(data[1])
	rest := data[2:]
	// The outer packet is fully buffered by the time we're called, so
	// chunk_length data bytes plus junk_length trailing bytes (spec
	// §4.3 "junk_length = header_length - 2 - chunk_length") are both
	// already present in rest.
	if chunkLen > len(rest) {
		return bperror.New(bperror.Garbage, "ajp: oversized SEND_BODY_CHUNK")
	}
	c.body.feed(rest[:chunkLen])
	// rest[chunkLen:] is junk and simply discarded.
	return nil
}

func emptyByStatus(status int) bool {
	return status == 204 || status == 304 || (status >= 100 && status < 200)
}

// headerNameForCode reverses commonHeaderCodes for the handful of
// codes AJP servers actually echo back (content-type/length are the
// only ones that recur on the response side in practice).
func headerNameForCode(code uint16) string {
	for name, c := range commonHeaderCodes {
		if c == code {
			return name
		}
	}
	return ""
}

func (c *Client) OnClosed(remaining int) bool {
	if c.state == readBody {
		c.body.fail(bperror.New(bperror.IO, "ajp: connection closed mid-response"))
	}
	c.state = readEnd
	return false
}

func (c *Client) OnEnd() {}

func (c *Client) OnError(err error) {
	c.fail(bperror.Wrap(bperror.IO, err, "ajp: socket error"))
}

func (c *Client) fail(err error) {
	if c.state == readBody && c.body != nil {
		c.body.fail(err)
		c.state = readEnd
		return
	}
	if c.state != readEnd {
		c.state = readEnd
		c.handler.OnError(err)
	}
}
