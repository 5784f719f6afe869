package was

import (
	"io"
	"net/http"
	"strings"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
)

// ResponseHandler receives the response a Client assembles from a WAS
// control channel. Exactly one of OnResponse/OnError fires.
type ResponseHandler interface {
	OnResponse(status int, headers http.Header, body istream.Istream)
	OnError(err error)
}

type phase int

const (
	phaseMetadata phase = iota
	phaseBody
	phaseDone
)

// Client implements the response half of component G (spec §4.4): feed
// it bytes read off the control channel via OnData, and it delivers the
// response body by reading from dataIn on demand. If the application
// server sends STOP while this client is still streaming an outgoing
// request body, OnStop is invoked to learn how many bytes were already
// sent so the client can reply PREMATURE.
type Client struct {
	handler      ResponseHandler
	dataIn       io.Reader
	writeControl func([]byte) error

	OnStop func() uint64

	buf     []byte
	phase   phase
	status  int
	headers http.Header
	body    *pipeBody
}

// NewClient builds a WAS response parser. writeControl is used only to
// reply to a STOP packet with PREMATURE; it may be nil if the caller
// never streams a request body.
func NewClient(handler ResponseHandler, dataIn io.Reader, writeControl func([]byte) error) *Client {
	return &Client{
		handler:      handler,
		dataIn:       dataIn,
		writeControl: writeControl,
		headers:      make(http.Header),
	}
}

// OnData implements sockbuf.Handler for the control channel. Every byte
// is claimed into c.buf, so OnData always reports len(data) consumed.
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

func (c *Client) step() (int, error) {
	cmd, payloadLen, ok, err := ParsePacketHeader(c.buf)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(c.buf) < controlHeaderSize+payloadLen {
		return 0, nil
	}
	payload := c.buf[controlHeaderSize : controlHeaderSize+payloadLen]
	if err := c.dispatch(cmd, payload); err != nil {
		return 0, err
	}
	total := controlHeaderSize + payloadLen
	c.buf = c.buf[total:]
	return total, nil
}

func (c *Client) dispatch(cmd Command, payload []byte) error {
	switch cmd {
	case CommandNop:
		return nil
	case CommandHeader:
		if c.phase != phaseMetadata {
			return bperror.New(bperror.Semantics, "was: HEADER outside metadata phase")
		}
		name, value, ok := strings.Cut(string(payload), "=")
		if !ok {
			return bperror.New(bperror.Garbage, "was: malformed HEADER payload")
		}
		c.headers.Add(name, value)
		return nil
	case CommandStatus:
		if c.phase != phaseMetadata {
			return bperror.New(bperror.Semantics, "was: STATUS outside metadata phase")
		}
		if len(payload) != 4 {
			return bperror.New(bperror.Garbage, "was: malformed STATUS payload")
		}
		c.status = int(payload[0]) | int(payload[1])<<8 | int(payload[2])<<16 | int(payload[3])<<24
		return nil
	case CommandNoData:
		if c.phase != phaseMetadata {
			return bperror.New(bperror.Semantics, "was: NO_DATA outside metadata phase")
		}
		c.phase = phaseDone
		c.handler.OnResponse(c.status, c.headers, nil)
		return nil
	case CommandData:
		if c.phase != phaseMetadata {
			return bperror.New(bperror.Semantics, "was: DATA outside metadata phase")
		}
		c.phase = phaseBody
		c.body = newPipeBody(c.dataIn)
		c.handler.OnResponse(c.status, c.headers, c.body)
		return nil
	case CommandLength:
		// Sending LENGTH after NO_DATA, or before DATA, is a protocol error.
		if c.phase != phaseBody || c.body == nil {
			return bperror.New(bperror.Semantics, "was: LENGTH before DATA or after NO_DATA")
		}
		n, err := ReadUint64(payload)
		if err != nil {
			return err
		}
		c.body.setLength(int64(n))
		return nil
	case CommandStop:
		if c.OnStop != nil && c.writeControl != nil {
			sent := c.OnStop()
			return c.writeControl(WriteUint64(CommandPremature, sent))
		}
		return nil
	case CommandPremature:
		if c.phase != phaseBody || c.body == nil {
			return bperror.New(bperror.Semantics, "was: PREMATURE before a response body exists")
		}
		n, err := ReadUint64(payload)
		if err != nil {
			return err
		}
		c.body.premature(int64(n))
		c.phase = phaseDone
		return nil
	default:
		return bperror.New(bperror.Garbage, "was: unexpected control packet")
	}
}

func (c *Client) OnClosed(remaining int) bool {
	if c.phase == phaseBody && c.body != nil {
		c.body.fail(bperror.New(bperror.IO, "was: control channel closed mid-response"))
	}
	c.phase = phaseDone
	return false
}

func (c *Client) OnEnd() {}

func (c *Client) OnError(err error) {
	c.fail(bperror.Wrap(bperror.IO, err, "was: control channel error"))
}

func (c *Client) fail(err error) {
	if c.phase == phaseBody && c.body != nil {
		c.body.fail(err)
		c.phase = phaseDone
		return
	}
	if c.phase != phaseDone {
		c.phase = phaseDone
		c.handler.OnError(err)
	}
}
