// Package sockbuf implements the buffered socket (component C, spec
// §3.3/§4.1): a non-blocking-flavoured socket wrapper that owns an input
// FIFO, read/write deadlines, and an optional socket filter. It is the
// substrate every protocol client and server in this engine builds on.
package sockbuf

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cm4all/bengproxy/internal/fifobuf"
	"github.com/cm4all/bengproxy/internal/sockfilter"
)

// State is one of the buffered socket's explicit lifecycle states
// (spec §3.3).
type State int

const (
	StateUninitialised State = iota
	StateConnected
	StateDisconnected
	StateEnded
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Handler receives bytes from a Socket's input FIFO.
type Handler interface {
	// OnData is handed the readable region of the input FIFO and
	// returns how many bytes it consumed; 0 signals back-pressure.
	OnData(data []byte) int
	// OnClosed fires once the kernel reports EOF; remaining is the
	// number of unread bytes still in the input FIFO. Returning false
	// tells the socket to stop serving the residual buffer immediately
	// (discard); true (the default expectation) lets the buffer drain
	// via further OnData calls before OnEnd fires.
	OnClosed(remaining int) bool
	// OnEnd fires once EOF has been reported and the input buffer has
	// fully drained.
	OnEnd()
	// OnError fires on any I/O error other than clean EOF.
	OnError(err error)
}

// Socket composes {net.Conn, input FIFO, read/write deadlines, optional
// Filter} per spec §3.3.
type Socket struct {
	conn   net.Conn
	filter sockfilter.Filter

	input *fifobuf.Buffer

	handler Handler

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	state State
	log   zerolog.Logger

	rawReadBuf []byte
}

// Option configures a Socket at construction.
type Option func(*Socket)

// WithFilter installs a byte-transform filter under the socket.
func WithFilter(f sockfilter.Filter) Option {
	return func(s *Socket) { s.filter = f }
}

// WithTimeouts sets the read/write deadlines reset on progress (spec §5
// "Timeouts"; HTTP client socket default is 30s).
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Socket) { s.readTimeout, s.writeTimeout = read, write }
}

// WithLogger attaches a structured logger; defaults to zerolog's global
// logger (log.Logger).
func WithLogger(l zerolog.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// New wraps conn in a Socket in the "uninitialised" state.
func New(conn net.Conn, opts ...Option) *Socket {
	s := &Socket{
		conn:       conn,
		input:      fifobuf.New(fifobuf.SliceSize),
		filter:     sockfilter.Nop{},
		state:      StateUninitialised,
		log:        log.Logger,
		rawReadBuf: make([]byte, fifobuf.SliceSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHandler attaches the consumer; must be called before Connect.
func (s *Socket) SetHandler(h Handler) { s.handler = h }

// Connect transitions uninitialised -> connected.
func (s *Socket) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialised {
		s.state = StateConnected
	}
}

// State reports the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Write encrypts (if a filter is installed) and writes p to the
// underlying connection, resetting the write deadline first.
func (s *Socket) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	out, consumed, err := s.filter.EncryptWrite(nil, p)
	if err != nil {
		return 0, errors.Wrap(err, "sockbuf: filter encrypt")
	}
	if _, err := s.conn.Write(out); err != nil {
		return 0, errors.Wrap(err, "sockbuf: write")
	}
	return consumed, nil
}

// Read performs one pass of the buffered-socket algorithm (spec §4.1):
// deliver OnData from the input FIFO, refilling it from the kernel
// whenever it is empty, until the handler reports back-pressure (0
// consumed), the peer closes, or a read fails, then return — the caller
// (normally a dedicated per-connection goroutine) calls Read again.
// Read blocks on the underlying conn.Read when the FIFO is empty,
// which doubles as this engine's "readiness edge" given Go's blocking
// I/O model.
func (s *Socket) Read(ctx context.Context) {
	if s.State() == StateDestroyed || s.State() == StateEnded {
		return
	}
	for {
		if s.input.Empty() {
			if err := s.fill(); err != nil {
				if errors.Is(err, io.EOF) {
					s.onClosed()
				} else {
					s.handler.OnError(errors.Wrap(err, "sockbuf: read"))
					s.destroy()
				}
				return
			}
		}
		if s.input.Empty() {
			return
		}
		consumed := s.handler.OnData(s.input.Peek())
		if consumed < 0 {
			s.log.Error().Int("consumed", consumed).Msg("handler returned negative consume count")
			return
		}
		s.input.Consume(consumed)
		if consumed == 0 {
			// Back-pressure: stop without arming another read until the
			// caller explicitly asks again.
			return
		}
		if s.input.Empty() && s.State() == StateDisconnected {
			s.finishDraining()
			return
		}
	}
}

func (s *Socket) fill() error {
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	n, err := s.conn.Read(s.rawReadBuf)
	if n > 0 {
		decrypted, consumed, ferr := s.filter.DecryptRead(s.input.Writable()[:0], s.rawReadBuf[:n])
		_ = consumed
		if ferr != nil {
			return errors.Wrap(ferr, "sockbuf: filter decrypt")
		}
		if _, werr := s.input.Write(decrypted); werr != nil {
			return errors.Wrap(werr, "sockbuf: input buffer full")
		}
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return io.EOF
	}
	return nil
}

func (s *Socket) onClosed() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	keep := s.handler.OnClosed(s.input.Len())
	if !keep || s.input.Empty() {
		s.finishDraining()
	}
}

func (s *Socket) finishDraining() {
	s.mu.Lock()
	s.state = StateEnded
	s.mu.Unlock()
	s.handler.OnEnd()
}

// Close tears the socket down without notifying the handler (the caller
// already knows why it's closing).
func (s *Socket) Close() error {
	s.destroy()
	return s.conn.Close()
}

func (s *Socket) destroy() {
	s.mu.Lock()
	s.state = StateDestroyed
	s.mu.Unlock()
	s.input.Release()
}
