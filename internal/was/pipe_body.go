package was

import (
	"context"
	"io"

	"github.com/cm4all/bengproxy/internal/istream"
)

// pipeBody adapts the WAS response data pipe (a blocking io.Reader
// supplied by the transport, analogous to sockbuf's blocking-read
// readiness edge) into the pull-based Istream contract. A DATA packet
// on the control channel creates one of these; a later LENGTH packet
// may narrow its expected size, and PREMATURE truncates it early.
type pipeBody struct {
	istream.Base
	r         io.Reader
	length    int64 // -1 until a LENGTH packet arrives
	delivered int64
	buf       [8192]byte
	pending   []byte
	err       error
	eof       bool
}

func newPipeBody(r io.Reader) *pipeBody {
	return &pipeBody{r: r, length: -1}
}

// setLength narrows the body to exactly n bytes total, per a LENGTH
// control packet (spec §4.4: valid only between DATA and the body's
// completion).
func (b *pipeBody) setLength(n int64) {
	b.length = n
	if b.delivered >= n {
		b.finish()
	}
}

// premature truncates the body at n bytes, per a PREMATURE control
// packet: the peer stopped sending after n bytes total.
func (b *pipeBody) premature(n int64) {
	b.length = n
	if b.delivered >= n || len(b.pending) > 0 {
		b.finish()
	}
}

func (b *pipeBody) finish() {
	if b.eof || b.err != nil {
		return
	}
	b.eof = true
}

func (b *pipeBody) fail(err error) {
	if b.eof || b.err != nil {
		return
	}
	b.err = err
}

func (b *pipeBody) Available(partial bool) int64 {
	if b.Done() {
		return 0
	}
	if len(b.pending) > 0 {
		return int64(len(b.pending))
	}
	if b.length >= 0 {
		return b.length - b.delivered
	}
	if partial {
		return 0
	}
	return istream.Unknown
}

func (b *pipeBody) Skip(n int64) int64 { return 0 }

func (b *pipeBody) Close() { b.MarkClosed() }

func (b *pipeBody) AsFD() (int, bool) { return 0, false }

// Read performs at most one blocking read from the underlying pipe per
// call, delivering whatever bytes arrive (or finishing/erroring out).
func (b *pipeBody) Read(ctx context.Context) {
	if b.Done() {
		return
	}
	if len(b.pending) == 0 {
		if b.err != nil {
			b.FireError(b.err)
			return
		}
		if b.eof || (b.length >= 0 && b.delivered >= b.length) {
			b.FireEOF()
			return
		}
		max := len(b.buf)
		if b.length >= 0 {
			if remaining := b.length - b.delivered; remaining < int64(max) {
				max = int(remaining)
			}
		}
		n, err := b.r.Read(b.buf[:max])
		if n > 0 {
			b.pending = b.buf[:n]
		}
		if err != nil {
			if err == io.EOF {
				b.eof = true
			} else {
				b.err = err
			}
		}
		if len(b.pending) == 0 {
			if b.err != nil {
				b.FireError(b.err)
			} else if b.eof {
				b.FireEOF()
			}
			return
		}
	}
	consumed := b.Handler.OnData(b.pending)
	if consumed < 0 || consumed > len(b.pending) {
		b.FireError(istream.ErrProducedTooMuch)
		return
	}
	b.delivered += int64(consumed)
	b.pending = b.pending[consumed:]
	if consumed == 0 {
		return
	}
	if len(b.pending) == 0 {
		if b.err != nil {
			b.FireError(b.err)
		} else if b.eof || (b.length >= 0 && b.delivered >= b.length) {
			b.FireEOF()
		}
	}
}
