package httpwire

import (
	"context"

	"github.com/cm4all/bengproxy/internal/istream"
)

// responseBody is the istream handed to ResponseHandler.OnResponse. It
// decouples the push-style delivery of bytes off the socket (Client.OnData
// is invoked whenever the buffered socket has progress to report) from
// the pull-style Istream.Read contract the rest of the engine expects.
type responseBody struct {
	istream.Base
	buf         []byte
	eof         bool
	err         error
	readPending bool
}

func newResponseBody() *responseBody { return &responseBody{} }

// feed appends already-framed-out body bytes (chunk data decoded, or a
// Content-Length-bounded slice) to the pending buffer, delivering
// immediately if a Read is outstanding.
func (b *responseBody) feed(data []byte) {
	if len(data) == 0 {
		return
	}
	b.buf = append(b.buf, data...)
	if b.readPending {
		b.readPending = false
		b.deliver()
	}
}

// finish marks the body complete (Content-Length exhausted, chunked
// trailer consumed, or socket EOF for a close-terminated body).
func (b *responseBody) finish() {
	if b.eof {
		return
	}
	b.eof = true
	if b.readPending {
		b.readPending = false
		b.deliver()
	}
}

func (b *responseBody) fail(err error) {
	if b.err != nil {
		return
	}
	b.err = err
	if b.readPending {
		b.readPending = false
		b.FireError(err)
	}
}

func (b *responseBody) deliver() {
	if len(b.buf) == 0 {
		switch {
		case b.err != nil:
			b.FireError(b.err)
		case b.eof:
			b.FireEOF()
		default:
			b.readPending = true
		}
		return
	}
	consumed := b.Handler.OnData(b.buf)
	if consumed < 0 || consumed > len(b.buf) {
		b.FireError(istream.ErrProducedTooMuch)
		return
	}
	b.buf = b.buf[consumed:]
	if consumed == 0 {
		return
	}
	if len(b.buf) == 0 {
		if b.err != nil {
			b.FireError(b.err)
		} else if b.eof {
			b.FireEOF()
		}
	}
}

func (b *responseBody) Available(partial bool) int64 {
	if b.Done() {
		return 0
	}
	if len(b.buf) > 0 {
		return int64(len(b.buf))
	}
	if b.eof {
		return 0
	}
	if partial {
		return 0
	}
	return istream.Unknown
}

func (b *responseBody) Skip(n int64) int64 {
	if n > int64(len(b.buf)) {
		n = int64(len(b.buf))
	}
	b.buf = b.buf[n:]
	return n
}

func (b *responseBody) Close() { b.MarkClosed() }

func (b *responseBody) AsFD() (int, bool) { return 0, false }

func (b *responseBody) Read(_ context.Context) {
	if b.Done() {
		return
	}
	b.deliver()
}
