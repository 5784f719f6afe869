package ajp

import (
	"context"

	"github.com/cm4all/bengproxy/internal/istream"
)

// responseBodyAdapter decouples packet-push delivery (Client.OnData)
// from the pull-based Istream contract the rest of the engine expects,
// mirroring internal/httpwire's responseBody.
type responseBodyAdapter struct {
	istream.Base
	buf         []byte
	eof         bool
	err         error
	readPending bool
}

func newResponseBodyAdapter() *responseBodyAdapter { return &responseBodyAdapter{} }

func (b *responseBodyAdapter) feed(data []byte) {
	if len(data) == 0 {
		return
	}
	b.buf = append(b.buf, data...)
	if b.readPending {
		b.readPending = false
		b.deliver()
	}
}

func (b *responseBodyAdapter) finish() {
	if b.eof {
		return
	}
	b.eof = true
	if b.readPending {
		b.readPending = false
		b.deliver()
	}
}

func (b *responseBodyAdapter) fail(err error) {
	if b.err != nil {
		return
	}
	b.err = err
	if b.readPending {
		b.readPending = false
		b.FireError(err)
	}
}

func (b *responseBodyAdapter) deliver() {
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

func (b *responseBodyAdapter) Available(partial bool) int64 {
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

func (b *responseBodyAdapter) Skip(n int64) int64 {
	if n > int64(len(b.buf)) {
		n = int64(len(b.buf))
	}
	b.buf = b.buf[n:]
	return n
}

func (b *responseBodyAdapter) Close() { b.MarkClosed() }

func (b *responseBodyAdapter) AsFD() (int, bool) { return 0, false }

func (b *responseBodyAdapter) Read(_ context.Context) {
	if b.Done() {
		return
	}
	b.deliver()
}
