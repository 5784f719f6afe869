package memcache

import (
	"context"

	"github.com/cm4all/bengproxy/internal/istream"
)

// responseValue is the push/pull adapter for a memcached value body,
// the same shape as internal/httpwire's responseBody and
// internal/ajp's responseBodyAdapter, specialised for a length that's
// always known up front (memcached never chunks or streams-until-close).
type responseValue struct {
	istream.Base
	buf       []byte
	total     int64
	delivered int64
	err       error
	readPending bool
}

func newResponseValue(total int64) *responseValue {
	return &responseValue{total: total}
}

func (v *responseValue) remaining() int64 { return v.total - v.delivered - int64(len(v.buf)) }

func (v *responseValue) feed(data []byte) {
	if len(data) == 0 {
		return
	}
	v.buf = append(v.buf, data...)
	if v.readPending {
		v.readPending = false
		v.deliver()
	}
}

func (v *responseValue) fail(err error) {
	if v.err != nil {
		return
	}
	v.err = err
	if v.readPending {
		v.readPending = false
		v.FireError(err)
	}
}

func (v *responseValue) deliver() {
	if len(v.buf) == 0 {
		switch {
		case v.err != nil:
			v.FireError(v.err)
		case v.delivered >= v.total:
			v.FireEOF()
		default:
			v.readPending = true
		}
		return
	}
	consumed := v.Handler.OnData(v.buf)
	if consumed < 0 || consumed > len(v.buf) {
		v.FireError(istream.ErrProducedTooMuch)
		return
	}
	v.delivered += int64(consumed)
	v.buf = v.buf[consumed:]
	if consumed == 0 {
		return
	}
	if len(v.buf) == 0 {
		if v.err != nil {
			v.FireError(v.err)
		} else if v.delivered >= v.total {
			v.FireEOF()
		}
	}
}

func (v *responseValue) Available(partial bool) int64 {
	if v.Done() {
		return 0
	}
	return v.total - v.delivered
}

func (v *responseValue) Skip(n int64) int64 {
	if n > int64(len(v.buf)) {
		n = int64(len(v.buf))
	}
	v.buf = v.buf[n:]
	v.delivered += n
	return n
}

func (v *responseValue) Close() { v.MarkClosed() }

func (v *responseValue) AsFD() (int, bool) { return 0, false }

func (v *responseValue) Read(_ context.Context) {
	if v.Done() {
		return
	}
	v.deliver()
}
