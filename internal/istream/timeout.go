package istream

import (
	"context"
	"sync"
	"time"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// Timeout wraps source so that if no byte is delivered within d of the
// last delivery (or of the first Read), the stream fails with a
// bperror.Timeout error and the source is closed. This is the mechanism
// behind the inline-widget body timeout (spec §5, 10s default).
type Timeout struct {
	Base
	source Istream
	d      time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	expired bool
}

// NewTimeout wraps source with deadline d, reset on every byte delivered.
func NewTimeout(source Istream, d time.Duration) *Timeout {
	t := &Timeout{source: source, d: d}
	return t
}

func (t *Timeout) Available(partial bool) int64 { return t.source.Available(partial) }

func (t *Timeout) Skip(n int64) int64 {
	t.resetTimer()
	return t.source.Skip(n)
}

func (t *Timeout) Close() {
	if t.Done() {
		return
	}
	t.stopTimer()
	t.source.Close()
	t.MarkClosed()
}

func (t *Timeout) AsFD() (int, bool) { return 0, false }

func (t *Timeout) Read(ctx context.Context) {
	if t.Done() {
		return
	}
	t.armTimer()
	t.source.SetHandler(&timeoutHandler{t: t}, t.Direct)
	t.source.Read(ctx)
}

func (t *Timeout) armTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		t.timer = time.AfterFunc(t.d, t.fire)
	}
}

func (t *Timeout) resetTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Reset(t.d)
	}
}

func (t *Timeout) stopTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Timeout) fire() {
	t.mu.Lock()
	already := t.expired
	t.expired = true
	t.mu.Unlock()
	if already || t.Done() {
		return
	}
	t.source.Close()
	t.FireError(bperror.New(bperror.Timeout, "istream: no data before deadline"))
}

type timeoutHandler struct{ t *Timeout }

func (h *timeoutHandler) OnData(data []byte) int {
	n := h.t.Handler.OnData(data)
	if n > 0 {
		h.t.resetTimer()
	}
	return n
}

func (h *timeoutHandler) OnDirect(fd int, fdType FDType, maxLen int) (int, error) {
	n, err := h.t.Handler.OnDirect(fd, fdType, maxLen)
	if n > 0 {
		h.t.resetTimer()
	}
	return n, err
}

func (h *timeoutHandler) OnEOF() {
	h.t.stopTimer()
	h.t.FireEOF()
}

func (h *timeoutHandler) OnError(err error) {
	h.t.stopTimer()
	h.t.FireError(err)
}
