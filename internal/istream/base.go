package istream

import "context"

// Base holds the handler/mask pair and the closed/finished bookkeeping
// shared by every concrete istream in this package. Embed it and call
// FireEOF/FireError/MarkClosed/Done instead of re-deriving the
// exactly-once EOF/error/close invariant in each implementation.
type Base struct {
	Handler Handler
	Direct  DirectMask
	done    bool
}

// SetHandler implements part of the Istream interface.
func (b *Base) SetHandler(h Handler, direct DirectMask) {
	b.Handler = h
	b.Direct = direct
}

// Done reports whether EOF, an error, or Close has already fired.
func (b *Base) Done() bool { return b.done }

// FireEOF invokes OnEOF exactly once, ignoring subsequent calls.
func (b *Base) FireEOF() {
	if b.done {
		return
	}
	b.done = true
	if b.Handler != nil {
		b.Handler.OnEOF()
	}
}

// FireError invokes OnError exactly once, ignoring subsequent calls.
func (b *Base) FireError(err error) {
	if b.done {
		return
	}
	b.done = true
	if b.Handler != nil {
		b.Handler.OnError(err)
	}
}

// MarkClosed marks the stream terminated without notifying the handler,
// matching Istream.Close's no-callback contract.
func (b *Base) MarkClosed() { b.done = true }

// nopRead is a convenience default for istreams whose Read is a no-op
// once already finished (e.g. called again after EOF by a confused
// caller during shutdown).
func (b *Base) nopRead(_ context.Context) bool { return b.done }
