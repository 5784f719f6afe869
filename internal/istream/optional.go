package istream

import "context"

// Optional gates a source istream behind an external decision: Resume
// lets bytes start flowing, Discard abandons the source and presents an
// empty stream instead. This is the HTTP/1.x client's "Expect:
// 100-continue" mechanism (spec §4.2): the request body is wrapped in
// an Optional that withholds bytes until a 100 Continue status line
// arrives (Resume) or the server sends its final response before that
// (Discard).
type Optional struct {
	Base
	source Istream
	state  optionalState
	// readPending remembers that the downstream consumer already asked
	// for data while we were withholding it, so Resume can immediately
	// forward the request instead of waiting for another external Read.
	readPending bool
}

type optionalState int

const (
	optionalWithheld optionalState = iota
	optionalResumed
	optionalDiscarded
)

// NewOptional wraps source in the withheld state.
func NewOptional(source Istream) *Optional {
	return &Optional{source: source}
}

// Resume allows bytes to flow from the wrapped source from now on.
func (o *Optional) Resume(ctx context.Context) {
	if o.state != optionalWithheld {
		return
	}
	o.state = optionalResumed
	if o.readPending {
		o.readPending = false
		o.Read(ctx)
	}
}

// Discard abandons the wrapped source; the stream reports EOF as if it
// had always been empty.
func (o *Optional) Discard() {
	if o.state == optionalDiscarded {
		return
	}
	o.state = optionalDiscarded
	o.source.Close()
	if o.readPending {
		o.readPending = false
		o.FireEOF()
	}
}

func (o *Optional) Available(partial bool) int64 {
	switch o.state {
	case optionalDiscarded:
		return 0
	case optionalWithheld:
		if partial {
			return o.source.Available(true)
		}
		return Unknown
	default:
		return o.source.Available(partial)
	}
}

func (o *Optional) Skip(n int64) int64 {
	if o.state != optionalResumed {
		return 0
	}
	return o.source.Skip(n)
}

func (o *Optional) Close() {
	if o.Done() {
		return
	}
	if o.state != optionalDiscarded {
		o.source.Close()
	}
	o.MarkClosed()
}

func (o *Optional) AsFD() (int, bool) { return 0, false }

func (o *Optional) Read(ctx context.Context) {
	if o.Done() {
		return
	}
	switch o.state {
	case optionalDiscarded:
		o.FireEOF()
	case optionalWithheld:
		o.readPending = true
	default:
		o.source.SetHandler(o.Handler, o.Direct)
		o.source.Read(ctx)
	}
}
