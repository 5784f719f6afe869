package istream

import "context"

// Delayed is a placeholder Istream that has no real source yet. It is
// used wherever production must wait on an asynchronous event before
// any byte can flow: the inline-widget driver (component P) hands a
// Delayed to the template processor for each <c:widget> element while
// the widget's class resolution (component O) and backend request are
// still in flight, then calls SetSource once the real response body
// istream exists.
type Delayed struct {
	Base
	source      Istream
	err         error
	readPending bool

	// OnClose, if set, runs once when Close is called before the
	// placeholder ever resolved — the inline-widget driver (component P)
	// uses this to cancel the in-flight throttle job, header timer, and
	// backend request when the consumer aborts early.
	OnClose func()
}

// NewDelayed creates an unresolved placeholder.
func NewDelayed() *Delayed { return &Delayed{} }

// SetSource resolves the placeholder to a real istream. Must be called
// at most once, and not after Fail.
func (d *Delayed) SetSource(source Istream) {
	if d.source != nil || d.err != nil || d.Done() {
		return
	}
	d.source = source
	if d.readPending {
		d.readPending = false
		d.source.SetHandler(d.Handler, d.Direct)
		d.source.Read(context.Background())
	}
}

// Fail resolves the placeholder to an immediate error, e.g. class
// resolution failed or approval was refused (spec §4.11 step 3/4).
func (d *Delayed) Fail(err error) {
	if d.source != nil || d.err != nil || d.Done() {
		return
	}
	d.err = err
	if d.readPending {
		d.readPending = false
		d.FireError(err)
	}
}

func (d *Delayed) Available(partial bool) int64 {
	if d.source != nil {
		return d.source.Available(partial)
	}
	if partial {
		return 0
	}
	return Unknown
}

func (d *Delayed) Skip(n int64) int64 {
	if d.source != nil {
		return d.source.Skip(n)
	}
	return 0
}

func (d *Delayed) Close() {
	if d.Done() {
		return
	}
	if d.source != nil {
		d.source.Close()
	} else if d.OnClose != nil {
		d.OnClose()
	}
	d.MarkClosed()
}

func (d *Delayed) AsFD() (int, bool) { return 0, false }

func (d *Delayed) Read(ctx context.Context) {
	if d.Done() {
		return
	}
	switch {
	case d.err != nil:
		d.FireError(d.err)
	case d.source != nil:
		d.source.SetHandler(d.Handler, d.Direct)
		d.source.Read(ctx)
	default:
		d.readPending = true
	}
}
