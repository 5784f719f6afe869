package inline

import (
	"context"
	"html"

	"github.com/cm4all/bengproxy/internal/istream"
)

// wrapAsPre converts a non-HTML, non-XML text/* widget response into
// `<pre class="beng_text_widget">…</pre>`, HTML-escaping the body
// along the way (spec §4.11 step 7).
func wrapAsPre(body istream.Istream) istream.Istream {
	return istream.NewChain(
		istream.NewStringStream(`<pre class="beng_text_widget">`),
		newHTMLEscape(body),
		istream.NewStringStream(`</pre>`),
	)
}

// htmlEscape wraps source, HTML-escaping every byte it delivers.
// Escaping can expand a single upstream chunk into more bytes than the
// downstream handler accepts in one call, so unconsumed escaped output
// is held in pending and redelivered on the next Read.
type htmlEscape struct {
	istream.Base
	source    istream.Istream
	pending   []byte
	sourceEOF bool
}

func newHTMLEscape(source istream.Istream) *htmlEscape {
	return &htmlEscape{source: source}
}

func (e *htmlEscape) Available(partial bool) int64 {
	if partial {
		return int64(len(e.pending))
	}
	return istream.Unknown
}

// Skip cannot discard escaped content without decoding it first, so it
// conservatively reports nothing skipped.
func (e *htmlEscape) Skip(int64) int64 { return 0 }

func (e *htmlEscape) Close() {
	if e.Done() {
		return
	}
	e.source.Close()
	e.MarkClosed()
}

func (e *htmlEscape) AsFD() (int, bool) { return 0, false }

func (e *htmlEscape) Read(ctx context.Context) {
	if e.Done() {
		return
	}
	if len(e.pending) > 0 {
		e.deliverPending()
		return
	}
	if e.sourceEOF {
		e.FireEOF()
		return
	}
	e.source.SetHandler(&htmlEscapeHandler{e: e}, istream.NoDirect)
	e.source.Read(ctx)
}

func (e *htmlEscape) deliverPending() {
	n := e.Handler.OnData(e.pending)
	if n > 0 {
		e.pending = e.pending[n:]
	}
	if len(e.pending) == 0 && e.sourceEOF {
		e.FireEOF()
	}
}

type htmlEscapeHandler struct{ e *htmlEscape }

func (h *htmlEscapeHandler) OnData(data []byte) int {
	h.e.pending = append(h.e.pending, html.EscapeString(string(data))...)
	h.e.deliverPending()
	return len(data)
}

func (h *htmlEscapeHandler) OnDirect(int, istream.FDType, int) (int, error) {
	return 0, istream.DirectErrno(0)
}

func (h *htmlEscapeHandler) OnEOF() {
	h.e.sourceEOF = true
	if len(h.e.pending) == 0 {
		h.e.FireEOF()
	}
}

func (h *htmlEscapeHandler) OnError(err error) {
	h.e.FireError(err)
}
