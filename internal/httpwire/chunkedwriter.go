package httpwire

import (
	"context"

	"github.com/cm4all/bengproxy/internal/istream"
)

// chunkedWriter re-frames a source istream of unknown length as an
// HTTP/1.1 chunked-transfer-coding byte stream (spec §4.2 "If
// Content-Length is unknown on the body and the method allows a body,
// the client applies chunked transfer encoding").
type chunkedWriter struct {
	istream.Base
	source     istream.Istream
	trailerEOF bool
}

func newChunkedWriter(source istream.Istream) *chunkedWriter {
	return &chunkedWriter{source: source}
}

func (w *chunkedWriter) Available(partial bool) int64 {
	if !partial {
		return istream.Unknown
	}
	return w.source.Available(true)
}

func (w *chunkedWriter) Skip(n int64) int64 { return 0 }

func (w *chunkedWriter) Close() {
	if w.Done() {
		return
	}
	w.source.Close()
	w.MarkClosed()
}

func (w *chunkedWriter) AsFD() (int, bool) { return 0, false }

func (w *chunkedWriter) Read(ctx context.Context) {
	if w.Done() {
		return
	}
	if w.trailerEOF {
		w.FireEOF()
		return
	}
	w.source.SetHandler(&chunkedWriterHandler{w: w}, istream.NoDirect)
	w.source.Read(ctx)
}

type chunkedWriterHandler struct {
	w *chunkedWriter
}

func (h *chunkedWriterHandler) OnData(data []byte) int {
	framed := EncodeChunk(data)
	consumed := h.w.Handler.OnData(framed)
	if consumed < len(framed)-len(data) {
		// Downstream refused even the framing overhead; report no
		// progress so the source redelivers the same bytes next time.
		return 0
	}
	return len(data)
}

func (h *chunkedWriterHandler) OnDirect(fd int, fdType istream.FDType, maxLen int) (int, error) {
	return 0, nil
}

func (h *chunkedWriterHandler) OnEOF() {
	h.w.trailerEOF = true
	final := EncodeChunk(nil)
	consumed := h.w.Handler.OnData(final)
	if consumed >= len(final) {
		h.w.FireEOF()
	}
}

func (h *chunkedWriterHandler) OnError(err error) {
	h.w.FireError(err)
}
