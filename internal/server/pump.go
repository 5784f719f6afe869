package server

import (
	"context"
	"io"
	"time"

	"github.com/cm4all/bengproxy/internal/istream"
)

// pumpIdleWait is the backoff between Read calls that produced no
// event. Most progress in this engine arrives synchronously within a
// Read call or is re-driven internally by the producer itself (a
// Delayed's SetSource, a Replace-based processor's source handler);
// this small sleep only covers the remaining case where a Read call
// legitimately has nothing to deliver yet because it is waiting on an
// in-flight resolver lookup or backend dial happening on another
// goroutine.
const pumpIdleWait = time.Millisecond

// sockWriter drains an Istream straight onto a io.Writer (a
// sockbuf.Socket in production), signalling done once the source
// reaches EOF or fails.
type sockWriter struct {
	w          io.Writer
	done       chan struct{}
	err        error
	progressed bool
}

func newSockWriter(w io.Writer) *sockWriter {
	return &sockWriter{w: w, done: make(chan struct{})}
}

func (s *sockWriter) OnData(data []byte) int {
	s.progressed = true
	n, err := s.w.Write(data)
	if err != nil {
		s.err = err
		return 0
	}
	return n
}

func (s *sockWriter) OnDirect(fd int, fdType istream.FDType, maxLen int) (int, error) {
	return 0, istream.DirectErrno(0)
}

func (s *sockWriter) OnEOF() {
	s.progressed = true
	close(s.done)
}

func (s *sockWriter) OnError(err error) {
	s.progressed = true
	s.err = err
	close(s.done)
}

// pumpToWriter drives src to completion against w and blocks until
// every byte has been written (or the stream fails). It repeatedly
// calls Read, backing off briefly whenever a call makes no progress,
// since some of that progress happens on other goroutines (resolver
// lookups, backend dials) rather than within the Read call itself.
func pumpToWriter(ctx context.Context, src istream.Istream, w io.Writer) error {
	sw := newSockWriter(w)
	src.SetHandler(sw, istream.NoDirect)
	for {
		sw.progressed = false
		src.Read(ctx)
		select {
		case <-sw.done:
			return sw.err
		default:
		}
		if !sw.progressed {
			time.Sleep(pumpIdleWait)
		}
	}
}
