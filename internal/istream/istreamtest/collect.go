// Package istreamtest provides a trivial Handler that drains an Istream
// to completion, used across protocol-client and processor tests the
// way the original engine's test suite used a "string sink" (see
// original_source/src/istream/StringSink.hxx).
package istreamtest

import (
	"context"

	"github.com/cm4all/bengproxy/internal/istream"
)

// Collector accumulates every byte delivered to it and records how the
// stream ended.
type Collector struct {
	Data  []byte
	Err   error
	EOF   bool
	Direct istream.DirectMask
}

func (c *Collector) OnData(data []byte) int {
	c.Data = append(c.Data, data...)
	return len(data)
}

func (c *Collector) OnDirect(fd int, fdType istream.FDType, maxLen int) (int, error) {
	return 0, istream.DirectErrno(0)
}

func (c *Collector) OnEOF() { c.EOF = true }

func (c *Collector) OnError(err error) { c.Err = err }

// Drain pumps in Read() until the stream reports EOF or an error,
// returning everything it collected. It assumes the stream under test
// never legitimately needs more than maxSteps Read calls to finish,
// which holds for every istream in this package since none of them
// depend on real asynchronous I/O.
func Drain(ctx context.Context, s istream.Istream, maxSteps int) *Collector {
	c := &Collector{}
	s.SetHandler(c, istream.NoDirect)
	for i := 0; i < maxSteps && !c.EOF && c.Err == nil; i++ {
		s.Read(ctx)
	}
	return c
}
