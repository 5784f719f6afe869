package istream

import "context"

// Chain concatenates a sequence of istreams into one, delivering each in
// turn and firing the chain's own OnEOF only once the last one is
// exhausted. The HTTP/1.x client request (spec §4.2 "Request framing")
// is a Chain of {status-line, header-block, body}.
type Chain struct {
	Base
	streams []Istream
	index   int
}

// NewChain builds a Chain over streams, taking ownership of each.
func NewChain(streams ...Istream) *Chain {
	return &Chain{streams: streams}
}

func (c *Chain) Available(partial bool) int64 {
	if c.index >= len(c.streams) {
		return 0
	}
	total := int64(0)
	for i := c.index; i < len(c.streams); i++ {
		a := c.streams[i].Available(partial)
		if a == Unknown {
			if partial {
				return total
			}
			return Unknown
		}
		total += a
	}
	return total
}

func (c *Chain) Skip(n int64) int64 {
	var skipped int64
	for n > 0 && c.index < len(c.streams) {
		cur := c.streams[c.index]
		s := cur.Skip(n)
		skipped += s
		n -= s
		if n > 0 {
			// current stream is exhausted by this skip; advance
			cur.Close()
			c.index++
		}
	}
	return skipped
}

func (c *Chain) Close() {
	if c.Done() {
		return
	}
	for i := c.index; i < len(c.streams); i++ {
		c.streams[i].Close()
	}
	c.MarkClosed()
}

func (c *Chain) AsFD() (int, bool) { return 0, false }

func (c *Chain) Read(ctx context.Context) {
	if c.Done() {
		return
	}
	if c.index >= len(c.streams) {
		c.FireEOF()
		return
	}
	c.streams[c.index].SetHandler(&chainHandler{chain: c}, c.Direct)
	c.streams[c.index].Read(ctx)
}

type chainHandler struct {
	chain *Chain
}

func (h *chainHandler) OnData(data []byte) int {
	return h.chain.Handler.OnData(data)
}

func (h *chainHandler) OnDirect(fd int, fdType FDType, maxLen int) (int, error) {
	return h.chain.Handler.OnDirect(fd, fdType, maxLen)
}

func (h *chainHandler) OnEOF() {
	h.chain.index++
	if h.chain.index >= len(h.chain.streams) {
		h.chain.FireEOF()
		return
	}
	// Advance to the next sub-stream; the caller's next Read() call will
	// pull from it. We proactively issue one Read so a handler that
	// only reacts to OnData keeps seeing forward progress without an
	// extra external edge.
	h.chain.streams[h.chain.index].SetHandler(h, h.chain.Direct)
	h.chain.streams[h.chain.index].Read(context.Background())
}

func (h *chainHandler) OnError(err error) {
	h.chain.FireError(err)
}
