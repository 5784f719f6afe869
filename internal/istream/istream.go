// Package istream implements the pull-based byte-stream substrate
// (component B, spec §3.1/§4.1) that every protocol client, parser, and
// template-processor output in this engine is built on. A stream is
// consumed by exactly one Handler; production is driven by Read calls
// and back-pressure is expressed by a handler returning 0 from OnData.
package istream

import "context"

// DirectResult is the sentinel/byte-count returned by Handler.OnDirect,
// mirroring the C engine's signed-int result codes (spec §4.1 "Direct-mode
// result codes").
type DirectResult int

const (
	// DirectBlocking means the consumer would block; the producer must
	// wait for a new writability edge before retrying.
	DirectBlocking DirectResult = -2
	// DirectClosed means the consumer closed itself during the callback.
	DirectClosed DirectResult = -3
	// DirectEOF means zero bytes were transferred because the source is
	// at end-of-file.
	DirectEOF DirectResult = 0
	// Non-negative values other than DirectEOF report bytes transferred.
	// Negative values other than DirectBlocking/DirectClosed report an
	// errno via DirectErrno.
)

// DirectErrno wraps a raw errno returned by OnDirect when the transfer
// failed for a reason other than blocking or closure.
type DirectErrno int

func (e DirectErrno) Error() string { return "istream: direct transfer errno" }

// FDType enumerates the kinds of file descriptor a producer may offer
// through AsFD/OnDirect; a handler declares which of these it accepts
// via a DirectMask (spec §4.1 "Direct mode is enabled per-handler via a
// bitmask").
type FDType int

const (
	FDFile FDType = 1 << iota
	FDPipe
	FDSocket
)

// DirectMask is a bitmask of FDType values a Handler is willing to
// receive through OnDirect. A producer whose descriptor type is not in
// the mask falls back to the buffered OnData path.
type DirectMask int

// Accepts reports whether t is allowed by mask.
func (mask DirectMask) Accepts(t FDType) bool { return mask&DirectMask(t) != 0 }

// NoDirect is the zero mask: buffered delivery only.
const NoDirect DirectMask = 0

// Handler receives data from an Istream. Exactly one of OnEOF/OnError
// fires over the handler's lifetime, never both, never twice (spec §3.1
// invariant).
type Handler interface {
	// OnData delivers bytes the producer already has in hand. The
	// return value is the number of bytes the handler consumed; it may
	// be less than len(data) (back-pressure) or 0 (back-pressure or "I
	// closed the stream during this callback").
	OnData(data []byte) int

	// OnDirect offers a zero-copy transfer of up to maxLen bytes from
	// fd. Only called when the handler's DirectMask accepts fdType.
	// Returns bytes transferred, or one of the DirectResult sentinels
	// (as an int), or a negative errno via DirectErrno.
	OnDirect(fd int, fdType FDType, maxLen int) (int, error)

	// OnEOF signals clean end of stream. The Istream is destroyed
	// immediately after this call returns.
	OnEOF()

	// OnError signals the stream failed. The Istream is destroyed
	// immediately after this call returns.
	OnError(err error)
}

// Istream is a pull-based byte source with a single consumer.
type Istream interface {
	// Available returns the exact number of remaining bytes, or a
	// conservative lower bound when partial is true and the exact count
	// is unknown, or -1 if nothing useful can be said.
	Available(partial bool) int64

	// Read asks the producer to make progress: deliver at least one
	// byte via the handler synchronously, or arrange to do so later.
	// Only one Read may be outstanding at a time.
	Read(ctx context.Context)

	// Skip discards up to n bytes without delivering them to the
	// handler, returning the number actually skipped.
	Skip(n int64) int64

	// Close terminates the stream without invoking OnEOF or OnError.
	Close()

	// AsFD optionally hands the consumer an equivalent file descriptor.
	// On success (ok==true) the Istream is destroyed; the caller now
	// owns fd.
	AsFD() (fd int, ok bool)

	// SetHandler attaches the single consumer and the direct-mode mask
	// it accepts. Must be called exactly once before the first Read.
	SetHandler(h Handler, direct DirectMask)
}

// Unknown is the Available() sentinel meaning "no usable estimate".
const Unknown int64 = -1
