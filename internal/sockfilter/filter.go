// Package sockfilter defines the pluggable byte-transform layer that
// sits under a buffered socket (component D, spec §4.1 "Socket
// filter"). TLS termination is the motivating use case but is out of
// scope for this core (spec §1 Non-goals: "does not itself speak HTTPS
// beyond presenting a pluggable socket-filter interface") — only the
// interface and a transparent "nop" implementation live here.
package sockfilter

// Filter transforms bytes between the wire and the buffered socket's
// plain-text view. DecryptRead is applied to bytes freshly read from the
// kernel before they reach the input FIFO; EncryptWrite is applied to
// bytes about to be written to the kernel.
//
// Both methods may buffer: a filter is free to hold back bytes (e.g. a
// partial TLS record) and return less than it was given, signalling how
// many input bytes it actually consumed.
type Filter interface {
	// DecryptRead consumes ciphertext and appends any plaintext it
	// produced to dst, returning the possibly-grown slice and the
	// number of input bytes consumed.
	DecryptRead(dst, ciphertext []byte) (out []byte, consumed int, err error)

	// EncryptWrite consumes plaintext and appends ciphertext to dst.
	EncryptWrite(dst, plaintext []byte) (out []byte, consumed int, err error)

	// Closed is invoked when the underlying socket reports EOF/closed,
	// giving the filter a chance to flush any buffered plaintext (e.g.
	// a TLS close_notify) before the buffered socket fires OnEnd.
	Closed() (flush []byte)
}

// Nop is the identity filter: every byte passes through unchanged. It
// mirrors the C engine's nop_socket_filter.c / nop_thread_socket_filter.c,
// used when no TLS (or a debug passthrough) is configured.
type Nop struct{}

func (Nop) DecryptRead(dst, ciphertext []byte) ([]byte, int, error) {
	return append(dst, ciphertext...), len(ciphertext), nil
}

func (Nop) EncryptWrite(dst, plaintext []byte) ([]byte, int, error) {
	return append(dst, plaintext...), len(plaintext), nil
}

func (Nop) Closed() []byte { return nil }
