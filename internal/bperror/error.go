// Package bperror defines the error-kind taxonomy shared by every wire
// protocol client and the template processor. All components report
// failures as a *bperror.Error wrapping one of the Kind constants so
// callers can dispatch on errors.As without string matching.
package bperror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Unspecified is the zero value; never used for a wrapped error.
	Unspecified Kind = iota
	// Garbage marks a malformed wire message (bad status line, truncated header).
	Garbage
	// Semantics marks a protocol rule violation (e.g. missing Content-Length
	// with keep-alive requested).
	Semantics
	// IO marks a socket/filesystem read or write failure.
	IO
	// Timeout marks an expired header, body, or control-channel deadline.
	Timeout
	// UnsupportedEncoding marks a non-identity Content-Encoding on an
	// inline-widget response.
	UnsupportedEncoding
	// WrongType marks a response content-type that the embedding context
	// (HTML vs. plain-text) refuses.
	WrongType
	// NoSuchView marks a request for a widget view that does not exist.
	NoSuchView
	// NotAContainer marks a <c:widget> expansion attempted on a widget
	// whose view is not a container.
	NotAContainer
	// Forbidden marks a refusal by widget approval/group policy.
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case Garbage:
		return "GARBAGE"
	case Semantics:
		return "UNSPECIFIED"
	case IO:
		return "IO"
	case Timeout:
		return "TIMEOUT"
	case UnsupportedEncoding:
		return "UNSUPPORTED_ENCODING"
	case WrongType:
		return "WRONG_TYPE"
	case NoSuchView:
		return "NO_SUCH_VIEW"
	case NotAContainer:
		return "NOT_A_CONTAINER"
	case Forbidden:
		return "FORBIDDEN"
	default:
		return "UNSPECIFIED"
	}
}

// Error is the concrete error type carried through istream handler
// on_error callbacks and protocol client return values.
type Error struct {
	Kind Kind
	// Peer, when non-empty, is prefixed onto the message the way the
	// HTTP client tags errors with the backend's peer_name (spec §7).
	Peer string
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s", e.Peer, e.msg, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Peer, e.msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.Err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, bperror.ErrGarbage) style checks by comparing Kind
// against a sentinel *Error created with New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap builds an *Error of the given kind, wrapping cause with
// github.com/pkg/errors so a %+v format still prints a stack trace.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, Err: errors.Wrap(cause, msg)}
}

// WithPeer returns a copy of e tagged with the backend peer name, as the
// HTTP client does for every error it raises (spec §7 "Propagation").
func (e *Error) WithPeer(peer string) *Error {
	cp := *e
	cp.Peer = peer
	return &cp
}

// Sentinels usable with errors.Is for call sites that only care about kind.
var (
	ErrGarbage             = New(Garbage, "")
	ErrSemantics           = New(Semantics, "")
	ErrIO                  = New(IO, "")
	ErrTimeout             = New(Timeout, "")
	ErrUnsupportedEncoding = New(UnsupportedEncoding, "")
	ErrWrongType           = New(WrongType, "")
	ErrNoSuchView          = New(NoSuchView, "")
	ErrNotAContainer       = New(NotAContainer, "")
	ErrForbidden           = New(Forbidden, "")
)

// Of returns the Kind of err if it (or something it wraps) is a *Error,
// and Unspecified otherwise.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unspecified
}
