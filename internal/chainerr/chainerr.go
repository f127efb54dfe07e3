// Package chainerr distinguishes the error kinds the core must treat
// differently: connection errors are retried transparently, interrupts
// propagate to a graceful shutdown, everything else is fatal.
package chainerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way §7 of the design groups them.
type Kind int

const (
	KindConnection Kind = iota
	KindInterrupt
	KindProtocol
	KindSchema
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindInterrupt:
		return "interrupt"
	case KindProtocol:
		return "protocol"
	case KindSchema:
		return "schema"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error carries a kind, a short context string and the wrapped cause, and
// prints the full chain top-down the way turbo-geth's fmt.Errorf("...: %w")
// chains read when logged at a fatal exit.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Context
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Cause.Error())
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap attaches context and a kind to cause. A nil cause returns nil.
func Wrap(kind Kind, context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Newf builds a leaf Error (no cause) with a formatted context string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or something it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for errors.As(err, &ce) {
		if ce.Kind == kind {
			return true
		}
		if ce.Cause == nil {
			return false
		}
		err = ce.Cause
	}
	return false
}

// Signum identifies which OS signal triggered an Interrupt error.
type Signum int

// Interrupted builds a KindInterrupt error carrying the given signal
// number, the way the signal waiter surfaces a shutdown request to
// update(). The default waiter passes SIGTERM for both SIGINT and
// SIGTERM, and the indexer's between-batch shutdown checks pass 0.
func Interrupted(sig Signum) error {
	return &Error{Kind: KindInterrupt, Context: fmt.Sprintf("interrupted by signal %d", sig)}
}
