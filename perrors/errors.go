// Package perrors defines the distinct error kinds raised by the pbgzf
// encoder and indexer. Kinds are a flat enum, not a type hierarchy: callers
// that care about recovery should switch on Kind, not on the concrete Go
// type of the error.
package perrors

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind identifies why an operation failed. See the table in spec section 7
// for which component raises which kind and what, if anything, a caller can
// do about it.
type Kind int

const (
	// Other is the zero value; it should not be used directly.
	Other Kind = iota
	// CodecFailure is raised by the deflate layer. Fatal to the stream.
	CodecFailure
	// BlockOverflow indicates an invariant violation in BgzfBlockCodec; it
	// should never occur.
	BlockOverflow
	// IOFailure is raised by OrderedSink or the terminator check.
	IOFailure
	// MissingTerminator is raised by the post-Close terminator check.
	MissingTerminator
	// InvalidPointerFields is raised by the FilePointer codec on
	// out-of-range fields.
	InvalidPointerFields
	// IndexerTypeMismatch names an incompatible delegate indexer. No code in
	// this module returns it: bgzf.Options.Indexer is a typed interface
	// field, so an incompatible indexer is rejected at compile time.
	IndexerTypeMismatch
	// UnresolvedRecordsAtFinish is raised by DeferredIndexer.FinishNow when
	// records are still buffered. DeferredIndexer.Finish never returns it;
	// it waits instead.
	UnresolvedRecordsAtFinish
)

func (k Kind) String() string {
	switch k {
	case CodecFailure:
		return "CodecFailure"
	case BlockOverflow:
		return "BlockOverflow"
	case IOFailure:
		return "IOFailure"
	case MissingTerminator:
		return "MissingTerminator"
	case InvalidPointerFields:
		return "InvalidPointerFields"
	case IndexerTypeMismatch:
		return "IndexerTypeMismatch"
	case UnresolvedRecordsAtFinish:
		return "UnresolvedRecordsAtFinish"
	default:
		return "Other"
	}
}

// Error wraps an underlying cause with a Kind, in the style of
// github.com/grailbio/base/errors.E: op identifies the failing operation,
// and the wrapped error carries the usual chain for %v / errors.Is.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// E constructs an *Error, additionally routing the message through
// github.com/grailbio/base/errors.E so that it composes with the rest of the
// teacher stack's error decoration (stack context, nested op chains).
func E(kind Kind, op string, cause error, args ...interface{}) error {
	wrapped := cause
	if wrapped == nil {
		wrapped = errors.E(append([]interface{}{op}, args...)...)
	} else {
		wrapped = errors.E(append([]interface{}{wrapped, op}, args...)...)
	}
	return &Error{Kind: kind, Op: op, err: wrapped}
}

// Is reports whether err is a *Error of the given Kind.
func Is(kind Kind, err error) bool {
	pe, ok := err.(*Error)
	if !ok {
		return false
	}
	return pe.Kind == kind
}
