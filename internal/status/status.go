// Package status defines the error taxonomy shared by every packaging
// component. The public API re-exports these types from pkg/livepackager.
package status

import (
	"errors"
	"fmt"
)

// ErrorKind classifies packaging failures.
type ErrorKind int

const (
	// KindInvalidArgument indicates malformed configuration, wrong key/IV
	// sizes, nil sinks or unknown enum values.
	KindInvalidArgument ErrorKind = iota + 1
	// KindParseError indicates malformed fMP4, WebVTT or TTML input.
	KindParseError
	// KindEncryptionError indicates subsample arithmetic mismatches or
	// cipher initialization failures.
	KindEncryptionError
	// KindMuxError indicates an internal invariant violation while writing
	// output. It signals a bug, not bad input.
	KindMuxError
	// KindUnsupported indicates a format/track/scheme combination that is
	// not implemented, e.g. AES-128 with fMP4 output.
	KindUnsupported
)

// String returns the canonical name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindParseError:
		return "PARSE_ERROR"
	case KindEncryptionError:
		return "ENCRYPTION_ERROR"
	case KindMuxError:
		return "MUX_ERROR"
	case KindUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Status is the error type surfaced at the API boundary.
type Status struct {
	Kind    ErrorKind
	Message string
	cause   error
}

// Error implements the error interface.
func (s *Status) Error() string {
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (s *Status) Unwrap() error {
	return s.cause
}

// New creates a Status with the given kind and message.
func New(kind ErrorKind, msg string) *Status {
	return &Status{Kind: kind, Message: msg}
}

// Newf creates a Status with a formatted message.
func Newf(kind ErrorKind, format string, args ...any) *Status {
	return &Status{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. If err already
// carries a Status it is returned unchanged so the original kind survives
// propagation through higher layers.
func Wrap(kind ErrorKind, err error, msg string) *Status {
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return &Status{Kind: kind, Message: fmt.Sprintf("%s: %v", msg, err), cause: err}
}

// KindOf extracts the ErrorKind from an error, or KindMuxError if the
// error does not carry one (an unclassified failure inside the write path
// is by definition an internal invariant violation).
func KindOf(err error) ErrorKind {
	var st *Status
	if errors.As(err, &st) {
		return st.Kind
	}
	return KindMuxError
}
