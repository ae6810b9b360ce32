// Package livepackager transforms fMP4 media segments into packaged CMAF,
// MPEG-2 TS or timed-text output segments, applying optional content
// encryption. Each call is self-contained: the packager holds no state
// across segments beyond its immutable configuration.
package livepackager

import (
	"github.com/jmylchreest/livepackager/internal/status"
)

// ErrorKind classifies packaging failures. See the Kind* constants.
type ErrorKind = status.ErrorKind

// Error kinds surfaced by the packager.
const (
	KindInvalidArgument = status.KindInvalidArgument
	KindParseError      = status.KindParseError
	KindEncryptionError = status.KindEncryptionError
	KindMuxError        = status.KindMuxError
	KindUnsupported     = status.KindUnsupported
)

// Status is the error type surfaced at the API boundary. A nil *Status
// means OK.
type Status = status.Status

// NewStatus creates a Status with the given kind and message.
func NewStatus(kind ErrorKind, msg string) *Status {
	return status.New(kind, msg)
}

// Statusf creates a Status with a formatted message.
func Statusf(kind ErrorKind, format string, args ...any) *Status {
	return status.Newf(kind, format, args...)
}

// KindOf extracts the ErrorKind from an error, or KindMuxError when the
// error carries no kind.
func KindOf(err error) ErrorKind {
	return status.KindOf(err)
}
