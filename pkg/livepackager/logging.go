package livepackager

import (
	"github.com/jmylchreest/livepackager/internal/observability"
)

// LogCaptureSink collects packaging log messages at or above a severity
// threshold into a bounded buffer (1,000 messages). Hosts install it
// around packaging calls and drain the collected messages afterwards.
type LogCaptureSink = observability.CaptureSink

// NewLogCaptureSink creates a sink capturing records at or above the
// given level name ("debug", "info", "warn", "error").
func NewLogCaptureSink(level string) *LogCaptureSink {
	return observability.NewCaptureSink(level)
}
