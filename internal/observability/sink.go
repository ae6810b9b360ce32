package observability

import (
	"context"
	"log"
	"log/slog"
	"sync"
)

// maxCapturedMessages bounds the sink so a long-lived host cannot grow it
// without draining.
const maxCapturedMessages = 1000

// CaptureSink collects log messages at or above a severity threshold into
// a bounded buffer. Hosts install it around packaging calls and drain the
// collected messages afterwards. Install and Remove are idempotent and
// safe for concurrent use with logging.
type CaptureSink struct {
	mu        sync.Mutex
	level     slog.Level
	messages  []string
	installed bool
	prev      *slog.Logger
}

// NewCaptureSink creates a sink capturing records at or above the given
// level name ("debug", "info", "warn", "error").
func NewCaptureSink(level string) *CaptureSink {
	return &CaptureSink{level: parseLevel(level)}
}

// Initialize resets the severity threshold and clears captured messages.
func (s *CaptureSink) Initialize(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = parseLevel(level)
	s.messages = s.messages[:0]
}

// Install routes the default slog logger through the sink. The previous
// default continues to receive every record.
func (s *CaptureSink) Install() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return
	}
	s.prev = slog.Default()
	// SetDefault points package log at the new handler; restore its output
	// so a previous handler that writes through package log does not loop
	// back into the sink.
	w, flags := log.Writer(), log.Flags()
	slog.SetDefault(slog.New(&captureHandler{sink: s, next: s.prev.Handler()}))
	log.SetOutput(w)
	log.SetFlags(flags)
	s.installed = true
}

// Remove restores the previous default logger.
func (s *CaptureSink) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.installed {
		return
	}
	slog.SetDefault(s.prev)
	s.prev = nil
	s.installed = false
}

// Drain returns the captured messages and clears the buffer.
func (s *CaptureSink) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	s.messages = s.messages[:0]
	return out
}

// capture records one message, dropping the oldest message once full.
func (s *CaptureSink) capture(level slog.Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	if len(s.messages) >= maxCapturedMessages {
		s.messages = append(s.messages[:0], s.messages[1:]...)
	}
	s.messages = append(s.messages, msg)
}

// captureHandler tees records into the sink while forwarding to the
// wrapped handler.
type captureHandler struct {
	sink *CaptureSink
	next slog.Handler
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.sink.level || h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	h.sink.capture(r.Level, r.Message)
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{sink: h.sink, next: h.next.WithAttrs(attrs)}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{sink: h.sink, next: h.next.WithGroup(name)}
}
