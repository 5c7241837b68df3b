package logging

import (
	"context"
	"log/slog"
)

// Sink consumes structured events.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists or forwards a single event.
	// Implementations should not modify the event.
	Write(event *Event) error

	// Close flushes any buffered data and releases resources.
	Close() error
}

// SlogSink forwards events to a slog.Logger at debug level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging through logger, or slog.Default when
// logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(event *Event) error {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("run_id", event.RunID),
	}
	if event.Component != "" {
		attrs = append(attrs, slog.String("component", event.Component))
	}
	if len(event.Data) > 0 {
		attrs = append(attrs, slog.String("data", string(event.Data)))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, event.Summary, attrs...)
	return nil
}

func (s *SlogSink) Close() error { return nil }
