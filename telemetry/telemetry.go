// Package telemetry implements the fire-and-forget event sink named
// throughout spec §4.5/§5/§8: producers (the path validator, the snapshot
// store) never block on it and never observe its failures.
package telemetry

import (
	"context"
	"log/slog"
)

// Event is one telemetry record. Fields is an open attribute bag so each
// producer can attach whatever coarse, non-sensitive context it has (a
// rejection reason tag, a truncated path sample, a tool name).
type Event struct {
	Name   string
	Fields map[string]any
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// bufferSize bounds the async channel; a full buffer drops the event rather
// than block the producer, preserving the fire-and-forget contract under
// sustained load.
const bufferSize = 256

// LogSink is the default Sink: it drains events on its own goroutine and
// writes them as structured log lines, so telemetry never shares a stack
// frame (and therefore never shares blocking behavior) with its producers.
type LogSink struct {
	logger *slog.Logger
	events chan Event
}

// NewLogSink starts a LogSink's drain loop. Call Close to stop it.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LogSink{logger: logger, events: make(chan Event, bufferSize)}
	go s.drain()
	return s
}

func (s *LogSink) drain() {
	for evt := range s.events {
		attrs := make([]any, 0, len(evt.Fields)*2)
		for k, v := range evt.Fields {
			attrs = append(attrs, slog.Any(k, v))
		}
		s.logger.Info("telemetry: "+evt.Name, attrs...)
	}
}

// Emit enqueues event without blocking; a full buffer silently drops it.
func (s *LogSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	default:
	}
}

// Close stops the drain loop. Safe to call once.
func (s *LogSink) Close() { close(s.events) }

// NoopSink discards every event; used where telemetry is configured off.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}
