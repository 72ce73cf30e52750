// internal/events/fanout.go

// Package events delivers the engine's lifecycle event stream to interested
// consumers: logs, Redis pub/sub for the recording pipeline, and live
// WebSocket feeds. All delivery is at-least-once and advisory; a broken sink
// never stalls execution.
package events

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Fanout delivers every event to each registered sink in order. One sink's
// failure or panic is isolated from the others; the first error is returned
// after all sinks were attempted.
type Fanout struct {
	sinks  []schemas.EventSink
	logger *zap.Logger
}

var _ schemas.EventSink = (*Fanout)(nil)

// NewFanout builds a fanout over the given sinks. Nil entries are skipped.
func NewFanout(logger *zap.Logger, sinks ...schemas.EventSink) (*Fanout, error) {
	if logger == nil {
		return nil, errors.New("events: logger is required")
	}
	kept := make([]schemas.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{
		sinks:  kept,
		logger: logger.Named("event_fanout"),
	}, nil
}

// Emit forwards the event to every sink.
func (f *Fanout) Emit(ctx context.Context, event schemas.Event) error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := f.emitOne(ctx, sink, event); err != nil {
			f.logger.Warn("Event sink failed.",
				zap.String("event_type", string(event.Type)),
				zap.String("session_id", event.SessionID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (f *Fanout) emitOne(ctx context.Context, sink schemas.EventSink, event schemas.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event sink panicked: %v", r)
		}
	}()
	return sink.Emit(ctx, event)
}

// LogSink writes every event to the structured log. Always-on; it doubles as
// the audit trail when no other sink is configured.
type LogSink struct {
	logger *zap.Logger
}

var _ schemas.EventSink = (*LogSink)(nil)

// NewLogSink returns a sink writing to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, event schemas.Event) error {
	s.logger.Info("Session event.",
		zap.String("event_type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.Any("data", event.Data))
	return nil
}
