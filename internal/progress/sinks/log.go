package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/knowledge-engine/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Drops and
// retries log at warn level; everything else at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.EventUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("outcome", string(evt.Outcome)),
			zap.String("url", evt.URL),
			zap.String("site", evt.Site),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Nodes > 0 || evt.Edges > 0 {
			fields = append(fields, zap.Int("nodes", evt.Nodes), zap.Int("edges", evt.Edges))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := zapcore.DebugLevel
		switch evt.Outcome {
		case progress.OutcomeDropped, progress.OutcomeRetryScheduled:
			level = zapcore.WarnLevel
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
