package logging

import (
	"context"
	"log/slog"

	"pubpipe/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldReleaseVersionID is the standardized key for release version identifiers.
	FieldReleaseVersionID = "release_version_id"
	// FieldAttemptID is the standardized key for publishing attempt identifiers.
	FieldAttemptID = "attempt_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (stage_started, stage_retry, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to look at next.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.ReleaseVersionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldReleaseVersionID, id))
	}
	if id, ok := services.AttemptIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAttemptID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
