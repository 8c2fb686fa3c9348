package services

import "context"

type contextKey string

const (
	releaseVersionIDKey contextKey = "release_version_id"
	attemptIDKey        contextKey = "attempt_id"
	stageKey            contextKey = "stage"
	requestIDKey        contextKey = "request_id"
)

// WithReleaseVersionID annotates context with the release version identifier.
func WithReleaseVersionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, releaseVersionIDKey, id)
}

// ReleaseVersionIDFromContext extracts the release version identifier if present.
func ReleaseVersionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(releaseVersionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAttemptID annotates context with the publishing attempt identifier.
func WithAttemptID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, attemptIDKey, id)
}

// AttemptIDFromContext extracts the publishing attempt identifier if present.
func AttemptIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(attemptIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
