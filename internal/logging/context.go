package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := BatchIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("batch.id", id))
	}
	if id := IssueIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("issue.id", id))
	}
	if id := TaskIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("task.id", id))
	}
	return fields
}

type batchCtxKey struct{}
type issueCtxKey struct{}
type taskCtxKey struct{}

// WithBatchID adds a batch ID to context.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchCtxKey{}, id)
}

// BatchIDFromContext extracts the batch ID from context.
func BatchIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(batchCtxKey{}).(string)
	return id
}

// WithIssueID adds an issue ID to context.
func WithIssueID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, issueCtxKey{}, id)
}

// IssueIDFromContext extracts the issue ID from context.
func IssueIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(issueCtxKey{}).(string)
	return id
}

// WithTaskID adds a work item task ID to context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, id)
}

// TaskIDFromContext extracts the task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskCtxKey{}).(string)
	return id
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
