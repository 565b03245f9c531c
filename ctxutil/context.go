package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey is the context key carrying the per-run trace id.
const TraceIDKey = "trace_id"

// GetTraceID gets the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

// SetTraceID sets a trace ID to the context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context,
// generating one when absent.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := GetTraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetTraceID(ctx, id), id
}
