package logging

import "context"

type contextKey int

const (
	runIDKey contextKey = iota
	loggerKey
)

// WithRunIDCtx returns a new context carrying the sweep run ID.
func WithRunIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromCtx extracts the run ID from the context.
func RunIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromCtx returns the logger from context, or nil if not set.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	return l
}

// FromCtx returns the logger attached to ctx. Without one it derives a
// logger from the global logger and any run ID in the context.
func FromCtx(ctx context.Context) *Logger {
	if l := LoggerFromCtx(ctx); l != nil {
		return l
	}
	l := Global()
	if id := RunIDFromCtx(ctx); id != "" {
		l = l.WithRunID(id)
	}
	return l
}

// StartRun attaches a run-scoped logger and run ID to ctx. The logger is
// derived from the one already in ctx, falling back to base and then to the
// global logger.
func StartRun(ctx context.Context, base *Logger, runID string) (context.Context, *Logger) {
	l := LoggerFromCtx(ctx)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	l = l.WithRunID(runID)
	ctx = WithRunIDCtx(ctx, runID)
	return WithLoggerCtx(ctx, l), l
}
