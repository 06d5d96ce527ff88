package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	LoggerKey    contextKey = "logger"
	RequestIDKey contextKey = "request_id"
	// UserIDKey carries the authenticated user whose balance an operation
	// touches; the GORM logger picks it up for query logs.
	UserIDKey contextKey = "user_id"
)

// WithContext stores the logger on the context.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext returns the stored logger, a nop logger when none is there.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request ID and returns a logger carrying it as a
// field, itself stored back on the context.
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	enriched := logger.With(zap.String("request_id", requestID))
	return WithContext(ctx, enriched), enriched
}

// WithUserID is the user-ID counterpart of WithRequestID.
func WithUserID(ctx context.Context, logger *zap.Logger, userID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	enriched := logger.With(zap.String("user_id", userID))
	return WithContext(ctx, enriched), enriched
}

// GetRequestID returns the stored request ID, empty when absent.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID returns the stored user ID, empty when absent.
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// spanContext returns the context's span context when it is valid.
func spanContext(ctx context.Context) (trace.SpanContext, bool) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return trace.SpanContext{}, false
	}
	sc := span.SpanContext()
	return sc, sc.IsValid()
}

// GetTraceID returns the active trace ID, empty without a valid span.
func GetTraceID(ctx context.Context) string {
	if sc, ok := spanContext(ctx); ok {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the active span ID, empty without a valid span.
func GetSpanID(ctx context.Context) string {
	if sc, ok := spanContext(ctx); ok {
		return sc.SpanID().String()
	}
	return ""
}

// WithTraceContext attaches trace_id and span_id fields when the context
// carries a valid span, otherwise the logger comes back unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc, ok := spanContext(ctx)
	if !ok {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// ContextLogger injects trace_id, span_id, user_id and request_id from the
// context into every entry, so a single debit can be followed from the HTTP
// request through the balance update without manual field threading.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L binds the context to its stored logger.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// WithLogger binds the context to an explicitly supplied logger instead of
// the one stored in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: logger}
}

// enrichedLogger resolves the context fields at log time, not at bind time,
// so a span started after L() still shows up.
func (cl *ContextLogger) enrichedLogger() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}

	if sc, ok := spanContext(cl.ctx); ok {
		l = l.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if requestID := GetRequestID(cl.ctx); requestID != "" {
		l = l.With(zap.String("request_id", requestID))
	}
	if userID := GetUserID(cl.ctx); userID != "" {
		l = l.With(zap.String("user_id", userID))
	}
	return l
}

// With returns a child carrying extra fields on the same context.
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Debug(msg, fields...)
}

func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Info(msg, fields...)
}

func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Warn(msg, fields...)
}

func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Error(msg, fields...)
}

func (cl *ContextLogger) Fatal(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Fatal(msg, fields...)
}

// Zap hands out the enriched *zap.Logger for call sites that need one.
func (cl *ContextLogger) Zap() *zap.Logger {
	return cl.enrichedLogger()
}

// Sugar is the sugared variant of Zap.
func (cl *ContextLogger) Sugar() *zap.SugaredLogger {
	return cl.enrichedLogger().Sugar()
}
