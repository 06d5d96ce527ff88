// Package middleware provides HTTP middleware for the credit ledger service.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength caps inbound request IDs so an oversized header cannot
// blow up span attributes or log lines.
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "facturio-backend",
		Enabled:     true,
	}
}

// Tracing returns OpenTelemetry tracing middleware with default configuration.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig wraps otelgin and enriches each span with request_id
// and the authenticated user_id. Span names follow otelgin's
// "METHOD route_pattern" convention.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}

	baseMiddleware := otelgin.Middleware(cfg.ServiceName)

	return func(c *gin.Context) {
		// otelgin opens the span; enrichment has to happen afterwards.
		baseMiddleware(c)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			enrichSpanWithAttributes(c, span)
		}
	}
}

func enrichSpanWithAttributes(c *gin.Context, span trace.Span) {
	if requestID := getRequestID(c); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	// user_id comes from verified token claims, never from client headers
	if userID := GetAuthUserID(c); userID != "" {
		span.SetAttributes(attribute.String("user_id", userID))
	}
}

// getRequestID retrieves the request ID from the gin context or header.
// Header values are truncated to MaxRequestIDLength.
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok && id != "" {
			return id
		}
	}

	headerID := c.GetHeader("X-Request-ID")
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

// statusErrorMessage names the span error for a 4xx/5xx status.
func statusErrorMessage(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "Internal Server Error"
	case statusCode == http.StatusUnauthorized:
		return "Unauthorized"
	case statusCode == http.StatusPaymentRequired:
		return "Payment Required"
	case statusCode == http.StatusNotFound:
		return "Not Found"
	case statusCode == http.StatusTooManyRequests:
		return "Too Many Requests"
	default:
		return "Client Error"
	}
}

// SpanErrorMarker marks spans with error status for 4xx/5xx responses.
// Must sit after the Tracing middleware in the chain.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}

		span.SetStatus(codes.Error, statusErrorMessage(statusCode))
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
}

// TracingAttributeInjector re-applies the span enrichment for chains where
// authentication runs after the Tracing middleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			enrichSpanWithAttributes(c, span)
		}
		c.Next()
	}
}
