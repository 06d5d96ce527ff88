// Package telemetry provides OpenTelemetry integration for distributed tracing.
// This file contains the span helpers used by application services.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer every business span is started on.
const TracerName = "facturio-backend"

// SpanOption configures span start options.
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute attaches an attribute at span start.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, toAttribute(key, value))
	}
}

// WithSpanKind overrides the default internal kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(opts *spanOptions) {
		opts.kind = kind
	}
}

// StartSpan opens a span on the business tracer. The caller owns the span
// and must End it.
//
//	ctx, span := telemetry.StartSpan(ctx, "credit_ledger.use_credits")
//	defer span.End()
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	options := &spanOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(options)
	}

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(options.kind)}
	if len(options.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(options.attributes...))
	}

	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, spanName, startOpts...)
}

// StartServiceSpan opens a span named {service}.{method}, the convention
// for application service entry points.
func StartServiceSpan(ctx context.Context, service, method string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, method), opts...)
}

// SetAttributes attaches attributes from alternating key/value arguments.
// Non-string keys and a trailing unpaired value are skipped.
//
//	telemetry.SetAttributes(span,
//	    "user_id", userID,
//	    "credit_type", creditType.String(),
//	)
func SetAttributes(span trace.Span, keyValues ...interface{}) {
	if span == nil {
		return
	}
	span.SetAttributes(pairAttributes(keyValues)...)
}

// SetAttribute attaches a single attribute.
func SetAttribute(span trace.Span, key string, value interface{}) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttribute(key, value))
}

// RecordError records the error on the span and flips its status to error.
func RecordError(span trace.Span, err error, opts ...trace.EventOption) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span explicitly successful. Optional, a span without an
// error status already reads as successful.
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent records a timestamped annotation with alternating key/value
// attribute arguments.
//
//	telemetry.AddEvent(span, "credits_debited",
//	    "credit_type", creditType.String(),
//	    "remaining", remaining,
//	)
func AddEvent(span trace.Span, name string, keyValues ...interface{}) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(pairAttributes(keyValues)...))
}

// pairAttributes converts alternating key/value arguments into attributes,
// skipping malformed pairs.
func pairAttributes(keyValues []interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	return attrs
}

// SpanFromContext returns the context's current span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithSpan stores the span on the context.
func ContextWithSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

// GetTraceID returns the current trace ID, empty without a valid one.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the current span ID, empty without a valid one.
func GetSpanID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// toAttribute picks the typed attribute constructor matching the value,
// falling back to fmt formatting for anything unrecognized.
func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case []int:
		return attribute.IntSlice(key, v)
	case []int64:
		return attribute.Int64Slice(key, v)
	case []float64:
		return attribute.Float64Slice(key, v)
	case []bool:
		return attribute.BoolSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// Span attribute keys for business spans. Metric attributes live in
// metrics.go as attribute.Key values; these are plain strings for the
// key/value helper functions above.
const (
	SpanAttrUserID     = "user_id"
	SpanAttrCreditType = "credit_type"
	SpanAttrAmount     = "amount"
	SpanAttrReason     = "reason"
	SpanAttrPlanSlug   = "plan_slug"

	SpanAttrDocumentID = "document_id"
	SpanAttrDocType    = "doc_type"

	SpanAttrEventID   = "event_id"
	SpanAttrEventType = "event_type"
)
