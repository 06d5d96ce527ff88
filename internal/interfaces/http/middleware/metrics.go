package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig configures the request metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	ServiceName   string
	Enabled       bool
}

// DefaultHTTPMetricsConfig returns the production defaults.
func DefaultHTTPMetricsConfig() HTTPMetricsConfig {
	return HTTPMetricsConfig{
		ServiceName: "facturio-backend",
		Enabled:     true,
	}
}

// httpMetrics is the instrument set recorded per request: a counter split by
// method, route and status, latency and body-size histograms, and an
// up-down counter tracking in-flight requests.
type httpMetrics struct {
	requestTotal    *telemetry.Counter
	requestDuration *telemetry.Histogram
	requestSize     *telemetry.Histogram
	responseSize    *telemetry.Histogram
	activeRequests  metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestTotal, err := telemetry.NewCounter(meter,
		"http_server_request_total",
		"Total number of HTTP requests",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	requestSize, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Description: "HTTP request body size distribution in bytes",
		Unit:        "By",
		Boundaries:  []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
	})
	if err != nil {
		return nil, err
	}

	// Responses get one extra bucket, extraction results can be larger
	// than anything a client uploads as JSON.
	responseSize, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "HTTP response body size distribution in bytes",
		Unit:        "By",
		Boundaries:  []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000},
	})
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http_server_active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &httpMetrics{
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestSize:     requestSize,
		responseSize:    responseSize,
		activeRequests:  activeRequests,
	}, nil
}

// HTTPMetrics returns a middleware recording the request instrument set.
// With metrics disabled or no provider it degrades to a pass-through.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("http.server"), true)
}

// HTTPMetricsWithMeter builds the middleware on a caller-supplied meter,
// which tests use to plug in a manual reader.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}

	metrics, err := newHTTPMetrics(meter)
	if err != nil {
		// Broken instruments must not take the request path down with them.
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		requestSize := getRequestSize(c)

		metrics.activeRequests.Add(ctx, 1)
		c.Next()
		metrics.activeRequests.Add(ctx, -1)

		recordHTTPMetrics(ctx, metrics,
			c.Request.Method,
			getRoutePattern(c),
			c.Writer.Status(),
			time.Since(start),
			requestSize,
			c.Writer.Size(),
		)
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

// recordHTTPMetrics writes one request's worth of datapoints. Only the
// counter carries the status code, the histograms stay at method and route
// so metric cardinality stays bounded.
func recordHTTPMetrics(
	ctx context.Context,
	metrics *httpMetrics,
	method, route string,
	statusCode int,
	duration time.Duration,
	requestSize int64,
	responseSize int,
) {
	metrics.requestTotal.Inc(ctx,
		telemetry.AttrHTTPMethod.String(method),
		telemetry.AttrHTTPRoute.String(route),
		telemetry.AttrHTTPStatusCode.Int(statusCode),
	)

	baseAttrs := []attribute.KeyValue{
		telemetry.AttrHTTPMethod.String(method),
		telemetry.AttrHTTPRoute.String(route),
	}
	metrics.requestDuration.RecordDuration(ctx, duration, baseAttrs...)

	if requestSize > 0 {
		metrics.requestSize.Record(ctx, float64(requestSize), baseAttrs...)
	}
	if responseSize > 0 {
		metrics.responseSize.Record(ctx, float64(responseSize), baseAttrs...)
	}
}

// getRoutePattern returns the matched route pattern rather than the raw
// path, so /transactions/tx-1 and /transactions/tx-2 land on one series.
func getRoutePattern(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		return "unknown"
	}
	return route
}

// getRequestSize reads the declared request body size.
func getRequestSize(c *gin.Context) int64 {
	if cl := c.Request.ContentLength; cl > 0 {
		return cl
	}
	return 0
}

// HTTPMetricsStatusGroup maps a status code to its class, used when
// computing error rates per class.
func HTTPMetricsStatusGroup(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// HTTPMetricsResponseWriter counts written bytes for writers whose Size()
// reports -1.
type HTTPMetricsResponseWriter struct {
	gin.ResponseWriter
	bytesWritten int
}

func (w *HTTPMetricsResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *HTTPMetricsResponseWriter) BytesWritten() int {
	return w.bytesWritten
}

// ParseStatusCode parses a status code string, returning 0 on garbage.
func ParseStatusCode(s string) int {
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return code
}
