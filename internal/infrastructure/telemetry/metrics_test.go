package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// disabledMeterProvider builds a MeterProvider with export off. Instruments
// created from it are no-ops, which is enough to exercise the helper types.
func disabledMeterProvider(t *testing.T) *telemetry.MeterProvider {
	t.Helper()
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "credits-api-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return mp
}

func disabledMeter(t *testing.T) metric.Meter {
	t.Helper()
	return disabledMeterProvider(t).Meter("credits.test")
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	mp := disabledMeterProvider(t)

	assert.False(t, mp.IsEnabled())

	gotCfg := mp.GetConfig()
	assert.Equal(t, "credits-api-test", gotCfg.ServiceName)
	assert.False(t, gotCfg.Enabled)

	// Meter still hands out a usable no-op meter.
	require.NotNil(t, mp.Meter("credits.test"))

	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))

	// A cancelled context must not break disabled shutdown.
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, mp.Shutdown(cancelledCtx))
}

func TestNewMeterProvider_Enabled(t *testing.T) {
	// Needs a collector listening on 14317, see `make otel-up`.
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ExportInterval:    time.Second,
		ServiceName:       "credits-api-test",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.True(t, mp.IsEnabled())
	require.NotNil(t, mp.Meter("credits.test"))

	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestMeterProvider_DefaultExportInterval(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Zero interval falls back to the 60s default.
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ExportInterval:    0,
		ServiceName:       "credits-api-test",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	_ = mp.Shutdown(ctx)
}

func TestNewMeterProvider_InvalidEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The OTLP exporter connects lazily, so creation usually succeeds and
	// export failures surface later.
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "invalid-host:99999",
		ExportInterval:    time.Second,
		ServiceName:       "credits-api-test",
	}, logger)
	if err != nil {
		t.Logf("Expected connection error: %v", err)
		return
	}

	_ = mp.Shutdown(context.Background())
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	meter := disabledMeter(t)

	counter, err := telemetry.NewCounter(meter, "credits_consumed_total", "Credits consumed by document extractions", "{credit}")
	require.NoError(t, err)
	require.NotNil(t, counter)

	counter.Add(ctx, 5, telemetry.AttrCreditType.String("invoice"))
	counter.Add(ctx, 10, telemetry.AttrCreditType.String("ticket"))
	counter.Inc(ctx, telemetry.AttrCreditType.String("analysis"))
	counter.Inc(ctx)
}

func TestHistogram(t *testing.T) {
	ctx := context.Background()
	meter := disabledMeter(t)

	t.Run("HTTP duration buckets", func(t *testing.T) {
		histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name:        "http_server_request_duration_seconds",
			Description: "HTTP server request duration",
			Unit:        "s",
			Boundaries:  telemetry.HTTPDurationBuckets,
		})
		require.NoError(t, err)
		require.NotNil(t, histogram)

		histogram.Record(ctx, 0.005, telemetry.AttrHTTPMethod.String("GET"))
		histogram.Record(ctx, 0.1, attribute.String("route", "/api/v1/credits/balance"))
		histogram.Record(ctx, 2.5, attribute.String("route", "/api/v1/credits/consume"))
	})

	t.Run("DB duration buckets and RecordDuration", func(t *testing.T) {
		histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name:        "db_query_duration_seconds",
			Description: "Database query duration",
			Unit:        "s",
			Boundaries:  telemetry.DBDurationBuckets,
		})
		require.NoError(t, err)

		histogram.RecordDuration(ctx, 5*time.Millisecond)
		histogram.RecordDuration(ctx, 100*time.Millisecond, telemetry.AttrDBOperation.String("SELECT"))
		histogram.RecordDuration(ctx, time.Second, telemetry.AttrDBOperation.String("INSERT"))
	})

	t.Run("custom boundaries", func(t *testing.T) {
		histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name:        "refill_batch_duration_seconds",
			Description: "Monthly refill batch duration",
			Unit:        "s",
			Boundaries:  []float64{0.1, 0.5, 1.0, 5.0, 10.0},
		})
		require.NoError(t, err)
		require.NotNil(t, histogram)

		histogram.Record(ctx, 0.25)
	})

	t.Run("SDK default boundaries", func(t *testing.T) {
		histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name:        "webhook_processing_duration_seconds",
			Description: "Stripe webhook processing duration",
			Unit:        "s",
		})
		require.NoError(t, err)
		require.NotNil(t, histogram)

		histogram.Record(ctx, 1.5)
	})
}

func TestGauge(t *testing.T) {
	ctx := context.Background()
	meter := disabledMeter(t)

	gauge, err := telemetry.NewGauge(meter, "db_pool_connections", "Connections in the pool by state", "{connection}")
	require.NoError(t, err)
	require.NotNil(t, gauge)

	gauge.Record(ctx, 10)
	gauge.Record(ctx, 15, attribute.String("pool", "db"))
	gauge.Record(ctx, 5, attribute.String("pool", "redis"))
}

func TestFloatGauge(t *testing.T) {
	ctx := context.Background()
	meter := disabledMeter(t)

	gauge, err := telemetry.NewFloatGauge(meter, "cpu_usage_percent", "CPU usage percentage", "%")
	require.NoError(t, err)
	require.NotNil(t, gauge)

	gauge.Record(ctx, 45.5)
	gauge.Record(ctx, 78.2, attribute.String("core", "0"))
	gauge.Record(ctx, 23.1, attribute.String("core", "1"))
}

func TestCommonAttributes(t *testing.T) {
	assert.Equal(t, "user_id", string(telemetry.AttrUserID))
	assert.Equal(t, "http.method", string(telemetry.AttrHTTPMethod))
	assert.Equal(t, "http.status_code", string(telemetry.AttrHTTPStatusCode))
	assert.Equal(t, "http.route", string(telemetry.AttrHTTPRoute))
	assert.Equal(t, "db.operation", string(telemetry.AttrDBOperation))
	assert.Equal(t, "db.table", string(telemetry.AttrDBTable))
	assert.Equal(t, "db.pool.state", string(telemetry.AttrDBState))
	assert.Equal(t, "credit_type", string(telemetry.AttrCreditType))
	assert.Equal(t, "reason", string(telemetry.AttrReason))
	assert.Equal(t, "plan_slug", string(telemetry.AttrPlanSlug))
	assert.Equal(t, "event_type", string(telemetry.AttrEventType))
	assert.Equal(t, "outcome", string(telemetry.AttrOutcome))
}

func TestDefaultBuckets(t *testing.T) {
	assert.Equal(t, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, telemetry.HTTPDurationBuckets)
	assert.Equal(t, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, telemetry.DBDurationBuckets)
	assert.Equal(t, []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}, telemetry.SmallDurationBuckets)
}
