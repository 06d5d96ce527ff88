package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// disabledTracerProvider builds a TracerProvider with export off.
func disabledTracerProvider(t *testing.T, samplingRatio float64) *telemetry.TracerProvider {
	t.Helper()
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     samplingRatio,
		ServiceName:       "credits-api-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tp
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	// The sampling ratio must not affect construction of a disabled
	// provider, 1.0 and 0.0 pick dedicated samplers when enabled.
	for _, ratio := range []float64{1.0, 0.5, 0.0} {
		tp := disabledTracerProvider(t, ratio)
		assert.False(t, tp.IsEnabled())
		assert.NoError(t, tp.Shutdown(ctx))
	}

	tp := disabledTracerProvider(t, 1.0)

	gotCfg := tp.GetConfig()
	assert.Equal(t, "credits-api-test", gotCfg.ServiceName)
	assert.False(t, gotCfg.Enabled)

	// Tracer still hands out a usable no-op tracer.
	tracer := tp.Tracer("credits.ledger")
	require.NotNil(t, tracer)
	_, span := tracer.Start(ctx, "ledger.debit")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))

	// A cancelled context must not break disabled shutdown.
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, tp.Shutdown(cancelledCtx))
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	// Needs a collector listening on 14317, see `make otel-up`.
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		SamplingRatio:     1.0,
		ServiceName:       "credits-api-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.True(t, tp.IsEnabled())

	_, span := tp.Tracer("test").Start(ctx, "ledger.debit")
	span.End()

	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestNewTracerProvider_InvalidEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The OTLP exporter connects lazily, so creation usually succeeds and
	// export failures surface later.
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: "invalid-host:99999",
		SamplingRatio:     1.0,
		ServiceName:       "credits-api-test",
	}, logger)
	if err != nil {
		t.Logf("Expected connection error: %v", err)
		return
	}

	_ = tp.Shutdown(context.Background())
}
