package telemetry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

func TestNewBusinessMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
	})

	require.NoError(t, err)
	require.NotNil(t, bm)
}

func TestNewBusinessMetrics_NilMeter(t *testing.T) {
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:  nil,
		Logger: zap.NewNop(),
	})

	require.Error(t, err)
	assert.Nil(t, bm)
	assert.Equal(t, "NewBusinessMetrics: meter cannot be nil", err.Error())
}

func TestBusinessMetrics_RecordDebit(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Should not panic
	bm.RecordDebit(ctx, "invoices", telemetry.DebitOutcomeSuccess)
	bm.RecordDebit(ctx, "tickets", telemetry.DebitOutcomeExhausted)
}

func TestBusinessMetrics_RecordGrant(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Should not panic
	bm.RecordGrant(ctx, "invoices", "plan_init", 100)
	bm.RecordGrant(ctx, "tickets", "purchase", 50)
	bm.RecordGrant(ctx, "analyses", "monthly_refill", 10)
}

func TestBusinessMetrics_RecordRefill(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	bm.RecordRefill(context.Background(), "pro")
}

func TestBusinessMetrics_RecordWebhookEvent(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	bm.RecordWebhookEvent(ctx, "invoice.paid", telemetry.WebhookOutcomeProcessed)
	bm.RecordWebhookEvent(ctx, "invoice.paid", telemetry.WebhookOutcomeDuplicate)
	bm.RecordWebhookEvent(ctx, "customer.subscription.created", telemetry.WebhookOutcomeFailed)
}

func TestBusinessMetrics_RecordGauges(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	bm.RecordBalancesByPlan(ctx, "trial", 120)
	bm.RecordBalancesByPlan(ctx, "pro", 45)
	bm.RecordRemainingCredits(ctx, "invoices", 8400)
}

// stubLedgerProvider implements LedgerMetricsProvider for collection tests
type stubLedgerProvider struct {
	mu    sync.Mutex
	calls int

	byPlan map[string]int64
	byType map[string]int64
	err    error
}

func (s *stubLedgerProvider) CountBalancesByPlan(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.byPlan, nil
}

func (s *stubLedgerProvider) SumRemainingByType(ctx context.Context) (map[string]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byType, nil
}

func (s *stubLedgerProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestBusinessMetrics_PeriodicCollection(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	provider := &stubLedgerProvider{
		byPlan: map[string]int64{"trial": 10, "pro": 3},
		byType: map[string]int64{"invoices": 500, "tickets": 900, "analyses": 40},
	}

	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:          meter,
		Logger:         zap.NewNop(),
		LedgerProvider: provider,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bm.StartPeriodicCollection(ctx, 10*time.Millisecond)
	defer bm.Stop()

	// The collector runs once immediately and then on every tick
	assert.Eventually(t, func() bool {
		return provider.callCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestBusinessMetrics_PeriodicCollection_ProviderError(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	provider := &stubLedgerProvider{err: assert.AnError}

	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:          meter,
		Logger:         zap.NewNop(),
		LedgerProvider: provider,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Errors are logged and must not stop the loop
	bm.StartPeriodicCollection(ctx, 10*time.Millisecond)
	defer bm.Stop()

	assert.Eventually(t, func() bool {
		return provider.callCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestBusinessMetrics_StopIsIdempotent(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	bm.Stop()
	bm.Stop() // must not panic
}
