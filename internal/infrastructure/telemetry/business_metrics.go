package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BusinessMetrics tracks the ledger's domain activity: debits, grants,
// refills and webhook events as counters, plus point-in-time gauges
// aggregated over the balance store.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	creditsDebitedTotal *Counter
	creditsGrantedTotal *Counter
	refillTotal         *Counter
	webhookEventsTotal  *Counter

	balancesByPlan   *Gauge
	remainingCredits *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	ledgerProvider LedgerMetricsProvider
}

// LedgerMetricsProvider supplies the balance aggregates the periodic
// collector records. The interface keeps this package from depending on
// the credits domain directly.
type LedgerMetricsProvider interface {
	// CountBalancesByPlan returns the number of balance rows per plan slug.
	CountBalancesByPlan(ctx context.Context) (map[string]int64, error)

	// SumRemainingByType returns the total remaining credits per credit
	// type across all users.
	SumRemainingByType(ctx context.Context) (map[string]int64, error)
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // default five minutes
	LedgerProvider  LedgerMetricsProvider
}

// NewBusinessMetrics registers all ledger instruments on the given meter.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:          cfg.Meter,
		logger:         logger,
		stopChan:       make(chan struct{}),
		ledgerProvider: cfg.LedgerProvider,
	}

	var err error
	counter := func(name, desc, unit string) *Counter {
		if err != nil {
			return nil
		}
		var c *Counter
		c, err = NewCounter(cfg.Meter, name, desc, unit)
		return c
	}
	gauge := func(name, desc, unit string) *Gauge {
		if err != nil {
			return nil
		}
		var g *Gauge
		g, err = NewGauge(cfg.Meter, name, desc, unit)
		return g
	}

	bm.creditsDebitedTotal = counter("facturio_credits_debited_total",
		"Total number of credits debited", "{credits}")
	bm.creditsGrantedTotal = counter("facturio_credits_granted_total",
		"Total number of credits granted", "{credits}")
	bm.refillTotal = counter("facturio_refill_total",
		"Total number of monthly refills applied", "{refills}")
	bm.webhookEventsTotal = counter("facturio_webhook_events_total",
		"Total number of Stripe webhook events processed", "{events}")
	bm.balancesByPlan = gauge("facturio_credit_balances",
		"Number of provisioned credit balances per plan", "{balances}")
	bm.remainingCredits = gauge("facturio_credits_remaining",
		"Total remaining credits across all users", "{credits}")
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// DebitOutcome labels the result of a debit attempt.
type DebitOutcome string

const (
	DebitOutcomeSuccess   DebitOutcome = "success"
	DebitOutcomeExhausted DebitOutcome = "exhausted"
)

// RecordDebit records one debit attempt against a credit pool.
func (bm *BusinessMetrics) RecordDebit(ctx context.Context, creditType string, outcome DebitOutcome) {
	bm.creditsDebitedTotal.Inc(ctx,
		AttrCreditType.String(creditType),
		AttrOutcome.String(string(outcome)),
	)
}

// RecordGrant records credits granted to a user. Reason distinguishes plan
// provisioning, refills, purchases and admin adjustments.
func (bm *BusinessMetrics) RecordGrant(ctx context.Context, creditType, reason string, amount int64) {
	bm.creditsGrantedTotal.Add(ctx, amount,
		AttrCreditType.String(creditType),
		AttrReason.String(reason),
	)
}

// RecordRefill records one applied monthly refill.
func (bm *BusinessMetrics) RecordRefill(ctx context.Context, planSlug string) {
	bm.refillTotal.Inc(ctx,
		AttrPlanSlug.String(planSlug),
	)
}

// RecordDebitAttempt is the ledger metrics hook the application layer calls
// after each consume.
func (bm *BusinessMetrics) RecordDebitAttempt(ctx context.Context, creditType string, success bool) {
	outcome := DebitOutcomeSuccess
	if !success {
		outcome = DebitOutcomeExhausted
	}
	bm.RecordDebit(ctx, creditType, outcome)
}

// RecordCreditsGranted is the ledger metrics hook for grant operations.
func (bm *BusinessMetrics) RecordCreditsGranted(ctx context.Context, creditType, reason string, amount int64) {
	bm.RecordGrant(ctx, creditType, reason, amount)
}

// RecordRefillApplied is the ledger metrics hook for the refill batch.
func (bm *BusinessMetrics) RecordRefillApplied(ctx context.Context, planSlug string) {
	bm.RecordRefill(ctx, planSlug)
}

// WebhookOutcome labels the outcome of a webhook dispatch.
type WebhookOutcome string

const (
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// RecordWebhookEvent records a processed Stripe webhook event.
func (bm *BusinessMetrics) RecordWebhookEvent(ctx context.Context, eventType string, outcome WebhookOutcome) {
	bm.webhookEventsTotal.Inc(ctx,
		AttrEventType.String(eventType),
		AttrOutcome.String(string(outcome)),
	)
}

// RecordBalancesByPlan records the current number of balance rows for a
// plan. Gauge, refreshed by the periodic collector.
func (bm *BusinessMetrics) RecordBalancesByPlan(ctx context.Context, planSlug string, count int64) {
	bm.balancesByPlan.Record(ctx, count,
		AttrPlanSlug.String(planSlug),
	)
}

// RecordRemainingCredits records the total remaining credits for a type.
// Gauge, refreshed by the periodic collector.
func (bm *BusinessMetrics) RecordRemainingCredits(ctx context.Context, creditType string, total int64) {
	bm.remainingCredits.Record(ctx, total,
		AttrCreditType.String(creditType),
	)
}

// StartPeriodicCollection starts the gauge refresh loop. Non-blocking and
// idempotent, use Stop to end it.
func (bm *BusinessMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, interval)
	})
}

func (bm *BusinessMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First sample right away so dashboards are not empty until the first
	// tick fires.
	bm.collectLedgerMetrics(ctx)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic business metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic business metrics collection")
			return
		case <-ticker.C:
			bm.collectLedgerMetrics(ctx)
		}
	}
}

// collectLedgerMetrics takes one sample of the balance aggregates. Provider
// errors are logged and skipped, stale gauges beat a dead collector loop.
func (bm *BusinessMetrics) collectLedgerMetrics(ctx context.Context) {
	if bm.ledgerProvider == nil {
		bm.logger.Debug("No ledger provider configured, skipping balance metrics collection")
		return
	}

	byPlan, err := bm.ledgerProvider.CountBalancesByPlan(ctx)
	if err != nil {
		bm.logger.Warn("Failed to count balances by plan", zap.Error(err))
	} else {
		for planSlug, count := range byPlan {
			bm.RecordBalancesByPlan(ctx, planSlug, count)
		}
	}

	byType, err := bm.ledgerProvider.SumRemainingByType(ctx)
	if err != nil {
		bm.logger.Warn("Failed to sum remaining credits", zap.Error(err))
	} else {
		for creditType, total := range byType {
			bm.RecordRemainingCredits(ctx, creditType, total)
		}
	}
}

// Stop ends the periodic collection. Safe to call more than once.
func (bm *BusinessMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
