// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormLedgerMetricsProvider implements LedgerMetricsProvider using GORM.
// It queries the credit_balances table directly for aggregated metrics.
type GormLedgerMetricsProvider struct {
	db *gorm.DB
}

// NewGormLedgerMetricsProvider creates a new GormLedgerMetricsProvider.
func NewGormLedgerMetricsProvider(db *gorm.DB) *GormLedgerMetricsProvider {
	return &GormLedgerMetricsProvider{db: db}
}

// CountBalancesByPlan returns the number of balance rows per plan slug.
func (p *GormLedgerMetricsProvider) CountBalancesByPlan(ctx context.Context) (map[string]int64, error) {
	type result struct {
		PlanSlug string `gorm:"column:plan_slug"`
		Count    int64  `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("credit_balances").
		Select("plan_slug, COUNT(*) as count").
		Group("plan_slug").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	byPlan := make(map[string]int64, len(results))
	for _, r := range results {
		byPlan[r.PlanSlug] = r.Count
	}
	return byPlan, nil
}

// SumRemainingByType returns the total remaining credits per credit type
// across all users. Remaining is limit + extra - used, floored at zero per
// row in the domain but summed raw here; negative rows cannot occur because
// debits are conditional updates.
func (p *GormLedgerMetricsProvider) SumRemainingByType(ctx context.Context) (map[string]int64, error) {
	type result struct {
		Invoices int64 `gorm:"column:invoices"`
		Tickets  int64 `gorm:"column:tickets"`
		Analyses int64 `gorm:"column:analyses"`
	}

	var r result
	err := p.db.WithContext(ctx).
		Table("credit_balances").
		Select(
			"COALESCE(SUM(invoices_limit + invoices_extra - invoices_used), 0) as invoices, " +
				"COALESCE(SUM(tickets_limit + tickets_extra - tickets_used), 0) as tickets, " +
				"COALESCE(SUM(analyses_limit + analyses_extra - analyses_used), 0) as analyses").
		Take(&r).Error
	if err != nil {
		return nil, err
	}

	return map[string]int64{
		"invoices": r.Invoices,
		"tickets":  r.Tickets,
		"analyses": r.Analyses,
	}, nil
}
