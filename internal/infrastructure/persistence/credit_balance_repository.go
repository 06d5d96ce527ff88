package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditBalanceModel is the GORM model for per-user credit balances.
// Counters are flat columns (one triplet per credit type) so a debit can be
// a single conditional UPDATE on one row.
type CreditBalanceModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID        string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	PlanSlug      string    `gorm:"type:varchar(50);not null"`
	InvoicesLimit int64     `gorm:"not null;default:0"`
	InvoicesUsed  int64     `gorm:"not null;default:0"`
	InvoicesExtra int64     `gorm:"not null;default:0"`
	TicketsLimit  int64     `gorm:"not null;default:0"`
	TicketsUsed   int64     `gorm:"not null;default:0"`
	TicketsExtra  int64     `gorm:"not null;default:0"`
	AnalysesLimit int64     `gorm:"not null;default:0"`
	AnalysesUsed  int64     `gorm:"not null;default:0"`
	AnalysesExtra int64     `gorm:"not null;default:0"`
	PeriodStart   time.Time `gorm:"not null"`
	PeriodEnd     time.Time `gorm:"not null"`
	Version       int       `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (CreditBalanceModel) TableName() string {
	return "credit_balances"
}

// creditColumns holds the column triplet for one credit type
type creditColumns struct {
	limit string
	used  string
	extra string
}

func columnsFor(t credits.CreditType) creditColumns {
	prefix := string(t)
	return creditColumns{
		limit: prefix + "_limit",
		used:  prefix + "_used",
		extra: prefix + "_extra",
	}
}

// ToEntity converts the model to a domain entity
func (m *CreditBalanceModel) ToEntity() *credits.CreditBalance {
	return &credits.CreditBalance{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		UserID:   m.UserID,
		PlanSlug: m.PlanSlug,
		Balances: map[credits.CreditType]credits.TypeBalance{
			credits.CreditTypeInvoices: {Limit: m.InvoicesLimit, Used: m.InvoicesUsed, Extra: m.InvoicesExtra},
			credits.CreditTypeTickets:  {Limit: m.TicketsLimit, Used: m.TicketsUsed, Extra: m.TicketsExtra},
			credits.CreditTypeAnalyses: {Limit: m.AnalysesLimit, Used: m.AnalysesUsed, Extra: m.AnalysesExtra},
		},
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
	}
}

// CreditBalanceModelFromEntity creates a model from a domain entity
func CreditBalanceModelFromEntity(e *credits.CreditBalance) *CreditBalanceModel {
	invoices := e.Balance(credits.CreditTypeInvoices)
	tickets := e.Balance(credits.CreditTypeTickets)
	analyses := e.Balance(credits.CreditTypeAnalyses)

	return &CreditBalanceModel{
		ID:            e.ID,
		UserID:        e.UserID,
		PlanSlug:      e.PlanSlug,
		InvoicesLimit: invoices.Limit,
		InvoicesUsed:  invoices.Used,
		InvoicesExtra: invoices.Extra,
		TicketsLimit:  tickets.Limit,
		TicketsUsed:   tickets.Used,
		TicketsExtra:  tickets.Extra,
		AnalysesLimit: analyses.Limit,
		AnalysesUsed:  analyses.Used,
		AnalysesExtra: analyses.Extra,
		PeriodStart:   e.PeriodStart,
		PeriodEnd:     e.PeriodEnd,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// CreditBalanceRepository implements credits.CreditBalanceRepository on GORM.
// Mutating methods run the balance update and the ledger append in one
// database transaction; the balance update is always a conditional UPDATE so
// two concurrent requests cannot both consume the last unit of capacity.
type CreditBalanceRepository struct {
	db *gorm.DB
}

// NewCreditBalanceRepository creates a new credit balance repository
func NewCreditBalanceRepository(db *gorm.DB) *CreditBalanceRepository {
	return &CreditBalanceRepository{db: db}
}

// FindByUserID retrieves the balance for a user
func (r *CreditBalanceRepository) FindByUserID(ctx context.Context, userID string) (*credits.CreditBalance, error) {
	var model CreditBalanceModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credits.ErrBalanceNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Save upserts a balance keyed by user_id and appends the given ledger
// entries in the same transaction
func (r *CreditBalanceRepository) Save(ctx context.Context, balance *credits.CreditBalance, entries []*credits.CreditTransaction) error {
	model := CreditBalanceModelFromEntity(balance)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_slug",
				"invoices_limit", "invoices_used", "invoices_extra",
				"tickets_limit", "tickets_used", "tickets_extra",
				"analyses_limit", "analyses_used", "analyses_extra",
				"period_start", "period_end", "updated_at",
			}),
		}).Create(model)
		if result.Error != nil {
			return fmt.Errorf("failed to save credit balance: %w", result.Error)
		}

		return createLedgerEntries(tx, entries)
	})
}

// Debit atomically consumes one credit: the UPDATE only matches while
// used < limit + extra, so the last unit can be won by exactly one caller.
// The usage ledger entry commits with the debit or not at all.
func (r *CreditBalanceRepository) Debit(ctx context.Context, userID string, creditType credits.CreditType) (*credits.CreditBalance, error) {
	cols := columnsFor(creditType)
	var model CreditBalanceModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CreditBalanceModel{}).
			Where("user_id = ?", userID).
			Where(fmt.Sprintf("%s < %s + %s", cols.used, cols.limit, cols.extra)).
			Updates(map[string]any{
				cols.used:    gorm.Expr(cols.used + " + 1"),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&CreditBalanceModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return credits.ErrBalanceNotFound
			}
			return credits.ErrQuotaExhausted
		}

		entry, err := credits.NewUsageTransaction(userID, creditType)
		if err != nil {
			return err
		}
		if err := tx.Create(CreditTransactionModelFromEntity(entry)).Error; err != nil {
			return fmt.Errorf("failed to append usage ledger entry: %w", err)
		}

		return tx.First(&model, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// ApplyRefill starts a new billing cycle: used resets to zero and extra is
// replaced by the roll-over computed from the row as read inside the
// transaction, so a debit racing the refill cannot desync the applied extra
// from the ledger deltas. The period_start guard makes webhook replays match
// zero rows instead of double-granting.
func (r *CreditBalanceRepository) ApplyRefill(ctx context.Context, userID string, periodStart, periodEnd time.Time, plan *credits.Plan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before CreditBalanceModel
		if err := tx.First(&before, "user_id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return credits.ErrBalanceNotFound
			}
			return err
		}

		entity := before.ToEntity()
		extras := entity.RefillExtras(plan)

		updates := map[string]any{
			"period_start": periodStart,
			"period_end":   periodEnd,
			"updated_at":   time.Now().UTC(),
		}
		for _, t := range credits.AllCreditTypes() {
			cols := columnsFor(t)
			updates[cols.used] = 0
			updates[cols.extra] = extras[t]
		}

		result := tx.Model(&CreditBalanceModel{}).
			Where("user_id = ?", userID).
			Where("period_start < ?", periodStart).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return credits.ErrRefillAlreadyApplied
		}

		entries := make([]*credits.CreditTransaction, 0, len(extras))
		for _, t := range credits.AllCreditTypes() {
			pool := entity.Balance(t)
			// net capacity change: restored usage plus roll-over minus forfeiture
			delta := extras[t] - pool.Extra + pool.Used
			if delta == 0 {
				continue
			}
			entry, err := credits.NewCreditTransaction(userID, t, delta, credits.ReasonMonthlyRefill)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return createLedgerEntries(tx, entries)
	})
}

// AddExtra grants purchased credits. Users without a balance row yet (credit
// package bought before any subscription) get a zero-limit row created.
func (r *CreditBalanceRepository) AddExtra(ctx context.Context, userID string, creditType credits.CreditType, amount int64, entry *credits.CreditTransaction) (*credits.CreditBalance, error) {
	cols := columnsFor(creditType)
	var model CreditBalanceModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CreditBalanceModel{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				cols.extra:   gorm.Expr(fmt.Sprintf("%s + ?", cols.extra), amount),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			now := time.Now().UTC()
			start, end := credits.BillingPeriod(now)
			fresh := &CreditBalanceModel{
				ID:          uuid.New(),
				UserID:      userID,
				PlanSlug:    "",
				PeriodStart: start,
				PeriodEnd:   end,
			}
			switch creditType {
			case credits.CreditTypeInvoices:
				fresh.InvoicesExtra = amount
			case credits.CreditTypeTickets:
				fresh.TicketsExtra = amount
			case credits.CreditTypeAnalyses:
				fresh.AnalysesExtra = amount
			}
			if err := tx.Create(fresh).Error; err != nil {
				return fmt.Errorf("failed to create credit balance: %w", err)
			}
		}

		if err := tx.Create(CreditTransactionModelFromEntity(entry)).Error; err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		return tx.First(&model, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

func createLedgerEntries(tx *gorm.DB, entries []*credits.CreditTransaction) error {
	for _, entry := range entries {
		if err := tx.Create(CreditTransactionModelFromEntity(entry)).Error; err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}
