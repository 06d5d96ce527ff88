package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlanModel is the GORM model for the subscription plan catalog
type PlanModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Slug               string          `gorm:"type:varchar(50);not null;uniqueIndex"`
	Name               string          `gorm:"type:varchar(100);not null"`
	InvoicesLimit      int64           `gorm:"not null;default:0"`
	TicketsLimit       int64           `gorm:"not null;default:0"`
	AnalysesLimit      int64           `gorm:"not null;default:0"`
	AccumulationFactor decimal.Decimal `gorm:"type:numeric(4,2);not null;default:1"`
	MonthlyPrice       decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'eur'"`
	StripePriceID      string          `gorm:"type:varchar(100);index"`
	IsActive           bool            `gorm:"not null;default:true"`
	CreatedAt          time.Time       `gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PlanModel) TableName() string {
	return "credit_plans"
}

// ToEntity converts the model to a domain entity
func (m *PlanModel) ToEntity() *credits.Plan {
	return &credits.Plan{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Slug: m.Slug,
		Name: m.Name,
		Limits: map[credits.CreditType]int64{
			credits.CreditTypeInvoices: m.InvoicesLimit,
			credits.CreditTypeTickets:  m.TicketsLimit,
			credits.CreditTypeAnalyses: m.AnalysesLimit,
		},
		AccumulationFactor: m.AccumulationFactor,
		MonthlyPrice:       m.MonthlyPrice,
		Currency:           m.Currency,
		StripePriceID:      m.StripePriceID,
		IsActive:           m.IsActive,
	}
}

// PlanModelFromEntity creates a model from a domain entity
func PlanModelFromEntity(e *credits.Plan) *PlanModel {
	return &PlanModel{
		ID:                 e.ID,
		Slug:               e.Slug,
		Name:               e.Name,
		InvoicesLimit:      e.LimitFor(credits.CreditTypeInvoices),
		TicketsLimit:       e.LimitFor(credits.CreditTypeTickets),
		AnalysesLimit:      e.LimitFor(credits.CreditTypeAnalyses),
		AccumulationFactor: e.AccumulationFactor,
		MonthlyPrice:       e.MonthlyPrice,
		Currency:           e.Currency,
		StripePriceID:      e.StripePriceID,
		IsActive:           e.IsActive,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// PlanRepository implements credits.PlanRepository
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindBySlug retrieves an active plan by its slug
func (r *PlanRepository) FindBySlug(ctx context.Context, slug string) (*credits.Plan, error) {
	var model PlanModel
	err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		Where("is_active = ?", true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByStripePriceID retrieves the plan sold under a Stripe price
func (r *PlanRepository) FindByStripePriceID(ctx context.Context, priceID string) (*credits.Plan, error) {
	if priceID == "" {
		return nil, shared.ErrNotFound
	}
	var model PlanModel
	err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", priceID).
		Where("is_active = ?", true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindAllActive returns every active plan ordered by price
func (r *PlanRepository) FindAllActive(ctx context.Context) ([]*credits.Plan, error) {
	var models []PlanModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("monthly_price ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	plans := make([]*credits.Plan, len(models))
	for i := range models {
		plans[i] = models[i].ToEntity()
	}
	return plans, nil
}

// Save upserts a plan keyed by slug (used by catalog seeding)
func (r *PlanRepository) Save(ctx context.Context, plan *credits.Plan) error {
	model := PlanModelFromEntity(plan)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "invoices_limit", "tickets_limit", "analyses_limit",
			"accumulation_factor", "monthly_price", "currency",
			"stripe_price_id", "is_active", "updated_at",
		}),
	}).Create(model).Error
}
