package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditTransactionModel is the GORM model for the append-only credit ledger
type CreditTransactionModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null;index:idx_credit_tx_user_created"`
	CreditType string    `gorm:"type:varchar(20);not null"`
	Delta      int64     `gorm:"not null"`
	Reason     string    `gorm:"type:varchar(30);not null"`
	Note       string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_credit_tx_user_created"`
}

// TableName returns the table name for the model
func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

// ToEntity converts the model to a domain entity
func (m *CreditTransactionModel) ToEntity() *credits.CreditTransaction {
	creditType, _ := credits.ParseCreditType(m.CreditType)
	return &credits.CreditTransaction{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.CreatedAt, // ledger rows are immutable
		},
		UserID:     m.UserID,
		CreditType: creditType,
		Delta:      m.Delta,
		Reason:     credits.TransactionReason(m.Reason),
		Note:       m.Note,
	}
}

// CreditTransactionModelFromEntity creates a model from a domain entity
func CreditTransactionModelFromEntity(e *credits.CreditTransaction) *CreditTransactionModel {
	return &CreditTransactionModel{
		ID:         e.ID,
		UserID:     e.UserID,
		CreditType: string(e.CreditType),
		Delta:      e.Delta,
		Reason:     string(e.Reason),
		Note:       e.Note,
		CreatedAt:  e.CreatedAt,
	}
}

// CreditTransactionRepository implements credits.CreditTransactionRepository.
// The table is append-only: no Update or Delete methods exist.
type CreditTransactionRepository struct {
	db *gorm.DB
}

// NewCreditTransactionRepository creates a new credit transaction repository
func NewCreditTransactionRepository(db *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

// Create appends a standalone ledger entry
func (r *CreditTransactionRepository) Create(ctx context.Context, tx *credits.CreditTransaction) error {
	model := CreditTransactionModelFromEntity(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// FindByUserID returns the user's ledger entries, newest first
func (r *CreditTransactionRepository) FindByUserID(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[credits.CreditTransaction], error) {
	var empty shared.Paginated[credits.CreditTransaction]

	query := r.db.WithContext(ctx).Model(&CreditTransactionModel{}).Where("user_id = ?", userID)
	if creditType, ok := filter.Filters["credit_type"]; ok {
		query = query.Where("credit_type = ?", creditType)
	}
	if reason, ok := filter.Filters["reason"]; ok {
		query = query.Where("reason = ?", reason)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return empty, err
	}

	orderBy := ValidateSortField(filter.OrderBy, TransactionSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var models []CreditTransactionModel
	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order(orderBy + " " + orderDir).Offset(offset).Limit(filter.PageSize).Find(&models).Error
	if err != nil {
		return empty, err
	}

	items := make([]credits.CreditTransaction, len(models))
	for i := range models {
		items[i] = *models[i].ToEntity()
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// SumByUserAndType returns the net delta for a user and credit type
func (r *CreditTransactionRepository) SumByUserAndType(ctx context.Context, userID string, creditType credits.CreditType) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&CreditTransactionModel{}).
		Where("user_id = ?", userID).
		Where("credit_type = ?", string(creditType)).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}
