package dto

import (
	"time"

	"github.com/facturio/backend/internal/domain/credits"
)

// CreditCheckRequest are the query parameters for the availability probe
type CreditCheckRequest struct {
	Type string `form:"type" binding:"required"`
}

// CreditCheckResponse reports whether the user can spend one credit of a type
type CreditCheckResponse struct {
	CreditType string `json:"credit_type"`
	Available  bool   `json:"available"`
}

// TransactionListRequest are the query parameters for the ledger history
type TransactionListRequest struct {
	ListRequest
	CreditType string `form:"credit_type" binding:"omitempty,oneof=invoices tickets analyses"`
	Reason     string `form:"reason"`
}

// TransactionResponse is one ledger entry in API form
type TransactionResponse struct {
	ID         string    `json:"id"`
	CreditType string    `json:"credit_type"`
	Delta      int64     `json:"delta"`
	Reason     string    `json:"reason"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTransactionResponse maps a ledger entry to its API form
func NewTransactionResponse(tx *credits.CreditTransaction) TransactionResponse {
	return TransactionResponse{
		ID:         tx.ID.String(),
		CreditType: string(tx.CreditType),
		Delta:      tx.Delta,
		Reason:     string(tx.Reason),
		Note:       tx.Note,
		CreatedAt:  tx.CreatedAt,
	}
}

// DocumentSubmitResponse is returned after a metered document submission
type DocumentSubmitResponse struct {
	DocumentID string            `json:"document_id"`
	StorageKey string            `json:"storage_key"`
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
	Remaining  int64             `json:"remaining_credits"`
}

// PlanResponse is one catalog entry in API form
type PlanResponse struct {
	Slug               string           `json:"slug"`
	Name               string           `json:"name"`
	Limits             map[string]int64 `json:"limits"`
	AccumulationFactor string           `json:"accumulation_factor"`
	MonthlyPrice       string           `json:"monthly_price"`
	Currency           string           `json:"currency"`
	IsActive           bool             `json:"is_active"`
}

// NewPlanResponse maps a plan to its API form
func NewPlanResponse(plan *credits.Plan) PlanResponse {
	limits := make(map[string]int64, len(plan.Limits))
	for t, l := range plan.Limits {
		limits[string(t)] = l
	}
	return PlanResponse{
		Slug:               plan.Slug,
		Name:               plan.Name,
		Limits:             limits,
		AccumulationFactor: plan.AccumulationFactor.String(),
		MonthlyPrice:       plan.MonthlyPrice.String(),
		Currency:           plan.Currency,
		IsActive:           plan.IsActive,
	}
}
