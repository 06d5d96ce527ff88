package credits

import (
	"github.com/facturio/backend/internal/domain/shared"
)

// TransactionReason classifies why a balance mutation happened
type TransactionReason string

const (
	// ReasonUsage records a single debit for a successful metered operation
	ReasonUsage TransactionReason = "usage"

	// ReasonMonthlyRefill records the cycle-boundary allotment reset
	ReasonMonthlyRefill TransactionReason = "monthly_refill"

	// ReasonPurchase records a one-off credit package purchase
	ReasonPurchase TransactionReason = "purchase"

	// ReasonPlanInit records limits granted when a subscription activates
	ReasonPlanInit TransactionReason = "plan_init"

	// ReasonAdminAdjustment records a manual correction by support staff
	ReasonAdminAdjustment TransactionReason = "admin_adjustment"
)

// String returns the string representation of TransactionReason
func (r TransactionReason) String() string {
	return string(r)
}

// IsValid returns true if the reason is valid
func (r TransactionReason) IsValid() bool {
	switch r {
	case ReasonUsage, ReasonMonthlyRefill, ReasonPurchase, ReasonPlanInit, ReasonAdminAdjustment:
		return true
	}
	return false
}

// CreditTransaction is an immutable record of a single credit balance
// mutation. Once created, transactions are never modified or deleted -
// corrections are made with new admin_adjustment records. This preserves a
// complete audit trail from which balance history can be reconstructed.
type CreditTransaction struct {
	shared.BaseEntity
	UserID     string            // Opaque user identifier from the external IdP
	CreditType CreditType        // Pool this mutation applies to
	Delta      int64             // Signed amount: negative for debits, positive for grants
	Reason     TransactionReason // Why the mutation happened
	Note       string            // Optional free-text context (e.g. Stripe event ID)
}

// NewCreditTransaction creates a new ledger entry with validation
func NewCreditTransaction(
	userID string,
	creditType CreditType,
	delta int64,
	reason TransactionReason,
) (*CreditTransaction, error) {
	if userID == "" {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if !creditType.IsValid() {
		return nil, shared.NewDomainError("INVALID_CREDIT_TYPE", "Invalid credit type")
	}
	if !reason.IsValid() {
		return nil, shared.NewDomainError("INVALID_REASON", "Invalid transaction reason")
	}
	if delta == 0 {
		return nil, shared.NewDomainError("INVALID_DELTA", "Delta cannot be zero")
	}
	if reason == ReasonUsage && delta >= 0 {
		return nil, shared.NewDomainError("INVALID_DELTA", "Usage transactions must have a negative delta")
	}
	if reason == ReasonPurchase && delta <= 0 {
		return nil, shared.NewDomainError("INVALID_DELTA", "Grant transactions must have a positive delta")
	}

	return &CreditTransaction{
		BaseEntity: shared.NewBaseEntity(),
		UserID:     userID,
		CreditType: creditType,
		Delta:      delta,
		Reason:     reason,
	}, nil
}

// WithNote attaches free-text context to the transaction
func (t *CreditTransaction) WithNote(note string) *CreditTransaction {
	t.Note = note
	return t
}

// NewUsageTransaction creates the ledger entry for a single debit
func NewUsageTransaction(userID string, creditType CreditType) (*CreditTransaction, error) {
	return NewCreditTransaction(userID, creditType, -1, ReasonUsage)
}

// NewPurchaseTransaction creates the ledger entry for a credit package purchase
func NewPurchaseTransaction(userID string, creditType CreditType, amount int64) (*CreditTransaction, error) {
	return NewCreditTransaction(userID, creditType, amount, ReasonPurchase)
}
