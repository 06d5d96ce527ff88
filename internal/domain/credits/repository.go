package credits

import (
	"context"
	"time"

	"github.com/facturio/backend/internal/domain/shared"
)

// CreditBalanceRepository persists per-user credit balances.
//
// Debit, ApplyRefill and AddExtra are atomic: the balance mutation and its
// ledger append commit in a single database transaction, and the balance
// update itself is a conditional UPDATE so concurrent callers cannot both
// consume the last unit of capacity. Implementations return
// ErrQuotaExhausted / ErrBalanceNotFound / ErrRefillAlreadyApplied as
// documented per method; any other error is a persistence failure the caller
// may retry.
type CreditBalanceRepository interface {
	// FindByUserID returns the balance for a user, or ErrBalanceNotFound
	FindByUserID(ctx context.Context, userID string) (*CreditBalance, error)

	// Save upserts a balance together with the given ledger entries.
	// Used by subscription initialization, where limits are replaced wholesale.
	Save(ctx context.Context, balance *CreditBalance, entries []*CreditTransaction) error

	// Debit increments used by one for the credit type, guarded by
	// used < limit + extra, and appends a usage ledger entry. Returns the
	// post-debit balance. Returns ErrQuotaExhausted when the conditional
	// update matches no rows and ErrBalanceNotFound when the user has no
	// balance row.
	Debit(ctx context.Context, userID string, creditType CreditType) (*CreditBalance, error)

	// ApplyRefill resets used to zero, rolls unused allotment into extra per
	// the plan's accumulation factor and moves the billing period, guarded by
	// period_start < periodStart so webhook replays are no-ops. The roll-over
	// is computed from the balance as read inside the same transaction.
	// Appends one monthly_refill ledger entry per credit type whose delta is
	// the net capacity change (restored usage plus roll-over minus
	// forfeiture). Returns ErrRefillAlreadyApplied when the guard matches no
	// rows.
	ApplyRefill(ctx context.Context, userID string, periodStart, periodEnd time.Time, plan *Plan) error

	// AddExtra increments extra by amount (uncapped until the next refill)
	// and appends the matching ledger entry. Creates a zero-limit balance row
	// if the user has none yet.
	AddExtra(ctx context.Context, userID string, creditType CreditType, amount int64, entry *CreditTransaction) (*CreditBalance, error)
}

// CreditTransactionRepository reads the append-only ledger. Entries are
// written alongside balance mutations by CreditBalanceRepository; this
// interface only adds the audit read side and manual adjustments.
type CreditTransactionRepository interface {
	// Create appends a standalone ledger entry (admin adjustments)
	Create(ctx context.Context, tx *CreditTransaction) error

	// FindByUserID returns the user's ledger entries, newest first
	FindByUserID(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[CreditTransaction], error)

	// SumByUserAndType returns the net delta for a user and credit type,
	// used to reconcile the balance row against the ledger
	SumByUserAndType(ctx context.Context, userID string, creditType CreditType) (int64, error)
}

// PlanRepository reads the subscription plan catalog
type PlanRepository interface {
	FindBySlug(ctx context.Context, slug string) (*Plan, error)
	FindByStripePriceID(ctx context.Context, priceID string) (*Plan, error)
	FindAllActive(ctx context.Context) ([]*Plan, error)
	Save(ctx context.Context, plan *Plan) error
}
