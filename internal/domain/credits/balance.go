package credits

import (
	"time"

	"github.com/facturio/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Common credit ledger errors
var (
	// ErrQuotaExhausted is returned when a debit is rejected because no
	// capacity remains. Expected and user-facing, not an internal fault.
	ErrQuotaExhausted = shared.NewDomainError("QUOTA_EXHAUSTED", "No credits remaining for this operation")

	// ErrBalanceNotFound is returned when no balance row exists for the user.
	// Debit paths treat it as exhausted (fail closed).
	ErrBalanceNotFound = shared.NewDomainError("BALANCE_NOT_FOUND", "Credit balance not found for user")

	// ErrRefillAlreadyApplied is returned when a monthly refill is replayed
	// within the same billing period.
	ErrRefillAlreadyApplied = shared.NewDomainError("REFILL_ALREADY_APPLIED", "Monthly refill already applied for this billing period")

	// ErrInvariantViolation signals that a read observed used > limit + extra.
	// The ledger never repairs this silently; usage is denied until the
	// balance is corrected out-of-band.
	ErrInvariantViolation = shared.NewDomainError("CREDIT_INVARIANT_VIOLATION", "Credit balance is in an inconsistent state")
)

// TypeBalance holds the counters for a single credit type.
// Invariant: 0 <= Used <= Limit + Extra after every mutation.
type TypeBalance struct {
	Limit int64 // Monthly allotment granted by the current plan
	Used  int64 // Consumed this billing cycle
	Extra int64 // Purchased or rolled-over credits beyond the monthly limit
}

// Remaining returns the capacity left in this pool
func (b TypeBalance) Remaining() int64 {
	r := b.Limit + b.Extra - b.Used
	if r < 0 {
		return 0
	}
	return r
}

// HasCapacity returns true if at least one credit can still be debited
func (b TypeBalance) HasCapacity() bool {
	return b.Used < b.Limit+b.Extra
}

// IsConsistent returns true if the pool satisfies the ledger invariant
func (b TypeBalance) IsConsistent() bool {
	return b.Used >= 0 && b.Extra >= 0 && b.Used <= b.Limit+b.Extra
}

// RolloverExtra computes the extra credits retained across a monthly refill:
// unused monthly allotment converts into extra, and the combined total is
// capped at accumulationFactor x limit. Surplus above the cap is forfeited.
func (b TypeBalance) RolloverExtra(accumulationFactor decimal.Decimal) int64 {
	unused := b.Limit - b.Used
	if unused < 0 {
		unused = 0
	}
	rolled := b.Extra + unused

	cap := accumulationFactor.Mul(decimal.NewFromInt(b.Limit)).IntPart()
	if cap < 0 {
		cap = 0
	}
	if rolled > cap {
		return cap
	}
	return rolled
}

// CreditBalance is the per-user aggregate holding one TypeBalance per credit
// type plus the bounds of the current billing cycle. A row is created when a
// user first subscribes and lives for as long as the account does.
type CreditBalance struct {
	shared.BaseAggregateRoot
	UserID      string
	PlanSlug    string
	Balances    map[CreditType]TypeBalance
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// NewCreditBalance creates a zero-usage balance seeded from a plan
func NewCreditBalance(userID string, plan *Plan, now time.Time) (*CreditBalance, error) {
	if userID == "" {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if plan == nil {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan cannot be nil")
	}

	start, end := BillingPeriod(now)
	balances := make(map[CreditType]TypeBalance, len(AllCreditTypes()))
	for _, t := range AllCreditTypes() {
		balances[t] = TypeBalance{Limit: plan.LimitFor(t)}
	}

	return &CreditBalance{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
		PlanSlug:          plan.Slug,
		Balances:          balances,
		PeriodStart:       start,
		PeriodEnd:         end,
	}, nil
}

// Balance returns the counters for a credit type (zero value if absent)
func (b *CreditBalance) Balance(t CreditType) TypeBalance {
	return b.Balances[t]
}

// PeriodCovers returns true if now falls inside the current billing period
func (b *CreditBalance) PeriodCovers(now time.Time) bool {
	return !now.Before(b.PeriodStart) && now.Before(b.PeriodEnd)
}

// ApplyPlan resets the balance onto a new plan: limits come from the plan,
// used resets to zero, purchased extra is preserved across the plan change,
// and a fresh billing period starts. Returns the per-type limit deltas so
// callers can write plan_init ledger entries for limits that changed.
func (b *CreditBalance) ApplyPlan(plan *Plan, now time.Time) map[CreditType]int64 {
	changed := make(map[CreditType]int64)
	for _, t := range AllCreditTypes() {
		prev := b.Balances[t]
		next := TypeBalance{
			Limit: plan.LimitFor(t),
			Used:  0,
			Extra: prev.Extra, // purchased credits roll over across plan changes
		}
		if next.Limit != prev.Limit {
			changed[t] = next.Limit - prev.Limit
		}
		b.Balances[t] = next
	}

	b.PlanSlug = plan.Slug
	b.PeriodStart, b.PeriodEnd = BillingPeriod(now)
	b.Touch(now)
	return changed
}

// RefillExtras computes the post-refill extra for every credit type using the
// plan's accumulation factor. Pure; persistence applies the result atomically.
func (b *CreditBalance) RefillExtras(plan *Plan) map[CreditType]int64 {
	extras := make(map[CreditType]int64, len(b.Balances))
	for _, t := range AllCreditTypes() {
		extras[t] = b.Balances[t].RolloverExtra(plan.AccumulationFactor)
	}
	return extras
}

// IsConsistent returns true if every pool satisfies the ledger invariant
func (b *CreditBalance) IsConsistent() bool {
	for _, t := range AllCreditTypes() {
		if !b.Balances[t].IsConsistent() {
			return false
		}
	}
	return true
}

// BillingPeriod returns the calendar-month billing window containing now.
// Stripe anchors recurring invoices to the subscription date, but the ledger
// only needs a monotonic per-cycle key; the month window keeps the refill
// guard (period_start < new start) simple and replay-safe.
func BillingPeriod(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
