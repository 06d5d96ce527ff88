package credits

import (
	"context"
	"errors"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DebitResult is the outcome of a single credit debit
type DebitResult struct {
	Success   bool  `json:"success"`
	Remaining int64 `json:"remaining"`
}

// CreditTypeSummary contains the counters for one credit type
type CreditTypeSummary struct {
	CreditType  string `json:"credit_type"`
	DisplayName string `json:"display_name"`
	Limit       int64  `json:"limit"`
	Used        int64  `json:"used"`
	Extra       int64  `json:"extra"`
	Remaining   int64  `json:"remaining"`
}

// CreditsSummary is the read-only aggregation returned to dashboards
type CreditsSummary struct {
	UserID      string                       `json:"user_id"`
	PlanSlug    string                       `json:"plan_slug"`
	PeriodStart time.Time                    `json:"period_start"`
	PeriodEnd   time.Time                    `json:"period_end"`
	PerType     map[string]CreditTypeSummary `json:"per_type"`
}

// LedgerDrift reports a mismatch between a balance pool and the net of its
// ledger entries, per credit type
type LedgerDrift struct {
	CreditType string `json:"credit_type"`
	BalanceNet int64  `json:"balance_net"` // limit + extra - used as recorded on the balance row
	LedgerNet  int64  `json:"ledger_net"`  // sum of transaction deltas
}

// LedgerService is the credit ledger engine. It enforces the accounting
// invariants over the balance store: availability checks fail closed, debits
// are race-safe conditional updates, monthly refills are idempotent per
// billing period, and every mutation leaves an append-only ledger entry.
type LedgerService struct {
	balanceRepo credits.CreditBalanceRepository
	txRepo      credits.CreditTransactionRepository
	planRepo    credits.PlanRepository
	logger      *zap.Logger
	metrics     LedgerMetrics
}

// LedgerMetrics receives ledger activity for metrics export. A nil recorder
// disables recording.
type LedgerMetrics interface {
	RecordDebitAttempt(ctx context.Context, creditType string, success bool)
	RecordCreditsGranted(ctx context.Context, creditType, reason string, amount int64)
	RecordRefillApplied(ctx context.Context, planSlug string)
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	balanceRepo credits.CreditBalanceRepository,
	txRepo credits.CreditTransactionRepository,
	planRepo credits.PlanRepository,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		planRepo:    planRepo,
		logger:      logger,
	}
}

// SetMetrics attaches a metrics recorder. Must be called before the service
// starts handling requests.
func (s *LedgerService) SetMetrics(metrics LedgerMetrics) {
	s.metrics = metrics
}

// HasCredits returns true iff the user can consume one credit of the given
// type. Read-only. Any read failure denies access rather than assuming
// availability; callers must not run the metered operation on false.
func (s *LedgerService) HasCredits(ctx context.Context, userID string, creditType credits.CreditType) bool {
	if !creditType.IsValid() {
		return false
	}

	balance, err := s.balanceRepo.FindByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, credits.ErrBalanceNotFound) {
			s.logger.Warn("Credit availability check failed, denying access",
				zap.String("user_id", userID),
				zap.String("credit_type", creditType.String()),
				zap.Error(err))
		}
		return false
	}

	pool := balance.Balance(creditType)
	if !pool.IsConsistent() {
		s.logger.Error("Credit balance invariant violated, denying usage",
			zap.String("user_id", userID),
			zap.String("credit_type", creditType.String()),
			zap.Int64("limit", pool.Limit),
			zap.Int64("used", pool.Used),
			zap.Int64("extra", pool.Extra))
		return false
	}

	return pool.HasCapacity()
}

// UseCredits debits one credit of the given type. Called only after the
// metered operation succeeded, so failed work is never charged. The debit is
// a single conditional update: when capacity was consumed concurrently the
// result carries Success=false and no ledger entry is written. A non-nil
// error always means a persistence failure the caller may retry.
func (s *LedgerService) UseCredits(ctx context.Context, userID string, creditType credits.CreditType) (DebitResult, error) {
	if !creditType.IsValid() {
		return DebitResult{}, shared.NewDomainError("INVALID_CREDIT_TYPE", "Invalid credit type")
	}

	balance, err := s.balanceRepo.Debit(ctx, userID, creditType)
	if err != nil {
		// Missing row and exhausted row are the same outcome for a debit:
		// no capacity, fail closed, nothing written.
		if errors.Is(err, credits.ErrQuotaExhausted) || errors.Is(err, credits.ErrBalanceNotFound) {
			if s.metrics != nil {
				s.metrics.RecordDebitAttempt(ctx, creditType.String(), false)
			}
			return DebitResult{Success: false, Remaining: 0}, nil
		}
		return DebitResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordDebitAttempt(ctx, creditType.String(), true)
	}

	remaining := balance.Balance(creditType).Remaining()
	s.logger.Debug("Credit debited",
		zap.String("user_id", userID),
		zap.String("credit_type", creditType.String()),
		zap.Int64("remaining", remaining))

	return DebitResult{Success: true, Remaining: remaining}, nil
}

// InitializeUserCredits provisions or re-provisions a user's balance when a
// subscription becomes active. Limits come from the plan, purchased extra
// survives the plan change, and limit changes are audited with plan_init
// ledger entries. Idempotent per (user, plan, billing period): Stripe resends
// customer.subscription.updated for payment-method and metadata edits, so a
// replay that changes neither plan nor period must not touch usage. A
// same-plan call in a later period advances the cycle through the refill
// path, preserving roll-over regardless of which webhook arrives first.
func (s *LedgerService) InitializeUserCredits(ctx context.Context, userID, planSlug string) error {
	plan, err := s.planRepo.FindBySlug(ctx, planSlug)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewDomainError("UNKNOWN_PLAN", "Unknown subscription plan: "+planSlug)
		}
		return err
	}

	now := time.Now().UTC()

	balance, err := s.balanceRepo.FindByUserID(ctx, userID)
	switch {
	case errors.Is(err, credits.ErrBalanceNotFound):
		balance, err = credits.NewCreditBalance(userID, plan, now)
		if err != nil {
			return err
		}
		entries, err := planInitEntries(userID, initialDeltas(plan))
		if err != nil {
			return err
		}
		if err := s.balanceRepo.Save(ctx, balance, entries); err != nil {
			return err
		}
	case err != nil:
		return err
	case balance.PlanSlug == plan.Slug:
		if balance.PeriodCovers(now) {
			s.logger.Debug("Subscription update matches current plan and period, nothing to do",
				zap.String("user_id", userID),
				zap.String("plan", planSlug))
			return nil
		}
		if err := s.refill(ctx, balance, plan, now); err != nil && !errors.Is(err, credits.ErrRefillAlreadyApplied) {
			return err
		}
	default:
		changed := balance.ApplyPlan(plan, now)
		entries, err := planInitEntries(userID, changed)
		if err != nil {
			return err
		}
		if err := s.balanceRepo.Save(ctx, balance, entries); err != nil {
			return err
		}
	}

	s.logger.Info("User credits initialized",
		zap.String("user_id", userID),
		zap.String("plan", planSlug))
	return nil
}

// MonthlyRefill resets usage for the new billing cycle and rolls unused
// allotment into extra, capped at the plan's accumulation factor times the
// limit. Idempotent per cycle: a replayed webhook within the same period
// returns credits.ErrRefillAlreadyApplied and changes nothing.
func (s *LedgerService) MonthlyRefill(ctx context.Context, userID string) error {
	balance, err := s.balanceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}

	plan, err := s.planRepo.FindBySlug(ctx, balance.PlanSlug)
	if err != nil {
		return err
	}

	return s.refill(ctx, balance, plan, time.Now().UTC())
}

// refill advances the balance into the billing period containing now. The
// roll-over itself is computed inside the repository transaction; the period
// pre-check here only short-circuits replays without a write.
func (s *LedgerService) refill(ctx context.Context, balance *credits.CreditBalance, plan *credits.Plan, now time.Time) error {
	periodStart, periodEnd := credits.BillingPeriod(now)
	if !balance.PeriodStart.Before(periodStart) {
		return credits.ErrRefillAlreadyApplied
	}

	if err := s.balanceRepo.ApplyRefill(ctx, balance.UserID, periodStart, periodEnd, plan); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordRefillApplied(ctx, plan.Slug)
	}

	s.logger.Info("Monthly refill applied",
		zap.String("user_id", balance.UserID),
		zap.String("plan", plan.Slug),
		zap.Time("period_start", periodStart))
	return nil
}

// AddCredits grants extra credits from a one-off purchase or manual
// adjustment. Extra is uncapped at grant time; the accumulation cap applies
// only at the next refill.
func (s *LedgerService) AddCredits(ctx context.Context, userID string, creditType credits.CreditType, amount int64, reason credits.TransactionReason) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, shared.NewDomainError("INVALID_AMOUNT", "Credit amount must be positive")
	}

	entry, err := credits.NewCreditTransaction(userID, creditType, amount, reason)
	if err != nil {
		return DebitResult{}, err
	}

	balance, err := s.balanceRepo.AddExtra(ctx, userID, creditType, amount, entry)
	if err != nil {
		return DebitResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordCreditsGranted(ctx, creditType.String(), reason.String(), amount)
	}

	s.logger.Info("Credits added",
		zap.String("user_id", userID),
		zap.String("credit_type", creditType.String()),
		zap.Int64("amount", amount),
		zap.String("reason", reason.String()))

	return DebitResult{Success: true, Remaining: balance.Balance(creditType).Remaining()}, nil
}

// GetCreditsSummary returns the per-type counters for display. A user with
// no balance row gets an all-zero summary rather than an error.
func (s *LedgerService) GetCreditsSummary(ctx context.Context, userID string) (*CreditsSummary, error) {
	balance, err := s.balanceRepo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, credits.ErrBalanceNotFound) {
			return emptySummary(userID), nil
		}
		return nil, err
	}

	summary := &CreditsSummary{
		UserID:      userID,
		PlanSlug:    balance.PlanSlug,
		PeriodStart: balance.PeriodStart,
		PeriodEnd:   balance.PeriodEnd,
		PerType:     make(map[string]CreditTypeSummary, len(credits.AllCreditTypes())),
	}
	for _, t := range credits.AllCreditTypes() {
		pool := balance.Balance(t)
		if !pool.IsConsistent() {
			s.logger.Error("Credit balance invariant violated in summary",
				zap.String("user_id", userID),
				zap.String("credit_type", t.String()))
		}
		summary.PerType[t.String()] = CreditTypeSummary{
			CreditType:  t.String(),
			DisplayName: t.DisplayName(),
			Limit:       pool.Limit,
			Used:        pool.Used,
			Extra:       pool.Extra,
			Remaining:   pool.Remaining(),
		}
	}
	return summary, nil
}

// Transactions returns the user's ledger history, newest first
func (s *LedgerService) Transactions(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[credits.CreditTransaction], error) {
	return s.txRepo.FindByUserID(ctx, userID, filter)
}

// ReconcileLedger cross-checks each balance pool against the net of its
// ledger entries and reports the types that drifted. Drift indicates a prior
// bug or a mutation that bypassed the engine; it is reported, never repaired.
func (s *LedgerService) ReconcileLedger(ctx context.Context, userID string) ([]LedgerDrift, error) {
	balance, err := s.balanceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var drifts []LedgerDrift
	for _, t := range credits.AllCreditTypes() {
		ledgerNet, err := s.txRepo.SumByUserAndType(ctx, userID, t)
		if err != nil {
			return nil, err
		}
		pool := balance.Balance(t)
		balanceNet := pool.Limit + pool.Extra - pool.Used
		if balanceNet != ledgerNet {
			drifts = append(drifts, LedgerDrift{
				CreditType: t.String(),
				BalanceNet: balanceNet,
				LedgerNet:  ledgerNet,
			})
		}
	}

	if len(drifts) > 0 {
		s.logger.Warn("Ledger reconciliation found drift",
			zap.String("user_id", userID),
			zap.Int("drifted_types", len(drifts)))
	}
	return drifts, nil
}

func emptySummary(userID string) *CreditsSummary {
	summary := &CreditsSummary{
		UserID:  userID,
		PerType: make(map[string]CreditTypeSummary, len(credits.AllCreditTypes())),
	}
	for _, t := range credits.AllCreditTypes() {
		summary.PerType[t.String()] = CreditTypeSummary{
			CreditType:  t.String(),
			DisplayName: t.DisplayName(),
		}
	}
	return summary
}

func initialDeltas(plan *credits.Plan) map[credits.CreditType]int64 {
	deltas := make(map[credits.CreditType]int64)
	for _, t := range credits.AllCreditTypes() {
		if limit := plan.LimitFor(t); limit != 0 {
			deltas[t] = limit
		}
	}
	return deltas
}

func planInitEntries(userID string, deltas map[credits.CreditType]int64) ([]*credits.CreditTransaction, error) {
	entries := make([]*credits.CreditTransaction, 0, len(deltas))
	for _, t := range credits.AllCreditTypes() {
		delta, ok := deltas[t]
		if !ok || delta == 0 {
			continue
		}
		entry, err := credits.NewCreditTransaction(userID, t, delta, credits.ReasonPlanInit)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
