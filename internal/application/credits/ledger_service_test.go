package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock implementations

type mockBalanceRepository struct {
	mock.Mock
}

func (m *mockBalanceRepository) FindByUserID(ctx context.Context, userID string) (*credits.CreditBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.CreditBalance), args.Error(1)
}

func (m *mockBalanceRepository) Save(ctx context.Context, balance *credits.CreditBalance, entries []*credits.CreditTransaction) error {
	args := m.Called(ctx, balance, entries)
	return args.Error(0)
}

func (m *mockBalanceRepository) Debit(ctx context.Context, userID string, creditType credits.CreditType) (*credits.CreditBalance, error) {
	args := m.Called(ctx, userID, creditType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.CreditBalance), args.Error(1)
}

func (m *mockBalanceRepository) ApplyRefill(ctx context.Context, userID string, periodStart, periodEnd time.Time, plan *credits.Plan) error {
	args := m.Called(ctx, userID, periodStart, periodEnd, plan)
	return args.Error(0)
}

func (m *mockBalanceRepository) AddExtra(ctx context.Context, userID string, creditType credits.CreditType, amount int64, entry *credits.CreditTransaction) (*credits.CreditBalance, error) {
	args := m.Called(ctx, userID, creditType, amount, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.CreditBalance), args.Error(1)
}

type mockTransactionRepository struct {
	mock.Mock
}

func (m *mockTransactionRepository) Create(ctx context.Context, tx *credits.CreditTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockTransactionRepository) FindByUserID(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[credits.CreditTransaction], error) {
	args := m.Called(ctx, userID, filter)
	return args.Get(0).(shared.Paginated[credits.CreditTransaction]), args.Error(1)
}

func (m *mockTransactionRepository) SumByUserAndType(ctx context.Context, userID string, creditType credits.CreditType) (int64, error) {
	args := m.Called(ctx, userID, creditType)
	return args.Get(0).(int64), args.Error(1)
}

type mockPlanRepository struct {
	mock.Mock
}

func (m *mockPlanRepository) FindBySlug(ctx context.Context, slug string) (*credits.Plan, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.Plan), args.Error(1)
}

func (m *mockPlanRepository) FindByStripePriceID(ctx context.Context, priceID string) (*credits.Plan, error) {
	args := m.Called(ctx, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.Plan), args.Error(1)
}

func (m *mockPlanRepository) FindAllActive(ctx context.Context) ([]*credits.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*credits.Plan), args.Error(1)
}

func (m *mockPlanRepository) Save(ctx context.Context, plan *credits.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

// Test helpers

func newTestService(t *testing.T) (*LedgerService, *mockBalanceRepository, *mockTransactionRepository, *mockPlanRepository) {
	t.Helper()
	balanceRepo := new(mockBalanceRepository)
	txRepo := new(mockTransactionRepository)
	planRepo := new(mockPlanRepository)
	svc := NewLedgerService(balanceRepo, txRepo, planRepo, zap.NewNop())
	return svc, balanceRepo, txRepo, planRepo
}

func testPlan(t *testing.T) *credits.Plan {
	t.Helper()
	plan, err := credits.NewPlan("basic", "Basic", map[credits.CreditType]int64{
		credits.CreditTypeInvoices: 50,
		credits.CreditTypeTickets:  100,
		credits.CreditTypeAnalyses: 10,
	}, decimal.NewFromFloat(2.0))
	require.NoError(t, err)
	return plan
}

func testBalance(t *testing.T, userID string) *credits.CreditBalance {
	t.Helper()
	balance, err := credits.NewCreditBalance(userID, testPlan(t), time.Now().UTC())
	require.NoError(t, err)
	return balance
}

func TestLedgerService_HasCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("true when capacity remains", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)

		assert.True(t, svc.HasCredits(ctx, "user_1", credits.CreditTypeInvoices))
	})

	t.Run("false when exhausted", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balance.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 50}
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)

		assert.False(t, svc.HasCredits(ctx, "user_1", credits.CreditTypeInvoices))
	})

	t.Run("false when balance row is missing", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(nil, credits.ErrBalanceNotFound)

		assert.False(t, svc.HasCredits(ctx, "user_1", credits.CreditTypeInvoices))
	})

	t.Run("fails closed on read errors", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(nil, errors.New("connection refused"))

		assert.False(t, svc.HasCredits(ctx, "user_1", credits.CreditTypeInvoices))
	})

	t.Run("false for invalid credit type without touching the store", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)

		assert.False(t, svc.HasCredits(ctx, "user_1", credits.CreditType("exports")))
		balanceRepo.AssertNotCalled(t, "FindByUserID")
	})

	t.Run("denies usage on invariant violation", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		// used > limit + extra indicates a prior bug; never treated as available
		balance.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 60}
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)

		assert.False(t, svc.HasCredits(ctx, "user_1", credits.CreditTypeInvoices))
	})
}

func TestLedgerService_UseCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("debits one credit and returns remaining", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balance.Balances[credits.CreditTypeTickets] = credits.TypeBalance{Limit: 100, Used: 40, Extra: 5}
		balanceRepo.On("Debit", ctx, "user_1", credits.CreditTypeTickets).Return(balance, nil)

		result, err := svc.UseCredits(ctx, "user_1", credits.CreditTypeTickets)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(65), result.Remaining)
	})

	t.Run("exhausted balance is not an error", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("Debit", ctx, "user_1", credits.CreditTypeTickets).Return(nil, credits.ErrQuotaExhausted)

		result, err := svc.UseCredits(ctx, "user_1", credits.CreditTypeTickets)

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("missing balance row fails closed like exhaustion", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("Debit", ctx, "user_1", credits.CreditTypeTickets).Return(nil, credits.ErrBalanceNotFound)

		result, err := svc.UseCredits(ctx, "user_1", credits.CreditTypeTickets)

		require.NoError(t, err)
		assert.False(t, result.Success)
	})

	t.Run("persistence failures propagate as retryable errors", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("Debit", ctx, "user_1", credits.CreditTypeTickets).Return(nil, errors.New("deadlock detected"))

		_, err := svc.UseCredits(ctx, "user_1", credits.CreditTypeTickets)

		assert.Error(t, err)
	})

	t.Run("rejects invalid credit type", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.UseCredits(ctx, "user_1", credits.CreditType("exports"))

		assert.Error(t, err)
	})
}

func TestLedgerService_InitializeUserCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions a new user with plan_init entries", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		planRepo.On("FindBySlug", ctx, "basic").Return(testPlan(t), nil)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(nil, credits.ErrBalanceNotFound)
		balanceRepo.On("Save", ctx, mock.AnythingOfType("*credits.CreditBalance"), mock.Anything).
			Run(func(args mock.Arguments) {
				balance := args.Get(1).(*credits.CreditBalance)
				assert.Equal(t, "user_1", balance.UserID)
				assert.Equal(t, int64(50), balance.Balance(credits.CreditTypeInvoices).Limit)
				assert.Equal(t, int64(0), balance.Balance(credits.CreditTypeInvoices).Used)

				entries := args.Get(2).([]*credits.CreditTransaction)
				require.Len(t, entries, 3)
				for _, e := range entries {
					assert.Equal(t, credits.ReasonPlanInit, e.Reason)
					assert.Positive(t, e.Delta)
				}
			}).
			Return(nil)

		err := svc.InitializeUserCredits(ctx, "user_1", "basic")

		require.NoError(t, err)
		balanceRepo.AssertExpectations(t)
	})

	t.Run("plan change preserves purchased extra and audits limit deltas", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		pro, err := credits.NewPlan("pro", "Professional", map[credits.CreditType]int64{
			credits.CreditTypeInvoices: 200,
			credits.CreditTypeTickets:  400,
			credits.CreditTypeAnalyses: 50,
		}, decimal.NewFromFloat(2.0))
		require.NoError(t, err)

		existing := testBalance(t, "user_1")
		existing.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 30, Extra: 25}

		planRepo.On("FindBySlug", ctx, "pro").Return(pro, nil)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(existing, nil)
		balanceRepo.On("Save", ctx, existing, mock.Anything).
			Run(func(args mock.Arguments) {
				assert.Equal(t, "pro", existing.PlanSlug)
				assert.Equal(t, credits.TypeBalance{Limit: 200, Used: 0, Extra: 25}, existing.Balance(credits.CreditTypeInvoices))

				entries := args.Get(2).([]*credits.CreditTransaction)
				require.Len(t, entries, 3)
			}).
			Return(nil)

		require.NoError(t, svc.InitializeUserCredits(ctx, "user_1", "pro"))
		balanceRepo.AssertExpectations(t)
	})

	t.Run("same-plan replay within the period keeps usage untouched", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		existing := testBalance(t, "user_1")
		existing.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 30}

		// Stripe resends subscription.updated for payment-method edits;
		// replaying the same plan mid-cycle must not reset consumption.
		planRepo.On("FindBySlug", ctx, "basic").Return(testPlan(t), nil)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(existing, nil)

		require.NoError(t, svc.InitializeUserCredits(ctx, "user_1", "basic"))

		assert.Equal(t, int64(30), existing.Balance(credits.CreditTypeInvoices).Used)
		balanceRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
		balanceRepo.AssertNotCalled(t, "ApplyRefill", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("same plan in a new period goes through the refill path", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		plan := testPlan(t)
		existing := testBalance(t, "user_1")
		existing.PeriodStart = existing.PeriodStart.AddDate(0, -1, 0)
		existing.PeriodEnd = existing.PeriodEnd.AddDate(0, -1, 0)
		existing.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 20, Extra: 5}

		planRepo.On("FindBySlug", ctx, "basic").Return(plan, nil)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(existing, nil)
		balanceRepo.On("ApplyRefill", ctx, "user_1", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time"), plan).
			Return(nil)

		require.NoError(t, svc.InitializeUserCredits(ctx, "user_1", "basic"))

		// roll-over is the repository's job; plan re-init must not bypass it
		balanceRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
		balanceRepo.AssertExpectations(t)
	})

	t.Run("renewal races resolve without error when the refill already landed", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		plan := testPlan(t)
		existing := testBalance(t, "user_1")
		existing.PeriodStart = existing.PeriodStart.AddDate(0, -1, 0)
		existing.PeriodEnd = existing.PeriodEnd.AddDate(0, -1, 0)

		planRepo.On("FindBySlug", ctx, "basic").Return(plan, nil)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(existing, nil)
		balanceRepo.On("ApplyRefill", ctx, "user_1", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time"), plan).
			Return(credits.ErrRefillAlreadyApplied)

		require.NoError(t, svc.InitializeUserCredits(ctx, "user_1", "basic"))
	})

	t.Run("unknown plan is rejected", func(t *testing.T) {
		svc, _, _, planRepo := newTestService(t)
		planRepo.On("FindBySlug", ctx, "platinum").Return(nil, shared.ErrNotFound)

		err := svc.InitializeUserCredits(ctx, "user_1", "platinum")

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "UNKNOWN_PLAN", domainErr.Code)
	})
}

func TestLedgerService_MonthlyRefill(t *testing.T) {
	ctx := context.Background()

	t.Run("advances a stale period through the repository", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		plan := testPlan(t)
		balance := testBalance(t, "user_1")
		// stale period from last month
		balance.PeriodStart = balance.PeriodStart.AddDate(0, -1, 0)
		balance.PeriodEnd = balance.PeriodEnd.AddDate(0, -1, 0)
		balance.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 20, Extra: 5}

		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)
		planRepo.On("FindBySlug", ctx, "basic").Return(plan, nil)
		balanceRepo.On("ApplyRefill", ctx, "user_1", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time"), plan).
			Run(func(args mock.Arguments) {
				periodStart := args.Get(2).(time.Time)
				assert.True(t, balance.PeriodStart.Before(periodStart))
			}).
			Return(nil)

		require.NoError(t, svc.MonthlyRefill(ctx, "user_1"))
		balanceRepo.AssertExpectations(t)
	})

	t.Run("replay within the same period is rejected before any write", func(t *testing.T) {
		svc, balanceRepo, _, planRepo := newTestService(t)
		balance := testBalance(t, "user_1") // period is current
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)
		planRepo.On("FindBySlug", ctx, "basic").Return(testPlan(t), nil)

		err := svc.MonthlyRefill(ctx, "user_1")

		assert.ErrorIs(t, err, credits.ErrRefillAlreadyApplied)
		balanceRepo.AssertNotCalled(t, "ApplyRefill", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing balance row propagates", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(nil, credits.ErrBalanceNotFound)

		err := svc.MonthlyRefill(ctx, "user_1")

		assert.ErrorIs(t, err, credits.ErrBalanceNotFound)
	})
}

func TestLedgerService_AddCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("grants extra credits with ledger entry", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balance.Balances[credits.CreditTypeTickets] = credits.TypeBalance{Limit: 100, Used: 100, Extra: 10}

		balanceRepo.On("AddExtra", ctx, "user_1", credits.CreditTypeTickets, int64(10), mock.AnythingOfType("*credits.CreditTransaction")).
			Run(func(args mock.Arguments) {
				entry := args.Get(4).(*credits.CreditTransaction)
				assert.Equal(t, int64(10), entry.Delta)
				assert.Equal(t, credits.ReasonPurchase, entry.Reason)
			}).
			Return(balance, nil)

		result, err := svc.AddCredits(ctx, "user_1", credits.CreditTypeTickets, 10, credits.ReasonPurchase)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(10), result.Remaining)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.AddCredits(ctx, "user_1", credits.CreditTypeTickets, 0, credits.ReasonPurchase)
		assert.Error(t, err)

		_, err = svc.AddCredits(ctx, "user_1", credits.CreditTypeTickets, -5, credits.ReasonPurchase)
		assert.Error(t, err)
	})
}

func TestLedgerService_GetCreditsSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("maps balance counters per type", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balance.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 12, Extra: 3}
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)

		summary, err := svc.GetCreditsSummary(ctx, "user_1")

		require.NoError(t, err)
		assert.Equal(t, "basic", summary.PlanSlug)
		invoices := summary.PerType["invoices"]
		assert.Equal(t, int64(50), invoices.Limit)
		assert.Equal(t, int64(12), invoices.Used)
		assert.Equal(t, int64(3), invoices.Extra)
		assert.Equal(t, int64(41), invoices.Remaining)
	})

	t.Run("missing balance yields an all-zero summary", func(t *testing.T) {
		svc, balanceRepo, _, _ := newTestService(t)
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(nil, credits.ErrBalanceNotFound)

		summary, err := svc.GetCreditsSummary(ctx, "user_1")

		require.NoError(t, err)
		assert.Len(t, summary.PerType, 3)
		for _, s := range summary.PerType {
			assert.Zero(t, s.Limit)
			assert.Zero(t, s.Remaining)
		}
	})
}

func TestLedgerService_ReconcileLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("reports drift between balance and ledger", func(t *testing.T) {
		svc, balanceRepo, txRepo, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balance.Balances[credits.CreditTypeInvoices] = credits.TypeBalance{Limit: 50, Used: 10, Extra: 0}
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)

		// invoices ledger says net 42 but the balance row says 40
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeInvoices).Return(int64(42), nil)
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeTickets).Return(int64(100), nil)
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeAnalyses).Return(int64(10), nil)

		drifts, err := svc.ReconcileLedger(ctx, "user_1")

		require.NoError(t, err)
		require.Len(t, drifts, 1)
		assert.Equal(t, "invoices", drifts[0].CreditType)
		assert.Equal(t, int64(40), drifts[0].BalanceNet)
		assert.Equal(t, int64(42), drifts[0].LedgerNet)
	})

	t.Run("clean ledger reports nothing", func(t *testing.T) {
		svc, balanceRepo, txRepo, _ := newTestService(t)
		balance := testBalance(t, "user_1")
		balanceRepo.On("FindByUserID", ctx, "user_1").Return(balance, nil)
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeInvoices).Return(int64(50), nil)
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeTickets).Return(int64(100), nil)
		txRepo.On("SumByUserAndType", ctx, "user_1", credits.CreditTypeAnalyses).Return(int64(10), nil)

		drifts, err := svc.ReconcileLedger(ctx, "user_1")

		require.NoError(t, err)
		assert.Empty(t, drifts)
	})
}
