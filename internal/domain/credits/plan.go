package credits

import (
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Plan is a subscription plan catalog entry: the monthly credit allotment per
// credit type, the accumulation cap factor applied at refill time, and the
// Stripe price the plan is sold under.
type Plan struct {
	shared.BaseEntity
	Slug               string
	Name               string
	Limits             map[CreditType]int64
	AccumulationFactor decimal.Decimal // Max extra retained across a refill = factor x limit
	MonthlyPrice       decimal.Decimal
	Currency           string
	StripePriceID      string
	IsActive           bool
}

// PlanSlugTrial is the slug of the free plan users land on without an
// active subscription
const PlanSlugTrial = "trial"

// NewPlan creates a plan catalog entry with validation
func NewPlan(slug, name string, limits map[CreditType]int64, accumulationFactor decimal.Decimal) (*Plan, error) {
	if slug == "" {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan slug cannot be empty")
	}
	if accumulationFactor.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PLAN", "Accumulation factor cannot be negative")
	}
	for t, limit := range limits {
		if !t.IsValid() {
			return nil, shared.NewDomainError("INVALID_CREDIT_TYPE", "Invalid credit type in plan limits")
		}
		if limit < 0 {
			return nil, shared.NewDomainError("INVALID_LIMIT", "Plan limits cannot be negative")
		}
	}

	planLimits := make(map[CreditType]int64, len(AllCreditTypes()))
	for _, t := range AllCreditTypes() {
		planLimits[t] = limits[t]
	}

	return &Plan{
		BaseEntity:         shared.NewBaseEntity(),
		Slug:               slug,
		Name:               name,
		Limits:             planLimits,
		AccumulationFactor: accumulationFactor,
		Currency:           "eur",
		IsActive:           true,
	}, nil
}

// WithPrice sets the monthly price and currency
func (p *Plan) WithPrice(price decimal.Decimal, currency string) *Plan {
	p.MonthlyPrice = price
	if currency != "" {
		p.Currency = currency
	}
	return p
}

// WithStripePriceID links the plan to a Stripe recurring price
func (p *Plan) WithStripePriceID(priceID string) *Plan {
	p.StripePriceID = priceID
	return p
}

// LimitFor returns the monthly allotment for a credit type
func (p *Plan) LimitFor(t CreditType) int64 {
	return p.Limits[t]
}

// DefaultPlans returns the built-in plan catalog used to seed the database.
// Trial has no roll-over (factor 1.0 keeps extra bounded at one allotment);
// paid plans retain up to two months of unused allotment.
func DefaultPlans() []*Plan {
	trial, _ := NewPlan(PlanSlugTrial, "Free Trial", map[CreditType]int64{
		CreditTypeInvoices: 10,
		CreditTypeTickets:  10,
		CreditTypeAnalyses: 2,
	}, decimal.NewFromFloat(1.0))

	basic, _ := NewPlan("basic", "Basic", map[CreditType]int64{
		CreditTypeInvoices: 50,
		CreditTypeTickets:  100,
		CreditTypeAnalyses: 10,
	}, decimal.NewFromFloat(2.0))
	basic.WithPrice(decimal.NewFromFloat(9.90), "eur").WithStripePriceID("price_basic_monthly")

	pro, _ := NewPlan("pro", "Professional", map[CreditType]int64{
		CreditTypeInvoices: 200,
		CreditTypeTickets:  400,
		CreditTypeAnalyses: 50,
	}, decimal.NewFromFloat(2.0))
	pro.WithPrice(decimal.NewFromFloat(24.90), "eur").WithStripePriceID("price_pro_monthly")

	business, _ := NewPlan("business", "Business", map[CreditType]int64{
		CreditTypeInvoices: 1000,
		CreditTypeTickets:  2000,
		CreditTypeAnalyses: 250,
	}, decimal.NewFromFloat(2.0))
	business.WithPrice(decimal.NewFromFloat(59.90), "eur").WithStripePriceID("price_business_monthly")

	return []*Plan{trial, basic, pro, business}
}
