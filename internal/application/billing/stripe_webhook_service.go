package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	appcredits "github.com/facturio/backend/internal/application/credits"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/infrastructure/billing"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// CreditLedger is the slice of the ledger engine the webhook adapter drives
type CreditLedger interface {
	InitializeUserCredits(ctx context.Context, userID, planSlug string) error
	MonthlyRefill(ctx context.Context, userID string) error
	AddCredits(ctx context.Context, userID string, creditType credits.CreditType, amount int64, reason credits.TransactionReason) (appcredits.DebitResult, error)
}

// StripeWebhookService translates Stripe billing events into ledger
// operations. Delivery is at-least-once: the event-ID store absorbs most
// replays and the ledger's period guard catches the rest.
type StripeWebhookService struct {
	config      *billing.StripeConfig
	ledger      CreditLedger
	planRepo    credits.PlanRepository
	idempotency shared.IdempotencyStore
	idemCfg     shared.IdempotencyConfig
	logger      *zap.Logger
}

// StripeWebhookServiceConfig contains configuration for StripeWebhookService
type StripeWebhookServiceConfig struct {
	Config      *billing.StripeConfig
	Ledger      CreditLedger
	PlanRepo    credits.PlanRepository
	Idempotency shared.IdempotencyStore
	IdemCfg     shared.IdempotencyConfig
	Logger      *zap.Logger
}

// NewStripeWebhookService creates a new StripeWebhookService
func NewStripeWebhookService(cfg StripeWebhookServiceConfig) *StripeWebhookService {
	idemCfg := cfg.IdemCfg
	if idemCfg.TTL == 0 {
		idemCfg = shared.DefaultIdempotencyConfig()
	}
	return &StripeWebhookService{
		config:      cfg.Config,
		ledger:      cfg.Ledger,
		planRepo:    cfg.PlanRepo,
		idempotency: cfg.Idempotency,
		idemCfg:     idemCfg,
		logger:      cfg.Logger,
	}
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ProcessWebhook verifies, deduplicates and dispatches a Stripe webhook
// event. A non-nil error tells the HTTP layer to return non-2xx so Stripe
// retries the delivery.
func (s *StripeWebhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.config.WebhookSecret)
	if err != nil {
		s.logger.Error("Failed to verify webhook signature", zap.Error(err))
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Processed: true,
	}

	if s.idempotency != nil && s.idemCfg.Enabled {
		fresh, err := s.idempotency.MarkProcessed(ctx, event.ID, s.idemCfg.TTL)
		if err != nil {
			// Store outage must not drop billing events; the ledger's own
			// guards keep a duplicate dispatch harmless.
			s.logger.Warn("Idempotency store unavailable, processing anyway",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else if !fresh {
			s.logger.Info("Skipping duplicate webhook event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
			result.Duplicate = true
			result.Message = "Duplicate event"
			return result, nil
		}
	}

	s.logger.Info("Processing Stripe webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		err = s.handleSubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid":
		err = s.handleInvoicePaid(ctx, event, result)
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event, result)
	default:
		s.logger.Debug("Unhandled webhook event type",
			zap.String("event_type", string(event.Type)))
		result.Message = "Event type not handled"
	}

	if err != nil {
		s.logger.Error("Failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		result.Processed = false
		result.Message = err.Error()
		return result, err
	}

	return result, nil
}

// handleSubscriptionChange provisions the user's credit balance when a
// subscription is created or switches plans
func (s *StripeWebhookService) handleSubscriptionChange(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := subscription.Metadata["user_id"]
	if userID == "" {
		// Subscriptions created outside our checkout flow carry no user
		// mapping; acknowledge so Stripe stops retrying.
		s.logger.Warn("Subscription has no user_id metadata, skipping",
			zap.String("subscription_id", subscription.ID))
		return nil
	}

	if subscription.Status != stripe.SubscriptionStatusActive &&
		subscription.Status != stripe.SubscriptionStatusTrialing {
		s.logger.Info("Subscription not active, skipping provisioning",
			zap.String("subscription_id", subscription.ID),
			zap.String("status", string(subscription.Status)))
		return nil
	}

	priceID := ""
	if subscription.Items != nil && len(subscription.Items.Data) > 0 && subscription.Items.Data[0].Price != nil {
		priceID = subscription.Items.Data[0].Price.ID
	}

	plan, err := s.planRepo.FindByStripePriceID(ctx, priceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("No plan configured for Stripe price, skipping",
				zap.String("subscription_id", subscription.ID),
				zap.String("price_id", priceID))
			return nil
		}
		return fmt.Errorf("failed to resolve plan for price %s: %w", priceID, err)
	}

	if err := s.ledger.InitializeUserCredits(ctx, userID, plan.Slug); err != nil {
		return fmt.Errorf("failed to initialize credits: %w", err)
	}

	s.logger.Info("Subscription provisioned",
		zap.String("subscription_id", subscription.ID),
		zap.String("user_id", userID),
		zap.String("plan", plan.Slug))
	return nil
}

// handleSubscriptionDeleted downgrades a cancelled subscriber to the trial
// allotment. Purchased extra credits survive the downgrade.
func (s *StripeWebhookService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := subscription.Metadata["user_id"]
	if userID == "" {
		s.logger.Warn("Subscription has no user_id metadata, skipping",
			zap.String("subscription_id", subscription.ID))
		return nil
	}

	if err := s.ledger.InitializeUserCredits(ctx, userID, credits.PlanSlugTrial); err != nil {
		return fmt.Errorf("failed to downgrade credits: %w", err)
	}

	s.logger.Info("Subscription cancelled, user downgraded",
		zap.String("subscription_id", subscription.ID),
		zap.String("user_id", userID))
	return nil
}

// handleInvoicePaid applies the monthly refill on renewal invoices. The
// first invoice of a subscription is billing_reason=subscription_create and
// is already covered by provisioning.
func (s *StripeWebhookService) handleInvoicePaid(ctx context.Context, event stripe.Event, result *WebhookResult) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		s.logger.Debug("Invoice is not a renewal, skipping",
			zap.String("invoice_id", invoice.ID),
			zap.String("billing_reason", string(invoice.BillingReason)))
		result.Message = "Not a renewal invoice"
		return nil
	}

	userID := ""
	if invoice.SubscriptionDetails != nil {
		userID = invoice.SubscriptionDetails.Metadata["user_id"]
	}
	if userID == "" {
		s.logger.Warn("Renewal invoice has no user_id metadata, skipping",
			zap.String("invoice_id", invoice.ID))
		return nil
	}

	err := s.ledger.MonthlyRefill(ctx, userID)
	if err != nil {
		if errors.Is(err, credits.ErrRefillAlreadyApplied) {
			s.logger.Info("Refill already applied for this period",
				zap.String("invoice_id", invoice.ID),
				zap.String("user_id", userID))
			result.Message = "Refill already applied"
			return nil
		}
		if errors.Is(err, credits.ErrBalanceNotFound) {
			s.logger.Warn("Renewal invoice for unknown user, skipping",
				zap.String("invoice_id", invoice.ID),
				zap.String("user_id", userID))
			return nil
		}
		return fmt.Errorf("failed to apply monthly refill: %w", err)
	}

	s.logger.Info("Monthly refill applied from invoice",
		zap.String("invoice_id", invoice.ID),
		zap.String("user_id", userID))
	return nil
}

// handleCheckoutCompleted credits one-off credit package purchases. Only
// payment-mode sessions with credit package metadata are relevant;
// subscription-mode checkouts are handled via subscription events.
func (s *StripeWebhookService) handleCheckoutCompleted(ctx context.Context, event stripe.Event, result *WebhookResult) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.Mode != stripe.CheckoutSessionModePayment {
		result.Message = "Not a payment-mode session"
		return nil
	}

	userID := session.Metadata["user_id"]
	rawType := session.Metadata["credit_type"]
	rawAmount := session.Metadata["credits"]
	if userID == "" || rawType == "" || rawAmount == "" {
		s.logger.Debug("Checkout session without credit package metadata, skipping",
			zap.String("session_id", session.ID))
		result.Message = "Not a credit package purchase"
		return nil
	}

	creditType, err := credits.ParseCreditType(rawType)
	if err != nil {
		s.logger.Error("Checkout session has invalid credit_type metadata",
			zap.String("session_id", session.ID),
			zap.String("credit_type", rawType))
		return nil
	}

	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil || amount <= 0 {
		s.logger.Error("Checkout session has invalid credits metadata",
			zap.String("session_id", session.ID),
			zap.String("credits", rawAmount))
		return nil
	}

	if _, err := s.ledger.AddCredits(ctx, userID, creditType, amount, credits.ReasonPurchase); err != nil {
		return fmt.Errorf("failed to add purchased credits: %w", err)
	}

	s.logger.Info("Credit package purchase applied",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("credit_type", creditType.String()),
		zap.Int64("credits", amount))
	return nil
}
