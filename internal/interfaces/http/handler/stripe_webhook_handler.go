package handler

import (
	"io"
	"net/http"

	billingapp "github.com/facturio/backend/internal/application/billing"
	"github.com/facturio/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// Stripe event payloads are small; 64KB leaves generous headroom while
// bounding what an unauthenticated caller can make us buffer.
const maxWebhookPayloadSize = 65536

// StripeWebhookHandler receives billing events pushed by Stripe. The route
// is unauthenticated; trust comes from the signature check inside the
// webhook service.
type StripeWebhookHandler struct {
	BaseHandler
	webhookService *billingapp.StripeWebhookService
	metrics        *telemetry.BusinessMetrics
}

func NewStripeWebhookHandler(webhookService *billingapp.StripeWebhookService) *StripeWebhookHandler {
	return &StripeWebhookHandler{webhookService: webhookService}
}

// SetMetrics attaches a metrics recorder for webhook event outcomes
func (h *StripeWebhookHandler) SetMetrics(metrics *telemetry.BusinessMetrics) {
	h.metrics = metrics
}

func (h *StripeWebhookHandler) recordEvent(c *gin.Context, eventType string, outcome telemetry.WebhookOutcome) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(c.Request.Context(), eventType, outcome)
	}
}

// StripeWebhookResponse represents the response for Stripe webhook
//
//	@Description	Stripe webhook response
type StripeWebhookResponse struct {
	Received  bool   `json:"received" example:"true"`
	EventID   string `json:"event_id,omitempty" example:"evt_1234567890"`
	EventType string `json:"event_type,omitempty" example:"customer.subscription.created"`
	Message   string `json:"message,omitempty" example:"Webhook processed successfully"`
}

func webhookReject(c *gin.Context, status int, message string) {
	c.JSON(status, StripeWebhookResponse{Received: false, Message: message})
}

// HandleStripeWebhook godoc
//
//	@ID				handleStripeWebhook
//	@Summary		Handle Stripe webhook
//	@Description	Receive and process billing events from Stripe. Subscription changes provision credit balances, invoice payments trigger the monthly refill, and checkout sessions grant purchased credit packs.
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header		string					true	"Stripe webhook signature"
//	@Success		200					{object}	StripeWebhookResponse	"Webhook processed successfully"
//	@Failure		400					{object}	StripeWebhookResponse	"Invalid request"
//	@Failure		401					{object}	StripeWebhookResponse	"Invalid signature"
//	@Failure		413					{object}	StripeWebhookResponse	"Payload too large"
//	@Failure		500					{object}	StripeWebhookResponse	"Processing failed, Stripe should retry"
//	@Router			/webhooks/stripe [post]
func (h *StripeWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Signature verification needs the raw bytes, so the body is read here
	// instead of going through binding.
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		webhookReject(c, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		webhookReject(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		webhookReject(c, http.StatusUnauthorized, "Missing Stripe-Signature header")
		return
	}

	result, err := h.webhookService.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		// Signature verification failure carries no result.
		if result == nil {
			webhookReject(c, http.StatusUnauthorized, "Webhook signature verification failed")
			return
		}

		// Processing failure: return non-2xx so Stripe retries the
		// delivery. The event-ID store and the ledger's period guard keep
		// the replay safe. The internal error stays out of the response.
		h.recordEvent(c, result.EventType, telemetry.WebhookOutcomeFailed)
		c.JSON(http.StatusInternalServerError, StripeWebhookResponse{
			Received:  false,
			EventID:   result.EventID,
			EventType: result.EventType,
			Message:   "Webhook processing failed",
		})
		return
	}

	outcome := telemetry.WebhookOutcomeProcessed
	if result.Duplicate {
		outcome = telemetry.WebhookOutcomeDuplicate
	}
	h.recordEvent(c, result.EventType, outcome)

	c.JSON(http.StatusOK, StripeWebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Message:   result.Message,
	})
}
