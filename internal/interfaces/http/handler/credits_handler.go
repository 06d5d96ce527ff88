package handler

import (
	"context"

	appcredits "github.com/facturio/backend/internal/application/credits"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// CreditLedger is the slice of the ledger engine the HTTP layer consumes
type CreditLedger interface {
	HasCredits(ctx context.Context, userID string, creditType credits.CreditType) bool
	GetCreditsSummary(ctx context.Context, userID string) (*appcredits.CreditsSummary, error)
	Transactions(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[credits.CreditTransaction], error)
}

// CreditsHandler handles credit balance and ledger history HTTP requests
type CreditsHandler struct {
	BaseHandler
	ledger CreditLedger
}

// NewCreditsHandler creates a new credits handler
func NewCreditsHandler(ledger CreditLedger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// GetSummary godoc
//
//	@ID				getCreditsSummary
//	@Summary		Get current credit balances
//	@Description	Get the per-type credit counters for the authenticated user, including the active plan and billing period
//	@Tags			credits
//	@Produce		json
//	@Success		200	{object}	APIResponse[appcredits.CreditsSummary]
//	@Failure		401	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/credits [get]
func (h *CreditsHandler) GetSummary(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	summary, err := h.ledger.GetCreditsSummary(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}

// Check godoc
//
//	@ID				checkCredits
//	@Summary		Check credit availability
//	@Description	Check whether the authenticated user can spend one credit of the given type. Frontends call this before opening the camera flow.
//	@Tags			credits
//	@Produce		json
//	@Param			type	query		string	true	"Credit type"	Enums(invoices, tickets, analyses)
//	@Success		200		{object}	APIResponse[dto.CreditCheckResponse]
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/credits/check [get]
func (h *CreditsHandler) Check(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req dto.CreditCheckRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Missing or invalid type parameter")
		return
	}

	creditType, err := credits.ParseCreditType(req.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	available := h.ledger.HasCredits(c.Request.Context(), userID, creditType)
	h.Success(c, dto.CreditCheckResponse{
		CreditType: creditType.String(),
		Available:  available,
	})
}

// ListTransactions godoc
//
//	@ID				listCreditTransactions
//	@Summary		List ledger history
//	@Description	Get the authenticated user's credit ledger entries, newest first. Supports filtering by credit type and reason.
//	@Tags			credits
//	@Produce		json
//	@Param			page		query		int		false	"Page number"		default(1)
//	@Param			page_size	query		int		false	"Page size"			default(20)
//	@Param			credit_type	query		string	false	"Credit type"		Enums(invoices, tickets, analyses)
//	@Param			reason		query		string	false	"Transaction reason"
//	@Success		200			{object}	APIResponse[[]dto.TransactionResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/credits/transactions [get]
func (h *CreditsHandler) ListTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	req := dto.TransactionListRequest{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	filter := shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Filters:  make(map[string]interface{}),
	}
	if req.CreditType != "" {
		filter.Filters["credit_type"] = req.CreditType
	}
	if req.Reason != "" {
		filter.Filters["reason"] = req.Reason
	}

	page, err := h.ledger.Transactions(c.Request.Context(), userID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, dto.NewTransactionResponse(&page.Items[i]))
	}

	h.SuccessWithMeta(c, items, page.Total, page.Page, page.PageSize)
}
