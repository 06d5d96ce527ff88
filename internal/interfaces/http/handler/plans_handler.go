package handler

import (
	"context"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// PlanCatalog is the read-only slice of the plan repository the HTTP layer
// consumes
type PlanCatalog interface {
	FindAllActive(ctx context.Context) ([]*credits.Plan, error)
}

// PlansHandler serves the public subscription plan catalog
type PlansHandler struct {
	BaseHandler
	catalog PlanCatalog
}

// NewPlansHandler creates a new plans handler
func NewPlansHandler(catalog PlanCatalog) *PlansHandler {
	return &PlansHandler{catalog: catalog}
}

// ListPlans godoc
//
//	@ID				listPlans
//	@Summary		List active subscription plans
//	@Description	Get the active plan catalog with per-type monthly credit limits and pricing. Public, used by the pricing page.
//	@Tags			plans
//	@Produce		json
//	@Success		200	{object}	APIResponse[[]dto.PlanResponse]
//	@Failure		500	{object}	ErrorResponse
//	@Router			/plans [get]
func (h *PlansHandler) ListPlans(c *gin.Context) {
	plans, err := h.catalog.FindAllActive(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]dto.PlanResponse, 0, len(plans))
	for _, plan := range plans {
		items = append(items, dto.NewPlanResponse(plan))
	}

	h.Success(c, items)
}
