package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlanCatalog struct {
	plans []*credits.Plan
	err   error
}

func (m *mockPlanCatalog) FindAllActive(ctx context.Context) ([]*credits.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.plans, nil
}

func listPlans(t *testing.T, catalog PlanCatalog) *httptest.ResponseRecorder {
	t.Helper()
	h := NewPlansHandler(catalog)
	router := gin.New()
	router.GET("/plans", h.ListPlans)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/plans", nil))
	return w
}

func TestPlansHandler_ListPlans(t *testing.T) {
	starter, err := credits.NewPlan("starter", "Starter", map[credits.CreditType]int64{
		credits.CreditTypeInvoices: 50,
		credits.CreditTypeTickets:  100,
	}, decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	starter.WithPrice(decimal.NewFromInt(19), "eur")

	w := listPlans(t, &mockPlanCatalog{plans: []*credits.Plan{starter}})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool               `json:"success"`
		Data    []dto.PlanResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "starter", resp.Data[0].Slug)
	assert.Equal(t, int64(50), resp.Data[0].Limits["invoices"])
	assert.Equal(t, "19", resp.Data[0].MonthlyPrice)
	assert.Equal(t, "eur", resp.Data[0].Currency)
	assert.True(t, resp.Data[0].IsActive)
}

func TestPlansHandler_ListPlans_Empty(t *testing.T) {
	w := listPlans(t, &mockPlanCatalog{})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestPlansHandler_ListPlans_Error(t *testing.T) {
	w := listPlans(t, &mockPlanCatalog{err: shared.NewDomainError("INTERNAL_ERROR", "catalog unavailable")})

	assertErrorEnvelope(t, w, http.StatusInternalServerError, dto.ErrCodeInternal)
}
