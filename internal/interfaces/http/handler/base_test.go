package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/facturio/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestCtx builds a gin test context with a request attached, which the
// error helpers need for request-ID extraction.
func newTestCtx(t *testing.T) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	return w, c
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// assertErrorEnvelope checks status code plus the error code inside the
// standard envelope and returns the decoded response for further checks.
func assertErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) dto.Response {
	t.Helper()
	assert.Equal(t, wantStatus, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wantCode, resp.Error.Code)
	return resp
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name:       "from context string",
			setup:      func(c *gin.Context) { c.Set(RequestIDKey, "ctx-request-id") },
			expectedID: "ctx-request-id",
		},
		{
			name:       "from header when context empty",
			setup:      func(c *gin.Context) { c.Request.Header.Set(RequestIDKey, "header-request-id") },
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
		{
			name: "context takes precedence over header",
			setup: func(c *gin.Context) {
				c.Set(RequestIDKey, "ctx-id")
				c.Request.Header.Set(RequestIDKey, "header-id")
			},
			expectedID: "ctx-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestCtx(t)
			tt.setup(c)

			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestGetUserID(t *testing.T) {
	t.Run("returns user ID set by auth middleware", func(t *testing.T) {
		_, c := newTestCtx(t)
		c.Set(middleware.AuthUserIDKey, "user-42")

		userID, err := getUserID(c)
		require.NoError(t, err)
		assert.Equal(t, "user-42", userID)
	})

	t.Run("errors when unauthenticated", func(t *testing.T) {
		_, c := newTestCtx(t)

		_, err := getUserID(c)
		assert.Error(t, err)
	})
}

func TestBaseHandlerSuccessResponses(t *testing.T) {
	h := &BaseHandler{}

	t.Run("Success", func(t *testing.T) {
		w, c := newTestCtx(t)
		h.Success(c, map[string]string{"key": "value"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decodeResponse(t, w).Success)
	})

	t.Run("SuccessWithMeta", func(t *testing.T) {
		w, c := newTestCtx(t)
		h.SuccessWithMeta(c, []string{"item1", "item2"}, 100, 1, 10)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(100), resp.Meta.Total)
	})

	t.Run("Created", func(t *testing.T) {
		w, c := newTestCtx(t)
		h.Created(c, map[string]string{"id": "123"})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.True(t, decodeResponse(t, w).Success)
	})

	t.Run("NoContent", func(t *testing.T) {
		router := gin.New()
		router.DELETE("/test", func(c *gin.Context) {
			h.NoContent(c)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("DELETE", "/test", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.Bytes())
	})
}

func TestBaseHandlerErrorMethods(t *testing.T) {
	tests := []struct {
		name     string
		method   func(*BaseHandler, *gin.Context)
		wantCode int
		wantErr  string
	}{
		{"BadRequest", func(h *BaseHandler, c *gin.Context) { h.BadRequest(c, "Invalid request") },
			http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"NotFound", func(h *BaseHandler, c *gin.Context) { h.NotFound(c, "Resource not found") },
			http.StatusNotFound, dto.ErrCodeNotFound},
		{"Unauthorized", func(h *BaseHandler, c *gin.Context) { h.Unauthorized(c, "Not authenticated") },
			http.StatusUnauthorized, dto.ErrCodeUnauthorized},
		{"Forbidden", func(h *BaseHandler, c *gin.Context) { h.Forbidden(c, "Access denied") },
			http.StatusForbidden, dto.ErrCodeForbidden},
		{"Conflict", func(h *BaseHandler, c *gin.Context) { h.Conflict(c, "Resource conflict") },
			http.StatusConflict, dto.ErrCodeConflict},
		{"InternalError", func(h *BaseHandler, c *gin.Context) { h.InternalError(c, "Server error") },
			http.StatusInternalServerError, dto.ErrCodeInternal},
		{"TooManyRequests", func(h *BaseHandler, c *gin.Context) { h.TooManyRequests(c, "Rate limit exceeded") },
			http.StatusTooManyRequests, dto.ErrCodeRateLimited},
		{"PaymentRequired", func(h *BaseHandler, c *gin.Context) { h.PaymentRequired(c, "No credits remaining") },
			http.StatusPaymentRequired, dto.ErrCodeNoCredits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			w, c := newTestCtx(t)

			tt.method(h, c)

			assertErrorEnvelope(t, w, tt.wantCode, tt.wantErr)
		})
	}
}

func TestBaseHandlerErrorWithRequestID(t *testing.T) {
	h := &BaseHandler{}
	w, c := newTestCtx(t)
	c.Set(RequestIDKey, "test-request-123")

	h.BadRequest(c, "Invalid request")

	assert.Equal(t, "test-request-123", decodeResponse(t, w).Error.RequestID)
}

func TestBaseHandlerErrorWithCode(t *testing.T) {
	h := &BaseHandler{}
	w, c := newTestCtx(t)

	h.ErrorWithCode(c, dto.ErrCodeQuotaExhausted, "Monthly credit pool spent")

	assertErrorEnvelope(t, w, http.StatusTooManyRequests, dto.ErrCodeQuotaExhausted)
}

func TestBaseHandlerValidationError(t *testing.T) {
	h := &BaseHandler{}
	w, c := newTestCtx(t)
	c.Set(RequestIDKey, "val-req-456")

	h.ValidationError(c, []dto.ValidationDetail{
		{Field: "type", Message: "Invalid credit type"},
		{Field: "file", Message: "Required"},
	})

	resp := assertErrorEnvelope(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
	assert.Equal(t, "val-req-456", resp.Error.RequestID)
	assert.Len(t, resp.Error.Details, 2)
}

func TestBaseHandlerHandleDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"NOT_FOUND error", shared.ErrNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"ALREADY_EXISTS error", shared.ErrAlreadyExists, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"INVALID_INPUT error", shared.ErrInvalidInput, http.StatusBadRequest, dto.ErrCodeInvalidInput},
		{"UNAUTHORIZED error", shared.ErrUnauthorized, http.StatusUnauthorized, dto.ErrCodeUnauthorized},
		{"FORBIDDEN error", shared.ErrForbidden, http.StatusForbidden, dto.ErrCodeForbidden},
		{"INVALID_STATE error", shared.ErrInvalidState, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"CONCURRENCY_CONFLICT error", shared.ErrConcurrencyConflict, http.StatusConflict, dto.ErrCodeConcurrencyConflict},
		{"QUOTA_EXHAUSTED error", credits.ErrQuotaExhausted, http.StatusTooManyRequests, dto.ErrCodeQuotaExhausted},
		{"BALANCE_NOT_FOUND error", credits.ErrBalanceNotFound, http.StatusNotFound, dto.ErrCodeBalanceNotFound},
		{"REFILL_ALREADY_APPLIED error", credits.ErrRefillAlreadyApplied, http.StatusConflict, dto.ErrCodeRefillReplayed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			w, c := newTestCtx(t)

			h.HandleDomainError(c, tt.err)

			assertErrorEnvelope(t, w, tt.wantCode, tt.wantErr)
		})
	}

	t.Run("carries the request ID", func(t *testing.T) {
		h := &BaseHandler{}
		w, c := newTestCtx(t)
		c.Set(RequestIDKey, "domain-err-req")

		h.HandleDomainError(c, shared.ErrNotFound)

		assert.Equal(t, "domain-err-req", decodeResponse(t, w).Error.RequestID)
	})

	t.Run("masks non-domain errors", func(t *testing.T) {
		h := &BaseHandler{}
		w, c := newTestCtx(t)

		h.HandleDomainError(c, assert.AnError)

		resp := assertErrorEnvelope(t, w, http.StatusInternalServerError, dto.ErrCodeInternal)
		assert.Equal(t, "An unexpected error occurred", resp.Error.Message)
	})
}

func TestBaseHandlerHandleError(t *testing.T) {
	h := &BaseHandler{}

	t.Run("handles nil error", func(t *testing.T) {
		w, c := newTestCtx(t)

		h.HandleError(c, nil)

		// Nothing written, recorder keeps its default status.
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("handles domain error", func(t *testing.T) {
		w, c := newTestCtx(t)

		h.HandleError(c, shared.ErrNotFound)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("handles standard error", func(t *testing.T) {
		w, c := newTestCtx(t)

		h.HandleError(c, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unwraps wrapped domain errors", func(t *testing.T) {
		w, c := newTestCtx(t)

		h.HandleError(c, fmt.Errorf("debit failed: %w", credits.ErrQuotaExhausted))

		assertErrorEnvelope(t, w, http.StatusTooManyRequests, dto.ErrCodeQuotaExhausted)
	})
}

func TestBaseHandlerUnprocessableEntity(t *testing.T) {
	h := &BaseHandler{}
	w, c := newTestCtx(t)

	h.UnprocessableEntity(c, dto.ErrCodeBusinessRule, "Business rule violated")

	assertErrorEnvelope(t, w, http.StatusUnprocessableEntity, dto.ErrCodeBusinessRule)
}
