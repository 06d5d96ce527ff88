package handler

import (
	"errors"
	"net/http"

	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/facturio/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// BaseHandler provides the response helpers every handler embeds.
type BaseHandler struct{}

// getRequestID extracts the request ID from the context, falling back to
// the inbound header when middleware did not run.
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// getUserID extracts the authenticated user ID from the request context.
// User IDs are opaque strings assigned by the main application, not UUIDs.
func getUserID(c *gin.Context) (string, error) {
	userID := middleware.GetAuthUserID(c)
	if userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// Success sends a 200 with the standard envelope.
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a 200 with pagination meta.
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 with the standard envelope.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204.
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error envelope under an explicit status code.
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error envelope, deriving the status from the code.
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

func (h *BaseHandler) Forbidden(c *gin.Context, message string) {
	h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, message)
}

func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, http.StatusUnprocessableEntity, code, message)
}

func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

func (h *BaseHandler) TooManyRequests(c *gin.Context, message string) {
	h.Error(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, message)
}

// PaymentRequired sends a 402, the status an exhausted balance maps to.
func (h *BaseHandler) PaymentRequired(c *gin.Context, message string) {
	h.Error(c, http.StatusPaymentRequired, dto.ErrCodeNoCredits, message)
}

// ValidationError sends a 400 carrying per-field details.
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// writeDomainError maps a *shared.DomainError to its HTTP form. Returns
// false when err is some other type.
func (h *BaseHandler) writeDomainError(c *gin.Context, err error) bool {
	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		return false
	}

	code := dto.NormalizeErrorCode(domainErr.Code)
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, getRequestID(c)))
	return true
}

// HandleDomainError converts a domain error to its HTTP response. Anything
// that is not a domain error is masked as a generic internal error.
func (h *BaseHandler) HandleDomainError(c *gin.Context, err error) {
	if h.writeDomainError(c, err) {
		return
	}
	h.InternalError(c, "An unexpected error occurred")
}

// HandleError accepts any error, including wrapped domain errors, and nil.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	if h.writeDomainError(c, err) {
		return
	}
	h.InternalError(c, "An unexpected error occurred")
}
