package middleware

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// SetupValidator configures Gin's validator to report field names from the
// json/form tags, so error details match what API callers actually sent
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})
}

// FormatValidationErrors turns binding failures into the standard error
// envelope with one detail per failed field
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}

	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes the 400 envelope for a binding failure
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, getRequestIDFromContext(c)))
}

func getRequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// validationMessages holds the fixed per-tag messages. Tags whose message
// depends on the field type or parameter are handled in getValidationMessage.
var validationMessages = map[string]string{
	"required": "This field is required",
	"email":    "Invalid email format",
	"uuid":     "Invalid UUID format",
	"url":      "Invalid URL format",
	"numeric":  "Must be numeric",
	"alphanum": "Must be alphanumeric",
	"alpha":    "Must contain only letters",
}

// getValidationMessage returns a human-readable message for one failed rule
func getValidationMessage(e validator.FieldError) string {
	if msg, ok := validationMessages[e.Tag()]; ok {
		return msg
	}

	switch e.Tag() {
	case "min":
		return boundMessage("Must be at least ", e)
	case "max":
		return boundMessage("Must be at most ", e)
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "lt":
		return "Must be less than " + e.Param()
	}
	return "Invalid value"
}

// boundMessage appends "characters" for string fields, where min/max mean
// length rather than magnitude.
func boundMessage(prefix string, e validator.FieldError) string {
	if e.Type().Kind() == reflect.String {
		return prefix + e.Param() + " characters"
	}
	return prefix + e.Param()
}
