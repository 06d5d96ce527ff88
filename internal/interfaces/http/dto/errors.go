package dto

import "net/http"

// API error codes use the ERR_<CATEGORY>_<DESCRIPTION> format. They are part
// of the public contract; the main application switches on them.

// General codes.
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation codes. ErrCodeValidation is the umbrella code carried by the
// envelope; the more specific ones appear in per-field details.
const (
	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationFormat   = "ERR_VALIDATION_FORMAT"
	ErrCodeValidationRange    = "ERR_VALIDATION_RANGE"
)

// Authentication and authorization codes.
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource codes.
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Credit ledger codes.
const (
	// ErrCodeQuotaExhausted: the monthly pool for the requested credit type is spent.
	ErrCodeQuotaExhausted = "ERR_QUOTA_EXHAUSTED"
	// ErrCodeNoCredits: the operation is gated on credits the user does not have.
	ErrCodeNoCredits = "ERR_NO_CREDITS"
	// ErrCodeBalanceNotFound: the user has no balance row yet.
	ErrCodeBalanceNotFound = "ERR_BALANCE_NOT_FOUND"
	// ErrCodeRefillReplayed: a refill was applied twice for the same cycle.
	ErrCodeRefillReplayed = "ERR_REFILL_REPLAYED"
	ErrCodeInvalidState   = "ERR_INVALID_STATE"
	ErrCodeBusinessRule   = "ERR_BUSINESS_RULE"
)

// Input codes.
const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

// Rate limiting codes. ErrCodeTooManyRequests is a legacy alias kept for
// clients that predate ErrCodeRateLimited.
const (
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
	ErrCodeTooManyRequests = "ERR_TOO_MANY_REQUESTS"
)

// ErrorCodeHTTPStatus maps API error codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,
	ErrCodeValidationRange:    http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// Quota exhaustion is 429, not 402: the user has a paid-up plan whose
	// pool ran out, which is closer to throttling than to payment due.
	ErrCodeQuotaExhausted:  http.StatusTooManyRequests,
	ErrCodeNoCredits:       http.StatusPaymentRequired,
	ErrCodeBalanceNotFound: http.StatusNotFound,
	ErrCodeRefillReplayed:  http.StatusConflict,
	ErrCodeInvalidState:    http.StatusUnprocessableEntity,
	ErrCodeBusinessRule:    http.StatusUnprocessableEntity,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeTooManyRequests: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status for an API error code, defaulting
// to 500 for unknown codes.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping translates domain error codes into API codes.
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":              ErrCodeNotFound,
	"ALREADY_EXISTS":         ErrCodeAlreadyExists,
	"INVALID_INPUT":          ErrCodeInvalidInput,
	"INVALID_STATE":          ErrCodeInvalidState,
	"UNAUTHORIZED":           ErrCodeUnauthorized,
	"FORBIDDEN":              ErrCodeForbidden,
	"CONCURRENCY_CONFLICT":   ErrCodeConcurrencyConflict,
	"QUOTA_EXHAUSTED":        ErrCodeQuotaExhausted,
	"NO_CREDITS":             ErrCodeNoCredits,
	"BALANCE_NOT_FOUND":      ErrCodeBalanceNotFound,
	"REFILL_ALREADY_APPLIED": ErrCodeRefillReplayed,
	"INVALID_CREDIT_TYPE":    ErrCodeInvalidInput,
	"INVALID_DOC_TYPE":       ErrCodeInvalidInput,
	"EMPTY_DOCUMENT":         ErrCodeInvalidInput,
	"INVALID_AMOUNT":         ErrCodeInvalidInput,
	"INVALID_REASON":         ErrCodeInvalidInput,
	"UNKNOWN_PLAN":           ErrCodeNotFound,
	"INVALID_PLAN":           ErrCodeInvalidInput,
	"VALIDATION_ERROR":       ErrCodeValidation,
	"BAD_REQUEST":            ErrCodeBadRequest,
	"INTERNAL_ERROR":         ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format. Codes
// already in the API format, or unknown ones, pass through unchanged.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
