package shared

// DomainError is an error with a stable machine-readable code. HTTP handlers
// map the code to a status; the message is safe to return to API callers.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewDomainError builds a DomainError from a code and a caller-facing message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string { return e.Message }

// Is matches by code, so errors.Is works across separately constructed
// instances of the same domain error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// Errors shared across bounded contexts. Credit-specific errors such as
// quota exhaustion live next to the aggregates that raise them.
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)
