package credits

import (
	"fmt"

	"github.com/facturio/backend/internal/domain/shared"
)

// CreditType represents an independently metered credit pool
type CreditType string

const (
	// CreditTypeInvoices meters supplier invoice extractions
	CreditTypeInvoices CreditType = "invoices"

	// CreditTypeTickets meters sales ticket (receipt) extractions
	CreditTypeTickets CreditType = "tickets"

	// CreditTypeAnalyses meters financial analysis generations
	CreditTypeAnalyses CreditType = "analyses"
)

// AllCreditTypes returns every credit type in a stable order
func AllCreditTypes() []CreditType {
	return []CreditType{CreditTypeInvoices, CreditTypeTickets, CreditTypeAnalyses}
}

// String returns the string representation of CreditType
func (t CreditType) String() string {
	return string(t)
}

// IsValid returns true if the credit type is valid
func (t CreditType) IsValid() bool {
	switch t {
	case CreditTypeInvoices, CreditTypeTickets, CreditTypeAnalyses:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the credit type
func (t CreditType) DisplayName() string {
	switch t {
	case CreditTypeInvoices:
		return "Invoice Extractions"
	case CreditTypeTickets:
		return "Ticket Extractions"
	case CreditTypeAnalyses:
		return "Financial Analyses"
	default:
		return string(t)
	}
}

// ParseCreditType parses a string into a CreditType
func ParseCreditType(s string) (CreditType, error) {
	t := CreditType(s)
	if !t.IsValid() {
		return "", shared.NewDomainError("INVALID_CREDIT_TYPE", fmt.Sprintf("invalid credit type: %q", s))
	}
	return t, nil
}
