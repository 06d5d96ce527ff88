package persistence

import (
	"strings"
)

// Sort parameters come straight from query strings and are interpolated into
// ORDER BY clauses, so both field and direction go through a whitelist.

// ValidateSortOrder normalizes the direction to ASC or DESC, defaulting to
// DESC for anything unrecognized.
func ValidateSortOrder(orderDir string) string {
	if strings.EqualFold(strings.TrimSpace(orderDir), "ASC") {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns the field when it is whitelisted, otherwise the
// default.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// TransactionSortFields contains allowed sort fields for ledger entries.
// No updated_at: ledger rows are append-only.
var TransactionSortFields = map[string]bool{
	"id":          true,
	"created_at":  true,
	"credit_type": true,
	"delta":       true,
	"reason":      true,
}

// PlanSortFields contains allowed sort fields for catalog plans
var PlanSortFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"updated_at":    true,
	"slug":          true,
	"name":          true,
	"monthly_price": true,
}
