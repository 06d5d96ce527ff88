// Package credits provides domain models for the credit ledger that meters
// AI document extractions per subscription plan.
//
// This package implements the credit accounting bounded context, which is
// responsible for:
//   - Tracking per-user credit balances for each credit type
//   - Recording every balance mutation in an append-only transaction ledger
//   - Defining subscription plans and their monthly credit allotments
//   - Computing the monthly refill roll-over with its accumulation cap
//
// Key Aggregates:
//   - CreditBalance: Per-user counters (limit/used/extra) for each credit type
//   - Plan: Catalog entry mapping a plan slug to monthly limits
//
// Value Objects:
//   - CreditTransaction: Immutable record of a single balance mutation
//   - CreditType: Enumeration of independently metered credit pools
//
// The credits domain integrates with:
//   - Billing (Stripe webhooks): subscription activation, cycle refills,
//     one-off credit package purchases
//   - Document extraction: the metered operation that consumes credits
package credits
