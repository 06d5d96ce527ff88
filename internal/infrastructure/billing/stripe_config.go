// Package billing holds the Stripe-facing infrastructure configuration.
package billing

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
)

// StripeConfig carries the Stripe credentials and mode. Plan to price-ID
// mapping lives in the credit_plans table, not here.
type StripeConfig struct {
	// SecretKey is the API key, sk_test_* or sk_live_*.
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`

	// PublishableKey is handed to the frontend, pk_test_* or pk_live_*.
	PublishableKey string `json:"publishable_key" mapstructure:"publishable_key"`

	// WebhookSecret verifies webhook signatures.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`

	// IsTestMode must agree with the key prefixes.
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`

	// DefaultCurrency for subscriptions and credit packages, e.g. "eur".
	DefaultCurrency string `json:"default_currency" mapstructure:"default_currency"`
}

// Validate checks the configuration, including that the secret key matches
// the configured mode. A live key behind is_test_mode=true would silently
// bill real cards.
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	wantPrefix, mode := "sk_live", "live"
	if c.IsTestMode {
		wantPrefix, mode = "sk_test", "test"
	}
	if len(c.SecretKey) > len(wantPrefix) && !strings.HasPrefix(c.SecretKey, wantPrefix) {
		return fmt.Errorf("stripe: %s mode enabled but secret key is not a %s key", mode, mode)
	}

	if c.DefaultCurrency == "" {
		return fmt.Errorf("stripe: default currency is required")
	}
	return nil
}

// InitStripeClient points the stripe-go package at the configured key.
func (c *StripeConfig) InitStripeClient() {
	stripe.Key = c.SecretKey
}
