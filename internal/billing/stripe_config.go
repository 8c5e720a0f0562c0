package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for the Stripe provider.
// It is passed explicitly to every consumer; there is no package-level
// key cache.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...).
	// When empty, webhook payloads are processed unverified. Only
	// acceptable in local development.
	WebhookSecret string

	// TimeoutSeconds is the HTTP timeout for Stripe API calls.
	// Stripe holds requests for synchronous bank redirects, so this
	// needs to be generous. Default: 70.
	TimeoutSeconds int
}

// DefaultTimeoutSeconds matches how long Stripe may hold a request
// open before responding.
const DefaultTimeoutSeconds = 70

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_") || strings.HasPrefix(c.APIKey, "rk_test_")
}
