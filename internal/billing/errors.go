package billing

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrPaymentIntentNotFound is returned when a payment intent does not exist.
	ErrPaymentIntentNotFound = errors.New("billing: payment intent not found")

	// ErrSessionNotFound is returned when a checkout session does not exist.
	ErrSessionNotFound = errors.New("billing: checkout session not found")

	// ErrChargeNotFound is returned when a charge does not exist.
	ErrChargeNotFound = errors.New("billing: charge not found")
)

// GatewayError wraps a processor API error with the fields the payment
// flow branches on.
type GatewayError struct {
	Type        string // e.g. "card_error", "invalid_request_error", "api_error"
	Code        string // e.g. "card_declined", "resource_missing"
	DeclineCode string // network decline reason, if any
	Param       string
	Message     string
	RequestID   string
	Err         error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsDeclined returns true if the error is a card decline.
func (e *GatewayError) IsDeclined() bool {
	return e.Code == "card_declined" || e.DeclineCode != ""
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *GatewayError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error"
}

var noSuchCustomerRe = regexp.MustCompile(`(?i)no such customer`)

// IsNoSuchCustomer reports whether err is the processor telling us the
// stored customer id no longer exists (deleted in the dashboard, or a
// test-mode id used against live keys). Callers clear the stored
// mapping and retry once with a fresh customer.
func IsNoSuchCustomer(err error) bool {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Type == "invalid_request_error" && noSuchCustomerRe.MatchString(ge.Message)
}
