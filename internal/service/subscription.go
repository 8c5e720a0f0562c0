package service

import (
	"context"

	"github.com/payaddons/stripe-gateway/internal/domain"
)

// SubscriptionSupport handles subscription-billing invoice events.
// The base product does not include subscriptions; the null
// implementation below is selected at composition time unless a real
// one is wired in.
type SubscriptionSupport interface {
	// Enabled reports whether subscription handling is available.
	Enabled() bool

	// HandleInvoicePaid reconciles a paid subscription invoice.
	HandleInvoicePaid(ctx context.Context, invoiceID, subscriptionID string) error

	// HandleInvoicePaymentFailed reconciles a failed renewal charge.
	HandleInvoicePaymentFailed(ctx context.Context, invoiceID, subscriptionID string) error
}

// NoSubscriptionSupport is the null implementation used when the
// premium subscription module is not installed. Invoice events are
// acknowledged without action; direct API use reports unsupported.
type NoSubscriptionSupport struct{}

func (NoSubscriptionSupport) Enabled() bool { return false }

func (NoSubscriptionSupport) HandleInvoicePaid(context.Context, string, string) error {
	return nil
}

func (NoSubscriptionSupport) HandleInvoicePaymentFailed(context.Context, string, string) error {
	return nil
}

// RequireSubscriptions returns the error surfaced when a caller asks
// for subscription behavior that the installed support cannot provide.
func RequireSubscriptions(s SubscriptionSupport) error {
	if s == nil || !s.Enabled() {
		return domain.ErrSubscriptionsPremium
	}
	return nil
}
