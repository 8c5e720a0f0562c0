package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// WebhookEvent is a decoded processor notification. At most one of the
// object fields is set, chosen by the event type prefix.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time

	Charge  *Charge
	Refund  *Refund
	Intent  *PaymentIntent
	Session *CheckoutSession

	InvoiceID      string
	SubscriptionID string
}

// DecodeWebhookEvent decodes a verified webhook payload into provider-neutral
// types. Event types this module does not branch on decode to an event with
// no object set; the dispatcher drops them.
func DecodeWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}

	out := &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0),
	}
	if event.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "charge.refund."):
		var r stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("decode refund payload: %w", err)
		}
		out.Refund = toRefund(&r)

	case strings.HasPrefix(out.Type, "charge."):
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge payload: %w", err)
		}
		out.Charge = toCharge(&ch)

	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent payload: %w", err)
		}
		out.Intent = toPaymentIntent(&pi)

	case strings.HasPrefix(out.Type, "checkout.session."):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session payload: %w", err)
		}
		out.Session = toSession(&sess)

	case strings.HasPrefix(out.Type, "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice payload: %w", err)
		}
		out.InvoiceID = inv.ID
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
			out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
		}
	}

	return out, nil
}
