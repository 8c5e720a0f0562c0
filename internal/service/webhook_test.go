package service

import (
	"context"
	"testing"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/order"
)

type webhookFixture struct {
	*paymentFixture
	webhooks WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	pf := newPaymentFixture(t)
	return &webhookFixture{
		paymentFixture: pf,
		webhooks:       NewWebhookService(pf.provider, pf.store, pf.payments, NoSubscriptionSupport{}, testLogger()),
	}
}

func TestUnhandledEventIsIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{ID: "evt_1", Type: "product.created"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
}

func TestChargeEventForUnknownOrderIsDropped(t *testing.T) {
	f := newWebhookFixture(t)
	event := WebhookEvent{
		ID:     "evt_1",
		Type:   "charge.failed",
		Charge: &billing.Charge{ID: "ch_unknown", PaymentIntentID: "pi_unknown"},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown order must be dropped, got %v", err)
	}
}

func TestChargeSucceededSkipsCardCharges(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	f.store.Put(o)

	charge := succeededCharge() // card
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.succeeded", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusOnHold {
		t.Errorf("Status = %q, card charges settle via intent events", o.Status)
	}
}

func TestChargeSucceededCompletesAsyncMethod(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	f.store.Put(o)

	charge := succeededCharge()
	charge.PaymentMethodType = "sepa_debit"
	charge.BalanceTransactionID = ""

	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.succeeded", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("Status = %q, want processing", o.Status)
	}
}

func TestChargeSucceededRequiresOnHold(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder() // pending, not on hold
	o.TransactionID = "ch_1"
	f.store.Put(o)

	charge := succeededCharge()
	charge.PaymentMethodType = "sepa_debit"

	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.succeeded", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusPending {
		t.Errorf("Status = %q, premature settle webhook must not act", o.Status)
	}
}

func TestChargeFailedTransitionsOnce(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	f.store.Put(o)

	event := WebhookEvent{Type: "charge.failed", Charge: &billing.Charge{ID: "ch_1"}}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusFailed {
		t.Errorf("Status = %q, want failed", o.Status)
	}
	if n := countNotes(o, MsgPaymentFailedToClear); n != 1 {
		t.Errorf("failure notes = %d, want 1", n)
	}

	// Duplicate delivery is routine, not an error, and appends nothing.
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate delivery error = %v", err)
	}
	if n := countNotes(o, MsgPaymentFailedToClear); n != 1 {
		t.Errorf("failure notes = %d after duplicate, want 1", n)
	}
}

func TestChargeFailedRespectsFinalStatus(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	o.SetMeta(order.MetaStatusFinal, "yes")
	f.store.Put(o)

	event := WebhookEvent{Type: "charge.failed", Charge: &billing.Charge{ID: "ch_1"}}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusOnHold {
		t.Errorf("Status = %q, pinned status must not be overwritten", o.Status)
	}
	if n := countNotes(o, MsgPaymentFailedToClear); n != 1 {
		t.Errorf("expected the failure recorded as a note, got %d", n)
	}
}

func TestChargeCapturedCompletes(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	o.SetMeta(order.MetaChargeCaptured, "no")
	f.store.Put(o)

	charge := succeededCharge()
	charge.Captured = true
	charge.BalanceTransactionID = ""

	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.captured", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("Status = %q, want processing", o.Status)
	}
	if o.GetMeta(order.MetaChargeCaptured) != "yes" {
		t.Error("expected capture flag flipped to yes")
	}
}

func TestChargeCapturedDuplicateIsNoop(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusProcessing
	o.TransactionID = "ch_1"
	o.SetMeta(order.MetaChargeCaptured, "yes")
	f.store.Put(o)

	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.captured", Charge: succeededCharge()}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(o.Notes) != 0 {
		t.Errorf("notes = %d, duplicate capture must append nothing", len(o.Notes))
	}
}

func TestChargeCapturedPartial(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	o.SetMeta(order.MetaChargeCaptured, "no")
	f.store.Put(o)

	charge := &billing.Charge{
		ID:             "ch_1",
		Status:         billing.ChargeStatusSucceeded,
		Amount:         10000,
		AmountRefunded: 3000,
		Currency:       "usd",
		Captured:       true,
	}
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.captured", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Total != 70.00 {
		t.Errorf("Total = %v, want 70.00 (amount minus refunded)", o.Total)
	}
	if o.Status != order.StatusOnHold {
		t.Errorf("Status = %q, partial capture must not run full completion", o.Status)
	}
	if countNotes(o, "partially captured") != 1 {
		t.Error("expected partial capture note")
	}
}

func TestChargeRefundedRecordsOnce(t *testing.T) {
	f := newWebhookFixture(t)

	f.provider.BalanceTransactions["txn_re_1"] = &billing.BalanceTransaction{ID: "txn_re_1", Fee: 0, Net: -1000, Currency: "usd"}

	o := testOrder()
	o.Status = order.StatusProcessing
	o.TransactionID = "ch_1"
	o.AddFees(0.59, 23.95, "usd")
	f.store.Put(o)

	charge := &billing.Charge{
		ID:             "ch_1",
		Status:         billing.ChargeStatusSucceeded,
		Amount:         2500,
		AmountRefunded: 1000,
		Currency:       "usd",
		Captured:       true,
		Refunds: []billing.Refund{
			{ID: "re_1", ChargeID: "ch_1", Amount: 1000, Currency: "usd", Status: "succeeded", BalanceTransactionID: "txn_re_1"},
		},
	}
	event := WebhookEvent{Type: "charge.refunded", Charge: charge}

	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.GetMeta(order.MetaRefundID) != "re_1" {
		t.Errorf("refund id meta = %q, want re_1", o.GetMeta(order.MetaRefundID))
	}
	if len(o.Refunds) != 1 {
		t.Fatalf("refunds = %d, want 1", len(o.Refunds))
	}
	if o.Fee() != 0.59 || o.Net() != 13.95 {
		t.Errorf("fee/net = %v/%v after refund, want 0.59/13.95", o.Fee(), o.Net())
	}
	notesBefore := len(o.Notes)

	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate delivery error = %v", err)
	}
	if len(o.Refunds) != 1 || len(o.Notes) != notesBefore {
		t.Error("duplicate refund notification must change nothing")
	}
	if o.Net() != 13.95 {
		t.Errorf("net = %v after duplicate, want 13.95 (no double settlement)", o.Net())
	}
}

func TestChargeRefundedFullSetsRefundedStatus(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusProcessing
	o.TransactionID = "ch_1"
	f.store.Put(o)

	charge := &billing.Charge{
		ID:             "ch_1",
		Status:         billing.ChargeStatusSucceeded,
		Amount:         2500,
		AmountRefunded: 2500,
		Currency:       "usd",
		Captured:       true,
		Refunds: []billing.Refund{
			{ID: "re_1", ChargeID: "ch_1", Amount: 2500, Currency: "usd", Status: "succeeded"},
		},
	}
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.refunded", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusRefunded {
		t.Errorf("Status = %q, want refunded", o.Status)
	}
}

func TestChargeRefundedUncapturedVoids(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusOnHold
	o.TransactionID = "ch_1"
	o.SetMeta(order.MetaChargeCaptured, "no")
	f.store.Put(o)

	charge := &billing.Charge{ID: "ch_1", Amount: 2500, AmountRefunded: 2500, Currency: "usd"}
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.refunded", Charge: charge}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusCancelled {
		t.Errorf("Status = %q, want cancelled for uncaptured void", o.Status)
	}
}

func TestRefundUpdatedIgnoresMismatchedID(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusProcessing
	o.TransactionID = "ch_1"
	o.AddRefund("re_1", 10.00, "requested_by_customer")
	f.store.Put(o)

	refund := &billing.Refund{ID: "re_2", ChargeID: "ch_1", Status: "failed"}
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.refund.updated", Refund: refund}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(o.Refunds) != 1 {
		t.Error("update for a different refund must not touch the order")
	}
}

func TestRefundUpdatedFailedRemovesRefund(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusProcessing
	o.TransactionID = "ch_1"
	o.AddRefund("re_1", 10.00, "requested_by_customer")
	f.store.Put(o)

	refund := &billing.Refund{ID: "re_1", ChargeID: "ch_1", Status: "failed"}
	if err := f.webhooks.HandleEvent(context.Background(), WebhookEvent{Type: "charge.refund.updated", Refund: refund}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(o.Refunds) != 0 {
		t.Errorf("refunds = %d, want 0 after failed refund removed", len(o.Refunds))
	}
	if o.GetMeta(order.MetaRefundID) != "" {
		t.Error("expected refund id meta cleared")
	}
	if countNotes(o, "removed from the order") != 1 {
		t.Error("expected removal note")
	}
}

func TestSessionCompletedFinalizes(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	f.store.Put(o)

	f.provider.Sessions["cs_1"] = &billing.CheckoutSession{
		ID:            "cs_1",
		Status:        billing.SessionStatusComplete,
		PaymentStatus: billing.SessionPaymentStatusPaid,
		AmountTotal:   2500,
		PaymentIntent: &billing.PaymentIntent{
			ID:           "pi_1",
			Status:       billing.PaymentIntentStatusSucceeded,
			LatestCharge: succeededCharge(),
		},
	}

	event := WebhookEvent{
		Type:    "checkout.session.completed",
		Session: &billing.CheckoutSession{ID: "cs_1", Metadata: map[string]string{"order_id": "100"}},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("Status = %q, want processing", o.Status)
	}
}

func TestSessionCompletedZeroTotal(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Total = 0
	f.store.Put(o)

	f.provider.Sessions["cs_1"] = &billing.CheckoutSession{
		ID:            "cs_1",
		Status:        billing.SessionStatusComplete,
		PaymentStatus: billing.SessionPaymentStatusNoPaymentRequired,
		AmountTotal:   0,
	}

	event := WebhookEvent{
		Type:    "checkout.session.completed",
		Session: &billing.CheckoutSession{ID: "cs_1", Metadata: map[string]string{"order_id": "100"}},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("Status = %q, want processing for free order", o.Status)
	}
}

func TestSessionCompletedSkipsPaidOrder(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.Status = order.StatusCompleted
	f.store.Put(o)

	event := WebhookEvent{
		Type:    "checkout.session.completed",
		Session: &billing.CheckoutSession{ID: "cs_1", Metadata: map[string]string{"order_id": "100"}},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if got := f.provider.CallLog; len(got) != 0 {
		t.Errorf("expected no processor calls for a completed order, got %v", got)
	}
}

func TestIntentSucceededFinalizes(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.SetMeta(order.MetaIntentID, "pi_1")
	f.store.Put(o)

	event := WebhookEvent{
		Type: "payment_intent.succeeded",
		Intent: &billing.PaymentIntent{
			ID:           "pi_1",
			Status:       billing.PaymentIntentStatusSucceeded,
			LatestCharge: succeededCharge(),
		},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("Status = %q, want processing", o.Status)
	}
	if o.TransactionID != "ch_1" {
		t.Errorf("TransactionID = %q, want ch_1", o.TransactionID)
	}
}

func TestIntentSucceededSkipsSettledOrder(t *testing.T) {
	f := newWebhookFixture(t)

	for _, status := range []string{order.StatusCompleted, order.StatusRefunded} {
		o := testOrder()
		o.Status = status
		o.SetMeta(order.MetaIntentID, "pi_1")
		f.store.Put(o)

		event := WebhookEvent{
			Type: "payment_intent.succeeded",
			Intent: &billing.PaymentIntent{
				ID:           "pi_1",
				Status:       billing.PaymentIntentStatusSucceeded,
				LatestCharge: succeededCharge(),
			},
		}
		if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", status, err)
		}
		if o.Status != status {
			t.Errorf("Status = %q, want %q left untouched by late delivery", o.Status, status)
		}
		if o.TransactionID != "" {
			t.Errorf("TransactionID = %q, want empty for %s order", o.TransactionID, status)
		}
	}
}

func TestIntentCapturableGoesOnHold(t *testing.T) {
	f := newWebhookFixture(t)

	o := testOrder()
	o.SetMeta(order.MetaIntentID, "pi_1")
	f.store.Put(o)

	charge := succeededCharge()
	charge.Captured = false

	event := WebhookEvent{
		Type: "payment_intent.amount_capturable_updated",
		Intent: &billing.PaymentIntent{
			ID:           "pi_1",
			Status:       billing.PaymentIntentStatusRequiresCapture,
			LatestCharge: charge,
		},
	}
	if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if o.Status != order.StatusOnHold {
		t.Errorf("Status = %q, want on-hold", o.Status)
	}
	if o.GetMeta(order.MetaChargeCaptured) != "no" {
		t.Error("expected capture flag set to no")
	}
}

func TestInvoiceEventsWithoutSubscriptions(t *testing.T) {
	f := newWebhookFixture(t)

	for _, typ := range []string{"invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed"} {
		event := WebhookEvent{Type: typ, InvoiceID: "in_1", SubscriptionID: "sub_1"}
		if err := f.webhooks.HandleEvent(context.Background(), event); err != nil {
			t.Errorf("HandleEvent(%s) error = %v, null subscription support must no-op", typ, err)
		}
	}
}
