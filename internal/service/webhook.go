package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/domain"
	"github.com/payaddons/stripe-gateway/internal/order"
)

// WebhookEvent is a processor notification after signature verification
// and payload decoding. Exactly one of the object fields is set,
// matching the event type.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time

	Charge  *billing.Charge
	Refund  *billing.Refund
	Intent  *billing.PaymentIntent
	Session *billing.CheckoutSession

	InvoiceID      string
	SubscriptionID string
}

// WebhookService routes processor notifications to order reconciliation.
//
// Delivery is at least once and unordered. Every handler resolves its
// order fresh, re-checks state guards before mutating, and treats an
// already-applied event as success. An event whose order cannot be
// found is logged and dropped.
type WebhookService interface {
	HandleEvent(ctx context.Context, event WebhookEvent) error
}

type webhookService struct {
	provider billing.Provider
	store    order.Store
	payments PaymentService
	subs     SubscriptionSupport
	logger   *slog.Logger

	handlers map[string]func(context.Context, WebhookEvent) error
}

func NewWebhookService(provider billing.Provider, store order.Store, payments PaymentService, subs SubscriptionSupport, logger *slog.Logger) WebhookService {
	s := &webhookService{
		provider: provider,
		store:    store,
		payments: payments,
		subs:     subs,
		logger:   logger,
	}
	s.handlers = map[string]func(context.Context, WebhookEvent) error{
		"charge.succeeded":      s.handleChargeSucceeded,
		"charge.failed":         s.handleChargeFailed,
		"charge.captured":       s.handleChargeCaptured,
		"charge.refunded":       s.handleChargeRefunded,
		"charge.refund.updated": s.handleRefundUpdated,

		"checkout.session.completed":               s.handleSessionCompleted,
		"checkout.session.async_payment_succeeded": s.handleSessionCompleted,
		"checkout.session.async_payment_failed":    s.handleSessionFailed,
		"checkout.session.expired":                 s.handleSessionExpired,

		"payment_intent.succeeded":                 s.handleIntentSucceeded,
		"payment_intent.payment_failed":            s.handleIntentFailed,
		"payment_intent.amount_capturable_updated": s.handleIntentCapturable,
		"payment_intent.requires_action":           s.handleIntentRequiresAction,

		"invoice.paid":              s.handleInvoicePaid,
		"invoice.payment_succeeded": s.handleInvoicePaid,
		"invoice.payment_failed":    s.handleInvoiceFailed,
	}
	return s
}

func (s *webhookService) HandleEvent(ctx context.Context, event WebhookEvent) error {
	handler, ok := s.handlers[event.Type]
	if !ok {
		s.logger.Debug("ignoring unhandled webhook event",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type))
		return nil
	}
	return handler(ctx, event)
}

// orderForCharge resolves the order for a charge event, by transaction
// id first, then by the charge's intent. A nil order with nil error
// means the event targets an order this system does not know; the
// caller drops it.
func (s *webhookService) orderForCharge(ctx context.Context, charge *billing.Charge) (*order.Order, error) {
	o, err := s.store.ByChargeID(ctx, charge.ID)
	if err == nil {
		return o, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}
	if charge.PaymentIntentID == "" {
		return nil, nil
	}
	o, err = s.store.ByIntentID(ctx, charge.PaymentIntentID)
	if err == nil {
		return o, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}
	return nil, nil
}

func (s *webhookService) dropUnknown(event WebhookEvent, identifier string) error {
	s.logger.Info("webhook event matches no local order, dropping",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("identifier", identifier))
	return nil
}

// handleChargeSucceeded finalizes asynchronous methods that settle
// after the order went on hold. Card charges are skipped: those settle
// through the intent lifecycle and would fire here prematurely.
func (s *webhookService) handleChargeSucceeded(ctx context.Context, event WebhookEvent) error {
	charge := event.Charge
	if charge.PaymentMethodType == "card" {
		return nil
	}

	o, err := s.orderForCharge(ctx, charge)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, charge.ID)
	}
	if !o.HasStatus(order.StatusOnHold) || !charge.Captured {
		// Either already settled by another path or not yet captured.
		return nil
	}
	return s.payments.ProcessResponse(ctx, o, charge)
}

func (s *webhookService) handleChargeFailed(ctx context.Context, event WebhookEvent) error {
	charge := event.Charge
	o, err := s.orderForCharge(ctx, charge)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, charge.ID)
	}
	if o.HasStatus(order.StatusFailed) {
		return nil
	}
	if o.StatusFinal() {
		// The merchant pinned the status; record the failure without
		// overwriting it.
		o.AddNote(MsgPaymentFailedToClear)
	} else {
		o.Fail(MsgPaymentFailedToClear)
		o.SetMeta(order.MetaStatusFinal, "yes")
	}
	return s.store.Save(ctx, o)
}

// handleChargeCaptured completes an authorize-then-capture order when
// the merchant captures from the processor dashboard.
func (s *webhookService) handleChargeCaptured(ctx context.Context, event WebhookEvent) error {
	charge := event.Charge
	o, err := s.orderForCharge(ctx, charge)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, charge.ID)
	}
	if o.GetMeta(order.MetaChargeCaptured) != "no" {
		// Capture already reconciled, duplicate delivery.
		return nil
	}

	if charge.AmountRefunded > 0 {
		// Partial capture: the uncaptured remainder surfaces as a
		// refunded amount. Adjust the total to what actually settled
		// instead of completing at full value.
		net := charge.Amount - charge.AmountRefunded
		o.SetMeta(order.MetaChargeCaptured, "yes")
		o.TransactionID = charge.ID
		o.Total = billing.FromMinorUnits(net, charge.Currency)
		o.AddNote(fmt.Sprintf("Charge %s partially captured. Order total adjusted to %s.",
			charge.ID, billing.FormatAmount(net, charge.Currency)))
		return s.store.Save(ctx, o)
	}

	captured := *charge
	captured.Captured = true
	captured.Status = billing.ChargeStatusSucceeded
	return s.payments.ProcessResponse(ctx, o, &captured)
}

// firstRefund returns the refund this charge event is about, fetching
// the charge with refunds expanded when the payload did not embed them.
func (s *webhookService) firstRefund(ctx context.Context, charge *billing.Charge) (*billing.Refund, error) {
	if len(charge.Refunds) > 0 {
		return &charge.Refunds[0], nil
	}
	full, err := s.provider.GetCharge(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if len(full.Refunds) == 0 {
		return nil, nil
	}
	return &full.Refunds[0], nil
}

func (s *webhookService) handleChargeRefunded(ctx context.Context, event WebhookEvent) error {
	charge := event.Charge
	o, err := s.orderForCharge(ctx, charge)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, charge.ID)
	}

	if !o.ChargeCaptured() {
		// A "refund" of an uncaptured charge is a void.
		if o.HasStatus(order.StatusCancelled) {
			return nil
		}
		o.Status = order.StatusCancelled
		o.AddNote(fmt.Sprintf("Charge %s voided before capture, order cancelled.", charge.ID))
		return s.store.Save(ctx, o)
	}

	refund, err := s.firstRefund(ctx, charge)
	if err != nil {
		return err
	}
	if refund == nil {
		return nil
	}
	if o.GetMeta(order.MetaRefundID) == refund.ID || o.RefundByID(refund.ID) != nil {
		// Duplicate delivery of an already-recorded refund.
		return nil
	}

	amount := billing.FromMinorUnits(refund.Amount, refund.Currency)
	reason := refund.Reason
	if reason == "" {
		reason = "Refunded via Stripe dashboard"
	}
	o.AddRefund(refund.ID, amount, reason)
	updateFees(ctx, s.provider, s.logger, o, refund.BalanceTransactionID)
	o.AddNote(fmt.Sprintf(noteRefundRecorded,
		billing.FormatAmount(refund.Amount, refund.Currency), refund.ID, reason))
	if charge.AmountRefunded >= charge.Amount {
		o.Status = order.StatusRefunded
	}
	return s.store.Save(ctx, o)
}

// handleRefundUpdated reacts only to the refund this order currently
// tracks; updates for superseded refunds are ignored.
func (s *webhookService) handleRefundUpdated(ctx context.Context, event WebhookEvent) error {
	refund := event.Refund
	o, err := s.store.ByChargeID(ctx, refund.ChargeID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return s.dropUnknown(event, refund.ChargeID)
		}
		return err
	}
	if o.GetMeta(order.MetaRefundID) != refund.ID {
		return nil
	}

	switch refund.Status {
	case "failed", "canceled":
		if o.RemoveRefund(refund.ID) {
			o.AddNote(fmt.Sprintf("Refund %s %s at the processor, removed from the order.",
				refund.ID, refund.Status))
			return s.store.Save(ctx, o)
		}
	}
	return nil
}

func (s *webhookService) orderForSession(ctx context.Context, event WebhookEvent) (*order.Order, error) {
	raw := event.Session.Metadata["order_id"]
	if raw == "" {
		return nil, nil
	}
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, nil
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// handleSessionCompleted converges the webhook path onto the same
// finalize step the return URL uses. The session is fetched again with
// expansions so the decision is made on current processor state, not
// on the event payload.
func (s *webhookService) handleSessionCompleted(ctx context.Context, event WebhookEvent) error {
	o, err := s.orderForSession(ctx, event)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, event.Session.ID)
	}
	if !o.HasStatus(order.StatusPending, order.StatusFailed, order.StatusOnHold) {
		return nil
	}

	session, err := s.provider.GetCheckoutSession(ctx, billing.GetCheckoutSessionParams{
		SessionID: event.Session.ID,
		Expand:    []string{"payment_intent", "payment_intent.latest_charge"},
	})
	if err != nil {
		return err
	}

	if session.AmountTotal == 0 && session.PaymentStatus != billing.SessionPaymentStatusUnpaid {
		if session.SetupIntentID != "" {
			o.SetMeta(order.MetaSetupIntentID, session.SetupIntentID)
		}
		if err := o.PaymentComplete(""); err != nil && !errors.Is(err, domain.ErrPaymentAlreadyProcessed) {
			return err
		}
		return s.store.Save(ctx, o)
	}
	if session.PaymentIntent == nil {
		s.logger.Warn("completed session carries no payment intent",
			slog.String("session_id", session.ID),
			slog.Int64("order_id", o.ID))
		return nil
	}

	_, err = s.payments.FinalizeIntent(ctx, o, session.PaymentIntent)
	return err
}

func (s *webhookService) handleSessionFailed(ctx context.Context, event WebhookEvent) error {
	o, err := s.orderForSession(ctx, event)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, event.Session.ID)
	}
	if o.HasStatus(order.StatusFailed) {
		return nil
	}
	if o.StatusFinal() {
		o.AddNote(MsgPaymentFailedToClear)
	} else {
		o.Fail(MsgPaymentFailedToClear)
		o.SetMeta(order.MetaStatusFinal, "yes")
	}
	return s.store.Save(ctx, o)
}

func (s *webhookService) handleSessionExpired(ctx context.Context, event WebhookEvent) error {
	o, err := s.orderForSession(ctx, event)
	if err != nil {
		return err
	}
	if o == nil || !o.HasStatus(order.StatusPending) {
		return nil
	}
	o.AddNote("Checkout session expired before payment was collected.")
	return s.store.Save(ctx, o)
}

func (s *webhookService) orderForIntent(ctx context.Context, intent *billing.PaymentIntent) (*order.Order, error) {
	o, err := s.store.ByIntentID(ctx, intent.ID)
	if err == nil {
		return o, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}
	raw := intent.Metadata["order_id"]
	if raw == "" {
		return nil, nil
	}
	orderID, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		return nil, nil
	}
	o, err = s.store.Get(ctx, orderID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

func (s *webhookService) handleIntentSucceeded(ctx context.Context, event WebhookEvent) error {
	o, err := s.orderForIntent(ctx, event.Intent)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, event.Intent.ID)
	}
	// Orders already completed or refunded must not be reprocessed by a
	// late or duplicate delivery.
	if !o.HasStatus(order.StatusPending, order.StatusFailed, order.StatusOnHold) {
		return nil
	}
	_, err = s.payments.FinalizeIntent(ctx, o, event.Intent)
	return err
}

func (s *webhookService) handleIntentFailed(ctx context.Context, event WebhookEvent) error {
	intent := event.Intent
	o, err := s.orderForIntent(ctx, intent)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, intent.ID)
	}
	if o.HasStatus(order.StatusFailed) {
		return nil
	}

	message := MsgPaymentFailedToClear
	if intent.LastPaymentError != nil {
		message = fmt.Sprintf(noteSCAFailed, billing.LocalizedPaymentError(intent.LastPaymentError))
	}
	if o.StatusFinal() {
		o.AddNote(message)
	} else {
		o.Fail(message)
		o.SetMeta(order.MetaStatusFinal, "yes")
	}
	return s.store.Save(ctx, o)
}

// handleIntentCapturable puts an authorized manual-capture order on
// hold until the merchant captures or voids it.
func (s *webhookService) handleIntentCapturable(ctx context.Context, event WebhookEvent) error {
	intent := event.Intent
	o, err := s.orderForIntent(ctx, intent)
	if err != nil {
		return err
	}
	if o == nil {
		return s.dropUnknown(event, intent.ID)
	}
	if intent.LatestCharge == nil || o.HasStatus(order.StatusOnHold) || o.IsPaid() {
		return nil
	}
	return s.payments.ProcessResponse(ctx, o, intent.LatestCharge)
}

func (s *webhookService) handleIntentRequiresAction(ctx context.Context, event WebhookEvent) error {
	// The shopper is mid-authentication; nothing to reconcile yet.
	s.logger.Debug("payment intent awaiting shopper action",
		slog.String("intent_id", event.Intent.ID))
	return nil
}

func (s *webhookService) handleInvoicePaid(ctx context.Context, event WebhookEvent) error {
	return s.subs.HandleInvoicePaid(ctx, event.InvoiceID, event.SubscriptionID)
}

func (s *webhookService) handleInvoiceFailed(ctx context.Context, event WebhookEvent) error {
	return s.subs.HandleInvoicePaymentFailed(ctx, event.InvoiceID, event.SubscriptionID)
}
