package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/crypto"
	"github.com/payaddons/stripe-gateway/internal/domain"
	"github.com/payaddons/stripe-gateway/internal/lock"
	"github.com/payaddons/stripe-gateway/internal/order"
	"github.com/payaddons/stripe-gateway/internal/telemetry"
)

// Shopper-facing messages and order notes. Wording is load-bearing for
// merchants who parse order notes, keep it stable.
const (
	MsgPaymentFailedToClear = "This payment failed to clear."
	MsgPaymentRetry         = "Payment processing failed. Please retry."

	noteIntentCreated    = "Stripe payment intent created (Payment Intent ID: %s)"
	noteChargeComplete   = "Stripe charge complete (Charge ID: %s)"
	noteChargeAwaiting   = "Stripe charge awaiting payment: %s."
	noteChargeAuthorized = "Stripe charge authorized (Charge ID: %s). Process order to take payment, or cancel to remove the pre-authorization."
	noteSCAFailed        = "Stripe SCA authentication failed. Reason: %s"
	noteRefundRecorded   = "Refunded %s - Refund ID: %s - %s"
	noteIntentCancelled  = "Payment intent %s cancelled, charge was never captured."
)

// CheckoutResult is returned to the checkout UI after a create call.
type CheckoutResult struct {
	// RedirectURL sends the shopper to the hosted checkout page.
	RedirectURL string `json:"redirect_url,omitempty"`

	// ClientSecret confirms an express intent client-side.
	ClientSecret string `json:"client_secret,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	IntentID  string `json:"intent_id,omitempty"`
}

// VerifyParams are the query values of the signed return URL.
type VerifyParams struct {
	OrderID   int64
	OrderKey  string
	SessionID string
	Token     string
}

// FinalizeResult reports what a finalize pass did.
type FinalizeResult struct {
	// Locked means another pass holds the order; nothing was mutated.
	Locked bool

	// RedirectURL is set when the processor requires further shopper
	// action; the order was not mutated.
	RedirectURL string

	// Failed is set with a shopper-facing Message when the payment
	// terminally failed.
	Failed  bool
	Message string

	// Status is the order status after the pass.
	Status string
}

// PaymentService drives an order through payment creation, return-URL
// verification and finalization.
type PaymentService interface {
	// ProcessPayment creates a hosted checkout session for the order and
	// returns the redirect. A stale customer binding is healed with a
	// single retry.
	ProcessPayment(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)

	// CreateExpressIntent creates a bare payment intent for wallet flows
	// that confirm client-side.
	CreateExpressIntent(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)

	// VerifyReturn handles the shopper arriving back on the signed
	// return URL.
	VerifyReturn(ctx context.Context, params VerifyParams) (*FinalizeResult, error)

	// FinalizeIntent applies an observed intent state to the order under
	// the processing lock. Shared by the verify and webhook paths.
	FinalizeIntent(ctx context.Context, o *order.Order, intent *billing.PaymentIntent) (*FinalizeResult, error)

	// ProcessResponse applies a concrete charge result to the order.
	// Safe to invoke twice with the same terminal charge.
	ProcessResponse(ctx context.Context, o *order.Order, charge *billing.Charge) error

	// Refund refunds amount against the order's charge, or voids the
	// intent outright when the charge was never captured.
	Refund(ctx context.Context, orderID int64, amount float64, reason string) error
}

type paymentService struct {
	provider  billing.Provider
	store     order.Store
	locks     lock.Store
	builder   *IntentBuilder
	customers CustomerService
	signer    *crypto.Signer
	settings  Settings
	logger    *slog.Logger
}

func NewPaymentService(provider billing.Provider, store order.Store, locks lock.Store, builder *IntentBuilder, customers CustomerService, signer *crypto.Signer, settings Settings, logger *slog.Logger) PaymentService {
	return &paymentService{
		provider:  provider,
		store:     store,
		locks:     locks,
		builder:   builder,
		customers: customers,
		signer:    signer,
		settings:  settings,
		logger:    logger,
	}
}

// validateMinimum rejects totals below the processor's per-currency
// floor before any processor call is made.
func (s *paymentService) validateMinimum(o *order.Order) error {
	amount := billing.ToMinorUnits(o.Total, o.Currency)
	floor := billing.MinimumAmount(o.Currency)
	if amount > 0 && amount < floor {
		return domain.Invalid("payment.create", fmt.Sprintf(
			"Sorry, the minimum allowed order total is %s to use this payment method.",
			billing.FormatAmount(floor, o.Currency)))
	}
	return nil
}

func (s *paymentService) ProcessPayment(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	o := req.Order
	if err := s.validateMinimum(o); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.PaymentAttempts.WithLabelValues(o.Currency).Inc()
	}

	customerID, err := s.customers.Resolve(ctx, o)
	if err != nil {
		return nil, err
	}

	successURL, cancelURL := s.returnURLs(o)

	params, err := s.builder.BuildSession(ctx, req, customerID, successURL, cancelURL)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if billing.IsNoSuchCustomer(err) {
		// The stored customer vanished at the processor. Rebind once
		// and retry; a second identical failure propagates.
		if invErr := s.customers.Invalidate(ctx, o); invErr != nil {
			return nil, invErr
		}
		customerID, err = s.customers.Resolve(ctx, o)
		if err != nil {
			return nil, err
		}
		params, err = s.builder.BuildSession(ctx, req, customerID, successURL, cancelURL)
		if err != nil {
			return nil, err
		}
		session, err = s.provider.CreateCheckoutSession(ctx, params)
	}
	if err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, "payment.create", MsgPaymentRetry)
	}

	result := &CheckoutResult{RedirectURL: session.URL, SessionID: session.ID}
	if session.PaymentIntent != nil {
		result.IntentID = session.PaymentIntent.ID
		attachIntent(o, session.PaymentIntent.ID)
	}
	if err := s.store.Save(ctx, o); err != nil {
		return nil, err
	}

	if telemetry.Business != nil {
		telemetry.Business.SessionsCreated.WithLabelValues(o.Currency).Inc()
	}
	s.logger.Info("checkout session created",
		slog.Int64("order_id", o.ID),
		slog.String("session_id", session.ID))
	return result, nil
}

func (s *paymentService) CreateExpressIntent(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	o := req.Order
	if err := s.validateMinimum(o); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.PaymentAttempts.WithLabelValues(o.Currency).Inc()
	}

	customerID, err := s.customers.Resolve(ctx, o)
	if err != nil {
		return nil, err
	}

	params, err := s.builder.BuildIntent(req, customerID)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, params)
	if billing.IsNoSuchCustomer(err) {
		if invErr := s.customers.Invalidate(ctx, o); invErr != nil {
			return nil, invErr
		}
		customerID, err = s.customers.Resolve(ctx, o)
		if err != nil {
			return nil, err
		}
		params.CustomerID = customerID
		params.IdempotencyKey = idempotencyKey(o, customerID)
		intent, err = s.provider.CreatePaymentIntent(ctx, params)
	}
	if err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, "payment.create_intent", MsgPaymentRetry)
	}

	attachIntent(o, intent.ID)
	if err := s.store.Save(ctx, o); err != nil {
		return nil, err
	}

	if telemetry.Business != nil {
		telemetry.Business.IntentsCreated.WithLabelValues(o.Currency).Inc()
	}
	return &CheckoutResult{ClientSecret: intent.ClientSecret, IntentID: intent.ID}, nil
}

// returnURLs builds the signed success URL and the cancel URL for a
// hosted session. The token binds order id and key so a shopper cannot
// replay another order's return.
func (s *paymentService) returnURLs(o *order.Order) (string, string) {
	token := s.signer.Sign(verifyMessage(o.ID, o.Key))
	successURL := fmt.Sprintf("%s/api/checkout/verify?order_id=%d&key=%s&session_id={CHECKOUT_SESSION_ID}&token=%s",
		s.settings.BaseURL, o.ID, url.QueryEscape(o.Key), token)
	cancelURL := fmt.Sprintf("%s/checkout?order_id=%d&cancelled=1", s.settings.BaseURL, o.ID)
	return successURL, cancelURL
}

func verifyMessage(orderID int64, orderKey string) string {
	return strconv.FormatInt(orderID, 10) + ":" + orderKey
}

func (s *paymentService) VerifyReturn(ctx context.Context, params VerifyParams) (*FinalizeResult, error) {
	if !s.signer.Verify(verifyMessage(params.OrderID, params.OrderKey), params.Token) {
		return nil, domain.Errorf(domain.EUNAUTHORIZED, "payment.verify", "invalid return token")
	}

	o, err := s.store.Get(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(o.Key), []byte(params.OrderKey)) != 1 {
		return nil, domain.Errorf(domain.EUNAUTHORIZED, "payment.verify", "order key mismatch")
	}

	// Redelivered returns for a paid order are routine; report success.
	if o.IsPaid() {
		return &FinalizeResult{Status: o.Status}, nil
	}

	session, err := s.provider.GetCheckoutSession(ctx, billing.GetCheckoutSessionParams{
		SessionID: params.SessionID,
		Expand:    []string{"payment_intent", "payment_intent.latest_charge"},
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EPAYMENT, "payment.verify", MsgPaymentRetry)
	}

	// Free orders have no intent to finalize, complete directly. The
	// session may still have stored a payment method for later use.
	if session.AmountTotal == 0 && session.Status == billing.SessionStatusComplete {
		if session.SetupIntentID != "" {
			o.SetMeta(order.MetaSetupIntentID, session.SetupIntentID)
		}
		if err := o.PaymentComplete(""); err != nil && !errors.Is(err, domain.ErrPaymentAlreadyProcessed) {
			return nil, err
		}
		if err := s.store.Save(ctx, o); err != nil {
			return nil, err
		}
		return &FinalizeResult{Status: o.Status}, nil
	}

	if session.PaymentIntent == nil {
		return nil, domain.Errorf(domain.EPAYMENT, "payment.verify", "session %s carries no payment intent", session.ID)
	}
	return s.FinalizeIntent(ctx, o, session.PaymentIntent)
}

func (s *paymentService) FinalizeIntent(ctx context.Context, o *order.Order, intent *billing.PaymentIntent) (*FinalizeResult, error) {
	key := strconv.FormatInt(o.ID, 10)
	holder := intent.ID
	if holder == "" {
		holder = lock.Pending
	}

	acquired, err := s.locks.Acquire(ctx, key, holder, lock.DefaultTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Another pass, webhook or redirect, holds the order. Do not
		// touch order state; the holder's outcome stands.
		s.logger.Info("order locked, skipping finalize",
			slog.Int64("order_id", o.ID),
			slog.String("intent_id", intent.ID))
		return &FinalizeResult{Locked: true, Status: o.Status}, nil
	}
	defer func() {
		if relErr := s.locks.Release(ctx, key); relErr != nil {
			s.logger.Error("failed to release order lock",
				slog.Int64("order_id", o.ID),
				slog.String("error", relErr.Error()))
		}
	}()

	if intent.Status == billing.PaymentIntentStatusRequiresAction && intent.NextActionURL != "" {
		return &FinalizeResult{RedirectURL: intent.NextActionURL, Status: o.Status}, nil
	}

	if intent.LastPaymentError != nil {
		message := billing.LocalizedPaymentError(intent.LastPaymentError)
		if !o.StatusFinal() {
			o.Fail(fmt.Sprintf(noteSCAFailed, message))
			o.SetMeta(order.MetaStatusFinal, "yes")
			if err := s.store.Save(ctx, o); err != nil {
				return nil, err
			}
		}
		if telemetry.Business != nil {
			telemetry.Business.PaymentFailed.WithLabelValues(paymentMethod(intent.LatestCharge), intent.LastPaymentError.Code).Inc()
		}
		return &FinalizeResult{Failed: true, Message: message, Status: o.Status}, nil
	}

	charge := intent.LatestCharge
	if charge == nil {
		// Expansion shape differs across processor API versions; fetch
		// the intent again with the charge expanded.
		full, err := s.provider.GetPaymentIntent(ctx, billing.GetPaymentIntentParams{
			PaymentIntentID: intent.ID,
			Expand:          []string{"latest_charge"},
		})
		if err != nil {
			return nil, domain.WrapError(err, domain.EPAYMENT, "payment.finalize", MsgPaymentRetry)
		}
		charge = full.LatestCharge
	}
	if charge == nil {
		return nil, domain.Errorf(domain.EPAYMENT, "payment.finalize", "intent %s carries no charge", intent.ID)
	}

	if err := s.ProcessResponse(ctx, o, charge); err != nil {
		return &FinalizeResult{Failed: true, Message: domain.ErrorMessage(err), Status: o.Status}, nil
	}
	return &FinalizeResult{Status: o.Status}, nil
}

// ProcessResponse applies a charge result to the order. Every money-
// affecting side effect is guarded by a stored flag, so a duplicate
// invocation with the same terminal charge leaves the order unchanged.
func (s *paymentService) ProcessResponse(ctx context.Context, o *order.Order, charge *billing.Charge) error {
	if charge.Captured {
		o.SetMeta(order.MetaChargeCaptured, "yes")
	} else {
		o.SetMeta(order.MetaChargeCaptured, "no")
	}

	switch {
	case charge.Status == billing.ChargeStatusSucceeded && charge.Captured:
		err := o.PaymentComplete(charge.ID)
		if errors.Is(err, domain.ErrPaymentAlreadyProcessed) {
			// Duplicate delivery of a terminal result. Nothing more to do.
			return s.store.Save(ctx, o)
		}
		if err != nil {
			return err
		}
		o.ReduceStock()
		s.recordFees(ctx, o, charge)
		o.AddNote(fmt.Sprintf(noteChargeComplete, charge.ID))
		if err := s.store.Save(ctx, o); err != nil {
			return err
		}
		if telemetry.Business != nil {
			telemetry.Business.PaymentSucceeded.WithLabelValues(paymentMethod(charge)).Inc()
			telemetry.Business.OrderValue.WithLabelValues(charge.Currency).Observe(float64(charge.Amount))
		}
		return nil

	case charge.Captured && charge.Status == billing.ChargeStatusPending:
		// Async methods can take days to clear; the webhook settles the
		// order. Stock is held for the clearing window.
		o.ReduceStock()
		o.TransactionID = charge.ID
		o.Status = order.StatusOnHold
		o.AddNote(fmt.Sprintf(noteChargeAwaiting, charge.ID))
		if err := s.store.Save(ctx, o); err != nil {
			return err
		}
		if telemetry.Business != nil {
			telemetry.Business.PaymentOnHold.WithLabelValues(paymentMethod(charge)).Inc()
		}
		return nil

	case charge.Status == billing.ChargeStatusFailed:
		if !o.StatusFinal() {
			o.Fail(MsgPaymentFailedToClear)
			o.SetMeta(order.MetaStatusFinal, "yes")
			if err := s.store.Save(ctx, o); err != nil {
				return err
			}
		}
		if telemetry.Business != nil {
			telemetry.Business.PaymentFailed.WithLabelValues(paymentMethod(charge), charge.Status).Inc()
		}
		return domain.Payment("payment.process_response", MsgPaymentFailedToClear)

	case !charge.Captured:
		// Manual capture: the charge is only authorized. Stock is held
		// while the merchant decides.
		o.TransactionID = charge.ID
		if o.Status == order.StatusPending || o.Status == order.StatusFailed {
			o.ReduceStock()
		}
		o.Status = order.StatusOnHold
		o.AddNote(fmt.Sprintf(noteChargeAuthorized, charge.ID))
		if err := s.store.Save(ctx, o); err != nil {
			return err
		}
		if telemetry.Business != nil {
			telemetry.Business.PaymentOnHold.WithLabelValues(paymentMethod(charge)).Inc()
		}
		return nil

	default:
		return domain.Errorf(domain.EPAYMENT, "payment.process_response",
			"unexpected charge status %q for charge %s", charge.Status, charge.ID)
	}
}

// recordFees accumulates the settlement fee and net from the charge's
// balance transaction. Failure here is logged, not fatal; the charge
// outcome stands either way.
func (s *paymentService) recordFees(ctx context.Context, o *order.Order, charge *billing.Charge) {
	updateFees(ctx, s.provider, s.logger, o, charge.BalanceTransactionID)
}

// updateFees folds a balance transaction's fee and net into the order's
// running totals. Charge transactions add positive amounts, refund
// transactions negative ones, so the meta always reflects the order's
// current settlement position. A fetch failure leaves the totals alone.
func updateFees(ctx context.Context, provider billing.Provider, logger *slog.Logger, o *order.Order, txnID string) {
	if txnID == "" {
		return
	}
	bt, err := provider.GetBalanceTransaction(ctx, txnID)
	if err != nil {
		logger.Warn("failed to fetch balance transaction",
			slog.Int64("order_id", o.ID),
			slog.String("balance_transaction", txnID),
			slog.String("error", err.Error()))
		return
	}
	o.AddFees(
		billing.FromMinorUnits(bt.Fee, bt.Currency),
		billing.FromMinorUnits(bt.Net, bt.Currency),
		bt.Currency)
}

func (s *paymentService) Refund(ctx context.Context, orderID int64, amount float64, reason string) error {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}

	intentID := o.IntentID()
	if o.TransactionID == "" && intentID == "" {
		return domain.Invalid("payment.refund", "order has no charge to refund")
	}

	// Uncaptured charges cannot be refunded; void the intent instead.
	if !o.ChargeCaptured() {
		if intentID == "" {
			return domain.Invalid("payment.refund", "uncaptured order has no intent to cancel")
		}
		if _, err := s.provider.CancelPaymentIntent(ctx, intentID); err != nil {
			return domain.WrapError(err, domain.EPAYMENT, "payment.refund", "failed to cancel payment intent")
		}
		o.Status = order.StatusCancelled
		o.AddNote(fmt.Sprintf(noteIntentCancelled, intentID))
		return s.store.Save(ctx, o)
	}

	minor := billing.ToMinorUnits(amount, o.Currency)
	params := billing.CreateRefundParams{
		Amount:         minor,
		Reason:         reason,
		Metadata:       map[string]string{"order_id": strconv.FormatInt(o.ID, 10)},
		IdempotencyKey: fmt.Sprintf("%d:refund:%d", o.ID, minor),
	}
	if o.TransactionID != "" {
		params.ChargeID = o.TransactionID
	} else {
		params.PaymentIntentID = intentID
	}

	refund, err := s.provider.CreateRefund(ctx, params)
	if err != nil {
		return domain.WrapError(err, domain.EPAYMENT, "payment.refund", "refund request failed")
	}

	if o.RefundByID(refund.ID) != nil {
		return domain.ErrRefundAlreadyProcessed
	}
	refunded := billing.FromMinorUnits(refund.Amount, refund.Currency)
	o.AddRefund(refund.ID, refunded, reason)
	updateFees(ctx, s.provider, s.logger, o, refund.BalanceTransactionID)
	o.AddNote(fmt.Sprintf(noteRefundRecorded,
		billing.FormatAmount(refund.Amount, refund.Currency), refund.ID, reason))
	if err := s.store.Save(ctx, o); err != nil {
		return err
	}

	if telemetry.Business != nil {
		r := reason
		if r == "" {
			r = "requested_by_customer"
		}
		telemetry.Business.RefundsIssued.WithLabelValues(r).Inc()
		telemetry.Business.RefundAmount.WithLabelValues(refund.Currency).Add(float64(refund.Amount))
	}
	return nil
}

// attachIntent stores the intent handle on the order and records a note.
// Re-attaching the intent the order already carries is a no-op so a
// retried create does not duplicate the note.
func attachIntent(o *order.Order, intentID string) {
	if o.IntentID() == intentID {
		return
	}
	o.SetMeta(order.MetaIntentID, intentID)
	o.AddNote(fmt.Sprintf(noteIntentCreated, intentID))
}

// paymentMethod labels metrics with the charge's method, defaulting to
// "unknown" when no charge is at hand.
func paymentMethod(charge *billing.Charge) string {
	if charge == nil || charge.PaymentMethodType == "" {
		return "unknown"
	}
	return charge.PaymentMethodType
}
