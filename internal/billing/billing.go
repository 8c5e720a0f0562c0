package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the payment processor.
// The only production implementation talks to Stripe; the mock in this
// package backs the service tests.
type Provider interface {
	// CreateCustomer creates a customer record at the processor.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// UpdateCustomer updates an existing customer.
	// Returns a GatewayError satisfying IsNoSuchCustomer when the stored
	// customer id no longer exists at the processor.
	UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error)

	// GetCustomer retrieves a customer, optionally expanding tax state
	// for automatic tax eligibility checks.
	GetCustomer(ctx context.Context, params GetCustomerParams) (*Customer, error)

	// CreatePaymentIntent creates a payment intent for one-time charges.
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)

	// GetPaymentIntent retrieves an existing payment intent.
	GetPaymentIntent(ctx context.Context, params GetPaymentIntentParams) (*PaymentIntent, error)

	// CancelPaymentIntent voids an uncaptured payment intent.
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetCheckoutSession retrieves a session. Callers re-fetch with
	// payment_intent expansion before acting on a completion event so the
	// decision is made against processor state, not the event payload.
	GetCheckoutSession(ctx context.Context, params GetCheckoutSessionParams) (*CheckoutSession, error)

	// GetCharge retrieves a charge.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)

	// GetBalanceTransaction retrieves the fee/net breakdown for a charge.
	GetBalanceTransaction(ctx context.Context, balanceTransactionID string) (*BalanceTransaction, error)

	// CreateRefund creates a refund against a payment intent or charge.
	CreateRefund(ctx context.Context, params CreateRefundParams) (*Refund, error)

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// Address is a postal address passed to the processor.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ShippingDetails is attached to payment intents for card network
// risk scoring. Omitted for express (wallet) flows where the wallet
// supplies its own shipping data.
type ShippingDetails struct {
	Name    string
	Phone   string
	Address Address
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email            string
	Name             string
	Phone            string
	Description      string
	PreferredLocales []string
	Address          *Address
	Metadata         map[string]string
	IdempotencyKey   string
}

// UpdateCustomerParams contains parameters for updating a customer.
type UpdateCustomerParams struct {
	Email            string
	Name             string
	Phone            string
	Description      string
	PreferredLocales []string
	Address          *Address
	Metadata         map[string]string
}

// GetCustomerParams contains parameters for retrieving a customer.
type GetCustomerParams struct {
	CustomerID string

	// ExpandTax includes the customer's automatic tax state in the
	// response, used to decide whether a session may enable automatic tax.
	ExpandTax bool
}

// Customer automatic tax eligibility values.
const (
	AutomaticTaxSupported     = "supported"
	AutomaticTaxNotCollecting = "not_collecting"
)

// Customer represents a processor customer.
type Customer struct {
	ID      string
	Email   string
	Name    string
	Deleted bool

	// AutomaticTax is populated when the customer was fetched with
	// ExpandTax. One of "supported", "not_collecting",
	// "unrecognized_location", "failed".
	AutomaticTax string

	CreatedAt time.Time
}

// PaymentMethodOptions carries per-method options for intents and sessions.
type PaymentMethodOptions struct {
	// BankTransfer configures customer_balance funding. Nil unless the
	// customer_balance method is enabled.
	BankTransfer *BankTransferOptions

	// WeChatPayClient is the wechat_pay client type ("web") when the
	// wechat_pay method is enabled.
	WeChatPayClient string
}

// BankTransferOptions selects the bank transfer network by merchant
// account country.
type BankTransferOptions struct {
	// Type is one of "eu_bank_transfer", "gb_bank_transfer",
	// "jp_bank_transfer", "us_bank_transfer".
	Type string

	// EUCountry is the two-letter country for eu_bank_transfer.
	EUCountry string
}

// CreatePaymentIntentParams contains parameters for creating a payment intent.
type CreatePaymentIntentParams struct {
	// Amount in the smallest currency unit (already normalized).
	Amount int64

	// Currency code (ISO 4217 lowercase), e.g. "usd", "jpy".
	Currency string

	// CustomerID links the intent to an existing processor customer.
	CustomerID string

	// Description appears in the processor dashboard, e.g. "Acme - Order 100".
	Description string

	// Metadata always includes order_id; the webhook path resolves the
	// order from it.
	Metadata map[string]string

	// PaymentMethodTypes restricts the methods offered. When empty,
	// AutomaticPaymentMethods should be set instead.
	PaymentMethodTypes []string

	// AutomaticPaymentMethods lets the processor choose eligible methods.
	AutomaticPaymentMethods bool

	// SetupFutureUsage is "off_session" when the buyer opted to save
	// their payment method.
	SetupFutureUsage string

	// CaptureMethod is "automatic" (default) or "manual".
	CaptureMethod string

	Shipping             *ShippingDetails
	PaymentMethodOptions *PaymentMethodOptions

	// IdempotencyKey prevents duplicate intents. Derived from the order
	// id and the charging entity: "<order_id>:<source_or_customer_id>".
	IdempotencyKey string
}

// GetPaymentIntentParams contains parameters for retrieving a payment intent.
type GetPaymentIntentParams struct {
	PaymentIntentID string

	// Expand specifies related objects to include, e.g. "latest_charge".
	Expand []string
}

// Payment intent statuses this module branches on.
const (
	PaymentIntentStatusSucceeded       = "succeeded"
	PaymentIntentStatusRequiresAction  = "requires_action"
	PaymentIntentStatusRequiresCapture = "requires_capture"
	PaymentIntentStatusRequiresPayment = "requires_payment_method"
	PaymentIntentStatusProcessing      = "processing"
	PaymentIntentStatusCanceled        = "canceled"
)

// PaymentIntent represents a processor payment intent.
type PaymentIntent struct {
	ID            string
	ClientSecret  string
	Amount        int64
	Currency      string
	Status        string
	CustomerID    string
	CaptureMethod string
	Metadata      map[string]string

	// LatestCharge is populated when the intent was fetched or returned
	// with the latest_charge expansion.
	LatestCharge *Charge

	// NextActionURL is the redirect target when Status is requires_action.
	NextActionURL string

	// LastPaymentError contains details of the most recent failed attempt.
	LastPaymentError *PaymentError

	CreatedAt time.Time
}

// PaymentError contains details about a failed payment attempt.
type PaymentError struct {
	Type        string // e.g. "card_error", "invalid_request_error"
	Code        string // processor error code, e.g. "card_declined"
	DeclineCode string // network decline reason, if any
	Message     string
}

// Charge represents a processor charge.
type Charge struct {
	ID                   string
	Status               string
	Amount               int64
	AmountCaptured       int64
	AmountRefunded       int64
	Currency             string
	Captured             bool
	PaymentIntentID      string
	PaymentMethodType    string
	BalanceTransactionID string

	// Refunds holds the refunds embedded in the charge payload, newest first.
	Refunds []Refund

	CreatedAt time.Time
}

// Charge statuses.
const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusPending   = "pending"
	ChargeStatusFailed    = "failed"
)

// Refund represents a processor refund.
type Refund struct {
	ID        string
	ChargeID  string
	Amount    int64
	Currency  string
	Status    string // succeeded, pending, failed, canceled
	Reason    string
	CreatedAt time.Time

	// BalanceTransactionID settles the refund's fee/net against the
	// order's running totals.
	BalanceTransactionID string
}

// BalanceTransaction carries the fee/net breakdown in the settlement currency.
type BalanceTransaction struct {
	ID           string
	Fee          int64
	Net          int64
	Currency     string
	ExchangeRate float64
}

// SessionLineItem is one line of a hosted checkout session.
type SessionLineItem struct {
	Name     string
	Amount   int64 // unit amount in minor units
	Quantity int64
	TaxCode  string
}

// SessionPaymentIntentData configures the intent a session creates.
type SessionPaymentIntentData struct {
	Description      string
	Metadata         map[string]string
	SetupFutureUsage string
	CaptureMethod    string
	Shipping         *ShippingDetails
}

// CreateCheckoutSessionParams contains parameters for a hosted session.
type CreateCheckoutSessionParams struct {
	Mode      string // "payment"
	Currency  string
	LineItems []SessionLineItem

	// CustomerID attaches an existing customer. Leave empty together
	// with CustomerCreation "if_required" for guest flows.
	CustomerID       string
	CustomerEmail    string
	CustomerCreation string // "if_required" when no customer is attached

	// CustomerUpdateAddress asks the processor to save the address the
	// buyer enters back onto the customer. Required for automatic tax.
	CustomerUpdateAddress bool

	// AutomaticTax enables processor-side tax calculation.
	AutomaticTax bool

	Metadata             map[string]string
	SuccessURL           string
	CancelURL            string
	PaymentMethodTypes   []string
	PaymentMethodOptions *PaymentMethodOptions
	PaymentIntentData    *SessionPaymentIntentData
	IdempotencyKey       string
}

// GetCheckoutSessionParams contains parameters for retrieving a session.
type GetCheckoutSessionParams struct {
	SessionID string

	// Expand, e.g. "payment_intent", "invoice.payment_intent".
	Expand []string
}

// Checkout session statuses and payment statuses.
const (
	SessionStatusComplete = "complete"
	SessionStatusOpen     = "open"
	SessionStatusExpired  = "expired"

	SessionPaymentStatusPaid              = "paid"
	SessionPaymentStatusUnpaid            = "unpaid"
	SessionPaymentStatusNoPaymentRequired = "no_payment_required"
)

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	CustomerID    string

	// PaymentIntent is populated when fetched with the payment_intent
	// expansion.
	PaymentIntent *PaymentIntent

	// SetupIntentID is set on zero-total sessions that store a payment
	// method instead of charging one.
	SetupIntentID string

	Metadata  map[string]string
	CreatedAt time.Time
}

// CreateRefundParams contains parameters for creating a refund.
// One of PaymentIntentID or ChargeID must be set.
type CreateRefundParams struct {
	PaymentIntentID string
	ChargeID        string

	// Amount in minor units. Zero refunds the full amount.
	Amount int64

	// Reason is "duplicate", "fraudulent" or "requested_by_customer".
	Reason string

	Metadata       map[string]string
	IdempotencyKey string
}
