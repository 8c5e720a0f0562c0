package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/order"
)

// CheckoutRequest carries the per-request inputs to intent and session
// construction that are not part of the order record.
type CheckoutRequest struct {
	Order     *order.Order
	LineItems []billing.SessionLineItem

	// Shipping is attached to the intent for risk scoring. Ignored for
	// express flows, which supply shipping from the wallet.
	Shipping *billing.ShippingDetails

	// Express marks wallet-initiated checkouts (Apple Pay, Google Pay).
	Express bool

	// SavePaymentMethod is the shopper's opt-in to keep the method on file.
	SavePaymentMethod bool
}

// bankTransferNetworks maps the merchant account country to the bank
// transfer network attached when the customer_balance method is enabled.
// Countries outside the table cannot offer bank transfers.
var bankTransferNetworks = map[string]string{
	"BE": "eu_bank_transfer",
	"DE": "eu_bank_transfer",
	"ES": "eu_bank_transfer",
	"FR": "eu_bank_transfer",
	"IE": "eu_bank_transfer",
	"NL": "eu_bank_transfer",
	"GB": "gb_bank_transfer",
	"JP": "jp_bank_transfer",
	"US": "us_bank_transfer",
}

// currencyMethods lists the payment methods offerable per settlement
// currency. Card always works; currencies outside the table get card
// only. Merchant-enabled methods are intersected with this table so a
// misconfigured method never reaches the processor.
var currencyMethods = map[string][]string{
	"USD": {"card", "affirm", "afterpay_clearpay", "alipay", "customer_balance", "klarna", "us_bank_account", "wechat_pay"},
	"CAD": {"card", "affirm", "afterpay_clearpay", "alipay", "customer_balance", "klarna", "us_bank_account", "wechat_pay"},
	"AUD": {"card", "afterpay_clearpay", "alipay", "au_becs_debit", "klarna", "paypal", "wechat_pay"},
	"CNY": {"card", "alipay", "wechat_pay"},
	"HKD": {"card", "alipay", "wechat_pay"},
	"SGD": {"card", "alipay", "grabpay", "paynow", "wechat_pay"},
	"JPY": {"card", "alipay", "konbini", "wechat_pay"},
	"GBP": {"card", "bacs_debit", "paypal"},
	"EUR": {"card", "alipay", "bancontact", "customer_balance", "eps", "giropay", "ideal", "klarna", "p24", "paypal", "sepa_debit", "sofort", "wechat_pay"},
	"MYR": {"card", "fpx", "grabpay"},
}

func methodSupported(currency, method string) bool {
	if method == "card" {
		return true
	}
	supported, ok := currencyMethods[strings.ToUpper(currency)]
	if !ok {
		return false
	}
	for _, m := range supported {
		if m == method {
			return true
		}
	}
	return false
}

// IntentBuilder constructs processor request payloads from an order and
// the merchant settings. Read-only once wired.
type IntentBuilder struct {
	settings  Settings
	customers CustomerService

	intentHooks  []func(*billing.CreatePaymentIntentParams)
	sessionHooks []func(*billing.CreateCheckoutSessionParams)
}

func NewIntentBuilder(settings Settings, customers CustomerService) *IntentBuilder {
	return &IntentBuilder{settings: settings, customers: customers}
}

// OnIntent registers a hook that can adjust an assembled intent request
// before it is dispatched. Hooks run in registration order, after every
// builder rule, so integrations can extend metadata or override fields.
// Register during wiring; registration is not safe for concurrent use.
func (b *IntentBuilder) OnIntent(hook func(*billing.CreatePaymentIntentParams)) {
	b.intentHooks = append(b.intentHooks, hook)
}

// OnSession is the checkout session counterpart of OnIntent.
func (b *IntentBuilder) OnSession(hook func(*billing.CreateCheckoutSessionParams)) {
	b.sessionHooks = append(b.sessionHooks, hook)
}

// BuildIntent assembles the payment intent creation request.
func (b *IntentBuilder) BuildIntent(req CheckoutRequest, customerID string) (billing.CreatePaymentIntentParams, error) {
	o := req.Order

	amount := billing.ToMinorUnits(o.Total, o.Currency)

	params := billing.CreatePaymentIntentParams{
		Amount:         amount,
		Currency:       strings.ToLower(o.Currency),
		CustomerID:     customerID,
		Description:    b.description(o),
		Metadata:       b.metadata(o),
		CaptureMethod:  b.settings.CaptureMethod,
		IdempotencyKey: idempotencyKey(o, customerID),
	}

	b.applyMethodSelection(&params.PaymentMethodTypes, &params.AutomaticPaymentMethods, req.Express, o.Currency)
	params.PaymentMethodOptions = b.methodOptions(params.PaymentMethodTypes)

	if req.Shipping != nil && !req.Express {
		params.Shipping = req.Shipping
	}
	if b.settings.SavedCards && req.SavePaymentMethod {
		params.SetupFutureUsage = "off_session"
	}

	for _, hook := range b.intentHooks {
		hook(&params)
	}
	return params, nil
}

// BuildSession assembles the hosted checkout session request. When
// automatic tax is requested but the resolved customer cannot be
// located for tax, the customer binding is dropped and the shopper
// checks out guest-style rather than failing the request.
func (b *IntentBuilder) BuildSession(ctx context.Context, req CheckoutRequest, customerID, successURL, cancelURL string) (billing.CreateCheckoutSessionParams, error) {
	o := req.Order

	params := billing.CreateCheckoutSessionParams{
		Mode:       "payment",
		Currency:   strings.ToLower(o.Currency),
		LineItems:  req.LineItems,
		CustomerID: customerID,
		Metadata:   b.metadata(o),
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		PaymentIntentData: &billing.SessionPaymentIntentData{
			Description:   b.description(o),
			Metadata:      b.metadata(o),
			CaptureMethod: b.settings.CaptureMethod,
		},
		IdempotencyKey: idempotencyKey(o, customerID),
	}
	if customerID == "" {
		params.CustomerEmail = o.Email
		params.CustomerCreation = "if_required"
	}

	var automatic bool
	b.applyMethodSelection(&params.PaymentMethodTypes, &automatic, req.Express, o.Currency)
	params.PaymentMethodOptions = b.methodOptions(params.PaymentMethodTypes)

	if req.Shipping != nil && !req.Express {
		params.PaymentIntentData.Shipping = req.Shipping
	}
	if b.settings.SavedCards && req.SavePaymentMethod {
		params.PaymentIntentData.SetupFutureUsage = "off_session"
	}

	if b.wantsAutomaticTax(req.LineItems) {
		params.AutomaticTax = true
		params.CustomerUpdateAddress = true
		if customerID != "" {
			valid, err := b.customers.IsValidForTax(ctx, customerID)
			if err != nil {
				return billing.CreateCheckoutSessionParams{}, err
			}
			if !valid {
				// Tax calculation needs a resolvable address. Fall
				// back to guest checkout instead of failing.
				params.CustomerID = ""
				params.CustomerUpdateAddress = false
				params.CustomerEmail = o.Email
				params.CustomerCreation = "if_required"
				params.IdempotencyKey = idempotencyKey(o, "")
			}
		}
	}

	for _, hook := range b.sessionHooks {
		hook(&params)
	}
	return params, nil
}

// applyMethodSelection fills either the explicit method list or the
// automatic flag. The two are mutually exclusive: an empty merchant
// list or an express flow always uses automatic detection. Enabled
// methods the order currency cannot settle are dropped; losing all of
// them falls back to automatic.
func (b *IntentBuilder) applyMethodSelection(types *[]string, automatic *bool, express bool, currency string) {
	if express || len(b.settings.EnabledMethods) == 0 {
		*automatic = true
		return
	}
	selected := make([]string, 0, len(b.settings.EnabledMethods))
	for _, m := range b.settings.EnabledMethods {
		if methodSupported(currency, m) {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		*automatic = true
		return
	}
	*types = selected
}

// methodOptions attaches per-method sub-configuration for methods in
// the explicit list that need it.
func (b *IntentBuilder) methodOptions(types []string) *billing.PaymentMethodOptions {
	var opts billing.PaymentMethodOptions
	var any bool

	for _, t := range types {
		switch t {
		case "customer_balance":
			network, ok := bankTransferNetworks[b.settings.AccountCountry]
			if !ok {
				continue
			}
			bt := &billing.BankTransferOptions{Type: network}
			if network == "eu_bank_transfer" {
				bt.EUCountry = b.settings.AccountCountry
			}
			opts.BankTransfer = bt
			any = true
		case "wechat_pay":
			opts.WeChatPayClient = "web"
			any = true
		}
	}
	if !any {
		return nil
	}
	return &opts
}

// wantsAutomaticTax decides session tax participation: the merchant's
// switch wins unless the platform tax engine is already active, and a
// tax code on any line forces it on regardless.
func (b *IntentBuilder) wantsAutomaticTax(items []billing.SessionLineItem) bool {
	if b.settings.AutomaticTax && !b.settings.PlatformTaxActive {
		return true
	}
	for _, item := range items {
		if item.TaxCode != "" {
			return true
		}
	}
	return false
}

func (b *IntentBuilder) description(o *order.Order) string {
	return fmt.Sprintf("%s - Order %d", b.settings.SiteName, o.ID)
}

func (b *IntentBuilder) metadata(o *order.Order) map[string]string {
	return map[string]string{
		"order_id":       strconv.FormatInt(o.ID, 10),
		"customer_name":  o.FirstName + " " + o.LastName,
		"customer_email": o.Email,
		"site_url":       b.settings.SiteURL,
	}
}

// idempotencyKey makes retried creates safe: the same order charged to
// the same customer always produces the same key.
func idempotencyKey(o *order.Order, customerID string) string {
	return strconv.FormatInt(o.ID, 10) + ":" + customerID
}
