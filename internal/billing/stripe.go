package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe Go SDK.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a Stripe billing provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
	}

	api := &client.API{}
	api.Init(config.APIKey, stripe.NewBackends(httpClient))

	return &StripeProvider{api: api, config: config}, nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	p := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	applyCustomerFields(p, params.Email, params.Name, params.Phone, params.Description, params.PreferredLocales, params.Address, params.Metadata)
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	cus, err := s.api.Customers.New(p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toCustomer(cus), nil
}

// UpdateCustomer updates an existing Stripe customer.
func (s *StripeProvider) UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error) {
	p := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	applyCustomerFields(p, params.Email, params.Name, params.Phone, params.Description, params.PreferredLocales, params.Address, params.Metadata)

	cus, err := s.api.Customers.Update(customerID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toCustomer(cus), nil
}

// GetCustomer retrieves a Stripe customer.
func (s *StripeProvider) GetCustomer(ctx context.Context, params GetCustomerParams) (*Customer, error) {
	p := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if params.ExpandTax {
		p.AddExpand("tax")
	}

	cus, err := s.api.Customers.Get(params.CustomerID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toCustomer(cus), nil
}

// CreatePaymentIntent creates a Stripe payment intent.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(params.Amount),
		Currency: stripe.String(params.Currency),
	}
	if params.CustomerID != "" {
		p.Customer = stripe.String(params.CustomerID)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}
	if len(params.PaymentMethodTypes) > 0 {
		p.PaymentMethodTypes = stripe.StringSlice(params.PaymentMethodTypes)
	}
	if params.AutomaticPaymentMethods {
		p.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	}
	if params.SetupFutureUsage != "" {
		p.SetupFutureUsage = stripe.String(params.SetupFutureUsage)
	}
	if params.CaptureMethod != "" {
		p.CaptureMethod = stripe.String(params.CaptureMethod)
	}
	if params.Shipping != nil {
		p.Shipping = toShippingParams(params.Shipping)
	}
	if params.PaymentMethodOptions != nil {
		p.PaymentMethodOptions = toIntentMethodOptions(params.PaymentMethodOptions)
	}
	p.Metadata = params.Metadata
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.AddExpand("latest_charge")

	pi, err := s.api.PaymentIntents.New(p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toPaymentIntent(pi), nil
}

// GetPaymentIntent retrieves a Stripe payment intent.
func (s *StripeProvider) GetPaymentIntent(ctx context.Context, params GetPaymentIntentParams) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	}
	for _, e := range params.Expand {
		p.AddExpand(e)
	}

	pi, err := s.api.PaymentIntents.Get(params.PaymentIntentID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toPaymentIntent(pi), nil
}

// CancelPaymentIntent voids an uncaptured Stripe payment intent.
func (s *StripeProvider) CancelPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	p := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	}

	pi, err := s.api.PaymentIntents.Cancel(paymentIntentID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toPaymentIntent(pi), nil
}

// CreateCheckoutSession creates a Stripe hosted checkout session.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	p := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(params.Mode),
		SuccessURL: stripe.String(params.SuccessURL),
	}
	if params.CancelURL != "" {
		p.CancelURL = stripe.String(params.CancelURL)
	}
	for _, item := range params.LineItems {
		li := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(params.Currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.TaxCode != "" {
			li.PriceData.ProductData.TaxCode = stripe.String(item.TaxCode)
		}
		p.LineItems = append(p.LineItems, li)
	}
	if params.CustomerID != "" {
		p.Customer = stripe.String(params.CustomerID)
	}
	if params.CustomerEmail != "" {
		p.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if params.CustomerCreation != "" {
		p.CustomerCreation = stripe.String(params.CustomerCreation)
	}
	if params.CustomerUpdateAddress {
		p.CustomerUpdate = &stripe.CheckoutSessionCustomerUpdateParams{
			Address: stripe.String("auto"),
		}
	}
	if params.AutomaticTax {
		p.AutomaticTax = &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(true),
		}
	}
	if len(params.PaymentMethodTypes) > 0 {
		p.PaymentMethodTypes = stripe.StringSlice(params.PaymentMethodTypes)
	}
	if params.PaymentMethodOptions != nil {
		p.PaymentMethodOptions = toSessionMethodOptions(params.PaymentMethodOptions)
	}
	if params.PaymentIntentData != nil {
		pid := &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: params.PaymentIntentData.Metadata,
		}
		if params.PaymentIntentData.Description != "" {
			pid.Description = stripe.String(params.PaymentIntentData.Description)
		}
		if params.PaymentIntentData.SetupFutureUsage != "" {
			pid.SetupFutureUsage = stripe.String(params.PaymentIntentData.SetupFutureUsage)
		}
		if params.PaymentIntentData.CaptureMethod != "" {
			pid.CaptureMethod = stripe.String(params.PaymentIntentData.CaptureMethod)
		}
		if params.PaymentIntentData.Shipping != nil {
			pid.Shipping = toShippingParams(params.PaymentIntentData.Shipping)
		}
		p.PaymentIntentData = pid
	}
	p.Metadata = params.Metadata
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	sess, err := s.api.CheckoutSessions.New(p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toSession(sess), nil
}

// GetCheckoutSession retrieves a Stripe checkout session.
func (s *StripeProvider) GetCheckoutSession(ctx context.Context, params GetCheckoutSessionParams) (*CheckoutSession, error) {
	p := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	}
	for _, e := range params.Expand {
		p.AddExpand(e)
	}

	sess, err := s.api.CheckoutSessions.Get(params.SessionID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toSession(sess), nil
}

// GetCharge retrieves a Stripe charge with its refunds expanded.
func (s *StripeProvider) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	p := &stripe.ChargeParams{
		Params: stripe.Params{Context: ctx},
	}
	p.AddExpand("refunds")

	ch, err := s.api.Charges.Get(chargeID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toCharge(ch), nil
}

// GetBalanceTransaction retrieves the fee breakdown for a settled charge.
func (s *StripeProvider) GetBalanceTransaction(ctx context.Context, balanceTransactionID string) (*BalanceTransaction, error) {
	p := &stripe.BalanceTransactionParams{
		Params: stripe.Params{Context: ctx},
	}

	bt, err := s.api.BalanceTransactions.Get(balanceTransactionID, p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &BalanceTransaction{
		ID:           bt.ID,
		Fee:          bt.Fee,
		Net:          bt.Net,
		Currency:     string(bt.Currency),
		ExchangeRate: bt.ExchangeRate,
	}, nil
}

// CreateRefund creates a Stripe refund.
func (s *StripeProvider) CreateRefund(ctx context.Context, params CreateRefundParams) (*Refund, error) {
	p := &stripe.RefundParams{
		Params: stripe.Params{Context: ctx},
	}
	if params.PaymentIntentID != "" {
		p.PaymentIntent = stripe.String(params.PaymentIntentID)
	}
	if params.ChargeID != "" {
		p.Charge = stripe.String(params.ChargeID)
	}
	if params.Amount > 0 {
		p.Amount = stripe.Int64(params.Amount)
	}
	if params.Reason != "" {
		p.Reason = stripe.String(params.Reason)
	}
	p.Metadata = params.Metadata
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	r, err := s.api.Refunds.New(p)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return toRefund(r), nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// =============================================================================
// Conversions
// =============================================================================

func applyCustomerFields(p *stripe.CustomerParams, email, name, phone, description string, locales []string, addr *Address, metadata map[string]string) {
	if email != "" {
		p.Email = stripe.String(email)
	}
	if name != "" {
		p.Name = stripe.String(name)
	}
	if phone != "" {
		p.Phone = stripe.String(phone)
	}
	if description != "" {
		p.Description = stripe.String(description)
	}
	for _, locale := range locales {
		p.PreferredLocales = append(p.PreferredLocales, stripe.String(locale))
	}
	if addr != nil {
		p.Address = toAddressParams(addr)
	}
	p.Metadata = metadata
}

func toAddressParams(a *Address) *stripe.AddressParams {
	return &stripe.AddressParams{
		Line1:      stripe.String(a.Line1),
		Line2:      stripe.String(a.Line2),
		City:       stripe.String(a.City),
		State:      stripe.String(a.State),
		PostalCode: stripe.String(a.PostalCode),
		Country:    stripe.String(a.Country),
	}
}

func toShippingParams(sd *ShippingDetails) *stripe.ShippingDetailsParams {
	return &stripe.ShippingDetailsParams{
		Name:    stripe.String(sd.Name),
		Phone:   stripe.String(sd.Phone),
		Address: toAddressParams(&sd.Address),
	}
}

func toIntentMethodOptions(opts *PaymentMethodOptions) *stripe.PaymentIntentPaymentMethodOptionsParams {
	p := &stripe.PaymentIntentPaymentMethodOptionsParams{}
	if opts.WeChatPayClient != "" {
		p.WeChatPay = &stripe.PaymentIntentPaymentMethodOptionsWeChatPayParams{
			Client: stripe.String(opts.WeChatPayClient),
		}
	}
	if opts.BankTransfer != nil {
		bt := &stripe.PaymentIntentPaymentMethodOptionsCustomerBalanceBankTransferParams{
			Type: stripe.String(opts.BankTransfer.Type),
		}
		if opts.BankTransfer.EUCountry != "" {
			bt.EUBankTransfer = &stripe.PaymentIntentPaymentMethodOptionsCustomerBalanceBankTransferEUBankTransferParams{
				Country: stripe.String(opts.BankTransfer.EUCountry),
			}
		}
		p.CustomerBalance = &stripe.PaymentIntentPaymentMethodOptionsCustomerBalanceParams{
			FundingType:  stripe.String("bank_transfer"),
			BankTransfer: bt,
		}
	}
	return p
}

func toSessionMethodOptions(opts *PaymentMethodOptions) *stripe.CheckoutSessionPaymentMethodOptionsParams {
	p := &stripe.CheckoutSessionPaymentMethodOptionsParams{}
	if opts.WeChatPayClient != "" {
		p.WeChatPay = &stripe.CheckoutSessionPaymentMethodOptionsWeChatPayParams{
			Client: stripe.String(opts.WeChatPayClient),
		}
	}
	if opts.BankTransfer != nil {
		bt := &stripe.CheckoutSessionPaymentMethodOptionsCustomerBalanceBankTransferParams{
			Type: stripe.String(opts.BankTransfer.Type),
		}
		if opts.BankTransfer.EUCountry != "" {
			bt.EUBankTransfer = &stripe.CheckoutSessionPaymentMethodOptionsCustomerBalanceBankTransferEUBankTransferParams{
				Country: stripe.String(opts.BankTransfer.EUCountry),
			}
		}
		p.CustomerBalance = &stripe.CheckoutSessionPaymentMethodOptionsCustomerBalanceParams{
			FundingType:  stripe.String("bank_transfer"),
			BankTransfer: bt,
		}
	}
	return p
}

func toCustomer(c *stripe.Customer) *Customer {
	out := &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		Deleted:   c.Deleted,
		CreatedAt: time.Unix(c.Created, 0),
	}
	if c.Tax != nil {
		out.AutomaticTax = string(c.Tax.AutomaticTax)
	}
	return out
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:            pi.ID,
		ClientSecret:  pi.ClientSecret,
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
		Status:        string(pi.Status),
		CaptureMethod: string(pi.CaptureMethod),
		Metadata:      pi.Metadata,
		CreatedAt:     time.Unix(pi.Created, 0),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LatestCharge != nil {
		out.LatestCharge = toCharge(pi.LatestCharge)
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		out.NextActionURL = pi.NextAction.RedirectToURL.URL
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = &PaymentError{
			Type:        string(pi.LastPaymentError.Type),
			Code:        string(pi.LastPaymentError.Code),
			DeclineCode: string(pi.LastPaymentError.DeclineCode),
			Message:     pi.LastPaymentError.Msg,
		}
	}
	return out
}

func toCharge(ch *stripe.Charge) *Charge {
	out := &Charge{
		ID:             ch.ID,
		Status:         string(ch.Status),
		Amount:         ch.Amount,
		AmountCaptured: ch.AmountCaptured,
		AmountRefunded: ch.AmountRefunded,
		Currency:       string(ch.Currency),
		Captured:       ch.Captured,
		CreatedAt:      time.Unix(ch.Created, 0),
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.PaymentMethodDetails != nil {
		out.PaymentMethodType = string(ch.PaymentMethodDetails.Type)
	}
	if ch.BalanceTransaction != nil {
		out.BalanceTransactionID = ch.BalanceTransaction.ID
	}
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			out.Refunds = append(out.Refunds, *toRefund(r))
		}
	}
	return out
}

func toRefund(r *stripe.Refund) *Refund {
	out := &Refund{
		ID:        r.ID,
		Amount:    r.Amount,
		Currency:  string(r.Currency),
		Status:    string(r.Status),
		Reason:    string(r.Reason),
		CreatedAt: time.Unix(r.Created, 0),
	}
	if r.Charge != nil {
		out.ChargeID = r.Charge.ID
	}
	if r.BalanceTransaction != nil {
		out.BalanceTransactionID = r.BalanceTransaction.ID
	}
	return out
}

func toSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Metadata:      sess.Metadata,
		CreatedAt:     time.Unix(sess.Created, 0),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntent = toPaymentIntent(sess.PaymentIntent)
	}
	if sess.SetupIntent != nil {
		out.SetupIntentID = sess.SetupIntent.ID
	}
	return out
}

func wrapStripeErr(err error) error {
	if err == nil {
		return nil
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &GatewayError{
			Type:        string(sErr.Type),
			Code:        string(sErr.Code),
			DeclineCode: string(sErr.DeclineCode),
			Param:       sErr.Param,
			Message:     sErr.Msg,
			RequestID:   sErr.RequestID,
			Err:         err,
		}
	}
	return err
}
