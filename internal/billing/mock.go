package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Each method can be overridden with a func field; otherwise it
// simulates a successful call against the in-memory maps.
type MockProvider struct {
	CreateCustomerFunc         func(ctx context.Context, params CreateCustomerParams) (*Customer, error)
	UpdateCustomerFunc         func(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error)
	GetCustomerFunc            func(ctx context.Context, params GetCustomerParams) (*Customer, error)
	CreatePaymentIntentFunc    func(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)
	GetPaymentIntentFunc       func(ctx context.Context, params GetPaymentIntentParams) (*PaymentIntent, error)
	CancelPaymentIntentFunc    func(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	CreateCheckoutSessionFunc  func(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)
	GetCheckoutSessionFunc     func(ctx context.Context, params GetCheckoutSessionParams) (*CheckoutSession, error)
	GetChargeFunc              func(ctx context.Context, chargeID string) (*Charge, error)
	GetBalanceTransactionFunc  func(ctx context.Context, balanceTransactionID string) (*BalanceTransaction, error)
	CreateRefundFunc           func(ctx context.Context, params CreateRefundParams) (*Refund, error)
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// Stored objects for default behavior.
	Customers           map[string]*Customer
	PaymentIntents      map[string]*PaymentIntent
	Sessions            map[string]*CheckoutSession
	Charges             map[string]*Charge
	BalanceTransactions map[string]*BalanceTransaction

	// CallLog tracks method calls for test assertions.
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:           make(map[string]*Customer),
		PaymentIntents:      make(map[string]*PaymentIntent),
		Sessions:            make(map[string]*CheckoutSession),
		Charges:             make(map[string]*Charge),
		BalanceTransactions: make(map[string]*BalanceTransaction),
		CallLog:             []string{},
	}
}

func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	customer := &Customer{
		ID:        "cus_" + uuid.New().String()[:8],
		Email:     params.Email,
		Name:      params.Name,
		CreatedAt: time.Now(),
	}
	m.Customers[customer.ID] = customer
	return customer, nil
}

func (m *MockProvider) UpdateCustomer(ctx context.Context, customerID string, params UpdateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateCustomer(%s)", customerID))

	if m.UpdateCustomerFunc != nil {
		return m.UpdateCustomerFunc(ctx, customerID, params)
	}

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, &GatewayError{
			Type:    "invalid_request_error",
			Code:    "resource_missing",
			Message: fmt.Sprintf("No such customer: '%s'", customerID),
		}
	}
	if params.Email != "" {
		customer.Email = params.Email
	}
	if params.Name != "" {
		customer.Name = params.Name
	}
	return customer, nil
}

func (m *MockProvider) GetCustomer(ctx context.Context, params GetCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomer(%s)", params.CustomerID))

	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, params)
	}

	customer, exists := m.Customers[params.CustomerID]
	if !exists {
		return nil, &GatewayError{
			Type:    "invalid_request_error",
			Code:    "resource_missing",
			Message: fmt.Sprintf("No such customer: '%s'", params.CustomerID),
		}
	}
	return customer, nil
}

func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.Amount, params.Currency))

	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}

	pi := &PaymentIntent{
		ID:           "pi_" + uuid.New().String()[:8],
		ClientSecret: "pi_secret_" + uuid.New().String()[:8],
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       PaymentIntentStatusRequiresPayment,
		CustomerID:   params.CustomerID,
		Metadata:     params.Metadata,
		CreatedAt:    time.Now(),
	}
	m.PaymentIntents[pi.ID] = pi
	return pi, nil
}

func (m *MockProvider) GetPaymentIntent(ctx context.Context, params GetPaymentIntentParams) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetPaymentIntent(%s)", params.PaymentIntentID))

	if m.GetPaymentIntentFunc != nil {
		return m.GetPaymentIntentFunc(ctx, params)
	}

	pi, exists := m.PaymentIntents[params.PaymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}
	return pi, nil
}

func (m *MockProvider) CancelPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelPaymentIntent(%s)", paymentIntentID))

	if m.CancelPaymentIntentFunc != nil {
		return m.CancelPaymentIntentFunc(ctx, paymentIntentID)
	}

	pi, exists := m.PaymentIntents[paymentIntentID]
	if !exists {
		return nil, ErrPaymentIntentNotFound
	}
	pi.Status = PaymentIntentStatusCanceled
	return pi, nil
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s)", params.Currency))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	var total int64
	for _, item := range params.LineItems {
		total += item.Amount * item.Quantity
	}

	sess := &CheckoutSession{
		ID:            "cs_" + uuid.New().String()[:8],
		URL:           "https://checkout.stripe.com/c/pay/cs_test_" + uuid.New().String()[:8],
		Status:        SessionStatusOpen,
		PaymentStatus: SessionPaymentStatusUnpaid,
		AmountTotal:   total,
		Currency:      params.Currency,
		CustomerID:    params.CustomerID,
		Metadata:      params.Metadata,
		CreatedAt:     time.Now(),
	}
	m.Sessions[sess.ID] = sess
	return sess, nil
}

func (m *MockProvider) GetCheckoutSession(ctx context.Context, params GetCheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCheckoutSession(%s)", params.SessionID))

	if m.GetCheckoutSessionFunc != nil {
		return m.GetCheckoutSessionFunc(ctx, params)
	}

	sess, exists := m.Sessions[params.SessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *MockProvider) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCharge(%s)", chargeID))

	if m.GetChargeFunc != nil {
		return m.GetChargeFunc(ctx, chargeID)
	}

	ch, exists := m.Charges[chargeID]
	if !exists {
		return nil, ErrChargeNotFound
	}
	return ch, nil
}

func (m *MockProvider) GetBalanceTransaction(ctx context.Context, balanceTransactionID string) (*BalanceTransaction, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetBalanceTransaction(%s)", balanceTransactionID))

	if m.GetBalanceTransactionFunc != nil {
		return m.GetBalanceTransactionFunc(ctx, balanceTransactionID)
	}

	bt, exists := m.BalanceTransactions[balanceTransactionID]
	if !exists {
		return nil, fmt.Errorf("billing: balance transaction not found: %s", balanceTransactionID)
	}
	return bt, nil
}

func (m *MockProvider) CreateRefund(ctx context.Context, params CreateRefundParams) (*Refund, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateRefund(%s%s, %d)", params.PaymentIntentID, params.ChargeID, params.Amount))

	if m.CreateRefundFunc != nil {
		return m.CreateRefundFunc(ctx, params)
	}

	return &Refund{
		ID:        "re_" + uuid.New().String()[:8],
		ChargeID:  params.ChargeID,
		Amount:    params.Amount,
		Status:    "succeeded",
		Reason:    params.Reason,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return nil
}
