package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/domain"
	"github.com/payaddons/stripe-gateway/internal/order"
	"github.com/payaddons/stripe-gateway/internal/service"
)

type stubPaymentService struct {
	processReq   *service.CheckoutRequest
	processRes   *service.CheckoutResult
	processErr   error
	expressReq   *service.CheckoutRequest
	expressRes   *service.CheckoutResult
	verifyParams *service.VerifyParams
	verifyRes    *service.FinalizeResult
	verifyErr    error
	refundCalls  []float64
	refundErr    error
}

func (s *stubPaymentService) ProcessPayment(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.processReq = &req
	return s.processRes, s.processErr
}

func (s *stubPaymentService) CreateExpressIntent(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.expressReq = &req
	return s.expressRes, s.processErr
}

func (s *stubPaymentService) VerifyReturn(ctx context.Context, params service.VerifyParams) (*service.FinalizeResult, error) {
	s.verifyParams = &params
	return s.verifyRes, s.verifyErr
}

func (s *stubPaymentService) FinalizeIntent(ctx context.Context, o *order.Order, intent *billing.PaymentIntent) (*service.FinalizeResult, error) {
	return nil, nil
}

func (s *stubPaymentService) ProcessResponse(ctx context.Context, o *order.Order, charge *billing.Charge) error {
	return nil
}

func (s *stubPaymentService) Refund(ctx context.Context, orderID int64, amount float64, reason string) error {
	s.refundCalls = append(s.refundCalls, amount)
	return s.refundErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkoutSettings() service.Settings {
	return service.Settings{
		SiteName: "Acme Store",
		SiteURL:  "https://acme.example",
		BaseURL:  "https://pay.acme.example",
	}
}

func validCheckoutBody() string {
	return `{
		"order_id": 100,
		"order_key": "order_key_100",
		"currency": "usd",
		"total": 25.00,
		"email": "shopper@example.com",
		"first_name": "Ada",
		"last_name": "Lovelace",
		"line_items": [
			{"name": "Coffee", "amount": 2500, "quantity": 1}
		]
	}`
}

func TestHandlePayCreatesOrderAndSession(t *testing.T) {
	store := order.NewMemoryStore()
	payments := &stubPaymentService{
		processRes: &service.CheckoutResult{RedirectURL: "https://checkout.stripe.com/pay/cs_1", SessionID: "cs_1"},
	}
	h := NewCheckoutHandler(payments, store, checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", strings.NewReader(validCheckoutBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePay(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result service.CheckoutResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.RedirectURL != "https://checkout.stripe.com/pay/cs_1" {
		t.Errorf("redirect = %q", result.RedirectURL)
	}

	o, err := store.Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("order was not persisted: %v", err)
	}
	if o.Currency != "USD" || o.Total != 25.00 || o.Email != "shopper@example.com" {
		t.Errorf("unexpected order: %+v", o)
	}
	if payments.processReq == nil {
		t.Fatal("ProcessPayment was not called")
	}
	if len(payments.processReq.LineItems) != 1 || payments.processReq.LineItems[0].Amount != 2500 {
		t.Errorf("line items not forwarded: %+v", payments.processReq.LineItems)
	}
	if payments.processReq.Express {
		t.Error("hosted checkout must not be express")
	}
}

func TestHandlePayValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing order id", `{"order_key":"k","currency":"usd","total":1,"email":"a@b.com","line_items":[{"name":"x","amount":100,"quantity":1}]}`},
		{"bad email", `{"order_id":1,"order_key":"k","currency":"usd","total":1,"email":"nope","line_items":[{"name":"x","amount":100,"quantity":1}]}`},
		{"no line items", `{"order_id":1,"order_key":"k","currency":"usd","total":1,"email":"a@b.com","line_items":[]}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCheckoutHandler(&stubPaymentService{}, order.NewMemoryStore(), checkoutSettings(), discardLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			rec := httptest.NewRecorder()
			h.HandlePay(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}

			var envelope struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if envelope.Error.Code != domain.EINVALID {
				t.Errorf("error code = %q, want %q", envelope.Error.Code, domain.EINVALID)
			}
			if strings.Contains(envelope.Error.Message, "internal error") {
				t.Errorf("message %q leaks the internal fallback", envelope.Error.Message)
			}
		})
	}
}

func TestHandlePayRejectsKeyMismatch(t *testing.T) {
	store := order.NewMemoryStore()
	existing := &order.Order{ID: 100, Key: "other_key", Status: order.StatusPending}
	if err := store.Save(context.Background(), existing); err != nil {
		t.Fatal(err)
	}

	h := NewCheckoutHandler(&stubPaymentService{}, store, checkoutSettings(), discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", strings.NewReader(validCheckoutBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePay(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandlePayRejectsPaidOrder(t *testing.T) {
	store := order.NewMemoryStore()
	existing := &order.Order{ID: 100, Key: "order_key_100", Status: order.StatusCompleted}
	if err := store.Save(context.Background(), existing); err != nil {
		t.Fatal(err)
	}

	h := NewCheckoutHandler(&stubPaymentService{}, store, checkoutSettings(), discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/pay", strings.NewReader(validCheckoutBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePay(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleExpress(t *testing.T) {
	store := order.NewMemoryStore()
	payments := &stubPaymentService{
		expressRes: &service.CheckoutResult{ClientSecret: "pi_1_secret", IntentID: "pi_1"},
	}
	h := NewCheckoutHandler(payments, store, checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/checkout/express", strings.NewReader(validCheckoutBody()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleExpress(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if payments.expressReq == nil || !payments.expressReq.Express {
		t.Fatal("express request not marked express")
	}

	var result service.CheckoutResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.ClientSecret != "pi_1_secret" {
		t.Errorf("client secret = %q", result.ClientSecret)
	}
}

func TestHandleVerifyRedirects(t *testing.T) {
	tests := []struct {
		name     string
		result   *service.FinalizeResult
		wantDest string
	}{
		{
			name:     "completed order goes to order received",
			result:   &service.FinalizeResult{Status: order.StatusProcessing},
			wantDest: "https://acme.example/checkout/order-received/100?key=order_key_100",
		},
		{
			name:     "locked order still goes to order received",
			result:   &service.FinalizeResult{Locked: true},
			wantDest: "https://acme.example/checkout/order-received/100?key=order_key_100",
		},
		{
			name:     "requires action follows the processor redirect",
			result:   &service.FinalizeResult{RedirectURL: "https://hooks.stripe.com/redirect/1"},
			wantDest: "https://hooks.stripe.com/redirect/1",
		},
		{
			name:     "failed payment returns to checkout",
			result:   &service.FinalizeResult{Failed: true, Message: "This payment failed to clear."},
			wantDest: "https://acme.example/checkout?order_id=100&payment_failed=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &stubPaymentService{verifyRes: tt.result}
			h := NewCheckoutHandler(payments, order.NewMemoryStore(), checkoutSettings(), discardLogger())

			req := httptest.NewRequest(http.MethodGet,
				"/api/checkout/verify?order_id=100&key=order_key_100&session_id=cs_1&token=tok", nil)
			rec := httptest.NewRecorder()
			h.HandleVerify(rec, req)

			if rec.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
			}
			if loc := rec.Header().Get("Location"); loc != tt.wantDest {
				t.Errorf("location = %q, want %q", loc, tt.wantDest)
			}
			if payments.verifyParams.SessionID != "cs_1" || payments.verifyParams.Token != "tok" {
				t.Errorf("verify params not forwarded: %+v", payments.verifyParams)
			}
		})
	}
}

func TestHandleVerifyJSON(t *testing.T) {
	payments := &stubPaymentService{verifyRes: &service.FinalizeResult{Status: order.StatusProcessing}}
	h := NewCheckoutHandler(payments, order.NewMemoryStore(), checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodGet,
		"/api/checkout/verify?order_id=100&key=order_key_100&session_id=cs_1&token=tok", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleVerify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp verifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != order.StatusProcessing {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHandleVerifyBadToken(t *testing.T) {
	payments := &stubPaymentService{
		verifyErr: domain.Errorf(domain.EUNAUTHORIZED, "payment.verify", "Invalid verification token."),
	}
	h := NewCheckoutHandler(payments, order.NewMemoryStore(), checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodGet,
		"/api/checkout/verify?order_id=100&key=order_key_100&token=forged", nil)
	rec := httptest.NewRecorder()
	h.HandleVerify(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleRefund(t *testing.T) {
	payments := &stubPaymentService{}
	h := NewCheckoutHandler(payments, order.NewMemoryStore(), checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/100/refund",
		strings.NewReader(`{"amount": 10.00, "reason": "requested_by_customer"}`))
	req.SetPathValue("id", "100")
	rec := httptest.NewRecorder()
	h.HandleRefund(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(payments.refundCalls) != 1 || payments.refundCalls[0] != 10.00 {
		t.Errorf("refund calls = %v", payments.refundCalls)
	}
}

func TestHandleRefundDuplicateIsSuccess(t *testing.T) {
	payments := &stubPaymentService{refundErr: domain.ErrRefundAlreadyProcessed}
	h := NewCheckoutHandler(payments, order.NewMemoryStore(), checkoutSettings(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/100/refund",
		strings.NewReader(`{"amount": 10.00}`))
	req.SetPathValue("id", "100")
	rec := httptest.NewRecorder()
	h.HandleRefund(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
