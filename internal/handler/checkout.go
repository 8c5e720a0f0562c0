package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/domain"
	"github.com/payaddons/stripe-gateway/internal/order"
	"github.com/payaddons/stripe-gateway/internal/service"
)

// CheckoutHandler exposes the payment endpoints the storefront calls:
// starting a hosted checkout, creating express wallet intents, the
// signed return URL, and refunds.
type CheckoutHandler struct {
	payments service.PaymentService
	store    order.Store
	settings service.Settings
	validate *validator.Validate
	logger   *slog.Logger
}

func NewCheckoutHandler(payments service.PaymentService, store order.Store, settings service.Settings, logger *slog.Logger) *CheckoutHandler {
	v := validator.New()
	// Report field errors under their wire names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CheckoutHandler{
		payments: payments,
		store:    store,
		settings: settings,
		validate: v,
		logger:   logger,
	}
}

type checkoutLineItem struct {
	Name     string `json:"name" validate:"required"`
	Amount   int64  `json:"amount" validate:"gte=0"`
	Quantity int64  `json:"quantity" validate:"gte=1"`
	TaxCode  string `json:"tax_code"`
}

type checkoutAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type checkoutShipping struct {
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Address checkoutAddress `json:"address"`
}

// checkoutRequest is the order snapshot the storefront posts when the
// shopper starts paying. The order is upserted locally so webhook
// reconciliation can find it later.
type checkoutRequest struct {
	OrderID   int64              `json:"order_id" validate:"required,gt=0"`
	OrderKey  string             `json:"order_key" validate:"required"`
	Currency  string             `json:"currency" validate:"required,len=3"`
	Total     float64            `json:"total" validate:"gte=0"`
	Email     string             `json:"email" validate:"required,email"`
	FirstName string             `json:"first_name"`
	LastName  string             `json:"last_name"`
	Phone     string             `json:"phone"`
	Country   string             `json:"country" validate:"omitempty,len=2"`
	Locale    string             `json:"locale"`
	UserID    int64              `json:"user_id" validate:"gte=0"`
	LineItems []checkoutLineItem `json:"line_items" validate:"required,min=1,dive"`
	Shipping  *checkoutShipping  `json:"shipping"`

	// SavePaymentMethod is the shopper's opt-in to keep the card on file.
	SavePaymentMethod bool `json:"save_payment_method"`
}

// HandlePay starts a hosted checkout session and returns the redirect URL.
func (h *CheckoutHandler) HandlePay(w http.ResponseWriter, r *http.Request) {
	h.startPayment(w, r, false)
}

// HandleExpress creates a payment intent for wallet flows that confirm
// client-side and returns its client secret.
func (h *CheckoutHandler) HandleExpress(w http.ResponseWriter, r *http.Request) {
	h.startPayment(w, r, true)
}

func (h *CheckoutHandler) startPayment(w http.ResponseWriter, r *http.Request, express bool) {
	const op = "checkout.pay"

	req, err := h.decodeCheckoutRequest(r)
	if err != nil {
		ValidationErrorResponse(w, r, err)
		return
	}

	o, err := h.upsertOrder(r.Context(), req)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	svcReq := service.CheckoutRequest{
		Order:             o,
		LineItems:         toLineItems(req.LineItems),
		Shipping:          toShipping(req.Shipping),
		Express:           express,
		SavePaymentMethod: req.SavePaymentMethod,
	}

	var result *service.CheckoutResult
	if express {
		result, err = h.payments.CreateExpressIntent(r.Context(), svcReq)
	} else {
		result, err = h.payments.ProcessPayment(r.Context(), svcReq)
	}
	if err != nil {
		h.logger.Error("checkout start failed",
			"op", op,
			"order_id", req.OrderID,
			"express", express,
			"error", err)
		ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleVerify is the signed return URL target. The shopper lands here
// in a browser after the hosted checkout page, so the response is a
// redirect unless the caller asks for JSON.
func (h *CheckoutHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	orderID, err := strconv.ParseInt(q.Get("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		ErrorResponse(w, r, domain.Invalid("checkout.verify", "Invalid order reference."))
		return
	}

	params := service.VerifyParams{
		OrderID:   orderID,
		OrderKey:  q.Get("key"),
		SessionID: q.Get("session_id"),
		Token:     q.Get("token"),
	}

	result, err := h.payments.VerifyReturn(r.Context(), params)
	if err != nil {
		h.logger.Error("return verification failed", "order_id", orderID, "error", err)
		ErrorResponse(w, r, err)
		return
	}

	if acceptsJSON(r) {
		writeJSON(w, http.StatusOK, verifyResponse{
			Status:      result.Status,
			Locked:      result.Locked,
			Failed:      result.Failed,
			Message:     result.Message,
			RedirectURL: h.redirectFor(result, orderID, params.OrderKey),
		})
		return
	}

	http.Redirect(w, r, h.redirectFor(result, orderID, params.OrderKey), http.StatusSeeOther)
}

type verifyResponse struct {
	Status      string `json:"status,omitempty"`
	Locked      bool   `json:"locked,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
	Message     string `json:"message,omitempty"`
	RedirectURL string `json:"redirect_url"`
}

// redirectFor picks the browser destination after a verify pass.
// A held lock counts as pending; the webhook path settles the order
// and the order-received page renders whatever state it finds.
func (h *CheckoutHandler) redirectFor(result *service.FinalizeResult, orderID int64, key string) string {
	if result.RedirectURL != "" {
		return result.RedirectURL
	}
	if result.Failed {
		return fmt.Sprintf("%s/checkout?order_id=%d&payment_failed=1", h.settings.SiteURL, orderID)
	}
	return fmt.Sprintf("%s/checkout/order-received/%d?key=%s", h.settings.SiteURL, orderID, key)
}

type refundRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Reason string  `json:"reason"`
}

// HandleRefund refunds part or all of an order's charge.
func (h *CheckoutHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || orderID <= 0 {
		ErrorResponse(w, r, domain.Invalid("refund.create", "Invalid order reference."))
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, domain.Invalid("refund.create", "Invalid request body."))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ValidationErrorResponse(w, r, h.validationError("refund.create", err))
		return
	}

	if err := h.payments.Refund(r.Context(), orderID, req.Amount, req.Reason); err != nil {
		if errors.Is(err, domain.ErrRefundAlreadyProcessed) {
			// The refund is already on the order; report it as done.
			writeJSON(w, http.StatusOK, map[string]bool{"refunded": true})
			return
		}
		h.logger.Error("refund failed", "order_id", orderID, "error", err)
		ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"refunded": true})
}

func (h *CheckoutHandler) decodeCheckoutRequest(r *http.Request) (*checkoutRequest, error) {
	const op = "checkout.decode"

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domain.Invalid(op, "Invalid request body.")
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, h.validationError(op, err)
	}
	return &req, nil
}

// validationError converts validator failures into the field-level
// error envelope.
func (h *CheckoutHandler) validationError(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Invalid(op, "Invalid request.")
	}

	var out error
	for _, fe := range fieldErrs {
		msg := fieldMessage(fe)
		if out == nil {
			out = domain.NewValidationError(op, fe.Field(), msg)
			continue
		}
		out = domain.AddFieldError(out, fe.Field(), msg)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// upsertOrder records the posted order snapshot. An existing order is
// refreshed in place; a key mismatch on an existing order is rejected
// so one shopper cannot restart another's checkout.
func (h *CheckoutHandler) upsertOrder(ctx context.Context, req *checkoutRequest) (*order.Order, error) {
	const op = "checkout.upsert_order"

	o, err := h.store.Get(ctx, req.OrderID)
	switch {
	case err == nil:
		if subtle.ConstantTimeCompare([]byte(o.Key), []byte(req.OrderKey)) != 1 {
			return nil, domain.Errorf(domain.EUNAUTHORIZED, op, "Order key mismatch.")
		}
		if o.IsPaid() {
			return nil, domain.Errorf(domain.ECONFLICT, op, "This order has already been paid.")
		}
	case domain.ErrorCode(err) == domain.ENOTFOUND:
		o = &order.Order{
			ID:     req.OrderID,
			Key:    req.OrderKey,
			Status: order.StatusPending,
		}
	default:
		return nil, err
	}

	o.Currency = strings.ToUpper(req.Currency)
	o.Total = req.Total
	o.Email = req.Email
	o.FirstName = req.FirstName
	o.LastName = req.LastName
	o.Phone = req.Phone
	o.Country = strings.ToUpper(req.Country)
	o.Locale = req.Locale
	o.UserID = req.UserID

	if err := h.store.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func toLineItems(items []checkoutLineItem) []billing.SessionLineItem {
	out := make([]billing.SessionLineItem, 0, len(items))
	for _, item := range items {
		out = append(out, billing.SessionLineItem{
			Name:     item.Name,
			Amount:   item.Amount,
			Quantity: item.Quantity,
			TaxCode:  item.TaxCode,
		})
	}
	return out
}

func toShipping(s *checkoutShipping) *billing.ShippingDetails {
	if s == nil {
		return nil
	}
	return &billing.ShippingDetails{
		Name:  s.Name,
		Phone: s.Phone,
		Address: billing.Address{
			Line1:      s.Address.Line1,
			Line2:      s.Address.Line2,
			City:       s.Address.City,
			State:      s.Address.State,
			PostalCode: s.Address.PostalCode,
			Country:    s.Address.Country,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
