// Package order holds the order entity the payment flow reconciles
// against, with a postgres-backed store and an in-memory store for
// tests and local development.
package order

import (
	"context"
	"strconv"
	"time"

	"github.com/payaddons/stripe-gateway/internal/domain"
)

// Order statuses.
const (
	StatusPending    = "pending"
	StatusOnHold     = "on-hold"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Meta keys written by the payment flow. Every decision the webhook
// handlers make is recorded here so replayed events are no-ops.
const (
	MetaIntentID       = "_stripe_intent_id"
	MetaSetupIntentID  = "_stripe_setup_intent"
	MetaChargeCaptured = "_stripe_charge_captured"
	MetaRefundID       = "_stripe_refund_id"
	MetaFee            = "_stripe_fee"
	MetaNet            = "_stripe_net"
	MetaCurrency       = "_stripe_currency"
	MetaStockReduced   = "_order_stock_reduced"
	MetaStatusFinal    = "_stripe_status_final"
	MetaCustomerID     = "_stripe_customer_id"
)

// Note is an audit entry on an order.
type Note struct {
	Message   string
	CreatedAt time.Time
}

// OrderRefund is a refund recorded against an order.
type OrderRefund struct {
	RefundID  string
	Amount    float64
	Reason    string
	CreatedAt time.Time
}

// Order is the unit the payment flow operates on.
type Order struct {
	ID            int64
	Key           string
	Status        string
	Currency      string
	Total         float64
	Email         string
	FirstName     string
	LastName      string
	Phone         string
	Country       string
	Locale        string
	UserID        int64 // 0 for guest checkout
	TransactionID string
	Meta          map[string]string
	Notes         []Note
	Refunds       []OrderRefund
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GetMeta returns the meta value for key, or "" when unset.
func (o *Order) GetMeta(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// SetMeta sets a meta value.
func (o *Order) SetMeta(key, value string) {
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
}

// DeleteMeta removes a meta key.
func (o *Order) DeleteMeta(key string) {
	delete(o.Meta, key)
}

// AddNote appends an audit note.
func (o *Order) AddNote(message string) {
	o.Notes = append(o.Notes, Note{Message: message, CreatedAt: time.Now()})
}

// IntentID returns the payment intent attached to the order, if any.
func (o *Order) IntentID() string {
	return o.GetMeta(MetaIntentID)
}

// SetupIntentID returns the setup intent attached to the order, if any.
func (o *Order) SetupIntentID() string {
	return o.GetMeta(MetaSetupIntentID)
}

// ChargeCaptured reports whether the order's charge has been captured.
// Only an explicit "no" means uncaptured; orders from before the
// capture flag existed are treated as captured.
func (o *Order) ChargeCaptured() bool {
	return o.GetMeta(MetaChargeCaptured) != "no"
}

// HasStatus reports whether the order is in one of the given statuses.
func (o *Order) HasStatus(statuses ...string) bool {
	for _, s := range statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// IsPaid reports whether payment has already completed for the order.
func (o *Order) IsPaid() bool {
	return o.HasStatus(StatusProcessing, StatusCompleted)
}

// StatusFinal reports whether the order status is locked against
// webhook-driven changes (set by the merchant or a prior terminal event).
func (o *Order) StatusFinal() bool {
	return o.GetMeta(MetaStatusFinal) == "yes"
}

// PaymentComplete marks the order paid. Returns
// domain.ErrPaymentAlreadyProcessed when payment already completed, so
// redelivered events stay idempotent.
func (o *Order) PaymentComplete(transactionID string) error {
	if o.IsPaid() {
		return domain.ErrPaymentAlreadyProcessed
	}
	if transactionID != "" {
		o.TransactionID = transactionID
	}
	o.Status = StatusProcessing
	o.SetMeta(MetaStatusFinal, "yes")
	return nil
}

// Fail moves the order to failed with an audit note.
func (o *Order) Fail(reason string) {
	o.Status = StatusFailed
	if reason != "" {
		o.AddNote(reason)
	}
}

// ReduceStock flags inventory as taken for this order. The flag guards
// against double reduction when both the redirect and the webhook
// finalize the same payment.
func (o *Order) ReduceStock() bool {
	if o.GetMeta(MetaStockReduced) == "yes" {
		return false
	}
	o.SetMeta(MetaStockReduced, "yes")
	return true
}

// Fee returns the accumulated processor fee for the order.
func (o *Order) Fee() float64 {
	f, _ := strconv.ParseFloat(o.GetMeta(MetaFee), 64)
	return f
}

// Net returns the accumulated net for the order.
func (o *Order) Net() float64 {
	n, _ := strconv.ParseFloat(o.GetMeta(MetaNet), 64)
	return n
}

// AddFees accumulates fee and net deltas and records the settlement
// currency. Partial captures and partial refunds each settle their own
// balance transaction, so deltas add up rather than overwrite.
func (o *Order) AddFees(fee, net float64, currency string) {
	o.SetMeta(MetaFee, strconv.FormatFloat(o.Fee()+fee, 'f', -1, 64))
	o.SetMeta(MetaNet, strconv.FormatFloat(o.Net()+net, 'f', -1, 64))
	if currency != "" {
		o.SetMeta(MetaCurrency, currency)
	}
}

// RefundByID returns the recorded refund with the given processor id.
func (o *Order) RefundByID(refundID string) *OrderRefund {
	for i := range o.Refunds {
		if o.Refunds[i].RefundID == refundID {
			return &o.Refunds[i]
		}
	}
	return nil
}

// AddRefund records a refund against the order.
func (o *Order) AddRefund(refundID string, amount float64, reason string) {
	o.Refunds = append(o.Refunds, OrderRefund{
		RefundID:  refundID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	o.SetMeta(MetaRefundID, refundID)
}

// RemoveRefund deletes a recorded refund, used when the processor
// reports the refund failed or was canceled after the fact.
func (o *Order) RemoveRefund(refundID string) bool {
	for i := range o.Refunds {
		if o.Refunds[i].RefundID == refundID {
			o.Refunds = append(o.Refunds[:i], o.Refunds[i+1:]...)
			if o.GetMeta(MetaRefundID) == refundID {
				o.DeleteMeta(MetaRefundID)
			}
			return true
		}
	}
	return false
}

// Store persists orders and the user-to-processor-customer mapping.
type Store interface {
	// Get retrieves an order by id.
	Get(ctx context.Context, id int64) (*Order, error)

	// GetByKey retrieves an order by its order key.
	GetByKey(ctx context.Context, key string) (*Order, error)

	// ByIntentID retrieves the order holding the given payment intent.
	// At most one order holds an intent; the postgres store enforces
	// this with a unique index.
	ByIntentID(ctx context.Context, intentID string) (*Order, error)

	// ByChargeID retrieves the order with the given transaction id.
	ByChargeID(ctx context.Context, chargeID string) (*Order, error)

	// BySetupIntentID retrieves the order holding the given setup intent.
	BySetupIntentID(ctx context.Context, setupIntentID string) (*Order, error)

	// Save persists the order, its meta, notes and refunds.
	Save(ctx context.Context, o *Order) error

	// CustomerID returns the processor customer id stored for a user,
	// or "" when none is stored.
	CustomerID(ctx context.Context, userID int64) (string, error)

	// SaveCustomerID stores the processor customer id for a user.
	SaveCustomerID(ctx context.Context, userID int64, customerID string) error

	// DeleteCustomerID clears the stored mapping, used by the
	// no-such-customer self-heal.
	DeleteCustomerID(ctx context.Context, userID int64) error
}
