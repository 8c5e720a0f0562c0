package domain

// Payment-related domain errors.
// Webhook handlers treat the "already processed" family as success so that
// Stripe's at-least-once delivery and redeliveries stay idempotent.
var (
	ErrOrderNotFound           = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrPaymentAlreadyProcessed = &Error{Code: ECONFLICT, Message: "Payment already processed for this order"}
	ErrRefundAlreadyProcessed  = &Error{Code: ECONFLICT, Message: "Refund already recorded for this order"}
	ErrOrderLocked             = &Error{Code: ECONFLICT, Message: "Order payment is being processed by another request"}
	ErrChargeNotCaptured       = &Error{Code: EPAYMENT, Message: "Charge has not been captured"}
	ErrMissingOrderID          = &Error{Code: EINVALID, Message: "Order ID missing from event metadata"}
	ErrSubscriptionsPremium    = &Error{Code: ENOTIMPL, Message: "Subscriptions require the premium version"}
)
