// Package routes maps URL patterns to handlers. Route registration is
// separated from handler construction so main stays a pure wiring file.
package routes

import (
	"net/http"

	"github.com/payaddons/stripe-gateway/internal/middleware"
	"github.com/payaddons/stripe-gateway/internal/router"
)

// RegisterCheckoutRoutes registers the storefront-facing checkout API.
// Checkout bodies are small; anything beyond 1MB is not a legitimate
// request.
func RegisterCheckoutRoutes(r *router.Router, deps CheckoutDeps) {
	limit := middleware.MaxBodySize(middleware.SmallMaxBodySize)

	r.Post("/api/checkout/pay", deps.CheckoutHandler.HandlePay, limit)
	r.Post("/api/checkout/express", deps.CheckoutHandler.HandleExpress, limit)
	r.Get("/api/checkout/verify", deps.CheckoutHandler.HandleVerify)
	r.Post("/api/orders/{id}/refund", deps.CheckoutHandler.HandleRefund, limit)
}

// RegisterWebhookRoutes registers processor webhook routes.
//
// Webhook routes carry no authentication middleware. The handler
// verifies the processor signature itself and must see the raw body,
// so no body-rewriting middleware belongs here either.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/stripe", deps.StripeHandler.HandleWebhook)
	r.Get("/webhooks/stripe/status", deps.StripeHandler.HandleStatus)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle(http.MethodGet, "/metrics", deps.MetricsHandler)
}
