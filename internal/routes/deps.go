package routes

import (
	"net/http"

	"github.com/payaddons/stripe-gateway/internal/handler"
	"github.com/payaddons/stripe-gateway/internal/handler/webhook"
)

// CheckoutDeps contains dependencies for the storefront-facing
// checkout API.
type CheckoutDeps struct {
	CheckoutHandler *handler.CheckoutHandler
}

// WebhookDeps contains dependencies for processor webhook routes.
type WebhookDeps struct {
	StripeHandler *webhook.StripeHandler
}

// OpsDeps contains dependencies for operational endpoints.
type OpsDeps struct {
	// MetricsHandler serves the Prometheus scrape endpoint.
	MetricsHandler http.Handler
}
