package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for payment-level observability.
// All metrics include payment_method where the gateway reports one.
type BusinessMetrics struct {
	// Checkout
	IntentsCreated  *prometheus.CounterVec
	SessionsCreated *prometheus.CounterVec
	PaymentAttempts *prometheus.CounterVec

	// Outcomes
	PaymentSucceeded *prometheus.CounterVec
	PaymentFailed    *prometheus.CounterVec
	PaymentOnHold    *prometheus.CounterVec
	OrderValue       *prometheus.HistogramVec

	// Webhooks
	WebhookReceived    *prometheus.CounterVec
	WebhookProcessed   *prometheus.CounterVec
	WebhookFailed      *prometheus.CounterVec
	WebhookLatency     *prometheus.HistogramVec
	WebhookLastSuccess prometheus.Gauge
	WebhookLastFailure prometheus.Gauge

	// Refunds
	RefundsIssued *prometheus.CounterVec
	RefundAmount  *prometheus.CounterVec

	// Customer vault
	CustomersCreated *prometheus.CounterVec
	CustomersHealed  *prometheus.CounterVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "gateway"
	}

	subsystem := "payments"

	m := &BusinessMetrics{
		// =======================================================================
		// Checkout
		// =======================================================================
		IntentsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "intents_created_total",
				Help:      "Total payment intents created",
			},
			[]string{"currency"},
		),
		SessionsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_created_total",
				Help:      "Total hosted checkout sessions created",
			},
			[]string{"currency"},
		),
		PaymentAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_attempts_total",
				Help:      "Total payment attempts",
			},
			[]string{"currency"},
		),

		// =======================================================================
		// Outcomes
		// =======================================================================
		PaymentSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total payments finalized as paid",
			},
			[]string{"payment_method"},
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total failed payments",
			},
			[]string{"payment_method", "failure_reason"},
		),
		PaymentOnHold: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_on_hold_total",
				Help:      "Total payments held awaiting capture or settlement",
			},
			[]string{"payment_method"},
		),
		OrderValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_minor_units",
				Help:      "Charged amount distribution in minor currency units",
				Buckets:   []float64{1000, 2500, 5000, 7500, 10000, 15000, 25000, 50000, 100000},
			},
			[]string{"currency"},
		),

		// =======================================================================
		// Webhooks (Stripe)
		// =======================================================================
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhooks received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhooks successfully processed",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook processing failures",
			},
			[]string{"event_type", "error_type"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),
		WebhookLastSuccess: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_last_success_timestamp_seconds",
				Help:      "Creation time of the newest successfully processed webhook event",
			},
		),
		WebhookLastFailure: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_last_failure_timestamp_seconds",
				Help:      "Time of the most recent webhook processing failure",
			},
		),

		// =======================================================================
		// Refunds
		// =======================================================================
		RefundsIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_issued_total",
				Help:      "Total refunds issued to customers",
			},
			[]string{"reason"}, // reason: requested_by_customer, fraudulent, duplicate
		),
		RefundAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_amount_minor_units",
				Help:      "Total refund amount in minor currency units",
			},
			[]string{"currency"},
		),

		// =======================================================================
		// Customer Vault
		// =======================================================================
		CustomersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_created_total",
				Help:      "Total gateway customers created",
			},
			[]string{"kind"}, // kind: guest, registered
		),
		CustomersHealed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_healed_total",
				Help:      "Total stale customer references detected and recreated",
			},
			[]string{},
		),

		// =======================================================================
		// External API Performance
		// =======================================================================
		StripeAPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration (helps differentiate app slowness from Stripe issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: create_payment_intent, create_session, create_customer, etc.
		),
	}

	return m
}

// Global instance for easy access from handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
