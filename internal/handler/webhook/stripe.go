// Package webhook receives Stripe event notifications over HTTP.
//
// The handler owns transport concerns only: signature verification,
// payload decoding, response codes and delivery monitoring. Event
// semantics live in the service layer.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/service"
	"github.com/payaddons/stripe-gateway/internal/telemetry"
)

// maxPayloadBytes caps webhook request bodies. Stripe payloads are a
// few KB; anything larger is not a legitimate event.
const maxPayloadBytes = 1 << 20

// StripeHandler handles Stripe webhook deliveries.
type StripeHandler struct {
	provider billing.Provider
	webhooks service.WebhookService
	monitor  *telemetry.WebhookMonitor
	secret   string
	logger   *slog.Logger
}

// NewStripeHandler creates a Stripe webhook handler. An empty secret
// disables signature verification, for local development with the
// Stripe CLI only.
func NewStripeHandler(provider billing.Provider, webhooks service.WebhookService, monitor *telemetry.WebhookMonitor, secret string, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		provider: provider,
		webhooks: webhooks,
		monitor:  monitor,
		secret:   secret,
		logger:   logger,
	}
}

// HandleWebhook processes one Stripe event delivery.
//
// Response codes drive Stripe's retry behavior: 403 for a signature
// failure, 400 when decoding or handling fails so Stripe redelivers,
// 200 once the event has been applied or recognized as a duplicate.
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Error("webhook payload read failed", "error", err)
		h.reject(w, http.StatusBadRequest, "payload_read")
		return
	}

	if h.secret != "" {
		signature := r.Header.Get("Stripe-Signature")
		if err := h.provider.VerifyWebhookSignature(payload, signature, h.secret); err != nil {
			h.logger.Warn("webhook signature verification failed",
				"error", err,
				"remote_addr", r.RemoteAddr)
			h.reject(w, http.StatusForbidden, "signature_invalid")
			return
		}
	}

	decoded, err := billing.DecodeWebhookEvent(payload)
	if err != nil {
		h.logger.Error("webhook payload decode failed", "error", err)
		h.reject(w, http.StatusBadRequest, "payload_invalid")
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(decoded.Type).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(decoded.Type).Observe(time.Since(start).Seconds())
		}()
	}

	event := service.WebhookEvent{
		ID:             decoded.ID,
		Type:           decoded.Type,
		Created:        decoded.Created,
		Charge:         decoded.Charge,
		Refund:         decoded.Refund,
		Intent:         decoded.Intent,
		Session:        decoded.Session,
		InvoiceID:      decoded.InvoiceID,
		SubscriptionID: decoded.SubscriptionID,
	}

	if err := h.webhooks.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error("webhook event handling failed",
			"event_id", decoded.ID,
			"event_type", decoded.Type,
			"error", err)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(decoded.Type, "handler_error").Inc()
		}
		h.monitor.RecordFailure("handler_error")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(decoded.Type).Inc()
	}
	// Stamp delivery health with the event's creation time so a late
	// redelivery of an old event cannot mask a delivery gap.
	h.monitor.RecordSuccess(decoded.Created)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received": true}`))
}

// HandleStatus reports webhook delivery health for operators.
func (h *StripeHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.monitor.Status()); err != nil {
		h.logger.Error("webhook status encode failed", "error", err)
	}
}

func (h *StripeHandler) reject(w http.ResponseWriter, code int, reason string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues("unknown", reason).Inc()
	}
	h.monitor.RecordFailure(reason)
	w.WriteHeader(code)
}
