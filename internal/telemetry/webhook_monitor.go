package telemetry

import (
	"sync"
	"time"
)

// WebhookMonitor tracks the health of the webhook endpoint so support
// can see at a glance whether events are arriving and verifying.
type WebhookMonitor struct {
	mu            sync.Mutex
	lastSuccess   time.Time
	lastFailure   time.Time
	failureReason string
}

// WebhookStatus is a point-in-time snapshot of the monitor.
type WebhookStatus struct {
	LastSuccess   time.Time `json:"last_success,omitempty"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Healthy       bool      `json:"healthy"`
}

func NewWebhookMonitor() *WebhookMonitor {
	return &WebhookMonitor{}
}

// RecordSuccess stamps a successfully processed event. The timestamp is
// the event's creation time, not the delivery time, so late redeliveries
// do not mask an outage window.
func (m *WebhookMonitor) RecordSuccess(eventCreated time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eventCreated.After(m.lastSuccess) {
		m.lastSuccess = eventCreated
		if Business != nil {
			Business.WebhookLastSuccess.Set(float64(eventCreated.Unix()))
		}
	}
}

func (m *WebhookMonitor) RecordFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFailure = time.Now()
	m.failureReason = reason
	if Business != nil {
		Business.WebhookLastFailure.Set(float64(m.lastFailure.Unix()))
	}
}

// Status reports the latest success and failure. The endpoint is
// considered healthy when the most recent outcome was a success.
func (m *WebhookMonitor) Status() WebhookStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return WebhookStatus{
		LastSuccess:   m.lastSuccess,
		LastFailure:   m.lastFailure,
		FailureReason: m.failureReason,
		Healthy:       m.lastFailure.IsZero() || m.lastSuccess.After(m.lastFailure),
	}
}
