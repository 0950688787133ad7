// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessageSendsTotal tracks outbound message sends by terminal status.
	MessageSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_message_sends_total",
			Help: "Outbound message sends by terminal status",
		},
		[]string{"status"},
	)

	// MessageSendDuration tracks time from send to terminal status.
	MessageSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkit_message_send_duration_seconds",
			Help:    "Time from send to sent/failed",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// MessageRetriesTotal tracks user-initiated retries of failed messages.
	MessageRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkit_message_retries_total",
			Help: "Retries of failed messages",
		},
	)

	// AttachmentUploadsTotal tracks attachment uploads by terminal status.
	AttachmentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_attachment_uploads_total",
			Help: "Attachment uploads by terminal status",
		},
		[]string{"status"},
	)

	// AttachmentUploadBytes tracks uploaded attachment sizes.
	AttachmentUploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatkit_attachment_upload_bytes",
			Help:    "Attachment payload sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// PaginationFetchesTotal tracks history page fetches by status.
	PaginationFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_pagination_fetches_total",
			Help: "Previous-message page fetches by status",
		},
		[]string{"status"},
	)

	// TypingEventsTotal tracks typing presence events sent to the server.
	TypingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_typing_events_total",
			Help: "Typing presence events emitted to transport",
		},
		[]string{"kind"},
	)

	// UnreadMessages tracks the current unread count per conversation.
	UnreadMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatkit_unread_messages",
			Help: "Current unread message count",
		},
		[]string{"conversation_id"},
	)

	// MessagesReceivedTotal tracks messages pushed by the server.
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkit_messages_received_total",
			Help: "Messages received over the push channel",
		},
	)

	// RequestDuration tracks simulator HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkit_sim_request_duration_seconds",
			Help:    "Simulator HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks simulator HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_sim_requests_total",
			Help: "Total simulator HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PushConnectionsActive tracks active simulator push connections.
	PushConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatkit_sim_push_connections_active",
			Help: "Active WebSocket push connections",
		},
	)
)

// RecordSend records metrics for a completed message send.
func RecordSend(status string, seconds float64) {
	MessageSendsTotal.WithLabelValues(status).Inc()
	MessageSendDuration.WithLabelValues(status).Observe(seconds)
}

// RecordUpload records metrics for a completed attachment upload.
func RecordUpload(status string, bytes int) {
	AttachmentUploadsTotal.WithLabelValues(status).Inc()
	AttachmentUploadBytes.Observe(float64(bytes))
}

// RecordRequest records metrics for a simulator HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
