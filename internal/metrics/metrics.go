package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inbound results.
const (
	InboundDelivered       = "delivered"
	InboundAPIError        = "api_error"
	InboundTransportError  = "transport_error"
	InboundInvalidEncoding = "invalid_encoding"
	InboundMalformed       = "malformed"
)

// Poll results.
const (
	PollOK             = "ok"
	PollTransportError = "transport_error"
	PollDecodeError    = "decode_error"
	PollAPIError       = "api_error"
	PollNoResult       = "no_result"
)

// Update results.
const (
	UpdatePublished    = "published"
	UpdatePublishError = "publish_error"
	UpdateInvalidID    = "invalid_id"
	UpdateEncodeError  = "encode_error"
)

var (
	// Inbound bridge (queue -> Bot API)
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbridge_inbound_messages_total",
			Help: "Total number of queue messages handled by the inbound bridge",
		},
		[]string{"result"},
	)

	InboundDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgbridge_inbound_delivery_duration_seconds",
			Help:    "Duration of Bot API calls made for inbound messages",
			Buckets: prometheus.DefBuckets,
		},
	)

	InboundSubscribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgbridge_inbound_subscribe_failures_total",
			Help: "Total number of failed or interrupted inbound subscriptions",
		},
	)

	// Outbound bridge (Bot API -> queue)
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbridge_outbound_polls_total",
			Help: "Total number of getUpdates cycles",
		},
		[]string{"result"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgbridge_outbound_poll_duration_seconds",
			Help:    "Duration of getUpdates long-poll requests",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 90},
		},
	)

	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgbridge_outbound_updates_total",
			Help: "Total number of updates handled by the outbound bridge",
		},
		[]string{"result"},
	)

	Cursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgbridge_outbound_cursor",
			Help: "Next update offset requested from the Bot API",
		},
	)

	CursorSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgbridge_cursor_save_errors_total",
			Help: "Total number of failed cursor store writes",
		},
	)
)
