// Package messaging provides abstractions for message broker communication.
// Both bridges talk to the broker through these interfaces so that the
// forwarding loops are not coupled to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedQoS is returned when a client cannot honour the requested
// delivery guarantee for an operation.
var ErrUnsupportedQoS = errors.New("unsupported delivery guarantee")

// QoS is the delivery guarantee requested from the broker.
type QoS int

const (
	// AtMostOnce delivers a message zero or one times. No acknowledgement.
	AtMostOnce QoS = iota
	// AtLeastOnce delivers a message one or more times. The broker must
	// acknowledge persistence before a publish returns.
	AtLeastOnce
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	default:
		return "unknown"
	}
}

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// Stream is a pull-style subscription. Next blocks until a message arrives,
// the subscription ends, or ctx is done.
type Stream interface {
	// Next returns the next message on the subscription.
	Next(ctx context.Context) (*Message, error)

	// Subject returns the subject this stream is listening to.
	Subject() string

	// IsValid returns true if the subscription is still active.
	IsValid() bool

	// Unsubscribe stops receiving messages on this stream.
	Unsubscribe() error
}

// Publisher publishes messages to subjects.
// Implementations must be safe for concurrent use without caller-side locking.
type Publisher interface {
	// Publish sends data to subject with the given delivery guarantee.
	Publish(ctx context.Context, subject string, data []byte, qos QoS, opts ...PublishOption) error
}

// Subscriber creates subscriptions.
type Subscriber interface {
	// Subscribe opens a stream on subject with the given delivery guarantee.
	Subscribe(subject string, qos QoS) (Stream, error)
}

// Client combines Publisher and Subscriber over a single broker connection.
type Client interface {
	Publisher
	Subscriber

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool

	// RTT measures the round trip time to the broker.
	RTT() (time.Duration, error)

	// Drain gracefully closes the connection, allowing in-flight messages to complete.
	Drain() error

	// Close releases any resources and unsubscribes all active streams.
	Close() error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of publish options.
type PublishOptions struct {
	// Headers are attached to the published message.
	Headers map[string]string

	// MsgID lets brokers that support it drop duplicate publishes.
	MsgID string
}

// NewPublishOptions applies opts in order.
func NewPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithMsgID sets the deduplication ID of the published message.
func WithMsgID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MsgID = id
	}
}
