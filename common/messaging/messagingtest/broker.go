// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
)

// ErrClosed is returned by streams and publishes after Close.
var ErrClosed = errors.New("messagingtest: closed")

// Published records one call to Publish.
type Published struct {
	Subject string
	Data    []byte
	QoS     messaging.QoS
	Options messaging.PublishOptions
}

// Broker is an in-memory messaging.Client. Messages published with Deliver
// are handed to the open stream for the subject; calls to Publish are
// recorded and never delivered.
type Broker struct {
	mu         sync.Mutex
	streams    map[string]*Stream
	published  []Published
	subscribes int
	closed     bool

	// PublishErr, when set, is returned by Publish (the call is still recorded).
	PublishErr func(subject string, data []byte) error

	// SubscribeErr, when set, is consulted on every Subscribe call with the
	// 1-based attempt number.
	SubscribeErr func(attempt int) error

	// OnSubscribe is called after every successful Subscribe.
	OnSubscribe func(s *Stream)
}

var _ messaging.Client = (*Broker)(nil)

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[string]*Stream)}
}

// Publish records the call.
func (b *Broker) Publish(ctx context.Context, subject string, data []byte, qos messaging.QoS, opts ...messaging.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published = append(b.published, Published{
		Subject: subject,
		Data:    append([]byte(nil), data...),
		QoS:     qos,
		Options: messaging.NewPublishOptions(opts...),
	})
	hook := b.PublishErr
	b.mu.Unlock()

	if hook != nil {
		return hook(subject, data)
	}
	return nil
}

// Subscribe opens a stream on subject, replacing any previous one.
func (b *Broker) Subscribe(subject string, qos messaging.QoS) (messaging.Stream, error) {
	b.mu.Lock()
	b.subscribes++
	attempt := b.subscribes
	hook := b.SubscribeErr
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if hook != nil {
		if err := hook(attempt); err != nil {
			return nil, err
		}
	}

	s := &Stream{subject: subject, qos: qos, ch: make(chan *messaging.Message, 64), done: make(chan struct{})}
	b.mu.Lock()
	b.streams[subject] = s
	onSubscribe := b.OnSubscribe
	b.mu.Unlock()

	if onSubscribe != nil {
		onSubscribe(s)
	}
	return s, nil
}

// Deliver hands data to the stream subscribed on subject. It returns false
// when no live stream exists.
func (b *Broker) Deliver(subject string, data []byte) bool {
	b.mu.Lock()
	s := b.streams[subject]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Push(data)
}

// Published returns a copy of all recorded publishes.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Subscribes returns the number of Subscribe calls made.
func (b *Broker) Subscribes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

// IsConnected reports whether Close has not been called.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// RTT always reports a one millisecond round trip.
func (b *Broker) RTT() (time.Duration, error) {
	if !b.IsConnected() {
		return 0, ErrClosed
	}
	return time.Millisecond, nil
}

// Drain is Close.
func (b *Broker) Drain() error {
	return b.Close()
}

// Close ends every stream.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.streams {
		_ = s.Unsubscribe()
	}
	return nil
}

// Stream is the in-memory messaging.Stream.
type Stream struct {
	subject string
	qos     messaging.QoS
	ch      chan *messaging.Message
	done    chan struct{}
	once    sync.Once
}

// Push queues data on the stream.
func (s *Stream) Push(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- &messaging.Message{Subject: s.subject, Data: data, Timestamp: time.Now()}:
		return true
	case <-s.done:
		return false
	}
}

// QoS returns the delivery guarantee the stream was opened with.
func (s *Stream) QoS() messaging.QoS { return s.qos }

// Next returns the next pushed message.
func (s *Stream) Next(ctx context.Context) (*messaging.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subject returns the stream subject.
func (s *Stream) Subject() string { return s.subject }

// IsValid reports whether the stream is still open.
func (s *Stream) IsValid() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Unsubscribe closes the stream. Pending messages are dropped.
func (s *Stream) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
