// Package nats provides a NATS implementation of the messaging interfaces.
//
// At-most-once maps to core NATS subjects. At-least-once publishes go
// through JetStream and return only after the stream acknowledged the
// message, so the outbound topic must be captured by a stream (see
// EnsureStream).
package nats

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
)

// Client implements messaging.Client using NATS.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	mu   sync.Mutex
	subs []*stream
}

var _ messaging.Client = (*Client)(nil)

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client identifier reported to the server.
	Name string

	// PingInterval is the keep-alive interval.
	PingInterval time.Duration

	// MaxPingsOutstanding is how many unanswered pings mark the connection stale.
	MaxPingsOutstanding int

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                 nats.DefaultURL,
		Name:                "telegram-queue-bridge",
		PingInterval:        60 * time.Second,
		MaxPingsOutstanding: 2,
		MaxReconnects:       -1, // Infinite reconnects
		ReconnectWait:       2 * time.Second,
		Timeout:             5 * time.Second,
	}
}

// URL builds a server URL from a host and port.
func URL(host string, port int) string {
	return "nats://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// NewClient connects to NATS. Connection state changes are logged to logger.
// An unreachable server is not an error: the returned client keeps retrying
// in the background and buffers subscriptions until the first connect.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With(logging.Component("nats"))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info("Connected to NATS", "url", nc.ConnectedUrlRedacted())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Warn("NATS async error", logging.Topic(sub.Subject), logging.Error(err))
				return
			}
			log.Warn("NATS async error", logging.Error(err))
		}),
	}

	if cfg.PingInterval > 0 {
		opts = append(opts, nats.PingInterval(cfg.PingInterval))
	}
	if cfg.MaxPingsOutstanding > 0 {
		opts = append(opts, nats.MaxPingsOutstanding(cfg.MaxPingsOutstanding))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{
		conn: conn,
		js:   js,
		subs: make([]*stream, 0),
	}, nil
}

// Publish sends data to subject.
// AtMostOnce is a core publish; AtLeastOnce waits for a JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, qos messaging.QoS, opts ...messaging.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, options := buildMsg(subject, data, opts...)

	switch qos {
	case messaging.AtMostOnce:
		return c.conn.PublishMsg(msg)
	case messaging.AtLeastOnce:
		var pubOpts []jetstream.PublishOpt
		if options.MsgID != "" {
			pubOpts = append(pubOpts, jetstream.WithMsgID(options.MsgID))
		}
		if _, err := c.js.PublishMsg(ctx, msg, pubOpts...); err != nil {
			return fmt.Errorf("jetstream publish to %s: %w", subject, err)
		}
		return nil
	default:
		return fmt.Errorf("publish %s: %w", qos, messaging.ErrUnsupportedQoS)
	}
}

// Subscribe opens a synchronous subscription on subject.
// Only AtMostOnce is supported; core NATS does not redeliver.
func (c *Client) Subscribe(subject string, qos messaging.QoS) (messaging.Stream, error) {
	if qos != messaging.AtMostOnce {
		return nil, fmt.Errorf("subscribe %s: %w", qos, messaging.ErrUnsupportedQoS)
	}

	sub, err := c.conn.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	s := &stream{natsSub: sub}
	c.mu.Lock()
	live := c.subs[:0]
	for _, existing := range c.subs {
		if existing.IsValid() {
			live = append(live, existing)
		}
	}
	c.subs = append(live, s)
	c.mu.Unlock()

	return s, nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// RTT measures the round trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	return c.conn.RTT()
}

// Drain gracefully closes, allowing in-flight messages to complete.
// A client that never reached the server is closed outright.
func (c *Client) Drain() error {
	if !c.conn.IsConnected() {
		return c.Close()
	}
	return c.conn.Drain()
}

// Close releases all resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil

	c.conn.Close()
	return nil
}

// buildMsg converts a payload and publish options into a NATS message.
func buildMsg(subject string, data []byte, opts ...messaging.PublishOption) (*nats.Msg, messaging.PublishOptions) {
	options := messaging.NewPublishOptions(opts...)

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if len(options.Headers) > 0 {
		msg.Header = make(nats.Header, len(options.Headers))
		for k, v := range options.Headers {
			msg.Header.Set(k, v)
		}
	}
	return msg, options
}

// stream wraps a synchronous NATS subscription.
type stream struct {
	natsSub *nats.Subscription
}

func (s *stream) Next(ctx context.Context) (*messaging.Message, error) {
	msg, err := s.natsSub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return natsToMessage(msg), nil
}

func (s *stream) Subject() string {
	return s.natsSub.Subject
}

func (s *stream) IsValid() bool {
	return s.natsSub.IsValid()
}

func (s *stream) Unsubscribe() error {
	if !s.natsSub.IsValid() {
		return nil
	}
	return s.natsSub.Unsubscribe()
}

// natsToMessage converts a NATS message to our Message type.
func natsToMessage(msg *nats.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(), // NATS core doesn't provide timestamp
	}

	if msg.Header != nil {
		m.Metadata = make(map[string]string)
		for k := range msg.Header {
			m.Metadata[k] = msg.Header.Get(k)
		}
	}

	return m
}
