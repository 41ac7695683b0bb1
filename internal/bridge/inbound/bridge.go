// Package inbound forwards queue messages to the Telegram Bot API.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/metrics"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/retry"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/telegram"
)

// Caller performs one Bot API operation. *telegram.Client implements it.
type Caller interface {
	Call(ctx context.Context, operation string, body []byte) (*telegram.Response, error)
}

// Config holds the inbound bridge settings.
type Config struct {
	Topic          string
	RequestTimeout time.Duration
	Retry          retry.Policy
}

// Bridge subscribes to Config.Topic and posts every well-formed message to
// the Bot API. Outcomes are logged and never fed back to the queue.
type Bridge struct {
	sub     messaging.Subscriber
	api     Caller
	cfg     Config
	logger  *logging.Logger
	backoff *retry.Backoff
	newID   func() string
}

// New creates an inbound bridge.
func New(sub messaging.Subscriber, api Caller, cfg Config, logger *logging.Logger) *Bridge {
	return &Bridge{
		sub:     sub,
		api:     api,
		cfg:     cfg,
		logger:  logger.With(logging.Component("inbound"), logging.Topic(cfg.Topic)),
		backoff: retry.New(cfg.Retry),
		newID:   uuid.NewString,
	}
}

// Run subscribes and handles messages until ctx is cancelled. A failed
// subscription or a broken stream is retried with backoff. Run returns nil
// once ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("inbound bridge started")
	defer b.logger.Info("inbound bridge stopped")

	for {
		err := b.receive(ctx)
		if ctx.Err() != nil {
			return nil
		}

		metrics.InboundSubscribeFailures.Inc()
		b.logger.Warn("inbound subscription ended, retrying", logging.Error(err))

		if err := b.backoff.Wait(ctx); err != nil {
			return nil
		}
	}
}

func (b *Bridge) receive(ctx context.Context) error {
	stream, err := b.sub.Subscribe(b.cfg.Topic, messaging.AtMostOnce)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := stream.Unsubscribe(); err != nil {
			b.logger.Debug("unsubscribe failed", logging.Error(err))
		}
	}()

	b.logger.Info("subscribed", "qos", messaging.AtMostOnce.String())

	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		b.backoff.Reset()

		// Errors are logged inside Handle; one bad message never stops the loop.
		_ = b.Handle(ctx, msg)
	}
}

// Handle decodes msg and performs the Bot API call it describes. The
// returned error is informational; it has already been logged.
func (b *Bridge) Handle(ctx context.Context, msg *messaging.Message) error {
	ctx = logging.WithDeliveryID(ctx, b.newID())

	env, err := ParseEnvelope(msg.Data)
	if err != nil {
		result := metrics.InboundMalformed
		if errors.Is(err, ErrInvalidEncoding) {
			result = metrics.InboundInvalidEncoding
		}
		metrics.InboundMessagesTotal.WithLabelValues(result).Inc()
		b.logger.WarnContext(ctx, "discarding inbound message",
			logging.Error(err),
			"bytes", len(msg.Data),
		)
		return err
	}

	callCtx := ctx
	if b.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.api.Call(callCtx, env.Operation, []byte(env.Body))
	elapsed := time.Since(start)
	metrics.InboundDeliveryDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.InboundMessagesTotal.WithLabelValues(metrics.InboundTransportError).Inc()
		b.logger.WarnContext(ctx, "bot api call failed",
			logging.Operation(env.Operation),
			logging.Duration(elapsed),
			logging.Error(err),
		)
		return err
	}

	if err := resp.Err(); err != nil {
		metrics.InboundMessagesTotal.WithLabelValues(metrics.InboundAPIError).Inc()
		b.logger.WarnContext(ctx, "bot api rejected call",
			logging.Operation(env.Operation),
			logging.Status(resp.StatusCode),
			"error_code", resp.ErrorCode,
			"description", resp.Description,
			logging.Duration(elapsed),
		)
		return err
	}

	metrics.InboundMessagesTotal.WithLabelValues(metrics.InboundDelivered).Inc()
	b.logger.DebugContext(ctx, "bot api call delivered",
		logging.Operation(env.Operation),
		logging.Status(resp.StatusCode),
		logging.Duration(elapsed),
	)
	return nil
}
