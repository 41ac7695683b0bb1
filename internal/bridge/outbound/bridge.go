// Package outbound long-polls the Telegram Bot API and publishes every
// update to the queue.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/cursor"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/metrics"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/retry"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/telegram"
)

// Poller fetches updates. *telegram.Client implements it.
type Poller interface {
	GetUpdates(ctx context.Context, req telegram.PollRequest) (*telegram.PollResponse, error)
}

// Config holds the outbound bridge settings.
type Config struct {
	Topic string
	// PollTimeout is the server-side long-poll timeout, sent in whole seconds.
	PollTimeout    time.Duration
	PollGrace      time.Duration
	AllowedUpdates []string
	Retry          retry.Policy
}

// Bridge owns the poll cursor. It is driven by a single goroutine.
type Bridge struct {
	api     Poller
	pub     messaging.Publisher
	store   cursor.Store
	cursor  *cursor.Cursor
	cfg     Config
	logger  *logging.Logger
	backoff *retry.Backoff
}

// New creates an outbound bridge. store may be nil, in which case the
// cursor lives only in memory.
func New(api Poller, pub messaging.Publisher, store cursor.Store, cfg Config, logger *logging.Logger) *Bridge {
	return &Bridge{
		api:     api,
		pub:     pub,
		store:   store,
		cursor:  cursor.New(),
		cfg:     cfg,
		logger:  logger.With(logging.Component("outbound"), logging.Topic(cfg.Topic)),
		backoff: retry.New(cfg.Retry),
	}
}

// Cursor returns the offset the next poll will request.
func (b *Bridge) Cursor() uint64 {
	return b.cursor.Next()
}

// Restore positions the cursor from the store. A missing value leaves it at
// cursor.Initial.
func (b *Bridge) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	next, err := b.store.Load(ctx)
	if errors.Is(err, cursor.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	b.cursor = cursor.Restore(next)
	metrics.Cursor.Set(float64(b.cursor.Next()))
	b.logger.Info("cursor restored", logging.Offset(b.cursor.Next()))
	return nil
}

// Run restores the cursor and polls until ctx is cancelled. Failed cycles are
// retried with backoff; a successful cycle resets it. Run returns nil once
// ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Restore(ctx); err != nil {
		b.logger.Warn("starting from initial cursor", logging.Error(err))
	}

	b.logger.Info("outbound bridge started", logging.Offset(b.cursor.Next()))
	defer b.logger.Info("outbound bridge stopped", logging.Offset(b.cursor.Next()))

	for {
		_, err := b.PollOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			b.backoff.Reset()
			continue
		}

		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			err = b.backoff.WaitAtLeast(ctx, apiErr.RetryAfter)
		} else {
			err = b.backoff.Wait(ctx)
		}
		if err != nil {
			return nil
		}
	}
}

// PollOnce performs one getUpdates cycle and publishes what it returns. It
// reports the number of updates published successfully. An error means the
// cycle failed before any update was handled.
func (b *Bridge) PollOnce(ctx context.Context) (int, error) {
	offset := b.cursor.Next()
	pollCtx, cancel := context.WithTimeout(ctx, b.cfg.PollTimeout+b.cfg.PollGrace)
	defer cancel()

	start := time.Now()
	resp, err := b.api.GetUpdates(pollCtx, telegram.PollRequest{
		Offset:         offset,
		Timeout:        uint(b.cfg.PollTimeout / time.Second),
		AllowedUpdates: b.cfg.AllowedUpdates,
	})
	elapsed := time.Since(start)
	metrics.PollDuration.Observe(elapsed.Seconds())

	if err != nil {
		var decodeErr *telegram.DecodeError
		result := metrics.PollTransportError
		if errors.As(err, &decodeErr) {
			result = metrics.PollDecodeError
		}
		metrics.PollsTotal.WithLabelValues(result).Inc()
		if ctx.Err() == nil {
			b.logger.Warn("poll failed",
				logging.Offset(offset),
				logging.Duration(elapsed),
				logging.Error(err),
			)
		}
		return 0, err
	}

	updates, ok := resp.Updates()
	if !ok {
		if err := resp.Err(); err != nil {
			metrics.PollsTotal.WithLabelValues(metrics.PollAPIError).Inc()
			b.logger.Warn("poll rejected",
				logging.Offset(offset),
				logging.Status(resp.StatusCode),
				"error_code", resp.ErrorCode,
				"description", resp.Description,
			)
			return 0, err
		}
		metrics.PollsTotal.WithLabelValues(metrics.PollNoResult).Inc()
		b.logger.Debug("poll returned no result array", logging.Offset(offset))
		return 0, nil
	}

	metrics.PollsTotal.WithLabelValues(metrics.PollOK).Inc()

	published := 0
	for _, raw := range updates {
		if b.forward(ctx, raw) {
			published++
		}
	}

	if b.cursor.Next() != offset {
		metrics.Cursor.Set(float64(b.cursor.Next()))
		b.save(ctx)
	}

	if len(updates) > 0 {
		b.logger.Debug("poll handled",
			logging.Offset(offset),
			logging.Count(len(updates)),
			"published", published,
			logging.Duration(elapsed),
		)
	}
	return published, nil
}

// forward publishes one update and advances the cursor past it whether or
// not the publish succeeded.
func (b *Bridge) forward(ctx context.Context, raw []byte) bool {
	id, ok := telegram.ParseUpdateID(raw)
	if !ok {
		metrics.UpdatesTotal.WithLabelValues(metrics.UpdateInvalidID).Inc()
		b.logger.Warn("skipping update without a valid update_id", "bytes", len(raw))
		return false
	}
	defer b.cursor.Advance(id)

	payload, err := telegram.CompactUpdate(raw)
	if err != nil {
		metrics.UpdatesTotal.WithLabelValues(metrics.UpdateEncodeError).Inc()
		b.logger.Warn("update is not valid json", logging.UpdateID(id), logging.Error(err))
		return false
	}

	err = b.pub.Publish(ctx, b.cfg.Topic, payload, messaging.AtLeastOnce,
		messaging.WithMsgID(MsgID(id)),
	)
	if err != nil {
		metrics.UpdatesTotal.WithLabelValues(metrics.UpdatePublishError).Inc()
		b.logger.Warn("publish failed", logging.UpdateID(id), logging.Error(err))
		return false
	}

	metrics.UpdatesTotal.WithLabelValues(metrics.UpdatePublished).Inc()
	b.logger.Debug("update published", logging.UpdateID(id))
	return true
}

func (b *Bridge) save(ctx context.Context) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, b.cursor.Next()); err != nil {
		metrics.CursorSaveErrors.Inc()
		b.logger.Warn("cursor save failed", logging.Offset(b.cursor.Next()), logging.Error(err))
	}
}

// MsgID is the deduplication ID attached to the publish of update id.
func MsgID(id uint64) string {
	return "update-" + strconv.FormatUint(id, 10)
}
