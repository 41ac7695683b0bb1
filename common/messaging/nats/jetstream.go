package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig defines the JetStream stream that captures at-least-once publishes.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// Duplicates is the window in which a repeated message ID is dropped.
	Duplicates time.Duration

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// DefaultStreamConfig returns sensible defaults for an update stream.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   subjects,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Storage:    jetstream.FileStorage,
	}
}

// toJetStream builds the server-side configuration. Retention is limits-based
// so every consumer of the outbound topic sees each update.
func (cfg StreamConfig) toJetStream() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.Duplicates,
		Retention:  jetstream.LimitsPolicy,
		Storage:    cfg.Storage,
	}
}

// EnsureStream creates or updates a stream.
func (c *Client) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("stream name is empty")
	}
	if len(cfg.Subjects) == 0 {
		return fmt.Errorf("stream %s captures no subjects", cfg.Name)
	}

	if _, err := c.js.CreateOrUpdateStream(ctx, cfg.toJetStream()); err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return nil
}
