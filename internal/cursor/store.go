package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/telhawk-systems/telegram-queue-bridge/internal/config"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("cursor not found")

// Store persists the cursor. Save never moves a stored value backwards.
type Store interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, next uint64) error
	Close() error
}

// Open builds the store selected by cfg.Store.
func Open(ctx context.Context, cfg config.CursorConfig) (Store, error) {
	switch cfg.Store {
	case "", config.CursorStoreMemory:
		return NewMemoryStore(), nil
	case config.CursorStoreRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.Key)
	case config.CursorStorePostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, cfg.Key)
	default:
		return nil, fmt.Errorf("unknown cursor store %q", cfg.Store)
	}
}

// MemoryStore keeps the cursor for the life of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	next  uint64
	saved bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return 0, ErrNotFound
	}
	return s.next, nil
}

func (s *MemoryStore) Save(_ context.Context, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved || next > s.next {
		s.next = next
		s.saved = true
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
