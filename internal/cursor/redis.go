package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// saveScript stores ARGV[1] unless the key already holds a value at least as
// large. Both are canonical decimal strings, compared by length then bytes
// so values above 2^53 stay exact. A non-numeric value is overwritten.
var saveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local candidate = ARGV[1]
if current and string.match(current, '^%d+$') then
	if #current > #candidate or (#current == #candidate and current >= candidate) then
		return 0
	end
end
redis.call('SET', KEYS[1], candidate)
return 1
`)

// RedisStore keeps the cursor in a single string key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client, key), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes it.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (uint64, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	next, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored cursor %q is not an unsigned integer: %w", raw, err)
	}
	return next, nil
}

func (s *RedisStore) Save(ctx context.Context, next uint64) error {
	if err := saveScript.Run(ctx, s.client, []string{s.key}, strconv.FormatUint(next, 10)).Err(); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
