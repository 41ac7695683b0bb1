// Package config loads bridge configuration from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
)

// EnvPrefix prefixes every environment override, e.g. TGBRIDGE_TELEGRAM_TOKEN.
const EnvPrefix = "TGBRIDGE"

// Cursor store backends.
const (
	CursorStoreMemory   = "memory"
	CursorStoreRedis    = "redis"
	CursorStorePostgres = "postgres"
)

const redacted = "REDACTED"

type Config struct {
	ClientID string         `mapstructure:"client_id" yaml:"client_id"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Topics   TopicsConfig   `mapstructure:"topics" yaml:"topics"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Cursor   CursorConfig   `mapstructure:"cursor" yaml:"cursor"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

type QueueConfig struct {
	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port"`
	KeepAlive     time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	Username      string        `mapstructure:"username" yaml:"username,omitempty"`
	Password      string        `mapstructure:"password" yaml:"password,omitempty"`
	Token         string        `mapstructure:"token" yaml:"token,omitempty"`
	Stream        StreamConfig  `mapstructure:"stream" yaml:"stream"`
}

// StreamConfig describes the JetStream stream capturing the outbound topic.
type StreamConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Name       string        `mapstructure:"name" yaml:"name"`
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age"`
	Duplicates time.Duration `mapstructure:"duplicates" yaml:"duplicates"`
}

type TopicsConfig struct {
	// ToQueue receives updates polled from Telegram.
	ToQueue string `mapstructure:"to_queue" yaml:"to_queue"`
	// ToTelegram carries "<operation>\n<json>" messages for the Bot API.
	ToTelegram string `mapstructure:"to_telegram" yaml:"to_telegram"`
}

type TelegramConfig struct {
	Token          string        `mapstructure:"token" yaml:"token"`
	APIDomain      string        `mapstructure:"api_domain" yaml:"api_domain"`
	PollTimeout    int           `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	PollGrace      time.Duration `mapstructure:"poll_grace" yaml:"poll_grace"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AllowedUpdates []string      `mapstructure:"allowed_updates" yaml:"allowed_updates,omitempty"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter          float64       `mapstructure:"jitter" yaml:"jitter"`
}

type CursorConfig struct {
	Store       string `mapstructure:"store" yaml:"store"`
	Key         string `mapstructure:"key" yaml:"key"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url,omitempty"`
}

type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// PollTimeoutDuration returns the long-poll timeout as a duration.
func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return time.Duration(t.PollTimeout) * time.Second
}

// Load reads configuration. An empty configPath searches ./config.yaml and
// /etc/tgbridge/config.yaml and tolerates neither existing.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tgbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client_id", "telegram-queue-bridge")

	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 4222)
	v.SetDefault("queue.keep_alive", "60s")
	v.SetDefault("queue.reconnect_wait", "2s")
	v.SetDefault("queue.max_reconnects", -1)
	v.SetDefault("queue.username", "")
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.token", "")
	v.SetDefault("queue.stream.enabled", true)
	v.SetDefault("queue.stream.name", "TELEGRAM_UPDATES")
	v.SetDefault("queue.stream.max_age", "24h")
	v.SetDefault("queue.stream.duplicates", "10m")

	v.SetDefault("topics.to_queue", messaging.TopicFromTelegram)
	v.SetDefault("topics.to_telegram", messaging.TopicToTelegram)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_domain", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.poll_grace", "10s")
	v.SetDefault("telegram.request_timeout", "30s")
	v.SetDefault("telegram.allowed_updates", []string{})

	v.SetDefault("retry.initial_interval", "100ms")
	v.SetDefault("retry.max_interval", "30s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("cursor.store", CursorStoreMemory)
	v.SetDefault("cursor.key", "tgbridge:cursor")
	v.SetDefault("cursor.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cursor.postgres_url", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9464)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindLegacyEnv keeps the variable names of earlier deployments working.
// Prefixed variables take precedence.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"client_id":             "CLIENT_ID",
		"queue.host":            "QUEUE_HOST",
		"queue.port":            "QUEUE_PORT",
		"topics.to_queue":       "SEND_TO_QUEUE",
		"topics.to_telegram":    "SEND_TO_TELEGRAM",
		"telegram.poll_timeout": "TELEGRAM_POLLING_TIMEOUT",
		"telegram.token":        "TELEGRAM_TOKEN",
	}
	for key, name := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	// QUEUE_POLLING_TIMEOUT was the keep-alive in whole seconds.
	if _, set := os.LookupEnv(EnvPrefix + "_QUEUE_KEEP_ALIVE"); !set {
		if raw, ok := os.LookupEnv("QUEUE_POLLING_TIMEOUT"); ok {
			secs, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid QUEUE_POLLING_TIMEOUT %q: %w", raw, err)
			}
			v.Set("queue.keep_alive", time.Duration(secs)*time.Second)
		}
	}
	return nil
}

// Validate reports every problem that would stop the bridges from starting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (set TELEGRAM_TOKEN or %s_TELEGRAM_TOKEN)", EnvPrefix)
	}
	if u, err := url.Parse(c.Telegram.APIDomain); err != nil || u.Scheme == "" || u.Host == "" {
		add("telegram.api_domain %q is not an absolute URL", c.Telegram.APIDomain)
	}
	if c.Telegram.PollTimeout < 0 || c.Telegram.PollTimeout > 255 {
		add("telegram.poll_timeout must be between 0 and 255 seconds, got %d", c.Telegram.PollTimeout)
	}
	if c.Telegram.PollGrace <= 0 {
		add("telegram.poll_grace must be positive")
	}
	if c.Telegram.RequestTimeout <= 0 {
		add("telegram.request_timeout must be positive")
	}

	if c.ClientID == "" {
		add("client_id is required")
	}
	if c.Queue.Host == "" {
		add("queue.host is required")
	}
	if c.Queue.Port < 1 || c.Queue.Port > 65535 {
		add("queue.port must be between 1 and 65535, got %d", c.Queue.Port)
	}
	if c.Queue.KeepAlive <= 0 {
		add("queue.keep_alive must be positive")
	}
	if c.Queue.Stream.Enabled && c.Queue.Stream.Name == "" {
		add("queue.stream.name is required when the stream is enabled")
	}

	if err := messaging.ValidateTopic(c.Topics.ToQueue, false); err != nil {
		add("topics.to_queue: %v", err)
	}
	if err := messaging.ValidateTopic(c.Topics.ToTelegram, true); err != nil {
		add("topics.to_telegram: %v", err)
	}
	if c.Topics.ToQueue != "" && c.Topics.ToQueue == c.Topics.ToTelegram {
		add("topics.to_queue and topics.to_telegram must differ")
	}

	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		add("retry intervals must satisfy 0 < initial_interval <= max_interval")
	}
	if c.Retry.Multiplier < 1 {
		add("retry.multiplier must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		add("retry.jitter must be between 0 and 1")
	}

	switch c.Cursor.Store {
	case CursorStoreMemory:
	case CursorStoreRedis:
		if c.Cursor.RedisURL == "" {
			add("cursor.redis_url is required for the redis store")
		}
	case CursorStorePostgres:
		if c.Cursor.PostgresURL == "" {
			add("cursor.postgres_url is required for the postgres store")
		} else if u, err := url.Parse(c.Cursor.PostgresURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("cursor.postgres_url must be a postgres:// URL")
		}
	default:
		add("unknown cursor.store %q (supported: memory, redis, postgres)", c.Cursor.Store)
	}
	if c.Cursor.Store != CursorStoreMemory && c.Cursor.Key == "" {
		add("cursor.key is required for durable stores")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	out := c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	out.Telegram.Token = mask(c.Telegram.Token)
	out.Queue.Password = mask(c.Queue.Password)
	out.Queue.Token = mask(c.Queue.Token)
	out.Cursor.RedisURL = redactURL(c.Cursor.RedisURL)
	out.Cursor.PostgresURL = redactURL(c.Cursor.PostgresURL)
	out.Telegram.AllowedUpdates = append([]string(nil), c.Telegram.AllowedUpdates...)
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
