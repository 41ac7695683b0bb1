package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging/messagingtest"
	natsclient "github.com/telhawk-systems/telegram-queue-bridge/common/messaging/nats"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/config"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/cursor"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/retry"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/telegram"
)

func TestCommandsRegistered(t *testing.T) {
	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}

	for _, name := range []string{"run", "config", "version"} {
		assert.True(t, registered[name], "expected command %q to be registered", name)
	}
	assert.NotNil(t, rootCmd.RunE, "bare invocation runs the bridge")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	// Cobra only propagates the root ctx to a subcommand whose ctx is unset,
	// so reset it per call to keep one test's context from leaking into the next.
	runCmd.SetContext(ctx)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		cfgFile = ""
		_ = configCmd.Flags().Set("validate", "false")
	})
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tgbridge "+version))
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TGBRIDGE_TELEGRAM_TOKEN", "123:secret")
	t.Setenv("TGBRIDGE_QUEUE_PASSWORD", "hunter2")

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.NotContains(t, out, "123:secret")
	assert.NotContains(t, out, "hunter2")

	var printed config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	assert.Equal(t, "telegram-queue-bridge", printed.ClientID)
	assert.Equal(t, messaging.TopicFromTelegram, printed.Topics.ToQueue)
	assert.Equal(t, 60*time.Second, printed.Queue.KeepAlive)
}

func TestConfigCommand_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics:\n  to_queue: updates.in\n"), 0o600))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "to_queue: updates.in")
}

func TestConfigCommand_Validate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TGBRIDGE_TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := execute(t, "config", "--validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TGBRIDGE_TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNatsConfig(t *testing.T) {
	cfg := &config.Config{
		ClientID: "bridge-1",
		Queue: config.QueueConfig{
			Host:          "nats.internal",
			Port:          4223,
			KeepAlive:     15 * time.Second,
			ReconnectWait: time.Second,
			MaxReconnects: 10,
			Token:         "tok",
		},
	}

	nc := natsConfig(cfg)
	assert.Equal(t, "nats://nats.internal:4223", nc.URL)
	assert.Equal(t, "bridge-1", nc.Name)
	assert.Equal(t, 15*time.Second, nc.PingInterval)
	assert.Equal(t, 10, nc.MaxReconnects)
	assert.Equal(t, time.Second, nc.ReconnectWait)
	assert.Equal(t, "tok", nc.Token)
}

func TestStreamConfig(t *testing.T) {
	cfg := &config.Config{
		Topics: config.TopicsConfig{ToQueue: "updates"},
		Queue: config.QueueConfig{Stream: config.StreamConfig{
			Name:       "UPDATES",
			MaxAge:     time.Hour,
			Duplicates: 2 * time.Minute,
		}},
	}

	sc := streamConfig(cfg)
	assert.Equal(t, "UPDATES", sc.Name)
	assert.Equal(t, []string{"updates"}, sc.Subjects)
	assert.Equal(t, time.Hour, sc.MaxAge)
	assert.Equal(t, 2*time.Minute, sc.Duplicates)
}

// newBotAPI serves getUpdates with a single update at offset 1 and empty
// long polls afterwards. Every other call is recorded on the channel.
func newBotAPI(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	sent := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			var req telegram.PollRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Offset == 1 {
				_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":1,"message":{"text":"ping"}}]}`))
				return
			}
			select {
			case <-r.Context().Done():
			case <-time.After(20 * time.Millisecond):
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			body, _ := io.ReadAll(r.Body)
			sent <- r.URL.Path + " " + string(body)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, sent
}

func testBridgeConfig() *config.Config {
	return &config.Config{
		Topics:   config.TopicsConfig{ToQueue: "from-tg", ToTelegram: "to-tg"},
		Telegram: config.TelegramConfig{PollTimeout: 1, PollGrace: time.Second, RequestTimeout: time.Second},
		Retry:    config.RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 2},
	}
}

func TestRunBridges(t *testing.T) {
	srv, sent := newBotAPI(t)
	cfg := testBridgeConfig()

	broker := messagingtest.NewBroker()
	subscribed := make(chan struct{}, 1)
	broker.OnSubscribe = func(*messagingtest.Stream) { subscribed <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runBridges(ctx, cfg, broker, telegram.New(srv.URL, "T", srv.Client()), cursor.NewMemoryStore(), logging.Discard())
	}()

	<-subscribed
	require.True(t, broker.Deliver("to-tg", []byte("sendMessage\n{\"chat_id\":5}")))

	select {
	case got := <-sent:
		assert.Equal(t, `/botT/sendMessage {"chat_id":5}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound message never reached the bot api")
	}

	require.Eventually(t, func() bool {
		return len(broker.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	published := broker.Published()[0]
	assert.Equal(t, "from-tg", published.Subject)
	assert.Equal(t, "update-1", published.Options.MsgID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runBridges did not return after cancel")
	}
}

func TestRunBridges_OpsPortInUse(t *testing.T) {
	srv, sent := newBotAPI(t)

	held, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer held.Close()

	cfg := testBridgeConfig()
	cfg.Server = config.ServerConfig{
		Enabled: true,
		Port:    held.Addr().(*net.TCPAddr).Port,
	}

	broker := messagingtest.NewBroker()
	subscribed := make(chan struct{}, 1)
	broker.OnSubscribe = func(*messagingtest.Stream) { subscribed <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- runBridges(ctx, cfg, broker, telegram.New(srv.URL, "T", srv.Client()), cursor.NewMemoryStore(), logging.Discard())
	}()

	<-subscribed
	select {
	case err := <-done:
		t.Fatalf("runBridges returned while the ops port was taken: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.True(t, broker.Deliver("to-tg", []byte("sendMessage\n{\"chat_id\":5}")))
	select {
	case got := <-sent:
		assert.Equal(t, `/botT/sendMessage {"chat_id":5}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound bridge stopped after the ops server failed")
	}
	require.Eventually(t, func() bool {
		return len(broker.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond, "outbound bridge stopped after the ops server failed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runBridges did not return after cancel")
	}
}

func TestRun_UnreachableBrokerKeepsRunning(t *testing.T) {
	srv, _ := newBotAPI(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	t.Chdir(t.TempDir())
	t.Setenv("TELEGRAM_TOKEN", "T")
	t.Setenv("QUEUE_HOST", "127.0.0.1")
	t.Setenv("QUEUE_PORT", strconv.Itoa(closedPort))
	t.Setenv("TGBRIDGE_TELEGRAM_API_DOMAIN", srv.URL)
	t.Setenv("TGBRIDGE_TELEGRAM_POLL_TIMEOUT", "1")
	t.Setenv("TGBRIDGE_QUEUE_RECONNECT_WAIT", "50ms")
	t.Setenv("TGBRIDGE_SERVER_ENABLED", "false")
	t.Setenv("TGBRIDGE_LOGGING_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = executeContext(t, ctx, "run")
	require.NoError(t, err, "a valid configuration never fails on an unreachable broker")
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond, "run returned before shutdown was requested")
}

type flakyProvisioner struct {
	failures int
	calls    int
}

func (p *flakyProvisioner) EnsureStream(ctx context.Context, _ natsclient.StreamConfig) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("nats: no responders available for request")
	}
	return nil
}

func TestProvisionStream(t *testing.T) {
	policy := retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
	sc := natsclient.DefaultStreamConfig("UPDATES", []string{"from-tg"})

	t.Run("retries until the stream exists", func(t *testing.T) {
		p := &flakyProvisioner{failures: 3}
		provisionStream(context.Background(), p, sc, policy, logging.Discard())
		assert.Equal(t, 4, p.calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		p := &flakyProvisioner{failures: math.MaxInt}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		provisionStream(ctx, p, sc, policy, logging.Discard())
		assert.Positive(t, p.calls)
		assert.Error(t, ctx.Err())
	})
}

func TestOpenStore(t *testing.T) {
	policy := retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}

	t.Run("retries until the store is reachable", func(t *testing.T) {
		calls := 0
		store, err := openStore(context.Background(), func(context.Context) (cursor.Store, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("failed to ping redis: connection refused")
			}
			return cursor.NewMemoryStore(), nil
		}, policy, logging.Discard())
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up only when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := openStore(ctx, func(context.Context) (cursor.Store, error) {
			return nil, errors.New("failed to ping database: connection refused")
		}, policy, logging.Discard())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRun_UnreachableCursorStoreKeepsRunning(t *testing.T) {
	srv, _ := newBotAPI(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	t.Chdir(t.TempDir())
	t.Setenv("TELEGRAM_TOKEN", "T")
	t.Setenv("QUEUE_HOST", "127.0.0.1")
	t.Setenv("QUEUE_PORT", strconv.Itoa(closedPort))
	t.Setenv("TGBRIDGE_TELEGRAM_API_DOMAIN", srv.URL)
	t.Setenv("TGBRIDGE_CURSOR_STORE", "redis")
	t.Setenv("TGBRIDGE_CURSOR_REDIS_URL", "redis://127.0.0.1:"+strconv.Itoa(closedPort)+"/0")
	t.Setenv("TGBRIDGE_RETRY_INITIAL_INTERVAL", "10ms")
	t.Setenv("TGBRIDGE_RETRY_MAX_INTERVAL", "50ms")
	t.Setenv("TGBRIDGE_SERVER_ENABLED", "false")
	t.Setenv("TGBRIDGE_LOGGING_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err = executeContext(t, ctx, "run")
	assert.NoError(t, err)
}
