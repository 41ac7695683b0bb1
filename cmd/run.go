package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telegram-queue-bridge/common/logging"
	"github.com/telhawk-systems/telegram-queue-bridge/common/messaging"
	natsclient "github.com/telhawk-systems/telegram-queue-bridge/common/messaging/nats"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/bridge/inbound"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/bridge/outbound"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/config"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/cursor"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/retry"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/server"
	"github.com/telhawk-systems/telegram-queue-bridge/internal/telegram"
)

const streamSetupTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run both bridges until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("telegram-queue-bridge"))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := natsclient.NewClient(natsConfig(cfg), logger)
	if err != nil {
		logger.Error("Failed to create NATS client", logging.Error(err))
		return err
	}
	defer func() {
		if err := client.Drain(); err != nil {
			logger.Warn("NATS drain failed", logging.Error(err))
		}
	}()
	logger.Info("NATS client started", "url", natsclient.URL(cfg.Queue.Host, cfg.Queue.Port))

	if cfg.Queue.Stream.Enabled {
		var wg sync.WaitGroup
		defer func() {
			stop()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			provisionStream(ctx, client, streamConfig(cfg), retryPolicy(cfg), logger)
		}()
	}

	store, err := openStore(ctx, func(ctx context.Context) (cursor.Store, error) {
		return cursor.Open(ctx, cfg.Cursor)
	}, retryPolicy(cfg), logger.With("store", cfg.Cursor.Store))
	if err != nil {
		// Interrupted before the store came up.
		return nil
	}
	defer store.Close()

	api := telegram.New(cfg.Telegram.APIDomain, cfg.Telegram.Token, &http.Client{})

	return runBridges(ctx, cfg, client, api, store, logger)
}

// runBridges starts both bridge loops and, when enabled, the ops server, and
// blocks until ctx is cancelled and all of them have returned.
func runBridges(ctx context.Context, cfg *config.Config, queue messaging.Client, api *telegram.Client, store cursor.Store, logger *logging.Logger) error {
	in := inbound.New(queue, api, inbound.Config{
		Topic:          cfg.Topics.ToTelegram,
		RequestTimeout: cfg.Telegram.RequestTimeout,
		Retry:          retryPolicy(cfg),
	}, logger)

	out := outbound.New(api, queue, store, outbound.Config{
		Topic:          cfg.Topics.ToQueue,
		PollTimeout:    cfg.Telegram.PollTimeoutDuration(),
		PollGrace:      cfg.Telegram.PollGrace,
		AllowedUpdates: cfg.Telegram.AllowedUpdates,
		Retry:          retryPolicy(cfg),
	}, logger)

	runners := []func(context.Context) error{in.Run, out.Run}
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, server.NewRouter(queue, logger), logger)
		runners = append(runners, func(ctx context.Context) error {
			runOpsServer(ctx, srv, retryPolicy(cfg), logger)
			return nil
		})
	}

	// A runner that fails outright stops the others.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, run := range runners {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				errOnce.Do(func() { firstErr = err })
				cancel()
			}
		}(run)
	}

	logger.Info("Bridge running",
		"to_telegram", cfg.Topics.ToTelegram,
		"to_queue", cfg.Topics.ToQueue,
	)
	wg.Wait()
	logger.Info("Bridge stopped")
	return firstErr
}

type streamProvisioner interface {
	EnsureStream(ctx context.Context, cfg natsclient.StreamConfig) error
}

// provisionStream creates the outbound stream, retrying until it succeeds or
// ctx ends. At-least-once publishes fail and are logged until then.
func provisionStream(ctx context.Context, p streamProvisioner, sc natsclient.StreamConfig, policy retry.Policy, logger *logging.Logger) {
	b := retry.New(policy)
	for {
		setupCtx, cancel := context.WithTimeout(ctx, streamSetupTimeout)
		err := p.EnsureStream(setupCtx, sc)
		cancel()
		if err == nil {
			logger.Info("JetStream stream ready", "stream", sc.Name)
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Failed to provision JetStream stream", "stream", sc.Name, logging.Error(err))
		if b.Wait(ctx) != nil {
			return
		}
	}
}

// openStore opens the cursor store, retrying until it succeeds. It only fails
// when ctx ends first.
func openStore(ctx context.Context, open func(context.Context) (cursor.Store, error), policy retry.Policy, logger *logging.Logger) (cursor.Store, error) {
	b := retry.New(policy)
	for {
		store, err := open(ctx)
		if err == nil {
			return store, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Failed to open cursor store", logging.Error(err))
		if err := b.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// runOpsServer keeps the ops server up until ctx ends. Failures are logged
// and retried so they never stop the bridges.
func runOpsServer(ctx context.Context, srv *server.Server, policy retry.Policy, logger *logging.Logger) {
	b := retry.New(policy)
	for {
		err := srv.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		logger.Error("Ops server failed", logging.Error(err))
		if b.Wait(ctx) != nil {
			return
		}
	}
}

func natsConfig(cfg *config.Config) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = natsclient.URL(cfg.Queue.Host, cfg.Queue.Port)
	nc.Name = cfg.ClientID
	nc.PingInterval = cfg.Queue.KeepAlive
	nc.MaxReconnects = cfg.Queue.MaxReconnects
	nc.ReconnectWait = cfg.Queue.ReconnectWait
	nc.Username = cfg.Queue.Username
	nc.Password = cfg.Queue.Password
	nc.Token = cfg.Queue.Token
	return nc
}

func streamConfig(cfg *config.Config) natsclient.StreamConfig {
	sc := natsclient.DefaultStreamConfig(cfg.Queue.Stream.Name, []string{cfg.Topics.ToQueue})
	if cfg.Queue.Stream.MaxAge > 0 {
		sc.MaxAge = cfg.Queue.Stream.MaxAge
	}
	if cfg.Queue.Stream.Duplicates > 0 {
		sc.Duplicates = cfg.Queue.Stream.Duplicates
	}
	return sc
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
		Jitter:          cfg.Retry.Jitter,
	}
}
