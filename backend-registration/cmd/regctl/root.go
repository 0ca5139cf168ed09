package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/store"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	pkgredis "github.com/prohmpiriya/campus-registration/pkg/redis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// backend is what every subcommand needs: the opened store plus the
// locker the running service serializes on.
type backend struct {
	store  *store.Store
	locker lock.EventLocker
	close  func()
}

// opener builds a backend from configuration. Tests swap it for a shared
// in-memory backend.
type opener func(ctx context.Context, cfg *config.Config) (*backend, error)

func defaultOpener(ctx context.Context, cfg *config.Config) (*backend, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &backend{store: st, locker: lock.NewLocalLocker(cfg.Registration.LockWait)}
	closers := []func(){st.Close}

	if cfg.Registration.Locker == config.LockerRedis {
		client, err := pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      4,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.locker = lock.NewRedisLocker(client, &lock.RedisLockerConfig{
			TTL:  cfg.Registration.LockTTL,
			Wait: cfg.Registration.LockWait,
		})
		closers = append(closers, func() { _ = client.Close() })
	}

	b.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return b, nil
}

type rootOptions struct {
	envFile string
	timeout time.Duration
	open    opener
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		return config.LoadWithPath(o.envFile)
	}
	return config.Load()
}

// run loads configuration, opens the backend and hands both to fn
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, b *backend) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "regctl",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	b, err := o.open(ctx, cfg)
	if err != nil {
		logger.Get().Error("Failed to open store", zap.String("store", cfg.Registration.Store), zap.Error(err))
		return err
	}
	if b.close != nil {
		defer b.close()
	}

	return fn(ctx, cfg, b)
}

func newRootCmd(open opener) *cobra.Command {
	opts := &rootOptions{open: open}

	root := &cobra.Command{
		Use:   "regctl",
		Short: "Administer the campus registration store",
		Long: `regctl applies schema migrations and manages event snapshots in the
registration store selected by REGISTRATION_STORE. It can also mint access
tokens for the registration API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "path to a .env file (defaults to ./.env when present)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newEventCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}
