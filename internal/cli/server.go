package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/auth"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/server"
)

// Version is set at build time.
var Version = "dev"

var references manager.Holder

// ServerCmd represents the server command
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the model reference HTTP service",
	Long: `Start the HTTP service that serves the model reference categories,
their legacy rendering, metadata, statistics and audits. PRIMARY deployments
also accept writes.`,
	RunE: runServer,
}

func init() {
	ServerCmd.Flags().Int("port", 0, "Port to listen on")
	ServerCmd.Flags().Bool("watch", false, "Watch the reference files for external edits (PRIMARY only)")
	flagBinding["port"] = "server.port"
	flagBinding["watch"] = "watch.enabled"
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("Server starting",
		"version", Version,
		"port", cfg.Server.Port,
		"config_file", configFile,
		"mode", cfg.ReplicateMode,
		"canonical_format", cfg.CanonicalFormat,
		"base_path", cfg.BasePath,
		"use_redis", cfg.Redis.UseRedis,
		"auth_type", cfg.Auth.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, meta, err := openManager(ctx, cfg, logger)
	if err != nil {
		return err
	}

	authenticator, err := auth.New(cfg.Auth.Type, cfg.Auth.UsersFile, logger)
	if err != nil {
		logger.Error("Failed to initialize authentication",
			"error", err,
			"users_file", cfg.Auth.UsersFile)
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	if basic, ok := authenticator.(*auth.BasicAuth); ok {
		go reloadUsersOnHangup(ctx, basic)
	}

	rdb, err := analyticsRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	stats, audits, err := newEngines(cfg, m, rdb, logger)
	if err != nil {
		return err
	}

	if cfg.Analytics.HydrateEnabled {
		hydrator := analytics.NewHydrator(
			time.Duration(cfg.Analytics.HydrateIntervalSeconds)*time.Second,
			time.Duration(cfg.Analytics.StartupDelaySeconds)*time.Second,
			logger,
			analytics.HydrationTarget{Name: "statistics", Target: stats},
			analytics.HydrationTarget{Name: "audit", Target: audits},
		)
		go hydrator.Start(ctx)
		defer hydrator.Stop(10 * time.Second)
	}

	if cfg.Watch.Enabled {
		go func() {
			if err := backends.Watch(ctx, cfg.Layout(), m.Backend(), logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("File watcher stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(cfg, logger, server.Deps{
		Manager:       m,
		Metadata:      meta,
		Statistics:    stats,
		Audits:        audits,
		Authenticator: authenticator,
	})

	logger.Info("Server ready to accept connections",
		"address", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port))

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}
	return nil
}

// openManager builds the configured backend and the process manager. The
// metadata manager is nil for a REPLICA.
func openManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*manager.Manager, *metadata.Manager, error) {
	opts := cfg.BackendOptions()
	opts.Logger = logger

	var meta *metadata.Manager
	if opts.Mode == backends.ModePrimary {
		meta = metadata.NewManager(opts.Layout, logger)
		opts.Metadata = meta
	}

	b, err := backends.New(ctx, opts)
	if err != nil {
		logger.Error("Failed to initialize backend",
			"error", err,
			"mode", opts.Mode,
			"base_path", opts.Layout.Base)
		return nil, nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	m, err := references.Create(ctx, b, manager.Options{
		Mode:   opts.Mode,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model reference manager: %w", err)
	}
	return m, meta, nil
}

// analyticsRedis connects the shared analytics cache when Redis is enabled.
func analyticsRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	if !cfg.Redis.UseRedis {
		return nil, nil
	}
	rdb, err := analytics.DialRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("Failed to connect analytics cache to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func newEngines(cfg *config.Config, m *manager.Manager, rdb *redis.Client, logger *slog.Logger) (*analytics.StatisticsEngine, *analytics.AuditEngine, error) {
	cacheOpts := func(name string) analytics.CacheOptions {
		opts := cfg.AnalyticsCache(name)
		opts.Redis = rdb
		opts.Logger = logger
		return opts
	}

	stats := analytics.NewStatisticsEngine(m, analytics.StatisticsOptions{
		Cache:  cacheOpts("statistics"),
		Logger: logger,
	})

	audits, err := analytics.NewAuditEngine(m, analytics.AuditOptions{
		Cache: cacheOpts("audit"),
		Usage: analytics.NewHordeClient(cfg.Analytics.HordeAPIURL,
			time.Duration(cfg.Analytics.HordeTimeoutSeconds)*time.Second, logger),
		PreferredHosts:    cfg.PreferredFileHosts,
		TextCriticalUsage: cfg.Analytics.TextCriticalUsage,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit engine: %w", err)
	}
	return stats, audits, nil
}

// reloadUsersOnHangup re-reads the users file on every SIGHUP until ctx ends.
func reloadUsersOnHangup(ctx context.Context, a *auth.BasicAuth) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_ = a.Reload()
		}
	}
}
