package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/dwell/internal/bridge"
	"github.com/goodtune/dwell/internal/config"
	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/goodtune/dwell/internal/storage/bolt"
	"github.com/goodtune/dwell/internal/storage/memory"
	"github.com/goodtune/dwell/internal/storage/redis"
	"github.com/goodtune/dwell/internal/storage/sqlite"
	"github.com/goodtune/dwell/internal/systemd"
	"github.com/goodtune/dwell/internal/usage"
	"github.com/goodtune/dwell/internal/watchlist"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the dwell daemon",
	Long:  `Start the dwell daemon with the extension bridge, the ledger sync loop, retention pruning and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting dwell")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suspendTimeout := config.ParseDuration(cfg.Tracking.SuspendTimeout, usage.DefaultSuspendTimeout)

	tracker, err := usage.NewTracker(store.Ledger(), usage.RealClock{}, usage.Config{
		SyncInterval:      config.ParseDuration(cfg.Tracking.SyncInterval, usage.MinSyncInterval),
		WriteTimeout:      config.ParseDuration(cfg.Tracking.WriteTimeout, usage.DefaultWriteTimeout),
		SuspendTimeout:    suspendTimeout,
		MaxWriteFailures:  cfg.Tracking.MaxWriteFailures,
		HostnameCacheSize: cfg.Tracking.HostnameCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}

	watchlistService, err := watchlist.NewService(ctx, store.Watchlist(), cfg.Watchlist.Initial, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize watchlist: %w", err)
	}
	watchlistService.Subscribe(tracker.OnWatchlistChanged)

	logger.Info().
		Int("watchlist", len(watchlistService.Get())).
		Dur("sync_interval", tracker.Syncer().Interval()).
		Msg("Tracker initialized")

	tracker.Start()

	// Optional watchlist file, reloaded on change and on SIGHUP
	var fileSource *watchlist.FileSource
	if cfg.Watchlist.File != "" {
		fileSource, err = watchlist.NewFileSource(cfg.Watchlist.File, watchlistService, watchlist.DefaultDebounce, logger)
		if err != nil {
			return fmt.Errorf("failed to watch watchlist file: %w", err)
		}
		go fileSource.Run(ctx)
	}

	retention, err := usage.NewRetentionScheduler(
		store.Ledger(),
		tracker.Syncer(),
		usage.RealClock{},
		cfg.Retention.Days,
		cfg.Retention.PruneTime,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	retention.Start()

	bridgeConfig := bridge.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.BridgePort),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	bridgeServer := bridge.NewServer(bridgeConfig, tracker, watchlistService, logger)
	if sdListeners.Bridge != nil {
		bridgeServer.SetListener(sdListeners.Bridge)
	}
	if err := bridgeServer.Start(); err != nil {
		return fmt.Errorf("failed to start bridge server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().Msg("dwell startup complete")
	logger.Info().Msgf("Bridge: ws://%s/v1/events", bridgeConfig.ListenAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdogStop := make(chan struct{})
	if interval := systemd.WatchdogInterval(); interval > 0 {
		logger.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")
		go systemd.RunWatchdog(interval, watchdogStop, func(err error) {
			logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
		})
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			if fileSource == nil {
				logger.Info().Msg("SIGHUP received, no watchlist file configured")
				continue
			}
			logger.Info().Msg("SIGHUP received, reloading watchlist file...")
			if err := fileSource.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload watchlist file")
			}
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(watchdogStop)

	// The bridge goes first so no signals arrive during the final flush.
	if err := bridgeServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping bridge server")
	}

	if err := tracker.Stop(suspendTimeout); err != nil {
		logger.Error().Err(err).Msg("Final ledger flush incomplete")
	}

	retention.Stop()

	if fileSource != nil {
		cancel()
		if err := fileSource.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing watchlist file watcher")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("dwell stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
