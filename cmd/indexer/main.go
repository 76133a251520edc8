package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/internal/config"
	"github.com/chainsift/indexer/internal/logger"
	"github.com/chainsift/indexer/pkg/api"
	"github.com/chainsift/indexer/pkg/api/middleware"
	"github.com/chainsift/indexer/pkg/dispatcher"
	"github.com/chainsift/indexer/pkg/handler"
	"github.com/chainsift/indexer/pkg/listener"
	"github.com/chainsift/indexer/pkg/store"
	"github.com/chainsift/indexer/pkg/supervisor"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("store_backend", cfg.Store.Backend),
	)

	configStore, eventStore, closeStore, err := openStore(cfg.Store, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	metrics := dispatcher.NewMetrics("indexer", "dispatcher")
	disp := dispatcher.New(dispatcher.Config{
		MaxQueueSize:   cfg.Dispatcher.MaxQueueSize,
		EnqueueTimeout: cfg.Dispatcher.EnqueueTimeout,
	}, log, metrics)

	disp.RegisterHandler(handler.NewTransferHandler(configStore, eventStore, log))
	if cfg.Notifications.WebhookURL != "" {
		disp.RegisterHandler(handler.NewAlertHandler(handler.AlertConfig{
			WebhookURL: cfg.Notifications.WebhookURL,
			Secret:     cfg.Notifications.WebhookSecret,
			Timeout:    cfg.Notifications.WebhookTimeout,
		}, configStore, log))
	}

	pullCfg := listener.DefaultPullConfig()
	pullCfg.ScanInterval = time.Duration(cfg.Listener.ScanIntervalMs) * time.Millisecond
	pullCfg.BlocksPerScan = uint64(cfg.Listener.BlocksPerScan)
	pullCfg.RateLimitReportEvery = time.Duration(cfg.Listener.RateLimitReportEveryMs) * time.Millisecond

	pushCfg := listener.DefaultPushConfig()
	pushCfg.ContractRefreshInterval = time.Duration(cfg.Listener.ContractRefreshIntervalMs) * time.Millisecond
	pushCfg.InitialBackoff = time.Duration(cfg.Listener.InitialBackoffMs) * time.Millisecond
	pushCfg.MaxBackoff = time.Duration(cfg.Listener.MaxBackoffMs) * time.Millisecond
	pushCfg.MaxReconnectAttempts = cfg.Listener.MaxReconnectAttempts
	pushCfg.RateLimitReportEvery = time.Duration(cfg.Listener.RateLimitReportEveryMs) * time.Millisecond

	sup := supervisor.New(supervisor.Config{
		PullConfig:          pullCfg,
		PushConfig:          pushCfg,
		HealthCheckInterval: cfg.Supervisor.HealthCheckInterval,
		AutoRestart:         cfg.Supervisor.AutoRestart,
		AutoRestartDelay:    cfg.Supervisor.AutoRestartDelay,
	}, configStore, disp, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		log.Fatal("failed to start supervisor", zap.Error(err))
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{
			ListenAddr:      cfg.API.ListenAddr,
			EnableAuth:      cfg.API.EnableAuth,
			Auth:            buildAuthConfig(cfg.API.APIKeys),
			EnableRateLimit: cfg.API.EnableRateLimit,
			RatePerSecond:   cfg.API.RatePerSecond,
			RateBurst:       cfg.API.RateBurst,
			StreamInterval:  cfg.API.StreamInterval,
		}, sup, configStore, log)

		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Error("api server failed", zap.Error(err))
			}
		}()
		log.Info("api server started", zap.String("addr", cfg.API.ListenAddr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("failed to stop api server gracefully", zap.Error(err))
		}
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop supervisor gracefully", zap.Error(err))
	}

	log.Info("indexer stopped")
}

func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func initLogger(level, format string) (*zap.Logger, error) {
	if format == "json" || format == "production" {
		return logger.NewProduction()
	}
	cfg := logger.Config{
		Level:       level,
		Encoding:    "console",
		Development: true,
	}
	return logger.NewWithConfig(&cfg)
}

// openStore opens the configured store backend and returns it as both a
// ConfigStore and EventStore, plus a close function.
func openStore(cfg config.StoreConfig, log *zap.Logger) (store.ConfigStore, store.EventStore, func() error, error) {
	switch cfg.Backend {
	case "memory":
		s := store.NewMemoryStore()
		return s, s, func() error { return nil }, nil
	case "pebble":
		s, err := store.OpenPebbleStore(store.PebbleOptions{
			Dir:           cfg.Path,
			CacheMB:       cfg.CacheMB,
			WriteBufferMB: cfg.WriteBufferMB,
			MaxOpenFiles:  cfg.MaxOpenFiles,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("pebble store opened", zap.String("path", cfg.Path))
		return s, s, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildAuthConfig(apiKeys []string) middleware.AuthConfig {
	keys := make(map[string]string, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = k
	}
	return middleware.AuthConfig{APIKeys: keys}
}
