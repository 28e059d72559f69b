package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/config"
	"github.com/CanopyCatalog/canopy/backend/internal/database"
	"github.com/CanopyCatalog/canopy/backend/internal/logging"
	"github.com/CanopyCatalog/canopy/backend/internal/metrics"
	"github.com/CanopyCatalog/canopy/backend/internal/syncengine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	runOnce bool
	force   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canopy-sync",
		Short: "Synchronize the local catalog copy from a canopy API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("client.database_path"), "Local SQLite database path")
	cmd.PersistentFlags().String("source-url", defaults.GetString("client.source_url"), "Base URL of the canopy API server")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("client.sync_interval"), "Interval between periodic sync attempts")
	cmd.PersistentFlags().Duration("fetch-timeout", defaults.GetDuration("client.fetch_timeout"), "HTTP timeout for bundle fetches")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&runOnce, "once", false, "Run a single sync attempt and exit")
	cmd.PersistentFlags().BoolVar(&force, "force", false, "Sync immediately even if the interval has not elapsed")

	bindFlag(cmd, "client.database_path", "database-path")
	bindFlag(cmd, "client.source_url", "source-url")
	bindFlag(cmd, "client.sync_interval", "sync-interval")
	bindFlag(cmd, "client.fetch_timeout", "fetch-timeout")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runSync(ctx context.Context) error {
	appConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: appConfig.LogLevel, Console: true})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenClientStore(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var source syncengine.BundleSource
	if appConfig.SourceURL != "" {
		source = syncengine.NewHTTPSource(appConfig.SourceURL, appConfig.FetchTimeout)
	}

	store, err := syncengine.NewGormStore(db)
	if err != nil {
		return err
	}

	worker := syncengine.NewWorker(1)
	defer worker.Stop()

	engine, err := syncengine.NewEngine(syncengine.EngineConfig{
		Store:       store,
		Source:      source,
		Worker:      worker,
		Metrics:     metrics.New("canopy_sync"),
		Logger:      logger,
		MinInterval: appConfig.SyncInterval,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runOnce {
		outcome := engine.SyncNow(signalCtx)
		reportOutcome(logger, outcome)
		if !outcome.Success {
			return outcome.Err
		}
		return nil
	}

	if force || engine.ShouldSync(signalCtx) {
		reportOutcome(logger, engine.SyncNow(signalCtx))
	}

	ticker := time.NewTicker(appConfig.SyncInterval)
	defer ticker.Stop()

	logger.Info("periodic sync started",
		zap.String("source", appConfig.SourceURL),
		zap.Duration("interval", appConfig.SyncInterval))

	for {
		select {
		case <-signalCtx.Done():
			logger.Info("sync loop stopping")
			return nil
		case <-ticker.C:
			if engine.ShouldSync(signalCtx) {
				reportOutcome(logger, engine.SyncNow(signalCtx))
			}
		}
	}
}

func reportOutcome(logger *zap.Logger, outcome syncengine.Outcome) {
	switch {
	case outcome.Success && outcome.Updated:
		fmt.Printf("synced %d products (etag %s)\n", outcome.ProductCount, outcome.ETag)
	case outcome.Success:
		fmt.Println("already up to date")
	default:
		logger.Warn("sync attempt failed",
			zap.String("category", syncengine.FailureCategory(outcome.Err)),
			zap.Error(outcome.Err))
	}
}
