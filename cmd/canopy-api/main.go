package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/auth"
	"github.com/CanopyCatalog/canopy/backend/internal/bundle"
	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	"github.com/CanopyCatalog/canopy/backend/internal/config"
	"github.com/CanopyCatalog/canopy/backend/internal/database"
	"github.com/CanopyCatalog/canopy/backend/internal/logging"
	"github.com/CanopyCatalog/canopy/backend/internal/metrics"
	"github.com/CanopyCatalog/canopy/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "canopy-api",
		Short: "Canopy catalog and bundle distribution service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	issueTokenCmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an editor bearer token for the catalog write API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := cmd.Flags().GetString("subject")
			if err != nil {
				return err
			}
			return issueToken(subject)
		},
	}
	issueTokenCmd.Flags().String("subject", "", "Token subject (editor identifier)")
	rootCmd.AddCommand(issueTokenCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("bundle-dir", defaults.GetString("bundle.dir"), "Directory holding the published bundle artifact")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Editor token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Editor token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "bundle.dir", "bundle-dir")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func issueToken(subject string) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}
	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	token, expiresIn, err := tokenManager.Issue(subject)
	if err != nil {
		return err
	}
	fmt.Printf("%s\nexpires_in=%d\n", token, expiresIn)
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenServerStore(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	collectors := metrics.New("canopy")

	catalogReader, err := catalog.NewReader(catalog.ReaderConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	builder, err := bundle.NewBuilder(bundle.BuilderConfig{
		Database:    db,
		Source:      catalogReader,
		ArtifactDir: appConfig.BundleDir,
		Metrics:     collectors,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:  db,
		Rebuilder: builder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	// Publish a bundle at startup so fresh deployments serve /bundle
	// before the first catalog write.
	if _, err := builder.Build(ctx); err != nil {
		logger.Warn("startup bundle build failed", zap.Error(err))
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		CatalogService: catalogService,
		CatalogReader:  catalogReader,
		Builder:        builder,
		Tokens:         tokenManager,
		Metrics:        collectors,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
