package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CANOPY"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "canopy.db"
	defaultBundleDir       = "bundles"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 60
	defaultClientDatabase  = "canopy-sync.db"
	defaultSyncInterval    = time.Hour
	defaultFetchTimeout    = 30 * time.Second
)

// ServerConfig captures runtime configuration for the catalog API server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	BundleDir     string
	SigningSecret string
	TokenTTL      time.Duration
	LogLevel      string
}

// ClientConfig captures runtime configuration for the sync client.
type ClientConfig struct {
	DatabasePath string
	SourceURL    string
	SyncInterval time.Duration
	FetchTimeout time.Duration
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("bundle.dir", defaultBundleDir)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("client.database_path", defaultClientDatabase)
	configViper.SetDefault("client.source_url", "")
	configViper.SetDefault("client.sync_interval", defaultSyncInterval)
	configViper.SetDefault("client.fetch_timeout", defaultFetchTimeout)
}

// LoadServer parses server runtime configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		BundleDir:     configViper.GetString("bundle.dir"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

// LoadClient parses sync-client runtime configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		DatabasePath: configViper.GetString("client.database_path"),
		SourceURL:    configViper.GetString("client.source_url"),
		SyncInterval: configViper.GetDuration("client.sync_interval"),
		FetchTimeout: configViper.GetDuration("client.fetch_timeout"),
		LogLevel:     configViper.GetString("log.level"),
	}

	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return ClientConfig{}, fmt.Errorf("client.database_path is required")
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.BundleDir) == "" {
		return fmt.Errorf("bundle.dir is required")
	}
	return nil
}
