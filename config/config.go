// server/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TAGKOSHA"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const (
	KeyPort              = "port"
	KeyDatabaseURL       = "database_url"
	KeyTokenSecret       = "token_secret"
	KeyStore             = "store"
	KeyReconcileSchedule = "reconcile_schedule"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyTagSanityLimit    = "tag_sanity_limit"
	KeyTxMaxAttempts     = "tx_max_attempts"
	KeyRepairConcurrency = "repair_concurrency"
)

type Config struct {
	Port              string
	DatabaseURL       string
	TokenSecret       string
	Store             string
	ReconcileSchedule string
	LogLevel          string
	LogFormat         string
	TagSanityLimit    int
	TxMaxAttempts     int
	RepairConcurrency int
}

// Load reads .env (if present), the optional config file and the TAGKOSHA_
// environment, in increasing order of precedence.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	vp := viper.New()
	vp.SetDefault(KeyPort, "8080")
	vp.SetDefault(KeyStore, StorePostgres)
	vp.SetDefault(KeyLogLevel, "info")
	vp.SetDefault(KeyLogFormat, "json")
	vp.SetDefault(KeyTagSanityLimit, 5000)
	vp.SetDefault(KeyTxMaxAttempts, 5)
	vp.SetDefault(KeyRepairConcurrency, 4)
	// unset keys must be known to viper for AutomaticEnv to see them
	vp.SetDefault(KeyDatabaseURL, "")
	vp.SetDefault(KeyTokenSecret, "")
	vp.SetDefault(KeyReconcileSchedule, "")

	if file != "" {
		vp.SetConfigFile(file)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.AutomaticEnv()

	cfg := &Config{
		Port:              vp.GetString(KeyPort),
		DatabaseURL:       vp.GetString(KeyDatabaseURL),
		TokenSecret:       vp.GetString(KeyTokenSecret),
		Store:             strings.ToLower(vp.GetString(KeyStore)),
		ReconcileSchedule: vp.GetString(KeyReconcileSchedule),
		LogLevel:          vp.GetString(KeyLogLevel),
		LogFormat:         vp.GetString(KeyLogFormat),
		TagSanityLimit:    vp.GetInt(KeyTagSanityLimit),
		TxMaxAttempts:     vp.GetInt(KeyTxMaxAttempts),
		RepairConcurrency: vp.GetInt(KeyRepairConcurrency),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the postgres store", EnvPrefix)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}
	if len(c.TokenSecret) > 64 {
		return fmt.Errorf("%s_TOKEN_SECRET must be at most 64 bytes", EnvPrefix)
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("%s_TX_MAX_ATTEMPTS must be positive", EnvPrefix)
	}
	if c.TagSanityLimit < 0 {
		return fmt.Errorf("%s_TAG_SANITY_LIMIT must not be negative", EnvPrefix)
	}
	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid %s_RECONCILE_SCHEDULE: %w", EnvPrefix, err)
		}
	}
	return nil
}

// RequireSecret fails when no token secret is configured.
func (c *Config) RequireSecret() ([]byte, error) {
	if c.TokenSecret == "" {
		return nil, fmt.Errorf("%s_TOKEN_SECRET is not set", EnvPrefix)
	}
	return []byte(c.TokenSecret), nil
}
