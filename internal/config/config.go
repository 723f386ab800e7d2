package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	InsertBatchSize     int `mapstructure:"INSERT_BATCH_SIZE"`
	DeleteBatchSize     int `mapstructure:"DELETE_BATCH_SIZE"`
	ClassifierCacheSize int `mapstructure:"CLASSIFIER_CACHE_SIZE"`
	ReindexWorkers      int `mapstructure:"REINDEX_WORKERS"`
	ReindexPageSize     int `mapstructure:"REINDEX_PAGE_SIZE"`

	MigrationsDir    string `mapstructure:"MIGRATIONS_DIR"`
	SearchParamsFile string `mapstructure:"SEARCH_PARAMS_FILE"`
	ProfilesFile     string `mapstructure:"PROFILES_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"INSERT_BATCH_SIZE", "DELETE_BATCH_SIZE", "CLASSIFIER_CACHE_SIZE",
	"REINDEX_WORKERS", "REINDEX_PAGE_SIZE",
	"MIGRATIONS_DIR", "SEARCH_PARAMS_FILE", "PROFILES_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8090")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("INSERT_BATCH_SIZE", 5000)
	v.SetDefault("DELETE_BATCH_SIZE", 500)
	v.SetDefault("CLASSIFIER_CACHE_SIZE", 10000)
	v.SetDefault("REINDEX_WORKERS", 4)
	v.SetDefault("REINDEX_PAGE_SIZE", 500)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when running with ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects settings the indexer cannot run with.
func (c *Config) Validate() error {
	if c.InsertBatchSize <= 0 {
		return fmt.Errorf("INSERT_BATCH_SIZE must be positive, got %d", c.InsertBatchSize)
	}
	if c.DeleteBatchSize <= 0 {
		return fmt.Errorf("DELETE_BATCH_SIZE must be positive, got %d", c.DeleteBatchSize)
	}
	if c.ReindexWorkers <= 0 {
		return fmt.Errorf("REINDEX_WORKERS must be positive, got %d", c.ReindexWorkers)
	}
	if c.ReindexPageSize <= 0 {
		return fmt.Errorf("REINDEX_PAGE_SIZE must be positive, got %d", c.ReindexPageSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}
