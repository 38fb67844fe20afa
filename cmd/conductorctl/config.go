package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the conductorctl configuration. It is read from
// conductorctl.yaml (or --config), CONDUCTOR_* environment variables and
// flags, in increasing order of precedence.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Lease LeaseConfig `mapstructure:"lease"`
	Log   LogConfig   `mapstructure:"log"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	// Driver is one of sqlite, postgres, redis or mongo.
	Driver string `mapstructure:"driver"`
	// DSN is a file name for sqlite, a connection string for postgres and
	// a URL for redis and mongo.
	DSN string `mapstructure:"dsn"`
	// Prefix namespaces redis keys.
	Prefix string `mapstructure:"prefix"`
	// Database and Collection locate the mongo collection.
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// LeaseConfig controls the lease taken while a command mutates a snapshot.
type LeaseConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Owner string        `mapstructure:"owner"`
}

// LogConfig controls the slog handler on stderr.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var drivers = []string{"sqlite", "postgres", "redis", "mongo"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "conductor.db")
	v.SetDefault("store.prefix", "conductor:")
	v.SetDefault("store.database", "conductor")
	v.SetDefault("store.collection", "snapshots")
	v.SetDefault("lease.ttl", "30s")
	v.SetDefault("lease.owner", "")
	v.SetDefault("log.level", "warn")
}

// loadConfig reads the configuration into v. A missing conductorctl.yaml is
// fine; a missing explicit path is not.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conductorctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Lease.Owner == "" {
		cfg.Lease.Owner = "conductorctl-" + uuid.NewString()
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	known := false
	for _, d := range drivers {
		if c.Store.Driver == d {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(drivers, ", ")))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Lease.TTL <= 0 {
		errs = append(errs, fmt.Errorf("lease.ttl must be > 0, got %s", c.Lease.TTL))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c LogConfig) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
