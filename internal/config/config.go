// Package config loads fnl settings from defaults, an optional fnl.yaml,
// FNL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/headline-goat/funnel-engine/internal/store"
)

const EnvPrefix = "FNL"

type Config struct {
	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Experiments struct {
		SessionCookie    string `mapstructure:"session_cookie"`
		CookieMaxAgeDays int    `mapstructure:"cookie_max_age_days"`
	} `mapstructure:"experiments"`
	Ledger struct {
		Driver string        `mapstructure:"driver"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"ledger"`
	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	Alerts struct {
		Schedule    bool          `mapstructure:"schedule"`
		Interval    time.Duration `mapstructure:"interval"`
		Concurrency int           `mapstructure:"concurrency"`
	} `mapstructure:"alerts"`
	Metrics struct {
		MaxDepth int    `mapstructure:"max_depth"`
		Timezone string `mapstructure:"timezone"`
	} `mapstructure:"metrics"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./fnl.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("experiments.session_cookie", "fnl_sid")
	v.SetDefault("experiments.cookie_max_age_days", 365)
	v.SetDefault("ledger.driver", "sql")
	v.SetDefault("ledger.ttl", "0s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("alerts.schedule", true)
	v.SetDefault("alerts.interval", "15m")
	v.SetDefault("alerts.concurrency", 4)
	v.SetDefault("metrics.max_depth", 16)
	v.SetDefault("metrics.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindFlags maps command-line flags onto config keys. Flags that are not
// defined on fs are ignored.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"database.dsn":    "db",
		"database.driver": "driver",
		"server.port":     "port",
		"log.level":       "log-level",
	}
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration into v and decodes it. An explicit configFile
// must exist; otherwise fnl.yaml is looked up in . and ./config and is
// optional.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("fnl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	switch c.Ledger.Driver {
	case "sql", "redis":
	default:
		errs = append(errs, fmt.Errorf("ledger.driver %q: want sql or redis", c.Ledger.Driver))
	}
	if c.Alerts.Interval <= 0 {
		errs = append(errs, errors.New("alerts.interval must be positive"))
	}
	if _, err := time.LoadLocation(c.Metrics.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("metrics.timezone %q: %w", c.Metrics.Timezone, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", store.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Location returns the configured reporting time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Metrics.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CookieMaxAge() time.Duration {
	return time.Duration(c.Experiments.CookieMaxAgeDays) * 24 * time.Hour
}
