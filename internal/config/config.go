// Package config holds all lineage configuration: defaults, YAML file
// loading, and LINEAGE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all lineage configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Store      StoreConfig      `mapstructure:"store"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Tiers      TiersConfig      `mapstructure:"tiers"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // resolved at runtime when empty
}

type StoreConfig struct {
	MaxConns     int           `mapstructure:"max_conns"`
	AcquireWait  time.Duration `mapstructure:"acquire_wait"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type TiersConfig struct {
	BrowseLimit  int `mapstructure:"browse_limit"`
	ExploreLimit int `mapstructure:"explore_limit"`
}

type ClassifierConfig struct {
	HighNeighbors     int `mapstructure:"high_neighbors"`
	HighTypes         int `mapstructure:"high_types"`
	HighRationaleRune int `mapstructure:"high_rationale_chars"`
}

// Default returns a Config with production defaults. The cache TTL is
// short enough that staleness is imperceptible at the expected write
// rate (decisions are appended rarely relative to read traffic).
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38642,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Store: StoreConfig{
			MaxConns:     4,
			AcquireWait:  2 * time.Second,
			QueryTimeout: 5 * time.Second,
			MaxRetries:   3,
			RetryBase:    50 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: 30 * time.Second,
		},
		Tiers: TiersConfig{
			BrowseLimit:  3,
			ExploreLimit: 10,
		},
		Classifier: ClassifierConfig{
			HighNeighbors:     6,
			HighTypes:         3,
			HighRationaleRune: 1200,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Load reads configuration from an optional YAML file and LINEAGE_*
// environment variables, layered over Default(). A missing config file
// is only an error when the path was given explicitly.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("server.bind", defaults.Server.Bind)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("store.max_conns", defaults.Store.MaxConns)
	v.SetDefault("store.acquire_wait", defaults.Store.AcquireWait)
	v.SetDefault("store.query_timeout", defaults.Store.QueryTimeout)
	v.SetDefault("store.max_retries", defaults.Store.MaxRetries)
	v.SetDefault("store.retry_base", defaults.Store.RetryBase)
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
	v.SetDefault("tiers.browse_limit", defaults.Tiers.BrowseLimit)
	v.SetDefault("tiers.explore_limit", defaults.Tiers.ExploreLimit)
	v.SetDefault("classifier.high_neighbors", defaults.Classifier.HighNeighbors)
	v.SetDefault("classifier.high_types", defaults.Classifier.HighTypes)
	v.SetDefault("classifier.high_rationale_chars", defaults.Classifier.HighRationaleRune)

	v.SetEnvPrefix("LINEAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.lineage")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
