package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration tree, loaded from YAML with
// DUEL_-prefixed environment overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Match    MatchConfig    `mapstructure:"match"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	CatalogPath     string        `mapstructure:"catalog_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string; empty selects the in-memory
	// match store.
	URL string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// MatchConfig carries the default timeout policy for new matches and
// the sweep cadence that enforces it.
type MatchConfig struct {
	PerActionMs       int64         `mapstructure:"per_action_ms"`
	TotalMatchMs      int64         `mapstructure:"total_match_ms"`
	AutoPassOnTimeout bool          `mapstructure:"auto_pass_on_timeout"`
	WarningAtMs       int64         `mapstructure:"warning_at_ms"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.catalog_path", "config/cards.yaml")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("match.per_action_ms", int64(60_000))
	v.SetDefault("match.total_match_ms", int64(3_600_000))
	v.SetDefault("match.auto_pass_on_timeout", true)
	v.SetDefault("match.warning_at_ms", int64(10_000))
	v.SetDefault("match.sweep_interval", 5*time.Second)
}

// Load reads configuration from the given file path. A missing file is
// tolerated; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		// Only a parse failure is fatal; a missing file falls back to
		// defaults and env.
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
