// Package config loads the engine configuration from defaults, an optional
// YAML file, the environment and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tordrt/migrationengine/internal/db"
)

// EnvPrefix prefixes every environment override except CONNECTION_STRING.
const EnvPrefix = "MIGRATION_ENGINE"

// Config is the process configuration.
type Config struct {
	ConnectionString string `mapstructure:"connection_string"`
	Workers          int    `mapstructure:"workers"`
	LogLevel         string `mapstructure:"log_level"`
	// MaxRequestBytes bounds a single buffered JSON-RPC request.
	MaxRequestBytes int `mapstructure:"max_request_bytes"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"workers":   "workers",
	"log-level": "log_level",
}

// Load resolves the configuration with precedence
// flags > env > config file > defaults, then validates it. flags may be nil.
// Every failure is an *ExitError with ExitConfig.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("connection_string", "CONNECTION_STRING"); err != nil {
		return nil, ConfigError("binding CONNECTION_STRING", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, ConfigError("config file not found", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, ConfigError("reading config file", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, ConfigError("binding flag "+name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ConfigError("unmarshaling config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection_string", "")
	v.SetDefault("workers", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("max_request_bytes", 16<<20)
}

// Validate checks the connection string names a supported backend and the
// numeric settings are positive. It performs no I/O.
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		return ConfigError("CONNECTION_STRING is not set", nil)
	}
	if _, err := db.ParseURL(c.ConnectionString); err != nil {
		return ConfigError("invalid CONNECTION_STRING", err)
	}
	if c.Workers < 1 {
		return ConfigError(fmt.Sprintf("workers must be at least 1, got %d", c.Workers), nil)
	}
	if c.MaxRequestBytes < 1 {
		return ConfigError(fmt.Sprintf("max_request_bytes must be positive, got %d", c.MaxRequestBytes), nil)
	}
	if _, err := c.Level(); err != nil {
		return ConfigError("invalid log level", err)
	}
	return nil
}

// Level parses LogLevel as a slog level name (debug, info, warn, error).
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// Logger builds the JSON logger written to stderr.
func (c *Config) Logger() *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
