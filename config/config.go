// Package config loads the module's runtime settings from YAML with
// environment overrides. Precedence: YAML file, then defaults for fields
// the file left unset, then environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tradeloop/flywheel/braid"
	"github.com/tradeloop/flywheel/completion"
	"github.com/tradeloop/flywheel/precedent"
)

// Config is the full runtime configuration tree.
type Config struct {
	Module     ModuleConfig     `yaml:"module"`
	Log        LogConfig        `yaml:"log"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Retrieval  precedent.Config `yaml:"retrieval"`
	Lever      LeverConfig      `yaml:"lever"`
	Braid      braid.Config     `yaml:"braid"`
	Completion CompletionConfig `yaml:"completion"`
}

// ModuleConfig identifies this deployment in coefficient keys and logs.
type ModuleConfig struct {
	Name    string `yaml:"name" default:"flywheel" validate:"required"`
	AgentID string `yaml:"agent_id" env:"FLYWHEEL_AGENT_ID"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// PostgresConfig controls the durable store connection.
type PostgresConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn" env:"PG_DSN"`
	MaxOpenConns int           `yaml:"max_open_conns" default:"10" validate:"gt=0"`
	MaxIdleConns int           `yaml:"max_idle_conns" default:"5" validate:"gt=0"`
	QueryTimeout time.Duration `yaml:"query_timeout" default:"5s"`
}

// RedisConfig controls the shared cache tier. Empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

// CacheConfig bounds the in-process cache tier.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" default:"4096" validate:"gt=0"`
}

// LeverConfig controls coefficient reads.
type LeverConfig struct {
	ReaderCacheTTL time.Duration `yaml:"reader_cache_ttl" default:"30s"`
}

// CompletionConfig wraps the completion client settings with an on/off
// switch; disabled deployments fall back to the statistical estimator only.
type CompletionConfig struct {
	Enabled           bool `yaml:"enabled"`
	completion.Config `yaml:",inline"`
}

var validate = validator.New()

// Load reads path (optional), applies defaults and environment overrides,
// and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// The tag set is static; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Validate checks structural constraints plus the cross-field rules the
// tag language cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("invalid config: postgres enabled but DSN is required")
	}
	if c.Completion.Enabled && c.Completion.BaseURL == "" {
		return fmt.Errorf("invalid config: completion enabled but base_url is required")
	}
	return nil
}

// SetupLogging configures the global zerolog logger from the log section.
func (c *Config) SetupLogging() {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
