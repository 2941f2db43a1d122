package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// Config holds all runtime configuration. Values come from struct defaults,
// then environment variables (HTTP_PORT or AQ_HTTP_PORT), then command-line
// flags.
type Config struct {
	// Server
	HTTPPort        string        `mapstructure:"http_port" default:"8080"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" default:"5s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" default:"0s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"30s"`

	// Queue
	ConcurrencyLimit int `mapstructure:"concurrency_limit" default:"4"`
	RateLimit        int `mapstructure:"rate_limit" default:"0"`

	// Execution journal: empty keeps it in memory, otherwise postgres:// or
	// sqlite:// URL.
	DatabaseURL string `mapstructure:"database_url"`
	DBMaxConns  int32  `mapstructure:"db_max_conns" default:"25"`
	DBMinConns  int32  `mapstructure:"db_min_conns" default:"5"`

	// Executors
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout" default:"10s"`
	ProviderMaxTries   uint          `mapstructure:"provider_max_tries" default:"3"`
	SimulatedSteps     int           `mapstructure:"simulated_steps" default:"5"`
	SimulatedStepDelay time.Duration `mapstructure:"simulated_step_delay" default:"200ms"`

	// Logging
	LogLevel       string `mapstructure:"log_level" default:"info"`
	LogDevelopment bool   `mapstructure:"log_development" default:"false"`
}

var keys = []string{
	"http_port", "read_timeout", "write_timeout", "shutdown_timeout",
	"concurrency_limit", "rate_limit",
	"database_url", "db_max_conns", "db_min_conns",
	"provider_timeout", "provider_max_tries", "simulated_steps", "simulated_step_delay",
	"log_level", "log_development",
}

// Default returns a Config populated from struct tags only.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// RegisterFlags adds the flags most often overridden on the command line.
// Flag defaults mirror the struct defaults so an unset flag changes nothing.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-port", d.HTTPPort, "HTTP listen port")
	fs.Int("concurrency-limit", d.ConcurrencyLimit, "maximum number of jobs executing at once")
	fs.Int("rate-limit", d.RateLimit, "maximum job starts per second (0 disables)")
	fs.String("database-url", d.DatabaseURL, "execution journal URL (postgres:// or sqlite://, empty for memory)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Bool("log-development", d.LogDevelopment, "use the development logger")
}

// Load builds the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	for _, key := range keys {
		env := strings.ToUpper(key)
		if err := v.BindEnv(key, "AQ_"+env, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency_limit=%d: %w", c.ConcurrencyLimit, domain.ErrInvalidConcurrencyLimit)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %d", c.RateLimit)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("db_min_conns (%d) exceeds db_max_conns (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by the config.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}
