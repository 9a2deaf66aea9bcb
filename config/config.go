// Package config loads process-wide settings for lifetimes and the service
// manager through viper.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g.
// LIFETIMES_TERMINATION_DEFAULT_TIMEOUT for termination.default_timeout.
const EnvPrefix = "LIFETIMES"

// Config represents the complete configuration
type Config struct {
	Termination TerminationConfig `mapstructure:"termination"`
	Manager     ManagerConfig     `mapstructure:"manager"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// TerminationConfig holds how long termination waits for guarded sections
// running on other goroutines, per timeout kind.
type TerminationConfig struct {
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	ShortTimeout     time.Duration `mapstructure:"short_timeout"`
	LongTimeout      time.Duration `mapstructure:"long_timeout"`
	ExtraLongTimeout time.Duration `mapstructure:"extra_long_timeout"`
}

// ManagerConfig controls service.Manager
type ManagerConfig struct {
	// MaxWaitStop bounds each task's Stop when no Shutdown context is given
	MaxWaitStop time.Duration `mapstructure:"max_wait_stop"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Development switches to the console encoder with stack traces on warnings
	Development bool `mapstructure:"development"`
}

// Default returns a Config with the built-in values
func Default() *Config {
	return &Config{
		Termination: TerminationConfig{
			DefaultTimeout:   lifetimes.DefaultTerminationTimeout,
			ShortTimeout:     250 * time.Millisecond,
			LongTimeout:      5 * time.Second,
			ExtraLongTimeout: 30 * time.Second,
		},
		Manager: ManagerConfig{
			MaxWaitStop: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers the defaults with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("termination.default_timeout", defaults.Termination.DefaultTimeout)
	viper.SetDefault("termination.short_timeout", defaults.Termination.ShortTimeout)
	viper.SetDefault("termination.long_timeout", defaults.Termination.LongTimeout)
	viper.SetDefault("termination.extra_long_timeout", defaults.Termination.ExtraLongTimeout)

	viper.SetDefault("manager.max_wait_stop", defaults.Manager.MaxWaitStop)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.development", defaults.Logging.Development)
}

// BindEnv lets LIFETIMES_* environment variables override any key
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	// e.g., LIFETIMES_MANAGER_MAX_WAIT_STOP for manager.max_wait_stop
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Timeouts maps every timeout kind to its configured duration
func (c *TerminationConfig) Timeouts() map[lifetimes.TimeoutKind]time.Duration {
	return map[lifetimes.TimeoutKind]time.Duration{
		lifetimes.TimeoutDefault:   c.DefaultTimeout,
		lifetimes.TimeoutShort:     c.ShortTimeout,
		lifetimes.TimeoutLong:      c.LongTimeout,
		lifetimes.TimeoutExtraLong: c.ExtraLongTimeout,
	}
}

// NewLogger builds the zap logger described by c
func (c *LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "logging.level")
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger, nil
}

// Apply pushes the termination timeouts into the lifetimes package and
// installs the configured logger for it. The logger is returned so callers
// can use and sync it.
func (c *Config) Apply() (*zap.Logger, error) {
	logger, err := c.Logging.NewLogger()
	if err != nil {
		return nil, err
	}

	for kind, d := range c.Termination.Timeouts() {
		lifetimes.SetTerminationTimeout(kind, d)
	}
	lifetimes.SetLogger(logger.Sugar().Named("lifetimes"))
	return logger, nil
}
