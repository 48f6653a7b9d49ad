// Package config holds the settings shared by the thermoctl commands. Values
// come from thermoters.yaml, THERMOTERS_* environment variables and bound
// command line flags, in viper's usual precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "THERMOTERS"
	ConfigName = "thermoters"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// StoreConfig selects the run store backend.
type StoreConfig struct {
	// "memory" or "sqlite"
	Kind string `mapstructure:"store"`
	// path of the sqlite database file
	DBPath string `mapstructure:"db-path"`
}

// ScoringConfig controls brick assembly and evaluation.
type ScoringConfig struct {
	Partition string `mapstructure:"partition"`
	Objective string `mapstructure:"objective"`
	// assemble bricks in the sentinel-padded length-consistent layout
	LengthConsistent bool `mapstructure:"length-consistent"`
	// apply the bundle's dinucleotide corrections
	Dinucleotides bool `mapstructure:"dinucleotides"`
	SkipMissing   bool `mapstructure:"skip-missing"`
	// concurrency of the dinucleotide worker pool
	Workers int `mapstructure:"workers"`
}

// Config is the root-level settings struct.
type Config struct {
	// path to the model bundle JSON
	Model string `mapstructure:"model"`
	// path to the partitioned dataset JSON
	Data         string `mapstructure:"data"`
	ArtifactsDir string `mapstructure:"artifacts-dir"`
	LogLevel     string `mapstructure:"log-level"`

	Store   StoreConfig   `mapstructure:",squash"`
	Scoring ScoringConfig `mapstructure:",squash"`
}

// NewViper returns a viper instance with the defaults, config search path
// and environment binding used by thermoctl.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so that environment variables are seen
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model", "")
	v.SetDefault("data", "")
	v.SetDefault("store", "memory")
	v.SetDefault("db-path", "thermoters.db")
	v.SetDefault("artifacts-dir", "thermoters_runs")
	v.SetDefault("log-level", "info")
	v.SetDefault("partition", "training")
	v.SetDefault("objective", "mlogL")
	v.SetDefault("length-consistent", false)
	v.SetDefault("dinucleotides", false)
	v.SetDefault("skip-missing", false)
	v.SetDefault("workers", runtime.NumCPU())
}

// Load reads the config file when one exists and unmarshals all settings.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Store.Kind) {
	case "", "memory", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%w: store %q", ErrInvalidConfig, c.Store.Kind)
	}
	if c.Scoring.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Scoring.Workers)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
}

// NewLogger builds the text logger written to stderr.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
