// Package config centralizes runtime configuration for rxsim.
//
// Precedence, highest first: command-line flags (bound by cmd/rxsim),
// RXSIM_* environment variables, an optional rxsim.yaml config file,
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig wraps every fatal configuration problem detected at startup.
var ErrConfig = errors.New("invalid configuration")

// Defaults.
const (
	DefaultPattern    = "pharmacy_claims_simulation_*.csv"
	DefaultBatchSize  = 100
	DefaultMetricsDir = "./metrics"
	DefaultTxTimeout  = 60 * time.Second
)

// Initialize sets up viper: config file discovery, env binding, defaults.
// Call once at process start, before Load. cfgFile overrides discovery when
// non-empty (from the --config flag).
func Initialize(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rxsim")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/rxsim")
	}

	viper.SetEnvPrefix("RXSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("input.pattern", DefaultPattern)
	viper.SetDefault("batch.size", DefaultBatchSize)
	viper.SetDefault("metrics.dir", DefaultMetricsDir)
	viper.SetDefault("db.tx-timeout", DefaultTxTimeout)
	viper.SetDefault("engine.seed", uint64(0))
	viper.SetDefault("engine.step-delays", false)
	viper.SetDefault("pipeline.stream", false)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; a malformed one is not.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// Config is the resolved runtime configuration for one simulation run.
type Config struct {
	InputDir   string
	Pattern    string
	DSN        string
	MetricsDir string
	BatchSize  int
	Seed       uint64
	StepDelays bool
	Stream     bool
	TxTimeout  time.Duration
}

// Load snapshots the current viper state into a Config.
func Load() Config {
	return Config{
		InputDir:   viper.GetString("input.dir"),
		Pattern:    viper.GetString("input.pattern"),
		DSN:        viper.GetString("db.dsn"),
		MetricsDir: viper.GetString("metrics.dir"),
		BatchSize:  viper.GetInt("batch.size"),
		Seed:       viper.GetUint64("engine.seed"),
		StepDelays: viper.GetBool("engine.step-delays"),
		Stream:     viper.GetBool("pipeline.stream"),
		TxTimeout:  viper.GetDuration("db.tx-timeout"),
	}
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("%w: input.dir is required (--input-dir or RXSIM_INPUT_DIR)", ErrConfig)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: db.dsn is required (--dsn or RXSIM_DB_DSN)", ErrConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch.size must be positive", ErrConfig)
	}
	return nil
}
