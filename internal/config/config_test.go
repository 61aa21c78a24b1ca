package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper gives each test a clean global viper, since Initialize
// mutates process-wide state.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestInitializeDefaults(t *testing.T) {
	resetViper(t)
	cwd := t.TempDir()
	t.Chdir(cwd)
	require.NoError(t, Initialize(""))

	cfg := Load()
	assert.Equal(t, DefaultPattern, cfg.Pattern)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultMetricsDir, cfg.MetricsDir)
	assert.Equal(t, DefaultTxTimeout, cfg.TxTimeout)
	assert.Zero(t, cfg.Seed)
	assert.False(t, cfg.StepDelays)
	assert.False(t, cfg.Stream)
}

func TestInitializeReadsConfigFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "rxsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"input:\n  dir: /data/claims\ndb:\n  dsn: user:pass@tcp(localhost:3306)/pbm\nbatch:\n  size: 250\n"), 0o600))

	require.NoError(t, Initialize(path))
	cfg := Load()
	assert.Equal(t, "/data/claims", cfg.InputDir)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/pbm", cfg.DSN)
	assert.Equal(t, 250, cfg.BatchSize)
}

func TestInitializeMalformedConfigFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "rxsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input: [unclosed\n"), 0o600))

	err := Initialize(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEnvironmentOverrides(t *testing.T) {
	resetViper(t)
	t.Setenv("RXSIM_INPUT_DIR", "/env/claims")
	t.Setenv("RXSIM_DB_DSN", "env:env@tcp(db:3306)/pbm")
	t.Setenv("RXSIM_BATCH_SIZE", "500")
	t.Setenv("RXSIM_ENGINE_STEP_DELAYS", "true")

	cwd := t.TempDir()
	t.Chdir(cwd)
	require.NoError(t, Initialize(""))

	cfg := Load()
	assert.Equal(t, "/env/claims", cfg.InputDir)
	assert.Equal(t, "env:env@tcp(db:3306)/pbm", cfg.DSN)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.True(t, cfg.StepDelays)
}

func TestValidate(t *testing.T) {
	valid := Config{
		InputDir:  "/data/claims",
		DSN:       "user:pass@tcp(localhost:3306)/pbm",
		BatchSize: 100,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing input dir", func(c *Config) { c.InputDir = "" }, "input.dir"},
		{"missing dsn", func(c *Config) { c.DSN = "" }, "db.dsn"},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, "batch.size"},
		{"negative batch size", func(c *Config) { c.BatchSize = -5 }, "batch.size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTxTimeoutParsing(t *testing.T) {
	resetViper(t)
	t.Setenv("RXSIM_DB_TX_TIMEOUT", "90s")
	cwd := t.TempDir()
	t.Chdir(cwd)
	require.NoError(t, Initialize(""))
	assert.Equal(t, 90*time.Second, Load().TxTimeout)
}
