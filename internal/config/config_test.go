package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in a fresh temp dir.
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, int64(16000), cfg.AI.MaxTokens)
	assert.Equal(t, int64(10<<20), cfg.Importer.MaxFileBytes)
	assert.Equal(t, 4000, cfg.Importer.MaxItems)
	assert.Equal(t, 3, cfg.Importer.MaxAttempts)
	assert.Equal(t, 300, cfg.Importer.LeaseSecs)
	assert.Equal(t, 900, cfg.Importer.FinalizeLeaseSecs)
	assert.Equal(t, 30, cfg.Importer.BackoffBaseSecs)
	assert.Equal(t, 600, cfg.Importer.BackoffMaxSecs)
	assert.InDelta(t, 0.2, cfg.Importer.JitterFraction, 0.001)
	assert.Equal(t, 90, cfg.Importer.RetentionDays)
	assert.True(t, cfg.Parser.Isolate)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: ./bulk.db
importer:
  max_items: 50
worker:
  concurrency: 6
server:
  port: 9090
  cors_origins:
    - https://app.example.com
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./bulk.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 50, cfg.Importer.MaxItems)
	assert.Equal(t, 6, cfg.Worker.Concurrency)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Importer.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
ai:
  provider: anthropic
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("BULKIMPORT_STORE_DRIVER", "postgres")
	t.Setenv("BULKIMPORT_AI_PROVIDER", "openai")
	t.Setenv("BULKIMPORT_IMPORTER_LEASE_SECS", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 120, cfg.Importer.LeaseSecs)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func loaded(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/bulk"
	cfg.AI.AnthropicKey = "sk-ant-test"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := loaded(t)
	assert.NoError(t, cfg.Validate(""))
	assert.NoError(t, cfg.Validate("worker"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store driver", "", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"missing database url", "", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
		{"unknown storage driver", "", func(c *Config) { c.Storage.Driver = "gcs" }, "storage.driver"},
		{"s3 without bucket", "", func(c *Config) { c.Storage.Driver = "s3" }, "storage.s3_bucket"},
		{"zero max items", "", func(c *Config) { c.Importer.MaxItems = 0 }, "importer limits"},
		{"zero finalize lease", "", func(c *Config) { c.Importer.FinalizeLeaseSecs = 0 }, "importer limits"},
		{"backoff max below base", "", func(c *Config) { c.Importer.BackoffMaxSecs = 10 }, "backoff_max_secs"},
		{"jitter out of range", "", func(c *Config) { c.Importer.JitterFraction = 1.5 }, "jitter_fraction"},
		{"zero retention", "", func(c *Config) { c.Importer.RetentionDays = 0 }, "retention_days"},
		{"zero parser rows", "", func(c *Config) { c.Parser.MaxRows = 0 }, "parser limits"},
		{"missing anthropic key", "worker", func(c *Config) { c.AI.AnthropicKey = "" }, "ai.anthropic_key"},
		{"unknown provider", "worker", func(c *Config) { c.AI.Provider = "mistral" }, "ai.provider"},
		{"openai without key", "worker", func(c *Config) { c.AI.Provider = "openai" }, "ai.openai_key"},
		{"bad port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loaded(t)
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AIOnlyForWorker(t *testing.T) {
	cfg := loaded(t)
	cfg.AI.AnthropicKey = ""
	assert.NoError(t, cfg.Validate("serve"))
}

func TestSettingsConversion(t *testing.T) {
	cfg := loaded(t)
	cfg.Store.MaxConns = 8

	im := cfg.ImporterSettings()
	assert.Equal(t, 300*time.Second, im.Lease)
	assert.Equal(t, 15*time.Minute, im.FinalizeLease)
	assert.Equal(t, 30*time.Second, im.Backoff.Base)
	assert.Equal(t, 600*time.Second, im.Backoff.Max)
	assert.Equal(t, 90*24*time.Hour, im.Retention)
	assert.Equal(t, 70, im.ReviewConfidence)
	assert.NotNil(t, im.Retry.OnRetry)

	wk := cfg.WorkerSettings()
	assert.Equal(t, 2*time.Second, wk.PollInterval)
	assert.Equal(t, time.Minute, wk.SweepInterval)

	lim := cfg.ParserLimits()
	assert.Equal(t, 5000, lim.MaxRows)

	require.NotNil(t, cfg.Store.Pool())
	assert.Equal(t, int32(8), cfg.Store.Pool().MaxConns)
	cfg.Store.MaxConns = 0
	assert.Nil(t, cfg.Store.Pool())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
