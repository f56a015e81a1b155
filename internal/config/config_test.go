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
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "remote", cfg.Backend.Kind)
	assert.Equal(t, "https://earthengine.googleapis.com", cfg.EarthEngine.BaseURL)
	assert.Contains(t, cfg.EarthEngine.Asset, "collection9")
	assert.InDelta(t, 10, cfg.EarthEngine.RateLimit, 0.001)
	assert.Equal(t, 3, cfg.EarthEngine.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.EarthEngine.Breaker.FailureThreshold)
	assert.InDelta(t, 30, cfg.Analysis.ScaleM, 0.001)
	assert.Equal(t, int64(1e9), cfg.Analysis.MaxPixels)
	assert.Equal(t, 60*time.Second, cfg.Analysis.Timeout())
	assert.Equal(t, 4, cfg.Analysis.Concurrency)
	assert.False(t, cfg.Analysis.StrictLookup)
	assert.Equal(t, 1985, cfg.Analysis.FirstYear)
	assert.Equal(t, 2023, cfg.Analysis.LastYear)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Store.CacheTTL())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 256, cfg.Server.LayerCacheSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pt-BR", cfg.Lang)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
backend:
  kind: local
  fixture: testdata/grid.yaml
analysis:
  strict_lookup: true
  concurrency: 8
store:
  driver: sqlite
  database_url: runs.db
log:
  level: debug
  format: console
lang: en
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Backend.Kind)
	assert.Equal(t, "testdata/grid.yaml", cfg.Backend.Fixture)
	assert.True(t, cfg.Analysis.StrictLookup)
	assert.Equal(t, 8, cfg.Analysis.Concurrency)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "en", cfg.Lang)
	// Defaults still apply for unset values
	assert.InDelta(t, 30, cfg.Analysis.ScaleM, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MAPBIOMAS_STORE_DRIVER", "postgres")
	t.Setenv("MAPBIOMAS_LOG_LEVEL", "warn")
	t.Setenv("MAPBIOMAS_EARTHENGINE_PROJECT", "my-project")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "my-project", cfg.EarthEngine.Project)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("analysis: [\n"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Backend.Kind = "remote"
	cfg.EarthEngine.Project = "my-project"
	cfg.EarthEngine.Token = "ya29.token"
	cfg.Analysis.ScaleM = 30
	cfg.Analysis.MaxPixels = 1e9
	cfg.Analysis.Concurrency = 4
	cfg.Analysis.FirstYear = 1985
	cfg.Analysis.LastYear = 2023
	cfg.Store.Driver = "none"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAnalyze(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.EarthEngine.Project = ""
	cfg.EarthEngine.Token = ""
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "earthengine.project is required")
	assert.Contains(t, err.Error(), "earthengine.token is required")
}

func TestValidateAnalyze_Local(t *testing.T) {
	cfg := validDefaults()
	cfg.Backend.Kind = "local"
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.fixture")

	cfg.Backend.Fixture = "grid.yaml"
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateAnalyze_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Analysis.Concurrency = 0
	cfg.Analysis.ScaleM = 0
	cfg.Analysis.FirstYear = 2024
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be between 1 and 64")
	assert.Contains(t, err.Error(), "scale_m")
	assert.Contains(t, err.Error(), "first_year")

	cfg = validDefaults()
	cfg.Backend.Kind = "cloud"
	assert.ErrorContains(t, cfg.Validate("analyze"), "backend.kind")
}

func TestValidateAnalyze_StoreNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	assert.ErrorContains(t, cfg.Validate("analyze"), "store.database_url is required")

	cfg.Store.DatabaseURL = "runs.db"
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("analyze"), "store.driver")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate("serve"), "server.port must be > 0")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.ErrorContains(t, cfg.Validate("store"), "store.driver must be sqlite or postgres")

	cfg.Store.Driver = "postgres"
	assert.ErrorContains(t, cfg.Validate("store"), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/mapbiomas"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.ErrorContains(t, err, "unknown mode")
}
