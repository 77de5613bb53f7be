package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Routes.StateBackend)
	assert.Equal(t, 3, cfg.Routes.MaxFailures)
	assert.Equal(t, 25, cfg.Routes.RotateEveryRequests)
	assert.Equal(t, 300, cfg.Routes.RotateEverySecs)
	assert.Equal(t, 4, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 1000, cfg.Fetch.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.Fetch.MaxBackoffMs)
	assert.Equal(t, 60000, cfg.Fetch.RateLimitWaitMs)
	assert.Equal(t, 2, cfg.Fetch.MalformedMax)
	assert.Equal(t, 50, cfg.Fetch.MaxPages)
	assert.Equal(t, 3, cfg.Fetch.CircuitThreshold)
	assert.InDelta(t, 0.1, cfg.Fetch.LongPauseProbability, 0.001)
	assert.Equal(t, 200, cfg.Upsert.ChunkSize)
	assert.Equal(t, 3, cfg.Upsert.MaxAttempts)
	assert.Equal(t, 3, cfg.Run.Concurrency)
	assert.Equal(t, 120, cfg.Run.MaxDurationMins)
	assert.Equal(t, "sold", cfg.Run.UnseenStatus)
	assert.Empty(t, cfg.Providers)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: listings.db
log:
  level: debug
  format: console
run:
  concurrency: 5
providers:
  - name: alpha
    kind: search_api
    base_url: https://api.alpha.example.com
    items_path: data.results
  - name: beta
    kind: html_cards
    base_url: https://beta.example.com
    selectors:
      card: div.listing
units:
  - name: Windsor
    region: "ON"
    country: CA
    bounds: [-83.2, 42.2, -82.8, 42.4]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Run.Concurrency)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "alpha", cfg.Providers[0].Name)
	assert.Equal(t, "data.results", cfg.Providers[0].ItemsPath)
	assert.Equal(t, "div.listing", cfg.Providers[1].Selectors.Card)
	require.Len(t, cfg.Units, 1)
	assert.Equal(t, "ON", cfg.Units[0].Region)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Fetch.MaxPages)

	require.NoError(t, cfg.Validate())
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

	t.Setenv("LISTINGS_STORE_DRIVER", "postgres")
	t.Setenv("LISTINGS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LISTINGS_RUN_CONCURRENCY=4\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("LISTINGS_RUN_CONCURRENCY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Run.Concurrency)
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

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite"},
		Routes: RoutesConfig{StateBackend: "memory"},
		Run:    RunConfig{UnseenStatus: "sold"},
		Providers: []ProviderConfig{
			{Name: "alpha", Kind: "search_api", BaseURL: "https://alpha.example.com"},
		},
		Units: []UnitConfig{{Name: "Windsor", Region: "ON"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "database_url is required"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store driver"},
		{"unknown state backend", func(c *Config) { c.Routes.StateBackend = "etcd" }, "state_backend"},
		{"off_market unseen status", func(c *Config) { c.Run.UnseenStatus = "off_market" }, ""},
		{"bad unseen status", func(c *Config) { c.Run.UnseenStatus = "active" }, "unseen_status"},
		{"no providers", func(c *Config) { c.Providers = nil }, "no providers configured"},
		{"provider without name", func(c *Config) { c.Providers[0].Name = "" }, "has no name"},
		{"duplicate provider", func(c *Config) { c.Providers = append(c.Providers, c.Providers[0]) }, "duplicate provider"},
		{"provider without url", func(c *Config) { c.Providers[0].BaseURL = "" }, "has no base_url"},
		{"unknown provider kind", func(c *Config) { c.Providers[0].Kind = "graphql" }, "unknown kind"},
		{"no units", func(c *Config) { c.Units = nil }, "no units configured"},
		{"bad bounds", func(c *Config) { c.Units[0].Bounds = []float64{1, 2} }, "4 values"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSelectUnits(t *testing.T) {
	cfg := validConfig()
	cfg.Units = append(cfg.Units, UnitConfig{Name: "London", Region: "ON", Bounds: []float64{-81.4, 42.9, -81.1, 43.1}})

	all, err := cfg.SelectUnits(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	picked, err := cfg.SelectUnits([]string{" london "})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "London", picked[0].Name)
	require.NotNil(t, picked[0].Bounds)
	assert.InDelta(t, -81.4, picked[0].Bounds.Min(0), 1e-9)

	_, err = cfg.SelectUnits([]string{"Atlantis"})
	assert.Error(t, err)
}
