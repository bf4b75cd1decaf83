package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Version: "1.0",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			HTTPPort:        8418,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
			LogFormat:       "json",
		},
		API: APIConfig{
			Enabled:  true,
			BasePath: "/api/v1",
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 1000,
				Burst:             100,
			},
		},
		Database: DatabaseConfig{Path: "treadlog.db"},
		Quota:    QuotaConfig{GraceWindow: 15 * time.Minute},
		Lookup: LookupConfig{
			Enabled: true,
			BaseURL: "https://tyredata.example.com",
			APIKey:  "key",
			Timeout: 10 * time.Second,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: true,
			errMsg:  "version is required",
		},
		{
			name:    "invalid server host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: true,
			errMsg:  "server: host is required",
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
			errMsg:  "server: http_port must be between 1 and 65535",
		},
		{
			name:    "auth enabled without keys",
			mutate:  func(c *Config) { c.API.Auth.Enabled = true },
			wantErr: true,
			errMsg:  "api: auth: api_keys is required when auth is enabled",
		},
		{
			name:    "negative grace window",
			mutate:  func(c *Config) { c.Quota.GraceWindow = -time.Minute },
			wantErr: true,
			errMsg:  "quota: grace_window cannot be negative",
		},
		{
			name:    "lookup enabled without base url",
			mutate:  func(c *Config) { c.Lookup.BaseURL = "" },
			wantErr: true,
			errMsg:  "lookup: base_url is required when lookup is enabled",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true },
			wantErr: true,
			errMsg:  "telegram: bot_token is required when telegram is enabled",
		},
		{
			name:    "alert threshold out of range",
			mutate:  func(c *Config) { c.Alerts.Thresholds = []float64{120} },
			wantErr: true,
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Cleanup.RetentionDays = -1 },
			wantErr: true,
			errMsg:  "cleanup: retention_days cannot be negative",
		},
		{
			name: "seed account without id",
			mutate: func(c *Config) {
				c.Accounts = []AccountSeed{{PoolLimit: 5}}
			},
			wantErr: true,
			errMsg:  "account[0]: id is required",
		},
		{
			name: "seed with duplicate subaccount ids",
			mutate: func(c *Config) {
				c.Accounts = []AccountSeed{{
					ID:        "acc-1",
					PoolLimit: 5,
					SubAccounts: []SubAccountSeed{
						{ID: "sub-1", PersonalLimit: 2, Active: true},
						{ID: "sub-1", PersonalLimit: 3, Active: true},
					},
				}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.GraceWindow = 0
	cfg.Alerts.Thresholds = nil
	cfg.Cleanup.Enabled = true
	cfg.API.Auth.HeaderName = ""

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Minute, cfg.Quota.GraceWindow)
	assert.Equal(t, []float64{85.0, 95.0}, cfg.Alerts.Thresholds)
	assert.Equal(t, 90, cfg.Cleanup.RetentionDays)
	assert.Equal(t, "X-API-Key", cfg.API.Auth.HeaderName)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.Debounce)
	assert.Equal(t, 24*time.Hour, cfg.Lookup.CacheTTL)
}

func TestParse(t *testing.T) {
	data := []byte(`
version: "1.0"
server:
  host: 0.0.0.0
  http_port: 9000
quota:
  grace_window: 10m
lookup:
  enabled: true
  base_url: https://tyredata.example.com
  api_key: secret
accounts:
  - id: garage-main
    pool_limit: 10
    subaccounts:
      - id: tech-1
        personal_limit: 3
        active: true
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.Quota.GraceWindow)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "garage-main", cfg.Accounts[0].ID)
	require.Len(t, cfg.Accounts[0].SubAccounts, 1)
	assert.Equal(t, 3, cfg.Accounts[0].SubAccounts[0].PersonalLimit)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("version: [unclosed"))
	require.Error(t, err)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
version: "1.0"
server:
  host: 127.0.0.1
  http_port: 8418
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Same(t, cfg, loader.Get())
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoader_EnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	t.Setenv("TEST_LOOKUP_KEY", "from-env")
	content := `
version: "1.0"
server:
  host: 127.0.0.1
  http_port: 8418
lookup:
  enabled: true
  base_url: https://tyredata.example.com
  api_key: ${TEST_LOOKUP_KEY}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Lookup.APIKey)
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	write := func(port int) {
		content := `
version: "1.0"
server:
  host: 127.0.0.1
  http_port: ` + strconv.Itoa(port)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	write(8418)
	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var reloaded *Config
	loader.SetOnChange(func(c *Config) { reloaded = c })

	write(9000)
	cfg, err := loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	require.NotNil(t, reloaded)
	assert.Equal(t, 9000, reloaded.Server.HTTPPort)
}
