package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Quota    QuotaConfig    `yaml:"quota"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Telegram TelegramConfig `yaml:"telegram"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Accounts []AccountSeed  `yaml:"accounts,omitempty"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BasePath  string          `yaml:"base_path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// DatabaseConfig contains storage configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QuotaConfig contains admission engine configuration.
type QuotaConfig struct {
	// GraceWindow is how far back a repeated lookup of the same
	// registration is admitted past an exhausted limit.
	// Default: 15m
	GraceWindow time.Duration `yaml:"grace_window"`
}

// LookupConfig contains vehicle data provider configuration.
type LookupConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Timeout for one provider request. Default: 10s
	Timeout time.Duration `yaml:"timeout"`
	// CacheTTL is how long a cached vehicle stays fresh. Default: 24h
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// RetryAttempts for transient provider failures. Default: 2
	RetryAttempts int `yaml:"retry_attempts"`
}

// TelegramConfig contains Telegram bot configuration.
type TelegramConfig struct {
	Enabled   bool              `yaml:"enabled"`
	BotToken  string            `yaml:"bot_token"`
	ChatID    int64             `yaml:"chat_id"`
	RateLimit TelegramRateLimit `yaml:"rate_limit"`
}

// TelegramRateLimit contains Telegram rate limiting configuration.
type TelegramRateLimit struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

// AlertsConfig contains alert service configuration.
type AlertsConfig struct {
	// Enabled enables or disables the alert service.
	Enabled bool `yaml:"enabled"`
	// Thresholds defines the pool usage percentages that trigger alerts.
	// Default: [85.0, 95.0]
	Thresholds []float64 `yaml:"thresholds"`
	// Debounce is the minimum time between duplicate alerts.
	// Default: 30m
	Debounce time.Duration `yaml:"debounce"`
	// CheckInterval is how often pool usage is evaluated.
	// Default: 1m
	CheckInterval time.Duration `yaml:"check_interval"`
	// RateLimitPerMinute limits the number of alerts per minute.
	// Default: 30
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// ShutdownTimeout is the timeout for graceful shutdown.
	// Default: 25s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CleanupConfig contains ledger retention configuration.
type CleanupConfig struct {
	// Enabled enables or disables retention pruning.
	Enabled bool `yaml:"enabled"`
	// RetentionDays is how long usage events are kept. 0 keeps them forever.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`
}

// AccountSeed declares an account, and optionally its sub-accounts, to be
// created at startup if missing. Seeding never overwrites live registry
// state.
type AccountSeed struct {
	ID          string           `yaml:"id"`
	PoolLimit   int              `yaml:"pool_limit"`
	SubAccounts []SubAccountSeed `yaml:"subaccounts,omitempty"`
}

// SubAccountSeed declares a sub-account under a seeded account.
type SubAccountSeed struct {
	ID            string `yaml:"id"`
	PersonalLimit int    `yaml:"personal_limit"`
	Active        bool   `yaml:"active"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}

	if err := c.Lookup.Validate(); err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	if err := c.Cleanup.Validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	for i, acc := range c.Accounts {
		if err := acc.Validate(); err != nil {
			return fmt.Errorf("account[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
		if s.TLS.MinVersion != "" && s.TLS.MinVersion != "1.2" && s.TLS.MinVersion != "1.3" {
			return fmt.Errorf("tls min_version must be either \"1.2\" or \"1.3\"")
		}
		if s.TLS.MinVersion == "" {
			s.TLS.MinVersion = "1.3"
		}
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 1000
	}
	// Cap rate limit to prevent abuse
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 100
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	return nil
}

// Validate validates quota configuration and applies defaults.
func (q *QuotaConfig) Validate() error {
	if q.GraceWindow < 0 {
		return fmt.Errorf("grace_window cannot be negative")
	}
	if q.GraceWindow == 0 {
		q.GraceWindow = 15 * time.Minute
	}
	return nil
}

// Validate validates lookup configuration and applies defaults.
func (l *LookupConfig) Validate() error {
	if l.Enabled && l.BaseURL == "" {
		return fmt.Errorf("base_url is required when lookup is enabled")
	}
	if l.Timeout <= 0 {
		l.Timeout = 10 * time.Second
	}
	if l.CacheTTL <= 0 {
		l.CacheTTL = 24 * time.Hour
	}
	if l.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if l.RetryAttempts == 0 {
		l.RetryAttempts = 2
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.RateLimit.MessagesPerMinute <= 0 {
		t.RateLimit.MessagesPerMinute = 20
	}
	return nil
}

// Validate validates alerts configuration and applies defaults.
func (a *AlertsConfig) Validate() error {
	if len(a.Thresholds) == 0 {
		a.Thresholds = []float64{85.0, 95.0}
	}
	for _, th := range a.Thresholds {
		if th <= 0 || th > 100 {
			return fmt.Errorf("threshold %.1f must be within (0, 100]", th)
		}
	}

	if a.Debounce <= 0 {
		a.Debounce = 30 * time.Minute
	}

	if a.CheckInterval <= 0 {
		a.CheckInterval = time.Minute
	}

	if a.RateLimitPerMinute <= 0 {
		a.RateLimitPerMinute = 30
	}

	if a.ShutdownTimeout <= 0 {
		a.ShutdownTimeout = 25 * time.Second
	}

	return nil
}

// Validate validates cleanup configuration and applies defaults.
func (c *CleanupConfig) Validate() error {
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days cannot be negative")
	}
	if c.Enabled && c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	return nil
}

// Validate validates a seeded account.
func (a *AccountSeed) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.PoolLimit < 0 {
		return fmt.Errorf("pool_limit cannot be negative")
	}
	seen := make(map[string]bool)
	for i, sub := range a.SubAccounts {
		if sub.ID == "" {
			return fmt.Errorf("subaccount[%d]: id is required", i)
		}
		if sub.PersonalLimit < 0 {
			return fmt.Errorf("subaccount[%d]: personal_limit cannot be negative", i)
		}
		if seen[sub.ID] {
			return fmt.Errorf("subaccount[%d]: duplicate id %q", i, sub.ID)
		}
		seen[sub.ID] = true
	}
	return nil
}
