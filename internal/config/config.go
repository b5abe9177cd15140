// Package config loads and validates the Taskhive configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the TH_ prefix (e.g., TH_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments without recompilation.
//
// The JWT secret is read by the auth package directly (TH_JWT_SECRET) and
// validated at startup, because a missing secret must abort a production
// deployment before the server binds its listener.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Deployment environments. The cookie policy and the CAPTCHA test bypass both
// key off this value, so it is validated strictly rather than treated as a
// free-form string.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds all application configuration
type Config struct {
	// Environment is one of production, development, test
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Security    SecurityConfig  `mapstructure:"security"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Tasks       TasksConfig     `mapstructure:"tasks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and
// external redirects. When server.public_url is set it is returned as-is;
// otherwise it falls back to server.base_url. This distinction matters in
// reverse-proxied deployments where the internal listen address differs from
// the URL registered with the OAuth provider.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used for the origin-admin
// session store and distributed rate limiting. When disabled, both fall back
// to in-process implementations suitable for a single instance.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// SessionTTL is the lifetime of an issued session token and its cookie.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	Google     GoogleConfig  `mapstructure:"google"`
	GitHub     GitHubConfig  `mapstructure:"github"`
	Captcha    CaptchaConfig `mapstructure:"captcha"`
}

// GoogleConfig holds the Google identity federation settings
type GoogleConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// IssuerURL is overridable for tests that stand up a fake issuer.
	IssuerURL string `mapstructure:"issuer_url"`
}

// GitHubConfig holds the GitHub OAuth settings for the origin-admin flow
type GitHubConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// CaptchaConfig holds the CAPTCHA verifier settings
type CaptchaConfig struct {
	Secret  string `mapstructure:"secret"`
	SiteKey string `mapstructure:"site_key"`
	// BypassSecret, when set outside production, lets test clients skip
	// verification via the X-Recaptcha-Test header.
	BypassSecret string `mapstructure:"bypass_secret"`
	// VerifyURL is overridable for tests; defaults to the Google endpoint.
	VerifyURL string `mapstructure:"verify_url"`
}

// SecurityConfig holds CORS and rate limiting configuration
type SecurityConfig struct {
	CORS         CORSConfig        `mapstructure:"cors"`
	RateLimiting RateLimitSettings `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitSettings holds rate limiting settings
type RateLimitSettings struct {
	Enabled               bool `mapstructure:"enabled"`
	RequestsPerMinute     int  `mapstructure:"requests_per_minute"`
	Burst                 int  `mapstructure:"burst"`
	AuthRequestsPerMinute int  `mapstructure:"auth_requests_per_minute"`
	AuthBurst             int  `mapstructure:"auth_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// TasksConfig holds task-domain limits
type TasksConfig struct {
	MaxPerUser int `mapstructure:"max_per_user"`
}

// IsProduction reports whether the deployment environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads configuration from the given path (or default locations when
// empty) and the TH_-prefixed environment, applies defaults, and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/taskhive")
		// A missing config file is fine; env vars and defaults suffice.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "taskhive")
	v.SetDefault("database.user", "taskhive")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.session_ttl", time.Hour)
	v.SetDefault("auth.google.enabled", false)
	v.SetDefault("auth.google.issuer_url", "https://accounts.google.com")
	v.SetDefault("auth.github.enabled", false)
	v.SetDefault("auth.captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE"})
	v.SetDefault("security.cors.allowed_headers", []string{"Content-Type", "X-CSRF-Token"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 100)
	v.SetDefault("security.rate_limiting.burst", 25)
	v.SetDefault("security.rate_limiting.auth_requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.auth_burst", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Task domain defaults
	v.SetDefault("tasks.max_per_user", 100)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("invalid environment: %s (must be production, development, or test)", c.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}

	if c.Auth.Google.Enabled {
		if c.Auth.Google.ClientID == "" {
			return fmt.Errorf("auth.google.client_id is required when Google logon is enabled")
		}
		if c.Auth.Google.ClientSecret == "" {
			return fmt.Errorf("auth.google.client_secret is required when Google logon is enabled")
		}
	}

	if c.Auth.GitHub.Enabled {
		if c.Auth.GitHub.ClientID == "" {
			return fmt.Errorf("auth.github.client_id is required when GitHub logon is enabled")
		}
		if c.Auth.GitHub.ClientSecret == "" {
			return fmt.Errorf("auth.github.client_secret is required when GitHub logon is enabled")
		}
	}

	// The bypass header is a non-production escape hatch only. Refusing the
	// configuration outright beats silently ignoring the secret at runtime.
	if c.IsProduction() && c.Auth.Captcha.BypassSecret != "" {
		return fmt.Errorf("auth.captcha.bypass_secret must not be set in production")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Tasks.MaxPerUser < 1 {
		return fmt.Errorf("tasks.max_per_user must be at least 1")
	}

	return nil
}
