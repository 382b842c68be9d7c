// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environments
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Default credential lifetimes. Development and test get a long one so
// iteration does not keep hitting the login page.
const (
	DefaultLifetime            = time.Hour
	DefaultDevelopmentLifetime = 30 * 24 * time.Hour
)

// Config holds all application configuration. Sections prefix their keys
// (SERVER_PORT, DB_HOST, SESSION_SECRET).
type Config struct {
	Environment  string   `envconfig:"ENVIRONMENT" default:"production"`
	StoreBackend string   `envconfig:"STORE_BACKEND" default:"postgres"`
	LoginPath    string   `envconfig:"LOGIN_PATH" default:"/login"`
	Locales      []string `envconfig:"LOCALES" default:"en,nl"`

	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Session       SessionConfig       `envconfig:"SESSION"`
	Log           LogConfig           `envconfig:"LOG"`
	Observability ObservabilityConfig `envconfig:"OTEL"`
	Security      SecurityConfig      `envconfig:"SECURITY"`
	RateLimit     RateLimitConfig     `envconfig:"RATELIMIT"`
	Guard         GuardConfig         `envconfig:"GUARD"`
	Bootstrap     BootstrapConfig     `envconfig:"BOOTSTRAP"`
}

// RateLimitConfig holds rate limiting configuration for the login endpoint
type RateLimitConfig struct {
	RequestsPerSecond float64 `split_words:"true" default:"1"`
	Burst             int     `split_words:"true" default:"5"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            string        `split_words:"true" default:"8080"`
	Mode            string        `split_words:"true" default:"all"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"15s"`
	IdleTimeout     time.Duration `split_words:"true" default:"60s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	StaticDir       string        `split_words:"true"`
	TrustedProxies  []string      `split_words:"true"`
}

// Proxies parses TrustedProxies. Entries are CIDR prefixes or single
// addresses.
func (s ServerConfig) Proxies() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("SERVER_TRUSTED_PROXIES: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("SERVER_TRUSTED_PROXIES: %w", err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string `split_words:"true" default:"localhost"`
	Port         string `split_words:"true" default:"5432"`
	User         string `split_words:"true" default:"citygate"`
	Password     string `split_words:"true"`
	Name         string `split_words:"true" default:"citygate"`
	SSLMode      string `split_words:"true" default:"disable"`
	MaxOpenConns int    `split_words:"true" default:"25"`
	MaxIdleConns int    `split_words:"true" default:"5"`
}

// SessionConfig holds credential and cookie configuration. A zero Lifetime
// or RefreshWindow is filled in from Environment.
type SessionConfig struct {
	Secret         string        `split_words:"true"`
	Issuer         string        `split_words:"true" default:"citygate"`
	Lifetime       time.Duration `split_words:"true"`
	RefreshWindow  time.Duration `split_words:"true"`
	Leeway         time.Duration `split_words:"true" default:"5s"`
	CookieName     string        `split_words:"true" default:"citygate_session"`
	CookieDomain   string        `split_words:"true"`
	CookiePath     string        `split_words:"true" default:"/"`
	CookieSecure   bool          `split_words:"true" default:"true"`
	CookieHTTPOnly bool          `split_words:"true" default:"true"`
	CookieSameSite string        `split_words:"true" default:"Lax"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `split_words:"true" default:"info"`
	Format string `split_words:"true" default:"json"`
}

// ObservabilityConfig holds tracing and metrics configuration
type ObservabilityConfig struct {
	Enabled        bool          `split_words:"true" default:"false"`
	ServiceName    string        `split_words:"true" default:"citygate"`
	ServiceVersion string        `split_words:"true" default:"0.1.0"`
	SamplingRate   float64       `split_words:"true" default:"1"`
	MetricInterval time.Duration `split_words:"true" default:"30s"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory       uint32        `split_words:"true" default:"65536"`
	Argon2Iterations   uint32        `split_words:"true" default:"3"`
	Argon2Parallelism  uint8         `split_words:"true" default:"4"`
	Argon2SaltLength   uint32        `split_words:"true" default:"16"`
	Argon2KeyLength    uint32        `split_words:"true" default:"32"`
	LockoutMaxAttempts int           `split_words:"true" default:"5"`
	LockoutDuration    time.Duration `split_words:"true" default:"15m"`
}

// GuardConfig configures the auth guard used in render mode
type GuardConfig struct {
	APIURL         string        `envconfig:"API_URL" default:"http://localhost:8080"`
	MaxStaleness   time.Duration `split_words:"true" default:"15s"`
	PendingTimeout time.Duration `split_words:"true" default:"300ms"`
	CheckTimeout   time.Duration `split_words:"true" default:"5s"`
}

// BootstrapConfig holds the initial superuser. Both fields empty disables bootstrap.
type BootstrapConfig struct {
	Email    string `split_words:"true"`
	Password string `split_words:"true"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment reports whether the process runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment || c.Environment == EnvTest
}

func (c *Config) applyDefaults() {
	if c.Session.Lifetime == 0 {
		c.Session.Lifetime = DefaultLifetime
		if c.IsDevelopment() {
			c.Session.Lifetime = DefaultDevelopmentLifetime
		}
	}
	if c.Session.RefreshWindow == 0 {
		c.Session.RefreshWindow = c.Session.Lifetime / 4
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be production, development or test, got %q", c.Environment))
	}

	switch c.StoreBackend {
	case StorePostgres:
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required"))
		}
	case StoreMemory:
		if !c.IsDevelopment() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is only allowed in development or test"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend))
	}

	switch c.Server.Mode {
	case "api", "render", "all":
	default:
		errs = append(errs, fmt.Errorf("SERVER_MODE must be api, render or all, got %q", c.Server.Mode))
	}
	if _, err := c.Server.Proxies(); err != nil {
		errs = append(errs, err)
	}

	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("SESSION_LIFETIME must be positive"))
	}
	if c.Session.RefreshWindow < 0 || c.Session.RefreshWindow >= c.Session.Lifetime {
		errs = append(errs, errors.New("SESSION_REFRESH_WINDOW must be shorter than SESSION_LIFETIME"))
	}
	if _, err := c.SameSite(); err != nil {
		errs = append(errs, err)
	}

	if !strings.HasPrefix(c.LoginPath, "/") || strings.HasPrefix(c.LoginPath, "//") {
		errs = append(errs, fmt.Errorf("LOGIN_PATH must be a local absolute path, got %q", c.LoginPath))
	}
	if len(c.Locales) == 0 {
		errs = append(errs, errors.New("LOCALES must list at least one locale"))
	}

	if c.Guard.MaxStaleness < 0 || c.Guard.MaxStaleness > time.Minute {
		errs = append(errs, errors.New("GUARD_MAX_STALENESS must be between 0 and 1m"))
	}
	if u, err := url.Parse(c.Guard.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("GUARD_API_URL must be an absolute URL, got %q", c.Guard.APIURL))
	}

	if (c.Bootstrap.Email == "") != (c.Bootstrap.Password == "") {
		errs = append(errs, errors.New("BOOTSTRAP_EMAIL and BOOTSTRAP_PASSWORD must be set together"))
	}

	return errors.Join(errs...)
}

// SameSite converts the configured cookie SameSite mode.
func (c *Config) SameSite() (http.SameSite, error) {
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "lax", "":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("SESSION_COOKIE_SAME_SITE must be Lax, Strict or None, got %q", c.Session.CookieSameSite)
}
