package config

import (
	"errors"
	"fmt"
	"time"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config holds process configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	App    AppConfig    `mapstructure:"app" yaml:"app"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Retry  RetryConfig  `mapstructure:"retry" yaml:"retry"`
	Window WindowConfig `mapstructure:"window" yaml:"window"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	HTTP   HTTPConfig   `mapstructure:"http" yaml:"http"`
}

// AppConfig identifies the tenant this process mirrors.
type AppConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Name          string `mapstructure:"name" yaml:"name"`
	Stage         string `mapstructure:"stage" yaml:"stage"`
	PinnedChannel string `mapstructure:"pinned_channel" yaml:"pinned_channel"`
}

// SyncConfig tunes the reconciliation core.
type SyncConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// StoreConfig selects the remote document store.
type StoreConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"`
	SQLitePath       string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	FirestoreProject string `mapstructure:"firestore_project" yaml:"firestore_project"`
}

// RetryConfig bounds retries of remote writes.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// WindowConfig restricts channel queries to the current operational day.
type WindowConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Timezone string        `mapstructure:"timezone" yaml:"timezone"`
	DayStart time.Duration `mapstructure:"day_start" yaml:"day_start"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		App: AppConfig{
			ID:            "wirechat",
			Name:          "WireChat",
			Stage:         "DEV",
			PinnedChannel: "Main",
		},
		Sync: SyncConfig{
			Debounce: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "chatsync.db",
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Window: WindowConfig{
			Enabled:  false,
			Timezone: "America/Chicago",
			DayStart: 3 * time.Hour,
		},
		Auth: AuthConfig{
			JWTSecret: "change-me",
			JWTIssuer: "wirechat-sync",
			TokenTTL:  24 * time.Hour,
		},
		HTTP: HTTPConfig{
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the keys exposed as CLI flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.SQLitePath != "" {
		c.Store.SQLitePath = other.Store.SQLitePath
	}
	if other.Store.FirestoreProject != "" {
		c.Store.FirestoreProject = other.Store.FirestoreProject
	}
}

// RootCollection is the top-level collection holding app documents, "{name}-{stage}".
func (c Config) RootCollection() string {
	if c.App.Stage == "" {
		return c.App.Name
	}
	return c.App.Name + "-" + c.App.Stage
}

// Location resolves the operational-day time zone.
func (w WindowConfig) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", w.Timezone, err)
	}
	return loc, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.App.ID == "" {
		return errors.New("app.id is required")
	}
	if c.App.Name == "" {
		return errors.New("app.name is required")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case BackendFirestore:
		if c.Store.FirestoreProject == "" {
			return errors.New("store.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Sync.Debounce <= 0 {
		return errors.New("sync.debounce must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if c.Window.Enabled {
		if _, err := c.Window.Location(); err != nil {
			return err
		}
		if c.Window.DayStart < 0 || c.Window.DayStart >= 24*time.Hour {
			return errors.New("window.day_start must be within a day")
		}
	}
	return nil
}
