// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads and validates the server configuration.
//
// Sources are merged in precedence order: built-in defaults, then an
// optional YAML file, then command-line flags. Later sources win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Hasher names accepted by Auth.Hasher.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

// Session store names accepted by Session.Store.
const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Session       SessionConfig       `koanf:"session"`
	Auth          AuthConfig          `koanf:"auth"`
	Observability ObservabilityConfig `koanf:"observability"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig configures the application HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL connection. URL falls back
// to the DATABASE_URL environment variable when empty.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SessionConfig configures session issuance and storage.
type SessionConfig struct {
	// Store selects the session backend: "memory" or "postgres".
	Store string `koanf:"store"`

	TTL time.Duration `koanf:"ttl"`

	// CookieName is the session cookie. The cookie is always HttpOnly
	// and SameSite=Lax; Secure is controlled separately so local
	// development over plain HTTP still works.
	CookieName   string `koanf:"cookie_name"`
	CookieSecure bool   `koanf:"cookie_secure"`

	// CleanupInterval is how often expired sessions are purged from a
	// postgres store. Ignored for the memory store.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AuthConfig configures password hashing.
type AuthConfig struct {
	// Hasher selects the algorithm for new hashes: "argon2id" or
	// "bcrypt". Verification accepts both regardless.
	Hasher string `koanf:"hasher"`

	// BcryptCost applies when Hasher is "bcrypt". Zero means the
	// library default.
	BcryptCost int `koanf:"bcrypt_cost"`
}

// ObservabilityConfig configures the metrics/health listener.
// An empty Addr disables the server.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":              ":8080",
		"server.shutdown_timeout":  "10s",
		"database.url":             "",
		"session.store":            SessionStoreMemory,
		"session.ttl":              "24h",
		"session.cookie_name":      "gatehouse_session",
		"session.cookie_secure":    false,
		"session.cleanup_interval": "10m",
		"auth.hasher":              HasherArgon2id,
		"auth.bcrypt_cost":         0,
		"observability.addr":       "127.0.0.1:9100",
		"log.format":               "json",
		"log.level":                "info",
	}
}

// Load merges defaults, the optional YAML file at path, and the given
// flag set (may be nil) into a validated Config.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.In("config").Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.In("config").Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. The database URL is not
// required here: the memory session store plus migrations-off mode has
// no use for it, so commands that need it check at startup.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("server.shutdown_timeout must be positive")
	}
	if c.Session.TTL <= 0 {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("session.ttl must be positive")
	}
	if c.Session.CookieName == "" {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("session.cookie_name is required")
	}

	switch c.Session.Store {
	case SessionStoreMemory, SessionStorePostgres:
	default:
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("session.store must be %q or %q, got %q",
				SessionStoreMemory, SessionStorePostgres, c.Session.Store)
	}
	if c.Session.Store == SessionStorePostgres && c.Session.CleanupInterval <= 0 {
		return oops.In("config").Code("CONFIG_INVALID").Errorf("session.cleanup_interval must be positive")
	}

	switch c.Auth.Hasher {
	case HasherArgon2id, HasherBcrypt:
	default:
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("auth.hasher must be %q or %q, got %q",
				HasherArgon2id, HasherBcrypt, c.Auth.Hasher)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// Redacted returns a single-line summary safe for logs: the database
// URL is reduced to its host portion.
func (c *Config) Redacted() string {
	dbHost := "unset"
	if c.Database.URL != "" {
		dbHost = "set"
		if at := strings.LastIndex(c.Database.URL, "@"); at != -1 {
			dbHost = c.Database.URL[at+1:]
		}
	}
	return fmt.Sprintf("addr=%s db=%s session_store=%s hasher=%s",
		c.Server.Addr, dbHost, c.Session.Store, c.Auth.Hasher)
}
