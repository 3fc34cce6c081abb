// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package config loads layered runtime configuration.
//
// Sources are applied in increasing precedence: flag defaults, an optional
// YAML file, PAYZY_ environment variables (sections separated by a double
// underscore, e.g. PAYZY_DATABASE__POOL_SIZE), DATABASE_URL, then flags set
// explicitly on the command line.
package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/logging"
	"github.com/payzy/payzy/internal/store"
)

// EnvPrefix is the prefix for configuration environment variables.
const EnvPrefix = "PAYZY_"

// Config is the complete runtime configuration.
type Config struct {
	Environment string         `koanf:"environment"`
	ProjectName string         `koanf:"project_name"`
	Server      ServerConfig   `koanf:"server"`
	Log         LogConfig      `koanf:"log"`
	Security    SecurityConfig `koanf:"security"`
	Database    DatabaseConfig `koanf:"database"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// SecurityConfig configures credentials and tokens.
type SecurityConfig struct {
	SecretKey                string `koanf:"secret_key"`
	Algorithm                string `koanf:"algorithm"`
	AccessTokenExpireMinutes int    `koanf:"access_token_expire_minutes"`
	BcryptCost               int    `koanf:"bcrypt_cost"`
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	Name           string        `koanf:"name"`
	PoolSize       int           `koanf:"pool_size"`
	MaxOverflow    int           `koanf:"max_overflow"`
	PoolTimeout    time.Duration `koanf:"pool_timeout"`
	PoolRecycle    time.Duration `koanf:"pool_recycle"`
	ConnectRetries uint64        `koanf:"connect_retries"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"environment":                 "environment",
	"project-name":                "project_name",
	"addr":                        "server.addr",
	"metrics-addr":                "server.metrics_addr",
	"shutdown-timeout":            "server.shutdown_timeout",
	"log-format":                  "log.format",
	"log-level":                   "log.level",
	"secret-key":                  "security.secret_key",
	"token-algorithm":             "security.algorithm",
	"access-token-expire-minutes": "security.access_token_expire_minutes",
	"bcrypt-cost":                 "security.bcrypt_cost",
	"database-url":                "database.url",
	"db-host":                     "database.host",
	"db-port":                     "database.port",
	"db-user":                     "database.user",
	"db-password":                 "database.password",
	"db-name":                     "database.name",
	"db-pool-size":                "database.pool_size",
	"db-max-overflow":             "database.max_overflow",
	"db-pool-timeout":             "database.pool_timeout",
	"db-pool-recycle":             "database.pool_recycle",
	"db-connect-retries":          "database.connect_retries",
}

// RegisterFlags adds every configuration flag, with its default, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("environment", "development", "deployment environment name")
	fs.String("project-name", "payzy", "project name reported to the database")
	fs.String("addr", ":8000", "HTTP API listen address")
	fs.String("metrics-addr", ":9100", "metrics and health listen address (empty to disable)")
	fs.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	fs.String("log-format", "json", "log format (json, text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("secret-key", "", "token signing secret, at least 32 bytes")
	fs.String("token-algorithm", auth.AlgorithmHS256, "token signing algorithm")
	fs.Int("access-token-expire-minutes", 30, "access token lifetime in minutes")
	fs.Int("bcrypt-cost", auth.DefaultBcryptCost, "bcrypt work factor")
	fs.String("database-url", "", "PostgreSQL connection URL (overrides db-* parts)")
	fs.String("db-host", "localhost", "database host")
	fs.Int("db-port", 5432, "database port")
	fs.String("db-user", "postgres", "database user")
	fs.String("db-password", "", "database password")
	fs.String("db-name", "payzy", "database name")
	fs.Int("db-pool-size", store.DefaultPoolSize, "connection pool size")
	fs.Int("db-max-overflow", store.DefaultMaxOverflow, "connections allowed beyond the pool size")
	fs.Duration("db-pool-timeout", store.DefaultAcquireTimeout, "maximum wait for a pooled connection")
	fs.Duration("db-pool-recycle", store.DefaultRecycleInterval, "maximum connection lifetime")
	fs.Uint64("db-connect-retries", store.DefaultConnectRetries, "startup connectivity retries")
}

// Load builds a Config from the layered sources. fs must have been passed
// to RegisterFlags and parsed. An empty path skips the file layer.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && !k.Exists("database.url") {
		if err := k.Set("database.url", dsn); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "DATABASE_URL").Wrap(err)
		}
	}

	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns PAYZY_DATABASE__POOL_SIZE into database.pool_size.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func invalid(key string, value any, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf(format, args...)
}

// Validate checks ranges and required settings.
func (c *Config) Validate() error {
	switch {
	case c.Environment == "":
		return invalid("environment", c.Environment, "environment is required")
	case c.ProjectName == "":
		return invalid("project_name", c.ProjectName, "project name is required")
	case c.Server.Addr == "":
		return invalid("server.addr", c.Server.Addr, "listen address is required")
	case c.Server.ShutdownTimeout <= 0:
		return invalid("server.shutdown_timeout", c.Server.ShutdownTimeout.String(), "shutdown timeout must be positive")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", c.Log.Format, "log format must be json or text")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "unknown log level %q", c.Log.Level)
	}

	s := c.Security
	switch {
	case len(s.SecretKey) < auth.MinSecretLength:
		// The secret itself is never attached to the error.
		return invalid("security.secret_key", len(s.SecretKey), "secret key must be at least %d bytes", auth.MinSecretLength)
	case s.Algorithm != auth.AlgorithmHS256:
		return invalid("security.algorithm", s.Algorithm, "only %s is supported", auth.AlgorithmHS256)
	case s.AccessTokenExpireMinutes < 1 || s.AccessTokenExpireMinutes > 1440:
		return invalid("security.access_token_expire_minutes", s.AccessTokenExpireMinutes, "must be between 1 and 1440")
	case s.BcryptCost < 10 || s.BcryptCost > 14:
		return invalid("security.bcrypt_cost", s.BcryptCost, "must be between 10 and 14")
	}

	d := c.Database
	switch {
	case d.URL == "" && (d.Host == "" || d.Name == ""):
		return invalid("database.url", "", "database url or host and name are required")
	case d.URL == "" && (d.Port < 1 || d.Port > 65535):
		return invalid("database.port", d.Port, "must be between 1 and 65535")
	case d.PoolSize < 1 || d.PoolSize > 50:
		return invalid("database.pool_size", d.PoolSize, "must be between 1 and 50")
	case d.MaxOverflow < 0 || d.MaxOverflow > 100:
		return invalid("database.max_overflow", d.MaxOverflow, "must be between 0 and 100")
	case d.PoolTimeout < time.Second || d.PoolTimeout > 300*time.Second:
		return invalid("database.pool_timeout", d.PoolTimeout.String(), "must be between 1s and 300s")
	case d.PoolRecycle < store.MinRecycleInterval:
		return invalid("database.pool_recycle", d.PoolRecycle.String(), "must be at least %s", store.MinRecycleInterval)
	}
	return nil
}

// ApplicationName identifies this deployment to the database server.
func (c *Config) ApplicationName() string {
	return c.ProjectName + "_" + c.Environment
}

// DatabaseURL returns the connection URL, built from the parts when no URL
// is configured, with application_name added unless already present.
func (c *Config) DatabaseURL() string {
	d := c.Database
	raw := d.URL
	if raw == "" {
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:   "/" + d.Name,
		}
		if d.User != "" {
			if d.Password != "" {
				u.User = url.UserPassword(d.User, d.Password)
			} else {
				u.User = url.User(d.User)
			}
		}
		raw = u.String()
	}

	u, err := url.Parse(raw)
	if err != nil {
		// Leave it for the driver to report.
		return raw
	}
	q := u.Query()
	if q.Get("application_name") == "" {
		q.Set("application_name", c.ApplicationName())
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// PoolConfig returns the session manager pool settings.
func (c *Config) PoolConfig() store.PoolConfig {
	pc := store.DefaultPoolConfig(c.DatabaseURL())
	pc.PoolSize = c.Database.PoolSize
	pc.MaxOverflow = c.Database.MaxOverflow
	pc.AcquireTimeout = c.Database.PoolTimeout
	pc.RecycleInterval = c.Database.PoolRecycle
	pc.ConnectRetries = c.Database.ConnectRetries
	pc.ApplicationName = c.ApplicationName()
	return pc
}

// TokenTTL is the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.AccessTokenExpireMinutes) * time.Minute
}
