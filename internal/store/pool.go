// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// Pool defaults.
const (
	DefaultPoolSize          = 10
	DefaultMaxOverflow       = 20
	DefaultAcquireTimeout    = 30 * time.Second
	DefaultRecycleInterval   = time.Hour
	DefaultHealthCheckPeriod = time.Minute
	DefaultConnectRetries    = 3

	// MinRecycleInterval is the shortest accepted connection lifetime.
	MinRecycleInterval = 5 * time.Minute
)

// PoolConfig describes the connection pool owned by a Manager.
type PoolConfig struct {
	// DatabaseURL is a PostgreSQL connection string.
	DatabaseURL string

	// PoolSize is the number of connections the pool is sized for.
	PoolSize int

	// MaxOverflow is how many connections may be opened beyond PoolSize
	// under load.
	MaxOverflow int

	// AcquireTimeout bounds how long a caller waits for a free connection.
	AcquireTimeout time.Duration

	// RecycleInterval is the maximum lifetime and idle time of a connection.
	RecycleInterval time.Duration

	// HealthCheckPeriod is how often idle connections are checked.
	HealthCheckPeriod time.Duration

	// ApplicationName is reported to the server as application_name.
	ApplicationName string

	// ConnectRetries is how many times the startup ping is retried.
	ConnectRetries uint64
}

// DefaultPoolConfig returns a PoolConfig with default sizing for url.
func DefaultPoolConfig(url string) PoolConfig {
	return PoolConfig{
		DatabaseURL:       url,
		PoolSize:          DefaultPoolSize,
		MaxOverflow:       DefaultMaxOverflow,
		AcquireTimeout:    DefaultAcquireTimeout,
		RecycleInterval:   DefaultRecycleInterval,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectRetries:    DefaultConnectRetries,
	}
}

// MaxConns is the hard connection limit: PoolSize plus MaxOverflow.
func (c PoolConfig) MaxConns() int {
	return c.PoolSize + c.MaxOverflow
}

// Validate checks the pool settings.
func (c PoolConfig) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return oops.Code("DB_CONFIG_INVALID").With("field", "database_url").Errorf("database url is required")
	case c.PoolSize < 1:
		return oops.Code("DB_CONFIG_INVALID").With("field", "pool_size").With("value", c.PoolSize).
			Errorf("pool size must be at least 1")
	case c.MaxOverflow < 0:
		return oops.Code("DB_CONFIG_INVALID").With("field", "max_overflow").With("value", c.MaxOverflow).
			Errorf("max overflow must not be negative")
	case c.AcquireTimeout <= 0:
		return oops.Code("DB_CONFIG_INVALID").With("field", "acquire_timeout").
			Errorf("acquire timeout must be positive")
	case c.RecycleInterval <= 0:
		return oops.Code("DB_CONFIG_INVALID").With("field", "recycle_interval").
			Errorf("recycle interval must be positive")
	}
	return nil
}

// pgxConfig translates c into a pgxpool configuration with lifecycle hooks
// that log connection events and ping every connection before reuse.
func (c PoolConfig) pgxConfig(logger *slog.Logger) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("field", "database_url").Wrap(err)
	}

	cfg.MaxConns = int32(c.MaxConns()) //nolint:gosec // bounded by config validation
	cfg.MinConns = 0
	cfg.MaxConnLifetime = c.RecycleInterval
	cfg.MaxConnIdleTime = c.RecycleInterval
	if c.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = c.HealthCheckPeriod
	}
	if c.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		logger.DebugContext(ctx, "database connection established", "pid", conn.PgConn().PID())
		return nil
	}
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		if err := conn.Ping(ctx); err != nil {
			RecordConnectionInvalidated()
			logger.WarnContext(ctx, "database connection invalidated",
				"pid", conn.PgConn().PID(),
				"error", err,
			)
			return false
		}
		logger.DebugContext(ctx, "database connection checked out", "pid", conn.PgConn().PID())
		return true
	}
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		logger.Debug("database connection returned to pool", "pid", conn.PgConn().PID())
		return true
	}
	cfg.BeforeClose = func(conn *pgx.Conn) {
		logger.Debug("database connection closed", "pid", conn.PgConn().PID())
	}

	return cfg, nil
}

// Pool is the connection pool surface the Manager depends on.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Stats() PoolStats
	Close()
}

// Conn is one connection checked out of a Pool.
type Conn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Release()
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	AcquiredConns     int32
	IdleConns         int32
	TotalConns        int32
	MaxConns          int32
	AcquireCount      int64
	EmptyAcquireCount int64
	CanceledAcquires  int64
}

// PoolFactory opens a Pool for a configuration.
type PoolFactory func(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (Pool, error)

// NewPgxPool opens a pgxpool-backed Pool.
func NewPgxPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (Pool, error) {
	pgxCfg, err := cfg.pgxConfig(logger)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	return pgxPool{Pool: pool}, nil
}

// pgxPool adapts *pgxpool.Pool to Pool.
type pgxPool struct {
	*pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		//nolint:wrapcheck // classified by Manager.acquire
		return nil, err
	}
	return conn, nil
}

func (p pgxPool) Stats() PoolStats {
	s := p.Pool.Stat()
	return PoolStats{
		AcquiredConns:     s.AcquiredConns(),
		IdleConns:         s.IdleConns(),
		TotalConns:        s.TotalConns(),
		MaxConns:          s.MaxConns(),
		AcquireCount:      s.AcquireCount(),
		EmptyAcquireCount: s.EmptyAcquireCount(),
		CanceledAcquires:  s.CanceledAcquireCount(),
	}
}
