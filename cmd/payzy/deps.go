// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/payzy/payzy/internal/observability"
	"github.com/payzy/payzy/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// SessionManagerFactory creates the session manager.
	// Default: store.NewManager
	SessionManagerFactory func(logger *slog.Logger) SessionManager

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger, register ...func(prometheus.Registerer)) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string, logger *slog.Logger) (Migrator, error)
}

// SessionManager wraps the methods serve uses from store.Manager.
type SessionManager interface {
	Init(ctx context.Context, cfg store.PoolConfig) error
	WithSession(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error
	Ping(ctx context.Context) error
	Stats() (store.PoolStats, bool)
	Shutdown(ctx context.Context) error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.SessionManagerFactory == nil {
		out.SessionManagerFactory = func(logger *slog.Logger) SessionManager {
			return store.NewManager(logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger, register ...func(prometheus.Registerer)) ObservabilityServer {
			return observability.NewServer(addr, readiness, logger, register...)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	out := MigrateDeps{}
	if d != nil {
		out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string, logger *slog.Logger) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL, logger)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return &out
}
