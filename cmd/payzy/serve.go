// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/auth/postgres"
	"github.com/payzy/payzy/internal/config"
	"github.com/payzy/payzy/internal/httpapi"
	"github.com/payzy/payzy/internal/logging"
	"github.com/payzy/payzy/internal/store"
)

const serviceName = "payzy"

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and, when a metrics address is configured, the
metrics and health endpoints. SIGINT or SIGTERM triggers a graceful shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	// Validate has already accepted the level.
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}

// runServeWithDeps runs the API until ctx is cancelled, a signal arrives or
// a server fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(cfg, cmd)
	logger.Info("starting api",
		"environment", cfg.Environment,
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := deps.SessionManagerFactory(logger)
	if err := manager.Init(ctx, cfg.PoolConfig()); err != nil {
		//nolint:wrapcheck // Init errors already carry codes
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down session manager", "error", err)
		}
	}()

	handler, err := buildHandler(cfg, manager, logger)
	if err != nil {
		return err
	}

	var middleware []func(http.Handler) http.Handler
	var obsServer ObservabilityServer
	var obsErrCh <-chan error
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, manager.Ping, logger,
			store.RegisterMetrics,
			auth.RegisterMetrics,
			func(reg prometheus.Registerer) { reg.MustRegister(store.NewPoolCollector(manager)) },
		)
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Server.MetricsAddr).Wrap(err)
		}
		middleware = append(middleware, obsServer.Metrics().Instrument)
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	apiServer := &http.Server{
		Handler:           handler.Routes(middleware...),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := apiServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	cmd.Println("payzy API listening on", listener.Addr().String())
	logger.Info("api ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-apiErrCh:
		if ok {
			runErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok {
			runErr = oops.Code("OBSERVABILITY_SERVER_FAILED").Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return runErr
}

// buildHandler wires the auth service over the session manager.
func buildHandler(cfg *config.Config, sessions auth.Sessions, logger *slog.Logger) (*httpapi.Handler, error) {
	hasher, err := auth.NewBcryptHasher(cfg.Security.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenManager(cfg.Security.SecretKey)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(sessions, postgres.Factory(hasher), hasher, tokens,
		auth.ServiceOptions{TokenTTL: cfg.TokenTTL()}, logger)
	if err != nil {
		return nil, err
	}
	return httpapi.NewHandler(svc, logger)
}

func stopObservability(s ObservabilityServer, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}
