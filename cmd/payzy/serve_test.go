// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payzy/payzy/internal/observability"
	"github.com/payzy/payzy/internal/store"
	"github.com/payzy/payzy/pkg/errutil"
)

// fakeSessionManager stands in for store.Manager.
type fakeSessionManager struct {
	mu       sync.Mutex
	initErr  error
	pingErr  error
	cfg      store.PoolConfig
	shutdown bool
}

func (f *fakeSessionManager) Init(_ context.Context, cfg store.PoolConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return f.initErr
}

func (f *fakeSessionManager) WithSession(context.Context, func(context.Context, store.Querier) error) error {
	return errors.New("no database in tests")
}

func (f *fakeSessionManager) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeSessionManager) Stats() (store.PoolStats, bool) {
	return store.PoolStats{}, false
}

func (f *fakeSessionManager) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func (f *fakeSessionManager) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeSessionManager) wasShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

type serveHarness struct {
	manager *fakeSessionManager
	apiAddr chan string
	obs     *observability.Server
	deps    *ServeDeps
}

func newServeHarness(t *testing.T) *serveHarness {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	configFile = ""

	h := &serveHarness{
		manager: &fakeSessionManager{},
		apiAddr: make(chan string, 1),
	}
	h.deps = &ServeDeps{
		SessionManagerFactory: func(*slog.Logger) SessionManager { return h.manager },
		ObservabilityServerFactory: func(_ string, readiness observability.ReadinessChecker, logger *slog.Logger, register ...func(prometheus.Registerer)) ObservabilityServer {
			h.obs = observability.NewServer("127.0.0.1:0", readiness, logger, register...)
			return h.obs
		},
		ListenerFactory: func(network, _ string) (net.Listener, error) {
			ln, err := net.Listen(network, "127.0.0.1:0")
			if err == nil {
				h.apiAddr <- ln.Addr().String()
			}
			return ln, err
		},
	}
	return h
}

// execute runs "serve args..."; it is safe to call from another goroutine.
func (h *serveHarness) execute(ctx context.Context, args ...string) error {
	cmd := newRootCmd(h.deps, nil)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"serve", "--secret-key", testSecret, "--log-level", "error"}, args...))
	return cmd.ExecuteContext(ctx)
}

func statusOf(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	h := newServeHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.execute(ctx, "--db-pool-size", "3") }()

	var addr string
	select {
	case addr = <-h.apiAddr:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("api listener never opened")
	}

	assert.Equal(t, http.StatusUnauthorized, statusOf(t, "http://"+addr+"/auth/me"))

	obsURL := "http://" + h.obs.Addr()
	assert.Equal(t, http.StatusOK, statusOf(t, obsURL+"/healthz/readiness"))
	h.manager.setPingErr(errors.New("database unreachable"))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(t, obsURL+"/healthz/readiness"))
	assert.Equal(t, http.StatusOK, statusOf(t, obsURL+"/metrics"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}

	assert.True(t, h.manager.wasShutdown())
	assert.Equal(t, 3, h.manager.cfg.PoolSize)
	assert.Equal(t, "payzy_development", h.manager.cfg.ApplicationName)
}

func TestServe_MetricsDisabled(t *testing.T) {
	h := newServeHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.execute(ctx, "--metrics-addr", "") }()

	select {
	case <-h.apiAddr:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("api listener never opened")
	}
	assert.Nil(t, h.obs, "observability server not created")

	cancel()
	require.NoError(t, <-done)
}

func TestServe_InitFailure(t *testing.T) {
	h := newServeHarness(t)
	h.manager.initErr = errors.New("connection refused")

	err := h.execute(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.apiAddr, "listener not opened")
	assert.Nil(t, h.obs)
}

func TestServe_ListenFailure(t *testing.T) {
	h := newServeHarness(t)
	h.deps.ListenerFactory = func(string, string) (net.Listener, error) {
		return nil, errors.New("address in use")
	}

	err := h.execute(context.Background())
	errutil.AssertErrorCode(t, err, "LISTEN_FAILED")
	assert.True(t, h.manager.wasShutdown())
}

func TestServe_InvalidConfig(t *testing.T) {
	h := newServeHarness(t)
	err := h.execute(context.Background(), "--bcrypt-cost", "4")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Nil(t, h.obs)
}
