// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func ready(context.Context) error { return nil }

func startServer(t *testing.T, checker ReadinessChecker, register ...func(prometheus.Registerer)) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", checker, discard(), register...)
	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	extra := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payzy_test_registered_total",
		Help: "Registered through NewServer",
	})
	server := startServer(t, ready, func(reg prometheus.Registerer) { reg.MustRegister(extra) })
	extra.Inc()

	server.Metrics().RequestsTotal.WithLabelValues("GET", "/auth/me", "200").Inc()

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	for _, want := range []string{"# HELP", "# TYPE", "go_", "process_", "payzy_http_requests_total", "payzy_test_registered_total 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	if strings.TrimSpace(body) != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name    string
		checker ReadinessChecker
		status  int
		body    string
	}{
		{name: "no checker", checker: nil, status: http.StatusOK, body: "ok"},
		{name: "ready", checker: ready, status: http.StatusOK, body: "ok"},
		{
			name:    "database down",
			checker: func(context.Context) error { return errors.New("connection refused") },
			status:  http.StatusServiceUnavailable,
			body:    "not ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.checker, discard())
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			if strings.TrimSpace(rec.Body.String()) != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, rec.Body.String())
			}
		})
	}
}

func TestServer_ReadinessHasDeadline(t *testing.T) {
	var hadDeadline bool
	server := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}, discard())

	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))
	if !hadDeadline {
		t.Error("readiness checker should run with a deadline")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	server := startServer(t, nil)
	if _, err := server.Start(); err == nil {
		t.Error("expected error starting a running server")
	}
}

func TestServer_StopWhenNotRunning(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, discard())
	if err := server.Stop(context.Background()); err != nil {
		t.Errorf("stop on idle server should be a no-op, got %v", err)
	}
	if server.Addr() != "" {
		t.Errorf("expected empty addr, got %q", server.Addr())
	}
}

func TestServer_StartBadAddress(t *testing.T) {
	server := NewServer("256.0.0.1:bad", nil, discard())
	if _, err := server.Start(); err == nil {
		t.Fatal("expected listen error")
	}
	// A failed start leaves the server startable.
	if err := server.Stop(context.Background()); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
}

func TestMetrics_Instrument(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(metrics.Instrument)
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/plain", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hi"))
	})

	for _, path := range []string{"/users/1", "/users/2", "/plain"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/users/{id}", "418")); got != 2 {
		t.Errorf("expected 2 requests for /users/{id}, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/plain", "200")); got != 1 {
		t.Errorf("expected 1 request for /plain, got %v", got)
	}
}
