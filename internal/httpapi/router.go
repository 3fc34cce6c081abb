// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/reqctx"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// AuthService is the subset of auth.Service the handlers call.
type AuthService interface {
	Register(ctx context.Context, reg auth.Registration) (*auth.PublicUser, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
	ResolveCurrentUser(ctx context.Context, token string) (*auth.PublicUser, error)
}

// Handler serves the auth endpoints.
type Handler struct {
	auth   AuthService
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc AuthService, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("auth service is required")
	}
	if logger == nil {
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("logger is required")
	}
	return &Handler{auth: svc, logger: logger.With("component", "httpapi")}, nil
}

// Routes returns the router with shared middleware applied. Extra
// middleware runs inside the request id and recovery layers.
func (h *Handler) Routes(extra ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(reqctx.Middleware)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	for _, mw := range extra {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/me", h.me)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
