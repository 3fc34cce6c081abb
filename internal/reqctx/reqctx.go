// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package reqctx carries the per-request correlation id.
//
// The id exists only for log correlation. It carries no authorization
// meaning and is never trusted for anything else.
package reqctx

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderName is the HTTP header used to receive and echo the correlation id.
const HeaderName = "X-Request-ID"

// maxInboundLength bounds the size of a caller-supplied correlation id.
const maxInboundLength = 128

type ctxKey struct{}

// NewID generates a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the correlation id stored in ctx, or "" if there is none.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns ctx unchanged when it already carries an id, otherwise a
// copy carrying a freshly generated one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// FromHeader returns value if it is acceptable as a correlation id and a
// newly generated id otherwise.
func FromHeader(value string) string {
	if acceptable(value) {
		return value
	}
	return NewID()
}

// acceptable reports whether v is 1..maxInboundLength visible ASCII characters.
func acceptable(v string) bool {
	if v == "" || len(v) > maxInboundLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return false
		}
	}
	return true
}

// Middleware stamps every request with a correlation id taken from the
// X-Request-ID header (or generated) and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromHeader(r.Header.Get(HeaderName))
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
