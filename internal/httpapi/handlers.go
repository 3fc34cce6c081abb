// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/payzy/payzy/internal/auth"
)

// tokenRejected is the 401 message for a missing or unusable bearer token.
const tokenRejected = "could not validate credentials"

// decode reads a JSON object body into v. It writes the error response and
// returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, auth.CodeValidation, "validation failed",
			[]auth.FieldError{{Field: "body", Message: "must be a JSON object"}})
		return false
	}
	return true
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var reg auth.Registration
	if !decode(w, r, &reg) {
		return
	}

	user, err := h.auth.Register(r.Context(), reg)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, auth.CodeInvalidCredentials, tokenRejected, nil)
		return
	}

	user, err := h.auth.ResolveCurrentUser(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err, tokenRejected)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
// The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
