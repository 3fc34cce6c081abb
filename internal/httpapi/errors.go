// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/reqctx"
	"github.com/payzy/payzy/internal/store"
)

// retryAfterSeconds is advertised when the connection pool is exhausted.
const retryAfterSeconds = "5"

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []auth.FieldError `json:"fields,omitempty"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// problem is how one error category is presented.
type problem struct {
	status  int
	code    string
	message string
}

var problems = map[auth.Category]problem{
	auth.CategoryValidation:   {http.StatusUnprocessableEntity, auth.CodeValidation, "validation failed"},
	auth.CategoryConflict:     {http.StatusConflict, auth.CodeDuplicateEmail, auth.ErrDuplicateEmail.Error()},
	auth.CategoryUnauthorized: {http.StatusUnauthorized, auth.CodeInvalidCredentials, auth.ErrInvalidCredentials.Error()},
	auth.CategoryBadRequest:   {http.StatusBadRequest, auth.CodeInactiveAccount, auth.ErrInactiveAccount.Error()},
	auth.CategoryUnavailable:  {http.StatusServiceUnavailable, store.CodePoolExhausted, "service temporarily unavailable"},
	auth.CategoryInternal:     {http.StatusInternalServerError, auth.CodeInternal, auth.ErrInternal.Error()},
}

// writeServiceError renders err by category. Messages come from the fixed
// table so wrapped detail never reaches the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, unauthorizedMessage string) {
	category := auth.CategoryOf(err)
	p := problems[category]

	message := p.message
	switch category {
	case auth.CategoryUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
		if unauthorizedMessage != "" {
			message = unauthorizedMessage
		}
	case auth.CategoryUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	var fields []auth.FieldError
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		fields = verr.Fields
	}
	writeError(w, r, p.status, p.code, message, fields)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, fields []auth.FieldError) {
	writeJSON(w, status, errorResponse{
		Error:     errorBody{Code: code, Message: message, Fields: fields},
		RequestID: reqctx.ID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
