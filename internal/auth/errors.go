// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/payzy/payzy/internal/store"
)

// ErrNotFound is returned when a requested entity does not exist, and by
// UserRepository.Authenticate when no credential matches.
var ErrNotFound = errors.New("not found")

// Sentinels for the caller-facing error kinds. Errors returned by Service
// wrap exactly one of these (or a store sentinel) so callers can use errors.Is.
var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInactiveAccount    = errors.New("inactive user")
	ErrValidation         = errors.New("validation failed")
	ErrInternal           = errors.New("internal server error")
)

// Error codes for the caller-facing error kinds.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInactiveAccount    = "AUTH_INACTIVE_ACCOUNT"
	CodeInternal           = "AUTH_INTERNAL"
)

// Category groups errors by how a transport should present them.
type Category int

// Error categories, each corresponding to one class of transport status.
const (
	CategoryInternal Category = iota
	CategoryValidation
	CategoryConflict
	CategoryUnauthorized
	CategoryBadRequest
	CategoryUnavailable
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryConflict:
		return "conflict"
	case CategoryUnauthorized:
		return "unauthorized"
	case CategoryBadRequest:
		return "bad_request"
	case CategoryUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// CategoryOf classifies err. Token failures are unauthorized, anything
// unrecognized is internal.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryInternal
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	case errors.Is(err, ErrDuplicateEmail):
		return CategoryConflict
	case errors.Is(err, ErrInvalidCredentials), TokenFailureOf(err) != TokenOK:
		return CategoryUnauthorized
	case errors.Is(err, ErrInactiveAccount):
		return CategoryBadRequest
	case errors.Is(err, store.ErrPoolExhausted):
		return CategoryUnavailable
	default:
		return CategoryInternal
	}
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}
