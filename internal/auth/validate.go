// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Input limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 100
	MinFullNameLength = 2
	MaxFullNameLength = 255
	MaxEmailLength    = 255
	MaxTimezoneLength = 50
)

var (
	phoneRegex    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "")
)

// Registration is the sign-up payload.
type Registration struct {
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Phone           string `json:"phone,omitempty"`
	Bio             string `json:"bio,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Normalize trims the payload, lower-cases the email, strips phone
// separators and upper-cases the currency.
func (r *Registration) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = phoneStripper.Replace(strings.TrimSpace(r.Phone))
	r.Bio = strings.TrimSpace(r.Bio)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Timezone = strings.TrimSpace(r.Timezone)
}

// Validate checks every field and reports all failures at once.
func (r *Registration) Validate() error {
	verr := &ValidationError{}

	validateEmail(verr, r.Email)

	if n := utf8.RuneCountInString(r.FullName); n < MinFullNameLength || n > MaxFullNameLength {
		verr.add("full_name", "must be between 2 and 255 characters")
	}
	if r.Phone != "" && !phoneRegex.MatchString(r.Phone) {
		verr.add("phone", "must be a valid international phone number")
	}
	if r.Currency != "" && !currencyRegex.MatchString(r.Currency) {
		verr.add("currency", "must be a 3-letter currency code")
	}
	if utf8.RuneCountInString(r.Timezone) > MaxTimezoneLength {
		verr.add("timezone", "must be at most 50 characters")
	}

	validatePassword(verr, r.Password, true)
	if r.ConfirmPassword != r.Password {
		verr.add("confirm_password", "passwords do not match")
	}

	return verr.asError()
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims and lower-cases the email.
func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// Validate checks the login payload.
func (r *LoginRequest) Validate() error {
	verr := &ValidationError{}
	validateEmail(verr, r.Email)
	validatePassword(verr, r.Password, false)
	return verr.asError()
}

func validateEmail(verr *ValidationError, email string) {
	if email == "" {
		verr.add("email", "is required")
		return
	}
	if len(email) > MaxEmailLength {
		verr.add("email", "must be at most 255 characters")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		verr.add("email", "must be a valid email address")
	}
}

// validatePassword enforces length, and character classes when strict.
func validatePassword(verr *ValidationError, password string, strict bool) {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		verr.add("password", "must be between 8 and 100 characters")
		return
	}
	if !strict {
		return
	}
	var upper, lower, digit bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		}
	}
	if !upper {
		verr.add("password", "must contain at least one uppercase letter")
	}
	if !lower {
		verr.add("password", "must contain at least one lowercase letter")
	}
	if !digit {
		verr.add("password", "must contain at least one digit")
	}
}

func (e *ValidationError) asError() error {
	if e.empty() {
		return nil
	}
	fields := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		fields = append(fields, f.Field)
	}
	return oops.Code(CodeValidation).
		With("fields", fields).
		Wrap(e)
}
