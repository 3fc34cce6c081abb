// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Profile defaults applied when a registration leaves them empty.
const (
	DefaultCurrency = "INR"
	DefaultTimezone = "UTC"
)

// User is a stored credential record with its profile.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	FullName     string
	Phone        *string
	AvatarURL    *string
	Bio          *string
	Currency     string
	Timezone     string
	IsActive     bool
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}

// NewUser builds an active, unverified user from a validated registration
// and an already computed password hash.
func NewUser(reg Registration, passwordHash string, now time.Time) (*User, error) {
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}
	if passwordHash == reg.Password {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Errorf("password hash must not be the plaintext password")
	}

	currency := reg.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	timezone := reg.Timezone
	if timezone == "" {
		timezone = DefaultTimezone
	}

	now = now.UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        reg.Email,
		PasswordHash: passwordHash,
		FullName:     reg.FullName,
		Phone:        optional(reg.Phone),
		Bio:          optional(reg.Bio),
		Currency:     currency,
		Timezone:     timezone,
		IsActive:     true,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PublicUser is the caller-facing projection of a User. It has no field
// that could carry the password hash.
type PublicUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Phone      *string   `json:"phone"`
	AvatarURL  *string   `json:"avatar_url"`
	Bio        *string   `json:"bio"`
	Currency   string    `json:"currency"`
	Timezone   string    `json:"timezone"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Public returns the caller-facing projection of u.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:         u.ID.String(),
		Email:      u.Email,
		FullName:   u.FullName,
		Phone:      u.Phone,
		AvatarURL:  u.AvatarURL,
		Bio:        u.Bio,
		Currency:   u.Currency,
		Timezone:   u.Timezone,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        *PublicUser `json:"user"`
}

// UserRepository manages user persistence over one data-access session.
type UserRepository interface {
	// GetByID retrieves a user by ID.
	// Returns ErrNotFound if no user has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Create stores a new user.
	// Returns an error wrapping ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, user *User) error

	// Authenticate returns the user whose email and password both match.
	// Returns ErrNotFound when either does not.
	Authenticate(ctx context.Context, email, password string) (*User, error)

	// UpdateLastLogin records a successful login time.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdatePasswordHash replaces the stored hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error
}
