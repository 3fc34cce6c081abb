// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/store"
)

// emailUniqueIndex is the unique index on LOWER(email).
const emailUniqueIndex = "users_email_key"

const userColumns = `id, email, full_name, hashed_password, is_active, is_verified,
	phone, avatar_url, bio, currency, timezone, created_at, updated_at, last_login`

// UserRepository implements auth.UserRepository over one data-access session.
type UserRepository struct {
	q      store.Querier
	hasher auth.PasswordHasher
}

// NewUserRepository creates a UserRepository bound to q. The hasher is used
// by Authenticate.
func NewUserRepository(q store.Querier, hasher auth.PasswordHasher) *UserRepository {
	return &UserRepository{q: q, hasher: hasher}
}

// Factory returns an auth.RepositoryFactory producing repositories that
// share hasher.
func Factory(hasher auth.PasswordHasher) auth.RepositoryFactory {
	return func(q store.Querier) auth.UserRepository {
		return NewUserRepository(q, hasher)
	}
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Create stores a new user. The email is checked first so the common
// duplicate case never reaches the insert; a concurrent registration that
// slips past the check is caught by the unique index. Both paths return an
// error wrapping auth.ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.GetByEmail(ctx, user.Email)
	switch {
	case err == nil:
		return duplicateEmail(user.Email, nil)
	case !errors.Is(err, auth.ErrNotFound):
		return err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO users (
			id, email, full_name, hashed_password, is_active, is_verified,
			phone, avatar_url, bio, currency, timezone, created_at, updated_at, last_login
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID.String(),
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		user.Phone,
		user.AvatarURL,
		user.Bio,
		user.Currency,
		user.Timezone,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLogin,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == emailUniqueIndex {
			return duplicateEmail(user.Email, err)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

func duplicateEmail(email string, cause error) error {
	b := oops.Code(auth.CodeDuplicateEmail).With("email", email)
	if cause != nil {
		b = b.With("constraint", emailUniqueIndex).With("cause", cause.Error())
	}
	return b.Wrap(auth.ErrDuplicateEmail)
}

// Authenticate returns the user whose email and password both match. An
// unknown email still performs a full hash comparison.
func (r *UserRepository) Authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	user, err := r.GetByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		r.hasher.VerifyDummy(password)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if !r.hasher.Verify(password, user.PasswordHash) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return user, nil
}

// UpdateLastLogin records a successful login time.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.q.Exec(ctx, `
		UPDATE users SET last_login = $2, updated_at = GREATEST(updated_at, $2)
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("USER_UPDATE_LAST_LOGIN_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	result, err := r.q.Exec(ctx, `
		UPDATE users SET hashed_password = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1
	`, id.String(), passwordHash, at)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user  auth.User
		idStr string
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsVerified,
		&user.Phone,
		&user.AvatarURL,
		&user.Bio,
		&user.Currency,
		&user.Timezone,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLogin,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
