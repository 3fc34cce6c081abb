// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package authtest provides in-memory collaborators for exercising
// auth.Service without a database.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/payzy/payzy/internal/auth"
	"github.com/payzy/payzy/internal/store"
)

// Sessions runs work inline with a nil Querier, or fails before running it
// when Err is set.
type Sessions struct {
	mu    sync.Mutex
	Err   error
	calls int
}

// WithSession implements auth.Sessions.
func (s *Sessions) WithSession(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error {
	s.mu.Lock()
	s.calls++
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

// Calls reports how many sessions were requested.
func (s *Sessions) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MemoryRepository is a map-backed auth.UserRepository. Email lookups are
// case-insensitive and returned users are copies.
type MemoryRepository struct {
	mu     sync.Mutex
	hasher auth.PasswordHasher
	users  map[ulid.ULID]*auth.User
}

// NewMemoryRepository creates an empty repository verifying with hasher.
func NewMemoryRepository(hasher auth.PasswordHasher) *MemoryRepository {
	return &MemoryRepository{hasher: hasher, users: make(map[ulid.ULID]*auth.User)}
}

// Factory returns a RepositoryFactory that always yields r.
func (r *MemoryRepository) Factory() auth.RepositoryFactory {
	return func(store.Querier) auth.UserRepository { return r }
}

func (r *MemoryRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, auth.ErrNotFound
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail(email)
}

func (r *MemoryRepository) byEmail(email string) (*auth.User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *MemoryRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.byEmail(user.Email); err == nil {
		return auth.ErrDuplicateEmail
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryRepository) Authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	user, err := r.GetByEmail(ctx, email)
	if err != nil {
		r.hasher.VerifyDummy(password)
		return nil, err
	}
	if !r.hasher.Verify(password, user.PasswordHash) {
		return nil, auth.ErrNotFound
	}
	return user, nil
}

func (r *MemoryRepository) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLogin = &at
	if at.After(u.UpdatedAt) {
		u.UpdatedAt = at
	}
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id ulid.ULID, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	if at.After(u.UpdatedAt) {
		u.UpdatedAt = at
	}
	return nil
}

var _ auth.UserRepository = (*MemoryRepository)(nil)
