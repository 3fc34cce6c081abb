// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/payzy/payzy/internal/auth"
	authpg "github.com/payzy/payzy/internal/auth/postgres"
	"github.com/payzy/payzy/internal/store"
)

// testManager is the shared session manager for integration tests.
var testManager *store.Manager

// TestMain sets up a PostgreSQL testcontainer for integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("payzy_test"),
		postgres.WithUsername("payzy"),
		postgres.WithPassword("payzy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to get connection string: " + err.Error())
	}

	logger := slog.New(slog.DiscardHandler)
	migrator, err := store.NewMigrator(connStr, logger)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create migrator: " + err.Error())
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}
	_ = migrator.Close()

	testManager = store.NewManager(logger)
	if err := testManager.Init(ctx, store.DefaultPoolConfig(connStr)); err != nil {
		_ = container.Terminate(ctx)
		panic("failed to init session manager: " + err.Error())
	}

	code := m.Run()

	_ = testManager.Shutdown(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func testHasher(t *testing.T) *auth.BcryptHasher {
	t.Helper()
	h, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

// inSession runs fn against a repository in its own committed session.
func inSession(t *testing.T, hasher auth.PasswordHasher, fn func(ctx context.Context, repo *authpg.UserRepository) error) error {
	t.Helper()
	return testManager.WithSession(context.Background(), func(ctx context.Context, q store.Querier) error {
		return fn(ctx, authpg.NewUserRepository(q, hasher))
	})
}

func newUser(t *testing.T, hasher auth.PasswordHasher, email, password string) *auth.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	user, err := auth.NewUser(auth.Registration{
		Email:    email,
		FullName: "Integration User",
		Password: password,
	}, hash, time.Now().Truncate(time.Microsecond))
	require.NoError(t, err)
	return user
}

func cleanupUser(t *testing.T, id ulid.ULID) {
	t.Cleanup(func() {
		_ = testManager.WithSession(context.Background(), func(ctx context.Context, q store.Querier) error {
			_, err := q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
			return err
		})
	})
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	hasher := testHasher(t)
	user := newUser(t, hasher, "create@example.com", "Secret123")
	cleanupUser(t, user.ID)

	require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		return repo.Create(ctx, user)
	}))

	var byID, byEmail *auth.User
	require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		var err error
		if byID, err = repo.GetByID(ctx, user.ID); err != nil {
			return err
		}
		byEmail, err = repo.GetByEmail(ctx, "CREATE@example.com")
		return err
	}))

	assert.Equal(t, user.ID, byID.ID)
	assert.Equal(t, user.Email, byID.Email)
	assert.Equal(t, auth.DefaultCurrency, byID.Currency)
	assert.Equal(t, auth.DefaultTimezone, byID.Timezone)
	assert.True(t, byID.IsActive)
	assert.False(t, byID.IsVerified)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestUserRepository_GetMissing(t *testing.T) {
	hasher := testHasher(t)
	err := inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		_, err := repo.GetByID(ctx, ulid.Make())
		return err
	})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	hasher := testHasher(t)
	first := newUser(t, hasher, "dupe@example.com", "Secret123")
	cleanupUser(t, first.ID)
	require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		return repo.Create(ctx, first)
	}))

	second := newUser(t, hasher, "DUPE@example.com", "Secret123")
	err := inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		return repo.Create(ctx, second)
	})
	require.ErrorIs(t, err, auth.ErrDuplicateEmail)
}

func TestUserRepository_ConcurrentDuplicateEmail(t *testing.T) {
	hasher := testHasher(t)

	const racers = 4
	var (
		wg   sync.WaitGroup
		errs = make([]error, racers)
	)
	for i := range racers {
		user := newUser(t, hasher, "race@example.com", "Secret123")
		cleanupUser(t, user.ID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
				return repo.Create(ctx, user)
			})
		}()
	}
	wg.Wait()

	var created, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case assert.ErrorIs(t, err, auth.ErrDuplicateEmail):
			duplicates++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, racers-1, duplicates)
}

func TestUserRepository_Authenticate(t *testing.T) {
	hasher := testHasher(t)
	user := newUser(t, hasher, "login@example.com", "Secret123")
	cleanupUser(t, user.ID)
	require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
		return repo.Create(ctx, user)
	}))

	t.Run("matching credentials", func(t *testing.T) {
		var got *auth.User
		require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
			var err error
			got, err = repo.Authenticate(ctx, "login@example.com", "Secret123")
			return err
		}))
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		err := inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
			_, err := repo.Authenticate(ctx, "login@example.com", "Wrong1234")
			return err
		})
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("last login is recorded", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
			return repo.UpdateLastLogin(ctx, user.ID, at)
		}))

		var got *auth.User
		require.NoError(t, inSession(t, hasher, func(ctx context.Context, repo *authpg.UserRepository) error {
			var err error
			got, err = repo.GetByID(ctx, user.ID)
			return err
		}))
		require.NotNil(t, got.LastLogin)
		assert.True(t, at.Equal(*got.LastLogin))
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})
}
