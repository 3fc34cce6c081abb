// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/payzy/payzy/internal/store"
)

// setupPostgresContainer starts PostgreSQL and applies migrations.
func setupPostgresContainer() (string, func(), error) {
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
		return "", nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}

	migrator, err := store.NewMigrator(connStr, slog.New(slog.DiscardHandler))
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}
	defer migrator.Close() //nolint:errcheck // migrations already applied or failed
	if err := migrator.Up(); err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}

	return connStr, func() { _ = container.Terminate(ctx) }, nil
}

const insertUser = `INSERT INTO users (id, email, full_name, hashed_password)
	VALUES ($1, $2, 'Test User', 'x')`

var _ = Describe("Manager", func() {
	var (
		connStr string
		cleanup func()
		manager *store.Manager
	)

	BeforeEach(func() {
		var err error
		connStr, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		manager = store.NewManager(slog.New(slog.DiscardHandler))
	})

	AfterEach(func() {
		_ = manager.Shutdown(context.Background())
		cleanup()
	})

	countUsers := func(ctx context.Context) int {
		var n int
		err := manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
			return q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
		})
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	Describe("WithSession", func() {
		BeforeEach(func() {
			Expect(manager.Init(context.Background(), store.DefaultPoolConfig(connStr))).To(Succeed())
		})

		It("commits writes when the work succeeds", func() {
			ctx := context.Background()
			err := manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
				_, err := q.Exec(ctx, insertUser, "01J000000000000000000000A1", "a@example.com")
				return err
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(countUsers(ctx)).To(Equal(1))
		})

		It("discards writes when the work fails", func() {
			ctx := context.Background()
			boom := errors.New("boom")
			err := manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
				if _, err := q.Exec(ctx, insertUser, "01J000000000000000000000A2", "b@example.com"); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))
			Expect(countUsers(ctx)).To(Equal(0))
		})

		It("rejects a second user with the same email in any case", func() {
			ctx := context.Background()
			insert := func(id, email string) error {
				return manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
					_, err := q.Exec(ctx, insertUser, id, email)
					return err
				})
			}
			Expect(insert("01J000000000000000000000A3", "dup@example.com")).To(Succeed())
			Expect(insert("01J000000000000000000000A4", "DUP@example.com")).NotTo(Succeed())
		})
	})

	Describe("pool exhaustion", func() {
		It("fails fast once every connection is held", func() {
			ctx := context.Background()
			cfg := store.DefaultPoolConfig(connStr)
			cfg.PoolSize = 1
			cfg.MaxOverflow = 0
			cfg.AcquireTimeout = 200 * time.Millisecond
			Expect(manager.Init(ctx, cfg)).To(Succeed())

			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- manager.WithSession(ctx, func(context.Context, store.Querier) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			start := time.Now()
			err := manager.WithSession(ctx, func(context.Context, store.Querier) error { return nil })
			Expect(err).To(MatchError(store.ErrPoolExhausted))
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))

			close(release)
			Expect(<-done).To(Succeed())

			// The connection is usable again once released.
			Expect(manager.WithSession(ctx, func(context.Context, store.Querier) error { return nil })).To(Succeed())
		})
	})

	Describe("Shutdown", func() {
		It("waits for an in-flight session before closing", func() {
			ctx := context.Background()
			Expect(manager.Init(ctx, store.DefaultPoolConfig(connStr))).To(Succeed())

			started := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
					close(started)
					_, err := q.Exec(ctx, `SELECT pg_sleep(0.2)`)
					return err
				})
			}()
			<-started

			Expect(manager.Shutdown(ctx)).To(Succeed())
			Expect(<-done).To(Succeed())
			Expect(manager.State()).To(Equal(store.StateClosed))

			err := manager.WithSession(ctx, func(context.Context, store.Querier) error { return nil })
			Expect(err).To(MatchError(store.ErrNotInitialized))
		})
	})

	It("streams multi-row results through Query", func() {
		ctx := context.Background()
		Expect(manager.Init(ctx, store.DefaultPoolConfig(connStr))).To(Succeed())
		err := manager.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
			rows, err := q.Query(ctx, `SELECT generate_series(1, 3)`)
			if err != nil {
				return err
			}
			values, err := pgx.CollectRows(rows, pgx.RowTo[int32])
			if err != nil {
				return err
			}
			Expect(values).To(Equal([]int32{1, 2, 3}))
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})
})
