// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package store

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// ErrSessionClosed is returned when a Session is used after its scope ended.
var ErrSessionClosed = errors.New("session used outside its scope")

// Querier is the query surface repositories run against. *Session,
// pgx.Tx, *pgxpool.Pool and pgxmock all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session is a data-access handle bound to one pooled connection and one
// transaction. It is only valid inside the WithSession callback that
// received it and must not be shared between goroutines.
type Session struct {
	tx     pgx.Tx
	closed atomic.Bool
}

func newSession(tx pgx.Tx) *Session {
	return &Session{tx: tx}
}

// Exec runs a statement in the session's transaction.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if s.closed.Load() {
		return pgconn.CommandTag{}, closedErr()
	}
	//nolint:wrapcheck // callers wrap with operation context
	return s.tx.Exec(ctx, sql, args...)
}

// Query runs a query in the session's transaction.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if s.closed.Load() {
		return nil, closedErr()
	}
	//nolint:wrapcheck // callers wrap with operation context
	return s.tx.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query in the session's transaction.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if s.closed.Load() {
		return errRow{err: closedErr()}
	}
	return s.tx.QueryRow(ctx, sql, args...)
}

func (s *Session) close() {
	s.closed.Store(true)
}

func closedErr() error {
	return oops.Code("DB_SESSION_CLOSED").Wrap(ErrSessionClosed)
}

// errRow is a pgx.Row that only reports err.
type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}

var _ Querier = (*Session)(nil)
