// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Error codes for session manager failures callers may need to tell apart.
const (
	CodeNotInitialized = "DB_NOT_INITIALIZED"
	CodePoolExhausted  = "DB_POOL_EXHAUSTED"
)

var (
	// ErrNotInitialized is returned when sessions are requested from a
	// manager that has not been initialized or has been shut down.
	ErrNotInitialized = errors.New("session manager not initialized")

	// ErrPoolExhausted is returned when no connection frees up within the
	// acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)

// rollbackTimeout bounds a rollback issued after the caller's context ended.
const rollbackTimeout = 5 * time.Second

// connectBackoffBase is the first delay between startup ping attempts.
const connectBackoffBase = 200 * time.Millisecond

// State is the lifecycle state of a Manager.
type State int32

// Manager lifecycle states.
const (
	StateUninitialized State = iota
	StateInitialized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager owns the connection pool and hands out scoped sessions.
type Manager struct {
	logger  *slog.Logger
	newPool PoolFactory

	mu       sync.Mutex
	state    State
	pool     Pool
	cfg      PoolConfig
	inflight sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPoolFactory replaces the pgxpool factory.
func WithPoolFactory(f PoolFactory) ManagerOption {
	return func(m *Manager) {
		m.newPool = f
	}
}

// NewManager creates an uninitialized Manager. A nil logger uses slog.Default.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:  logger.With("component", "session_manager"),
		newPool: NewPgxPool,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init opens the pool. Calling Init on an initialized manager logs a warning
// and does nothing; calling it after Shutdown fails.
func (m *Manager) Init(ctx context.Context, cfg PoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateInitialized:
		m.logger.WarnContext(ctx, "session manager already initialized, ignoring init")
		return nil
	case StateClosed:
		return oops.Code("DB_MANAGER_CLOSED").Errorf("session manager has been shut down")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := m.newPool(ctx, cfg, m.logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open pool").Wrap(err)
	}

	if err := m.waitForDatabase(ctx, pool, cfg.ConnectRetries); err != nil {
		pool.Close()
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("retries", cfg.ConnectRetries).
			Wrap(err)
	}

	m.pool = pool
	m.cfg = cfg
	m.state = StateInitialized

	m.logger.InfoContext(ctx, "session manager initialized",
		"pool_size", cfg.PoolSize,
		"max_overflow", cfg.MaxOverflow,
		"acquire_timeout", cfg.AcquireTimeout.String(),
		"recycle_interval", cfg.RecycleInterval.String(),
	)
	return nil
}

func (m *Manager) waitForDatabase(ctx context.Context, pool Pool, retries uint64) error {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(connectBackoffBase))
	attempt := 0
	//nolint:wrapcheck // wrapped by Init
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			m.logger.WarnContext(ctx, "database not reachable", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of pool usage. ok is false unless initialized.
func (m *Manager) Stats() (stats PoolStats, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitialized {
		return PoolStats{}, false
	}
	return m.pool.Stats(), true
}

// Ping checks database connectivity through the pool.
func (m *Manager) Ping(ctx context.Context) error {
	pool, _, err := m.checkout()
	if err != nil {
		return err
	}
	defer m.inflight.Done()

	if err := pool.Ping(ctx); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

// checkout registers an in-flight use of the pool. Callers must call
// m.inflight.Done when finished.
func (m *Manager) checkout() (Pool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInitialized {
		return nil, 0, oops.Code(CodeNotInitialized).
			With("state", m.state.String()).
			Wrap(ErrNotInitialized)
	}
	m.inflight.Add(1)
	return m.pool, m.cfg.AcquireTimeout, nil
}

// WithSession runs fn inside a scoped session. The session commits when fn
// returns nil and ctx is still live, and rolls back otherwise; fn's error is
// returned unchanged. The connection goes back to the pool on every path,
// including a failed commit or rollback and a panic in fn.
func (m *Manager) WithSession(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	pool, timeout, err := m.checkout()
	if err != nil {
		return err
	}
	defer m.inflight.Done()

	conn, err := m.acquire(ctx, pool, timeout)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		RecordSession(OutcomeBeginFailed)
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	session := newSession(tx)
	defer session.close()

	defer func() {
		if p := recover(); p != nil {
			m.rollback(ctx, tx, "panic")
			panic(p)
		}
	}()

	if err := fn(ctx, session); err != nil {
		m.rollback(ctx, tx, "error")
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		m.rollback(ctx, tx, "cancelled")
		return oops.Code("TX_CANCELLED").Wrap(ctxErr)
	}

	if err := tx.Commit(ctx); err != nil {
		RecordSession(OutcomeCommitFailed)
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	RecordSession(OutcomeCommitted)
	return nil
}

// acquire checks a connection out of pool, waiting at most timeout.
func (m *Manager) acquire(ctx context.Context, pool Pool, timeout time.Duration) (Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := pool.Acquire(acquireCtx)
	RecordAcquireWait(time.Since(start))
	if err == nil {
		return conn, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, oops.Code("DB_ACQUIRE_CANCELLED").Wrap(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		RecordPoolExhausted()
		m.logger.WarnContext(ctx, "connection pool exhausted", "acquire_timeout", timeout.String())
		return nil, oops.Code(CodePoolExhausted).
			With("acquire_timeout", timeout.String()).
			Wrap(ErrPoolExhausted)
	}
	return nil, oops.Code("DB_ACQUIRE_FAILED").Wrap(err)
}

// rollback aborts tx. It runs on a context detached from ctx so that a
// cancelled request still rolls back.
func (m *Manager) rollback(ctx context.Context, tx pgx.Tx, reason string) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		RecordSession(OutcomeRollbackFailed)
		m.logger.WarnContext(ctx, "rollback failed", "reason", reason, "error", err)
		return
	}
	RecordSession(OutcomeRolledBack)
}

// Shutdown stops handing out sessions, waits for in-flight sessions to
// finish and closes the pool. It returns once ctx is done even if sessions
// are still running; the pool then closes when they release.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInitialized {
		m.state = StateClosed
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	pool := m.pool
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		// Close waits for checked-out connections, so it finishes in the
		// background once the stragglers release theirs.
		m.logger.WarnContext(ctx, "sessions still in flight at shutdown")
		go func() {
			pool.Close()
			m.logger.Info("session manager closed after drain timeout")
		}()
		return oops.Code("DB_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}

	pool.Close()
	m.logger.InfoContext(ctx, "session manager closed")
	return nil
}
