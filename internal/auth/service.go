// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/payzy/payzy/internal/reqctx"
	"github.com/payzy/payzy/internal/store"
	"github.com/payzy/payzy/pkg/errutil"
)

// DefaultTokenTTL is the access token lifetime when none is configured.
const DefaultTokenTTL = 30 * time.Minute

// Sessions runs units of work in scoped data-access sessions.
// *store.Manager satisfies it.
type Sessions interface {
	WithSession(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error
}

// RepositoryFactory binds a UserRepository to one session.
type RepositoryFactory func(q store.Querier) UserRepository

// Tokens issues and verifies access tokens. *TokenManager satisfies it.
type Tokens interface {
	Issue(subject ulid.ULID, ttl time.Duration) (string, error)
	Verify(token string) (*Claims, error)
}

// ServiceOptions tunes a Service.
type ServiceOptions struct {
	// TokenTTL is the access token lifetime. Zero means DefaultTokenTTL.
	TokenTTL time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Service registers users, logs them in and resolves bearer tokens. It is
// the only place internal failures are translated into the caller-facing
// error set.
type Service struct {
	sessions Sessions
	repos    RepositoryFactory
	hasher   PasswordHasher
	tokens   Tokens
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default.
func NewService(sessions Sessions, repos RepositoryFactory, hasher PasswordHasher, tokens Tokens, opts ServiceOptions, logger *slog.Logger) (*Service, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("sessions cannot be nil")
	}
	if repos == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("repository factory cannot be nil")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("hasher cannot be nil")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("tokens cannot be nil")
	}
	if opts.TokenTTL < 0 {
		return nil, oops.Code("AUTH_INVALID_SERVICE").
			With("token_ttl", opts.TokenTTL.String()).
			Errorf("token ttl cannot be negative")
	}

	ttl := opts.TokenTTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		sessions: sessions,
		repos:    repos,
		hasher:   hasher,
		tokens:   tokens,
		ttl:      ttl,
		now:      now,
		logger:   logger.With("component", "auth"),
	}, nil
}

// TokenTTL returns the configured access token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

// Register validates reg, stores a new user and returns its public form.
func (s *Service) Register(ctx context.Context, reg Registration) (*PublicUser, error) {
	ctx, _ = reqctx.Ensure(ctx)
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		RecordRegistration(OutcomeInvalid)
		return nil, err
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		RecordRegistration(OutcomeError)
		return nil, s.internal(ctx, "register", err)
	}

	user, err := NewUser(reg, hash, s.now())
	if err != nil {
		RecordRegistration(OutcomeError)
		return nil, s.internal(ctx, "register", err)
	}

	err = s.sessions.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
		return s.repos(q).Create(ctx, user)
	})
	if errors.Is(err, ErrDuplicateEmail) {
		RecordRegistration(OutcomeDuplicate)
		return nil, oops.Code(CodeDuplicateEmail).
			With("email", user.Email).
			Wrap(ErrDuplicateEmail)
	}
	if err != nil {
		RecordRegistration(OutcomeError)
		return nil, s.internal(ctx, "register", err)
	}

	RecordRegistration(OutcomeSuccess)
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user.Public(), nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, _ = reqctx.Ensure(ctx)
	req.Normalize()
	if err := req.Validate(); err != nil {
		RecordLogin(OutcomeInvalid)
		return nil, err
	}

	var user *User
	err := s.sessions.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		user, err = s.repos(q).Authenticate(ctx, req.Email, req.Password)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		RecordLogin(OutcomeInvalidCredentials)
		s.logger.InfoContext(ctx, "login rejected", "reason", "invalid_credentials")
		return nil, invalidCredentials("credentials")
	}
	if err != nil {
		RecordLogin(OutcomeError)
		return nil, s.internal(ctx, "login", err)
	}

	if !user.IsActive {
		RecordLogin(OutcomeInactive)
		s.logger.InfoContext(ctx, "login rejected", "reason", "inactive", "user_id", user.ID.String())
		return nil, inactiveAccount(user.ID)
	}

	token, err := s.tokens.Issue(user.ID, s.ttl)
	if err != nil {
		RecordLogin(OutcomeError)
		return nil, s.internal(ctx, "login", err)
	}

	s.recordLogin(ctx, user, req.Password)

	RecordLogin(OutcomeSuccess)
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return &LoginResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(s.ttl / time.Second),
		User:        user.Public(),
	}, nil
}

// recordLogin stamps the login time and upgrades a stale password hash in
// its own session. Failures are logged and never fail the login.
func (s *Service) recordLogin(ctx context.Context, user *User, password string) {
	now := s.now().UTC()

	var upgraded string
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		} else {
			upgraded = hash
		}
	}

	err := s.sessions.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
		repo := s.repos(q)
		if err := repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		if upgraded != "" {
			return repo.UpdatePasswordHash(ctx, user.ID, upgraded, now)
		}
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record login",
			"user_id", user.ID.String(),
			"code", errutil.Code(err),
			"error", err,
		)
		return
	}

	user.LastLogin = &now
	if upgraded != "" {
		user.PasswordHash = upgraded
		s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
	}
}

// ResolveCurrentUser returns the active user a bearer token belongs to.
// Every token failure and a missing subject look the same to the caller.
func (s *Service) ResolveCurrentUser(ctx context.Context, token string) (*PublicUser, error) {
	ctx, _ = reqctx.Ensure(ctx)
	claims, err := s.tokens.Verify(token)
	if err != nil {
		failure := TokenFailureOf(err)
		s.logger.DebugContext(ctx, "token rejected", "failure", failure.String())
		return nil, invalidCredentials("token")
	}

	var user *User
	err = s.sessions.WithSession(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		user, err = s.repos(q).GetByID(ctx, claims.UserID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.DebugContext(ctx, "token subject not found", "user_id", claims.UserID.String())
		return nil, invalidCredentials("token")
	}
	if err != nil {
		return nil, s.internal(ctx, "resolve current user", err)
	}

	if !user.IsActive {
		return nil, inactiveAccount(user.ID)
	}
	return user.Public(), nil
}

func invalidCredentials(source string) error {
	return oops.Code(CodeInvalidCredentials).
		With("source", source).
		Wrap(ErrInvalidCredentials)
}

func inactiveAccount(id ulid.ULID) error {
	return oops.Code(CodeInactiveAccount).
		With("user_id", id.String()).
		Wrap(ErrInactiveAccount)
}

// internal translates an unexpected failure. Pool exhaustion stays
// distinguishable so transports can ask the caller to retry; everything
// else is logged in full and replaced by an opaque error.
func (s *Service) internal(ctx context.Context, operation string, err error) error {
	if errors.Is(err, store.ErrPoolExhausted) {
		return oops.Code(store.CodePoolExhausted).
			With("operation", operation).
			Wrap(store.ErrPoolExhausted)
	}

	errutil.LogError(ctx, s.logger, operation+" failed", err)
	return oops.Code(CodeInternal).
		With("operation", operation).
		Wrap(ErrInternal)
}
