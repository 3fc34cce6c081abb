// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token constants.
const (
	// PurposeAccess is the only purpose tag this service issues or accepts.
	PurposeAccess = "access"

	// TokenTypeBearer is the token_type reported to clients.
	TokenTypeBearer = "bearer"

	// MinSecretLength is the minimum signing secret length in bytes.
	MinSecretLength = 32

	// AlgorithmHS256 is the only supported signing algorithm.
	AlgorithmHS256 = "HS256"
)

// TokenFailure identifies why a token was rejected.
type TokenFailure int

// Token failure kinds, in the order they are detected.
const (
	TokenOK TokenFailure = iota
	TokenMalformed
	TokenSignatureInvalid
	TokenExpired
	TokenWrongPurpose
)

func (f TokenFailure) String() string {
	switch f {
	case TokenOK:
		return "ok"
	case TokenMalformed:
		return "malformed"
	case TokenSignatureInvalid:
		return "signature_invalid"
	case TokenExpired:
		return "expired"
	case TokenWrongPurpose:
		return "wrong_purpose"
	default:
		return "unknown"
	}
}

// Sentinels wrapped by token verification errors.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenWrongPurpose     = errors.New("token has wrong purpose")
)

// TokenFailureOf returns the failure kind carried by err, or TokenOK when
// err is not a token verification error.
func TokenFailureOf(err error) TokenFailure {
	switch {
	case err == nil:
		return TokenOK
	case errors.Is(err, ErrTokenMalformed):
		return TokenMalformed
	case errors.Is(err, ErrTokenSignatureInvalid):
		return TokenSignatureInvalid
	case errors.Is(err, ErrTokenExpired):
		return TokenExpired
	case errors.Is(err, ErrTokenWrongPurpose):
		return TokenWrongPurpose
	default:
		return TokenOK
	}
}

// Claims is the signed payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`

	// UserID is the parsed subject. Populated by Verify, never serialized.
	UserID ulid.ULID `json:"-"`
}

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a TokenManager signing with secret.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_SECRET_INVALID").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}

	m := &TokenManager{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs an access token for subject valid for ttl.
func (m *TokenManager) Issue(subject ulid.ULID, ttl time.Duration) (string, error) {
	if ttl < time.Second {
		return "", oops.Code("TOKEN_INVALID_TTL").
			With("ttl", ttl.String()).
			Errorf("token ttl must be at least one second")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: PurposeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the token's signature, expiry and purpose. On any failure
// the returned claims are nil.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgorithmHS256}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}

	// An undecodable subject is malformed, which outranks a wrong purpose.
	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code("TOKEN_MALFORMED").
			With("reason", "invalid subject").
			Wrap(ErrTokenMalformed)
	}

	if claims.Type != PurposeAccess {
		return nil, oops.Code("TOKEN_WRONG_PURPOSE").
			With("purpose", claims.Type).
			Wrap(ErrTokenWrongPurpose)
	}
	claims.UserID = id

	return claims, nil
}

// classifyJWTError maps parser errors onto token failure kinds. The parser
// decodes before it checks signatures and checks signatures before claims,
// so the first matching kind is also the first detected.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return oops.Code("TOKEN_MALFORMED").With("reason", err.Error()).Wrap(ErrTokenMalformed)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code("TOKEN_SIGNATURE_INVALID").Wrap(ErrTokenSignatureInvalid)
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	default:
		return oops.Code("TOKEN_MALFORMED").With("reason", err.Error()).Wrap(ErrTokenMalformed)
	}
}
