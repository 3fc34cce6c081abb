// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import (
	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// maxPasswordBytes is the bcrypt input limit. Longer passwords are
// truncated before hashing and verification alike.
const maxPasswordBytes = 72

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
// Implementations must be safe for concurrent use.
type PasswordHasher interface {
	// Hash produces a salted hash of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. A malformed hash is a
	// mismatch, never an error.
	Verify(password, hash string) bool

	// NeedsUpgrade returns true if the hash was produced with different
	// parameters than the hasher currently uses.
	NeedsUpgrade(hash string) bool

	// VerifyDummy performs a comparison that never matches and costs the
	// same as Verify against a current hash. Call it when a credential
	// lookup misses.
	VerifyDummy(password string)
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost  int
	dummy string
}

// NewBcryptHasher creates a BcryptHasher with the given cost factor.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_COST").
			With("cost", cost).
			With("min", bcrypt.MinCost).
			With("max", bcrypt.MaxCost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	// The throwaway password is discarded, so the digest matches nothing.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").With("cost", cost).Wrap(err)
	}
	return &BcryptHasher{cost: cost, dummy: string(dummy)}, nil
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	digest, err := bcrypt.GenerateFromPassword(truncate(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("cost", h.cost).Wrap(err)
	}
	return string(digest), nil
}

// Verify checks password against a bcrypt hash.
func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(password)) == nil
}

// NeedsUpgrade returns true if hash is unparsable or uses another cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}

// VerifyDummy compares password against a digest made at the hasher's own
// cost from a discarded random password.
func (h *BcryptHasher) VerifyDummy(password string) {
	_ = h.Verify(password, h.dummy)
}

// DummyHash returns the digest VerifyDummy compares against.
func (h *BcryptHasher) DummyHash() string {
	return h.dummy
}

var _ PasswordHasher = (*BcryptHasher)(nil)

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
