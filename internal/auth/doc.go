// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

// Package auth provides user registration, password login and bearer token
// resolution.
//
// # Building Blocks
//
//   - BcryptHasher - salted password hashing and verification
//   - TokenManager - HS256 access tokens carrying sub, iat, exp and type
//   - UserRepository - persistence contract, implemented in auth/postgres
//
// Users should be created with NewUser, which applies profile defaults and
// refuses a plaintext password in place of a hash.
//
// # Service
//
// Service coordinates the building blocks. Each operation runs its storage
// work inside a scoped session obtained from a Sessions implementation
// (normally *store.Manager), and Service is the single boundary where
// internal failures become caller-facing errors. Callers classify those
// errors with errors.Is against the exported sentinels or with CategoryOf.
package auth
