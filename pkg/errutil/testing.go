// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error with the given code.
// The code is the deepest one in the chain, as Code reports it.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(oopsErr), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertSentinelCode asserts that err wraps sentinel and carries code. Caller
// facing errors are built from exactly that pair.
func AssertSentinelCode(t *testing.T, err, sentinel error, code string) {
	t.Helper()
	require.ErrorIs(t, err, sentinel)
	AssertErrorCode(t, err, code)
}

// AssertNoContext asserts that none of keys is attached to err anywhere in
// its chain. Use it for values that must not reach logs or responses.
func AssertNoContext(t *testing.T, err error, keys ...string) {
	t.Helper()
	require.Error(t, err)
	for e := err; e != nil; e = errors.Unwrap(e) {
		oopsErr, ok := e.(oops.OopsError) //nolint:errorlint // walking the chain by hand
		if !ok {
			continue
		}
		ctx := oopsErr.Context()
		for _, key := range keys {
			assert.NotContains(t, ctx, key, "error: %v", err)
		}
	}
}
