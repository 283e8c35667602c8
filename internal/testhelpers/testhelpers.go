// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Timeout is the default wait used by mesh tests.
const Timeout = 5 * time.Second

// WithinTimeout tries to read an error from error channel within timeout and returns it.
// If timeout exceeds, nil value is returned.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(Timeout):
		return nil
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// Eventually polls cond until it holds or Timeout elapses.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, Timeout, 10*time.Millisecond, msgAndArgs...)
}
