// Package testutil starts throwaway backing services for integration tests.
// Each container is started once per test binary and shared by all tests.
package testutil

import (
	"testing"
)

// requireDocker skips the calling test in -short mode or when the container
// could not be started.
func requireDocker(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", name, err)
	}
}

// SkipIfShort skips integration tests in -short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
}
