package kvm

import (
	"os"
	"testing"
)

// isCI returns true if running in GitHub Actions
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// requireKVM skips the test unless a usable /dev/kvm is present.
func requireKVM(t *testing.T) {
	t.Helper()
	if isCI() {
		t.Skip("Skipping KVM tests in CI environment")
	}
	ok, err := Supported()
	if err != nil {
		t.Skipf("KVM not usable: %v", err)
	}
	if !ok {
		t.Skip("KVM not supported on this system")
	}
}
