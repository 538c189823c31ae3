// Package version provides build-time version information.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X github.com/blacktop/go-kvm/internal/version.Version=1.0.0 \
//	                   -X github.com/blacktop/go-kvm/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/blacktop/go-kvm/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/kvmboot
var (
	// Version is the semantic version of the application.
	Version = "dev"

	// Commit is the git commit SHA at build time.
	Commit = "unknown"

	// BuildDate is the date when the binary was built.
	BuildDate = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("kvmboot %s (commit %s, built %s, %s/%s)", Version, Commit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
