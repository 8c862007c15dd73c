// Package version holds the buildorch release identifiers, set at link time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/buildorch/internal/version.Version=v0.3.0"
package version

import "fmt"

// Version is the release version.
var Version = "unknown"

// Build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String formats the version with its commit for --version and build stamps.
func String() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
