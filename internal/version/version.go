// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/shapemodel/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String() string {
	return fmt.Sprintf("shapemodel %s (git %s, built %s)", Version, GitSHA, BuildTime)
}
