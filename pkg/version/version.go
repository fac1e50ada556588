// Package version holds build metadata injected at link time:
//
//	go build -ldflags "-X cuewise/pkg/version.Version=... -X cuewise/pkg/version.Commit=..."
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String returns the full version line.
func String() string {
	return fmt.Sprintf("cuewise %s (commit %s, built %s)", Version, Commit, BuildTime)
}
