// Package version provides the build information of oomanalyzer.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Package is filled at linking time
	Package = "github.com/leptonai/oomanalyzer"

	// Version holds the complete version number. Filled in at linking time.
	Version = "0.0.1+unknown"

	// Revision is filled with the VCS (e.g. git) revision being used to build
	// the program at linking time.
	Revision = ""

	// BuildTimestamp is the build timestamp.
	BuildTimestamp = ""

	// GoVersion is Go tree's version.
	GoVersion = runtime.Version()
)

// String formats the build information, e.g.
// "0.1.0 (revision abc123, built 2025-01-01T00:00:00Z, go1.24.2)".
func String() string {
	rev := Revision
	if rev == "" {
		rev = "unknown"
	}
	built := BuildTimestamp
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("%s (revision %s, built %s, %s)", Version, rev, built, GoVersion)
}
