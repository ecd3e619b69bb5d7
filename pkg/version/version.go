// Package version carries build information stamped at link time.
package version

import (
	"fmt"
	"runtime"
)

// Version is set via ldflags at build time:
// -X github.com/pampax/pampax/pkg/version.Version=$(VERSION)
var Version = "dev"

var (
	// Commit is the git commit hash, set via ldflags.
	Commit = "unknown"

	// Date is the build date in RFC3339 format, set via ldflags.
	Date = "unknown"

	// GoVersion is resolved at runtime.
	GoVersion = runtime.Version()
)

// BuildInfo is the structured form for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String formats the full version line.
func String() string {
	return fmt.Sprintf("pampax %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns only the version.
func Short() string {
	return Version
}

// GetInfo returns structured build information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
