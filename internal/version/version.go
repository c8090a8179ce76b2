// Package version carries the build-time identity of the fieldmv binary.
package version

import "fmt"

// Stamped through -ldflags at release time; the defaults identify a plain
// source build.
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const shortCommitLen = 7

// Info returns the version, with an abbreviated commit when one was stamped.
func Info() string {
	if Commit == "unknown" || len(Commit) <= shortCommitLen {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit[:shortCommitLen])
}

// Full returns the multi-line form printed by the version subcommand.
func Full() string {
	return fmt.Sprintf("fieldmv version %s\nCommit: %s\nBuilt: %s", Version, Commit, BuildDate)
}
