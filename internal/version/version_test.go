package version

import (
	"strings"
	"testing"
)

func TestInfoShortensCommit(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version = "1.0.0"

	Commit = "unknown"
	if got := Info(); got != "1.0.0" {
		t.Errorf("unknown commit: Info() = %q", got)
	}

	Commit = "abc1234567890"
	if got := Info(); !strings.Contains(got, "abc1234") || strings.Contains(got, "abc12345") {
		t.Errorf("long commit must be shortened to 7 chars: Info() = %q", got)
	}
}

func TestFullCarriesAllFields(t *testing.T) {
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	defer func() { Version, Commit, BuildDate = origVersion, origCommit, origBuildDate }()

	Version = "1.2.3"
	Commit = "abcdef123456"
	BuildDate = "2026-01-15"

	got := Full()
	for _, part := range []string{"fieldmv version 1.2.3", "Commit: abcdef123456", "Built: 2026-01-15"} {
		if !strings.Contains(got, part) {
			t.Errorf("Full() = %q, want to contain %q", got, part)
		}
	}
}

func TestDefaultVersionLooksLikeSemver(t *testing.T) {
	if len(strings.Split(Version, ".")) < 2 {
		t.Errorf("Version %q doesn't appear to be semver", Version)
	}
}
