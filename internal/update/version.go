package update

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	goversion "github.com/hashicorp/go-version"
)

// ParseVersion parses a semantic version of the host app binary.
// Supports formats like "1.4.0", "v1.4.0", "2.0.0-rc.1" and "1.4".
func ParseVersion(s string) (*goversion.Version, error) {
	v, err := goversion.NewSemver(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}
	return v, nil
}

// CompareVersions compares two version strings.
// A stable version sorts after any prerelease of the same core version.
func CompareVersions(v1, v2 string) (int, error) {
	ver1, err := ParseVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	ver2, err := ParseVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return ver1.Compare(ver2), nil
}

// NormalizeVersion removes surrounding spaces and the 'v' prefix if present
func NormalizeVersion(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "v")
}

// MatchesRange reports whether version falls in a target binary range.
//
// Ranges use npm-style constraints: "1.4.0", "1.4.x", ">=1.4.0 <2.0.0",
// "^1.4.0", "~1.4.0", "1.4.0 - 1.6.0" and alternatives joined by "||".
// An empty range matches every version. Prerelease versions only match
// ranges that name a prerelease themselves.
func MatchesRange(version, rng string) (bool, error) {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		return true, nil
	}

	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}

	c, err := semver.NewConstraint(rng)
	if err != nil {
		return false, fmt.Errorf("invalid range %q: %w", rng, err)
	}

	return c.Check(v), nil
}
