// Package versions compares package versions, preferring semantic versioning and
// falling back to lexicographic order for anything that does not parse.
package versions

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

// Compare returns -1, 0 or 1 ordering a against b. It uses semantic versioning when
// both strings are valid semver and falls back to lexicographic comparison otherwise.
func Compare(a, b string) int {
	as, errA := semver.NewVersion(a)
	bs, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return as.Compare(bs)
}

// Validate rejects empty versions and versions containing whitespace or control characters
func Validate(version string) error {
	if version == "" {
		return fmt.Errorf("version is required")
	}
	if strings.IndexFunc(version, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("version %q contains whitespace", version)
	}
	return nil
}

// Latest returns the greatest version of the list, or an empty string for an empty list
func Latest(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	return slices.MaxFunc(versions, Compare)
}
