// Package version parses and orders plugin and host versions.
//
// A version is a major.minor.patch triple with an optional prerelease tag
// after a hyphen. Ordering compares the triple numerically; on a tie a
// release is greater than any prerelease, and two prereleases compare as
// raw strings. Build metadata is not supported.
package version

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned when a string is not a valid version.
var ErrInvalid = errors.New("invalid version")

// Version is an immutable parsed version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// Parse parses s as major.minor.patch[-prerelease].
// Exactly three non-negative integer components are required.
func Parse(s string) (Version, error) {
	core, pre, hasPre := strings.Cut(s, "-")
	if hasPre && pre == "" {
		return Version{}, fmt.Errorf("%w: %q has an empty prerelease", ErrInvalid, s)
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q must have three components", ErrInvalid, s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Prerelease: pre}, nil
}

// MustParse is like Parse but panics on error. For constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseComponent(p string) (int, error) {
	if p == "" {
		return 0, errors.New("empty component")
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("component %q is not a number", p)
		}
	}
	return strconv.Atoi(p)
}

// Compare returns -1 if a < b, 0 if a == b and +1 if a > b.
func Compare(a, b Version) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Patch, b.Patch); c != 0 {
		return c
	}

	switch {
	case a.Prerelease == b.Prerelease:
		return 0
	case !a.IsPrerelease():
		return 1
	case !b.IsPrerelease():
		return -1
	}
	return strings.Compare(a.Prerelease, b.Prerelease)
}

// Compare returns the ordering of v relative to other.
func (v Version) Compare(other Version) int {
	return Compare(v, other)
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool {
	return Compare(v, other) < 0
}

// IsPrerelease reports whether v carries a prerelease tag.
func (v Version) IsPrerelease() bool {
	return v.Prerelease != ""
}

// String returns the canonical form of v.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Constraint is a minimum version requirement, written either bare
// ("1.2.0") or with a ">=" prefix (">= 1.2.0").
type Constraint struct {
	Min Version
}

// ParseConstraint parses a minimum version constraint.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, ">="))
	v, err := Parse(s)
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{Min: v}, nil
}

// Allows reports whether v satisfies the constraint.
func (c Constraint) Allows(v Version) bool {
	return Compare(v, c.Min) >= 0
}

// String returns the constraint in ">=" form.
func (c Constraint) String() string {
	return ">=" + c.Min.String()
}
