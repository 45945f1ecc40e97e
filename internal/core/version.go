package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a semantic version. The zero value is not a valid version;
// use ParseVersion.
type Version struct {
	v *semver.Version
}

// ParseVersion parses a strict semantic version such as "1.2.3" or
// "2.0.0-beta.1". Partial versions and a leading "v" are rejected.
func ParseVersion(s string) (Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %v", ErrInvalidVersion, s, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) IsZero() bool { return v.v == nil }

func (v Version) Major() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Major()
}

func (v Version) Minor() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Minor()
}

func (v Version) Patch() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Patch()
}

func (v Version) Prerelease() string {
	if v.v == nil {
		return ""
	}
	return v.v.Prerelease()
}

// IsStable reports whether the version has no prerelease component.
func (v Version) IsStable() bool {
	return v.Prerelease() == ""
}

// Compare returns -1, 0 or 1. A zero Version sorts before everything.
func (v Version) Compare(o Version) int {
	switch {
	case v.v == nil && o.v == nil:
		return 0
	case v.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return v.v.Compare(o.v)
}

// Equal reports version equality; build metadata is ignored.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// SortDescending orders versions highest first.
func SortDescending(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) > 0
	})
}

// SpecifierKind enumerates the ways a version can be requested.
type SpecifierKind int

const (
	SpecLatest SpecifierKind = iota
	SpecLatestStable
	SpecMajor
	SpecMajorMinor
	SpecExact
)

// Specifier selects one version out of the versions a feed offers.
type Specifier struct {
	Kind  SpecifierKind
	Major uint64
	Minor uint64
	Exact Version
	raw   string
}

// Latest matches the highest version, prereleases included.
func Latest() Specifier { return Specifier{Kind: SpecLatest, raw: "latest"} }

// LatestStable matches the highest version without a prerelease.
func LatestStable() Specifier { return Specifier{Kind: SpecLatestStable, raw: "latest-stable"} }

// MajorOnly matches the highest version with the given major.
func MajorOnly(major uint64) Specifier {
	return Specifier{Kind: SpecMajor, Major: major, raw: strconv.FormatUint(major, 10)}
}

// MajorMinor matches the highest version with the given major and minor.
func MajorMinor(major, minor uint64) Specifier {
	return Specifier{Kind: SpecMajorMinor, Major: major, Minor: minor, raw: fmt.Sprintf("%d.%d", major, minor)}
}

// Exact matches exactly one version.
func Exact(v Version) Specifier { return Specifier{Kind: SpecExact, Exact: v, raw: v.String()} }

// ParseSpecifier interprets a version request:
//
//	"", "latest"              -> Latest
//	"latest-stable", "stable" -> LatestStable
//	"3"                       -> MajorOnly(3)
//	"3.1"                     -> MajorMinor(3, 1)
//	"3.1.4", "3.1.4-rc.1"     -> Exact
//
// Anything else is rejected rather than guessed at.
func ParseSpecifier(s string) (Specifier, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "latest":
		return Latest(), nil
	case "latest-stable", "stable":
		return LatestStable(), nil
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) <= 2 {
		nums := make([]uint64, 0, len(parts))
		for _, p := range parts {
			n, err := parseComponent(p)
			if err != nil {
				return Specifier{}, fmt.Errorf("%w %q", ErrInvalidSpecifier, s)
			}
			nums = append(nums, n)
		}
		if len(nums) == 1 {
			return MajorOnly(nums[0]), nil
		}
		return MajorMinor(nums[0], nums[1]), nil
	}

	v, err := ParseVersion(trimmed)
	if err != nil {
		return Specifier{}, fmt.Errorf("%w %q", ErrInvalidSpecifier, s)
	}
	return Exact(v), nil
}

func parseComponent(p string) (uint64, error) {
	if p == "" || (len(p) > 1 && p[0] == '0') {
		return 0, fmt.Errorf("invalid numeric component %q", p)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid numeric component %q", p)
		}
	}
	return strconv.ParseUint(p, 10, 64)
}

func (s Specifier) String() string {
	if s.raw != "" {
		return s.raw
	}
	switch s.Kind {
	case SpecLatest:
		return "latest"
	case SpecLatestStable:
		return "latest-stable"
	case SpecMajor:
		return strconv.FormatUint(s.Major, 10)
	case SpecMajorMinor:
		return fmt.Sprintf("%d.%d", s.Major, s.Minor)
	default:
		return s.Exact.String()
	}
}

// Matches reports whether a single version satisfies the specifier.
func (s Specifier) Matches(v Version) bool {
	switch s.Kind {
	case SpecLatest:
		return true
	case SpecLatestStable:
		return v.IsStable()
	case SpecMajor:
		return v.Major() == s.Major
	case SpecMajorMinor:
		return v.Major() == s.Major && v.Minor() == s.Minor
	case SpecExact:
		return v.Equal(s.Exact)
	default:
		return false
	}
}

// Resolve picks the first version in a descending list that satisfies the
// specifier, so the highest qualifying version wins. No match is reported
// through the boolean, not as an error.
func Resolve(spec Specifier, descending []Version) (Version, bool) {
	for _, v := range descending {
		if spec.Matches(v) {
			return v, true
		}
	}
	return Version{}, false
}
