package gocbmcx

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ServerVersion is a memcached release version, as reported by the version
// command, for example "1.6.21".
type ServerVersion struct {
	raw       string
	canonical string
}

// ParseServerVersion parses versions of the form MAJOR[.MINOR[.PATCH]] with an
// optional pre-release or build suffix.
func ParseServerVersion(version string) (ServerVersion, error) {
	trimmed := strings.TrimSpace(version)

	// memcached builds from git report versions like 1.6.21-12-gabcdef
	semverStr := "v" + trimmed
	if !semver.IsValid(semverStr) {
		return ServerVersion{}, fmt.Errorf("invalid server version `%s`", version)
	}

	return ServerVersion{
		raw:       trimmed,
		canonical: semver.Canonical(semverStr),
	}, nil
}

func (v ServerVersion) String() string {
	return v.raw
}

// Major returns the major component, such as "1".
func (v ServerVersion) Major() string {
	return strings.TrimPrefix(semver.Major(v.canonical), "v")
}

// Compare returns -1, 0 or +1 depending on whether v is older than, the same
// as or newer than other.
func (v ServerVersion) Compare(other ServerVersion) int {
	return semver.Compare(v.canonical, other.canonical)
}

// AtLeast reports whether v is the same as or newer than version.  An
// unparsable version is never satisfied.
func (v ServerVersion) AtLeast(version string) bool {
	other, err := ParseServerVersion(version)
	if err != nil {
		return false
	}

	return v.Compare(other) >= 0
}
