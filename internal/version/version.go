// Package version holds the semantic-version helpers shared by the metadata
// resolver and the tarball gate.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// InvalidVersionError reports a string that is not a semantic version.
type InvalidVersionError struct {
	Value string
	Err   error
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version: %q", e.Value)
}

func (e *InvalidVersionError) Unwrap() error {
	return e.Err
}

// Parse parses a full major.minor.patch version. A leading "v" or "=" is
// accepted, partial versions like "1.2" are not.
func Parse(s string) (*semver.Version, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(s), "=v")
	v, err := semver.StrictNewVersion(trimmed)
	if err != nil {
		return nil, &InvalidVersionError{Value: s, Err: err}
	}
	return v, nil
}

// Ceiling is the highest version a caller may see. A nil *Ceiling means no
// limit is configured for the request.
type Ceiling struct {
	raw string
	v   *semver.Version
}

// ParseCeiling validates raw as a semantic version.
func ParseCeiling(raw string) (*Ceiling, error) {
	v, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Ceiling{raw: raw, v: v}, nil
}

// String returns the ceiling exactly as the caller supplied it.
func (c *Ceiling) String() string {
	return c.raw
}

// Allows reports whether v <= c. Strings that are not semantic versions are
// never allowed.
func (c *Ceiling) Allows(v string) bool {
	parsed, err := Parse(v)
	if err != nil {
		return false
	}
	return parsed.Compare(c.v) <= 0
}
