package schemas

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	// VersionSchemeShaTimestamp identifies `{prefix}-{shortSha}-{YYYYMMDD-HHmm}`
	// build identifiers used for development and staging deployments.
	VersionSchemeShaTimestamp VersionScheme = "sha-timestamp"

	// VersionSchemeSemantic identifies `vX.Y.Z` release versions.
	VersionSchemeSemantic VersionScheme = "semantic"

	// VersionSchemeSemanticPrerelease identifies `vX.Y.Z-{identifier}.N`
	// pre-release versions.
	VersionSchemeSemanticPrerelease VersionScheme = "semantic-prerelease"

	// shortShaLength is the number of commit SHA characters embedded in
	// generated version identifiers.
	shortShaLength = 7

	// shaTimestampLayout is the time layout of sha-timestamp identifiers.
	shaTimestampLayout = "20060102-1504"
)

var (
	// semanticVersionRegexp is the exact grammar of semantic version tags:
	// v{uint}.{uint}.{uint} optionally suffixed -{identifier}.{uint} with
	// identifier one of rc, pre, alpha, beta or hotfix.
	semanticVersionRegexp = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)(?:-(rc|pre|alpha|beta|hotfix)\.(\d+))?$`)

	// releaseVersionRegexp matches final releases only, without any
	// pre-release suffix.
	releaseVersionRegexp = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

	// shaTimestampRegexp matches generated sha-timestamp identifiers.
	shaTimestampRegexp = regexp.MustCompile(`^[0-9a-z][0-9a-z-]*-[0-9a-f]{7}-\d{8}-\d{4}$`)
)

// VersionScheme identifies how a version identifier was derived.
type VersionScheme string

// Semantic holds the numeric components of a semantic version.
type Semantic struct {
	Major      uint64
	Minor      uint64
	Patch      uint64
	Prerelease string
}

// String renders the version in its canonical `vX.Y.Z(-pre)` form.
func (s Semantic) String() string {
	v := fmt.Sprintf("v%d.%d.%d", s.Major, s.Minor, s.Patch)
	if s.Prerelease != "" {
		v += "-" + s.Prerelease
	}

	return v
}

// IsPrerelease returns whether the version carries a pre-release suffix.
func (s Semantic) IsPrerelease() bool {
	return s.Prerelease != ""
}

// Compare orders two semantic versions, returning -1, 0 or +1.
func (s Semantic) Compare(other Semantic) int {
	return semver.Compare(s.String(), other.String())
}

// ResolvedVersion is the canonical version identifier computed for one
// environment of a deployment run.
type ResolvedVersion struct {
	Raw      string
	Scheme   VersionScheme
	Semantic *Semantic
}

// ParseSemantic validates a version string against the semantic grammar and
// returns its components.
func ParseSemantic(raw string) (Semantic, error) {
	matches := semanticVersionRegexp.FindStringSubmatch(raw)
	if matches == nil {
		return Semantic{}, fmt.Errorf("version (%s) does not match the v{major}.{minor}.{patch}[-{identifier}.{n}] grammar", raw)
	}

	major, _ := strconv.ParseUint(matches[1], 10, 64)
	minor, _ := strconv.ParseUint(matches[2], 10, 64)
	patch, _ := strconv.ParseUint(matches[3], 10, 64)

	s := Semantic{Major: major, Minor: minor, Patch: patch}
	if matches[4] != "" {
		s.Prerelease = matches[4] + "." + matches[5]
	}

	return s, nil
}

// IsSemanticVersion returns whether the string is a valid semantic version
// tag, with or without a pre-release suffix.
func IsSemanticVersion(raw string) bool {
	return semanticVersionRegexp.MatchString(raw)
}

// IsReleaseVersion returns whether the string is a final release version,
// ie. a semantic version without a pre-release suffix.
func IsReleaseVersion(raw string) bool {
	return releaseVersionRegexp.MatchString(raw)
}

// IsShaTimestampVersion returns whether the string is a generated
// sha-timestamp identifier.
func IsShaTimestampVersion(raw string) bool {
	return shaTimestampRegexp.MatchString(raw)
}

// ShortSha truncates a commit SHA to the length embedded in generated
// version identifiers.
func ShortSha(sha string) string {
	if len(sha) > shortShaLength {
		return sha[:shortShaLength]
	}

	return sha
}

// NewShaTimestampVersion builds the `{prefix}-{shortSha}-{YYYYMMDD-HHmm}`
// identifier used for development and staging deployments. The timestamp
// granularity is one minute; two builds of the same commit within the same
// minute share an identifier.
func NewShaTimestampVersion(prefix, sha string, t time.Time) ResolvedVersion {
	return ResolvedVersion{
		Raw:    fmt.Sprintf("%s-%s-%s", prefix, strings.ToLower(ShortSha(sha)), t.UTC().Format(shaTimestampLayout)),
		Scheme: VersionSchemeShaTimestamp,
	}
}

// NewSemanticVersion wraps an already validated semantic version into a
// ResolvedVersion, classifying pre-releases.
func NewSemanticVersion(s Semantic) ResolvedVersion {
	scheme := VersionSchemeSemantic
	if s.IsPrerelease() {
		scheme = VersionSchemeSemanticPrerelease
	}

	sem := s

	return ResolvedVersion{
		Raw:      s.String(),
		Scheme:   scheme,
		Semantic: &sem,
	}
}

// NextPrereleaseVersion derives the `v{major}.{minor}.{patch+1}-pre.{shortSha}`
// identifier generated when a pre-production or production target is reached
// from a branch without a matching release tag. latest carries the most
// recent semantic tag of the repository; a nil latest seeds at v0.0.0.
func NextPrereleaseVersion(latest *Semantic, sha string) ResolvedVersion {
	base := Semantic{}
	if latest != nil {
		base = *latest
	}

	next := Semantic{
		Major:      base.Major,
		Minor:      base.Minor,
		Patch:      base.Patch + 1,
		Prerelease: "pre." + strings.ToLower(ShortSha(sha)),
	}

	return ResolvedVersion{
		Raw:      next.String(),
		Scheme:   VersionSchemeSemanticPrerelease,
		Semantic: &next,
	}
}

// LatestSemantic returns the highest semantic version among the given tag
// names, ignoring names which do not match the semantic grammar. The second
// return value is false when no tag matches.
func LatestSemantic(tags []string) (Semantic, bool) {
	var (
		latest Semantic
		found  bool
	)

	for _, tag := range tags {
		s, err := ParseSemantic(tag)
		if err != nil {
			continue
		}

		if !found || s.Compare(latest) > 0 {
			latest = s
			found = true
		}
	}

	return latest, found
}
