package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemanticString(t *testing.T) {
	assert.Equal(t, "v1.4.0", Semantic{Major: 1, Minor: 4}.String())
	assert.Equal(t, "v2.0.1-rc.3", Semantic{Major: 2, Patch: 1, Prerelease: "rc.3"}.String())
}

func TestSemanticCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Semantic
		expected int
	}{
		{"equal", Semantic{Major: 1, Minor: 2, Patch: 3}, Semantic{Major: 1, Minor: 2, Patch: 3}, 0},
		{"patch ordering", Semantic{Major: 1, Minor: 2, Patch: 4}, Semantic{Major: 1, Minor: 2, Patch: 3}, 1},
		{"minor ordering", Semantic{Major: 1, Minor: 3}, Semantic{Major: 1, Minor: 10}, -1},
		{"prerelease sorts before release", Semantic{Major: 1, Prerelease: "rc.1"}, Semantic{Major: 1}, -1},
		{"prerelease numbering", Semantic{Major: 1, Prerelease: "rc.2"}, Semantic{Major: 1, Prerelease: "rc.1"}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
		})
	}
}

func TestParseSemantic(t *testing.T) {
	tests := []struct {
		raw      string
		expected Semantic
		valid    bool
	}{
		{"v1.2.3", Semantic{Major: 1, Minor: 2, Patch: 3}, true},
		{"v0.0.1", Semantic{Patch: 1}, true},
		{"v10.20.30", Semantic{Major: 10, Minor: 20, Patch: 30}, true},
		{"v1.2.3-rc.1", Semantic{Major: 1, Minor: 2, Patch: 3, Prerelease: "rc.1"}, true},
		{"v1.2.3-pre.12", Semantic{Major: 1, Minor: 2, Patch: 3, Prerelease: "pre.12"}, true},
		{"v1.2.3-hotfix.2", Semantic{Major: 1, Minor: 2, Patch: 3, Prerelease: "hotfix.2"}, true},
		{"1.2.3", Semantic{}, false},
		{"v1.2", Semantic{}, false},
		{"v1.2.3.4", Semantic{}, false},
		{"v1.2.3-rc", Semantic{}, false},
		{"v1.2.3-rc.1.2", Semantic{}, false},
		{"v1.2.3-foo.1", Semantic{}, false},
		{"v1.2.3-RC.1", Semantic{}, false},
		{"", Semantic{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			s, err := ParseSemantic(tc.raw)
			if tc.valid {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, s)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsReleaseVersion(t *testing.T) {
	assert.True(t, IsReleaseVersion("v1.2.3"))
	assert.False(t, IsReleaseVersion("v1.2.3-rc.1"))
	assert.False(t, IsReleaseVersion("release/1.2.3"))
}

func TestIsShaTimestampVersion(t *testing.T) {
	assert.True(t, IsShaTimestampVersion("dev-8c36bd2-20240118-1502"))
	assert.True(t, IsShaTimestampVersion("staging-abcdef0-19991231-2359"))
	assert.False(t, IsShaTimestampVersion("dev-8c36bd2"))
	assert.False(t, IsShaTimestampVersion("v1.2.3"))
}

func TestShortSha(t *testing.T) {
	assert.Equal(t, "8c36bd2", ShortSha("8c36bd21f9e8a5c0b17e4a6742910ef5c4e2b7d8"))
	assert.Equal(t, "8c3", ShortSha("8c3"))
}

func TestNewShaTimestampVersion(t *testing.T) {
	at := time.Date(2024, 1, 18, 15, 2, 33, 0, time.UTC)
	v := NewShaTimestampVersion("dev", "8C36BD21F9E8", at)

	assert.Equal(t, "dev-8c36bd2-20240118-1502", v.Raw)
	assert.Equal(t, VersionSchemeShaTimestamp, v.Scheme)
	assert.Nil(t, v.Semantic)

	// Two builds of the same commit within the same minute share the same
	// identifier.
	again := NewShaTimestampVersion("dev", "8c36bd21f9e8", at.Add(20*time.Second))
	assert.Equal(t, v.Raw, again.Raw)
}

func TestNewShaTimestampVersionConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*3600)
	v := NewShaTimestampVersion("staging", "8c36bd2", time.Date(2024, 1, 18, 1, 30, 0, 0, zone))

	assert.Equal(t, "staging-8c36bd2-20240117-2330", v.Raw)
}

func TestNewSemanticVersion(t *testing.T) {
	v := NewSemanticVersion(Semantic{Major: 1, Minor: 2, Patch: 3})
	assert.Equal(t, "v1.2.3", v.Raw)
	assert.Equal(t, VersionSchemeSemantic, v.Scheme)

	pre := NewSemanticVersion(Semantic{Major: 1, Minor: 2, Patch: 3, Prerelease: "rc.1"})
	assert.Equal(t, "v1.2.3-rc.1", pre.Raw)
	assert.Equal(t, VersionSchemeSemanticPrerelease, pre.Scheme)
}

func TestNextPrereleaseVersion(t *testing.T) {
	latest := Semantic{Major: 1, Minor: 4, Patch: 2}
	v := NextPrereleaseVersion(&latest, "8c36bd21f9e8")

	assert.Equal(t, "v1.4.3-pre.8c36bd2", v.Raw)
	assert.Equal(t, VersionSchemeSemanticPrerelease, v.Scheme)

	// Repositories without any semantic tag seed at v0.0.0.
	seeded := NextPrereleaseVersion(nil, "8c36bd21f9e8")
	assert.Equal(t, "v0.0.1-pre.8c36bd2", seeded.Raw)
}

func TestLatestSemantic(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected string
		found    bool
	}{
		{
			"mixed tags",
			[]string{"v1.2.3", "v1.10.0", "v1.9.9", "nightly-20240118", "v1.10.0-rc.1"},
			"v1.10.0",
			true,
		},
		{
			"prerelease only",
			[]string{"v2.0.0-rc.1", "v2.0.0-rc.2"},
			"v2.0.0-rc.2",
			true,
		},
		{
			"no semantic tags",
			[]string{"nightly-20240118", "release/1.2.3"},
			"",
			false,
		},
		{
			"empty",
			nil,
			"",
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			latest, found := LatestSemantic(tc.tags)
			assert.Equal(t, tc.found, found)
			if tc.found {
				assert.Equal(t, tc.expected, latest.String())
			}
		})
	}
}
