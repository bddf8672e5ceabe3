package gitlab

import (
	"strings"
)

// GitLabVersion represents the version of the GitLab instance the client
// talks to. It is refreshed from the metadata endpoint and surfaced through
// the monitoring telemetry.
type GitLabVersion struct {
	Version string
}

// NewGitLabVersion returns a GitLabVersion with the version string normalized
// to carry a "v" prefix.
func NewGitLabVersion(version string) GitLabVersion {
	ver := ""
	if strings.HasPrefix(version, "v") {
		ver = version
	} else if version != "" {
		ver = "v" + version
	}

	return GitLabVersion{Version: ver}
}
