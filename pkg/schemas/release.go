package schemas

import (
	"hash/crc32"
	"strconv"
	"time"
)

// Release records one version successfully deployed to production. Releases
// feed the risk assessment (previous version lookup) and the target selection
// of already released tags.
type Release struct {
	ProjectName string
	Version     string
	RecordID    string
	DeployedAt  time.Time
}

// ReleaseKey is a custom type used as a key for releases.
type ReleaseKey string

// Key generates a unique key for a Release using a CRC32 checksum.
func (r Release) Key() ReleaseKey {
	return ReleaseKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(r.ProjectName + r.Version)))))
}

// Releases is a map used to keep track of releases.
type Releases map[ReleaseKey]Release

// Count returns the number of releases in the Releases map.
func (releases Releases) Count() int {
	return len(releases)
}
