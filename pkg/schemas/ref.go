package schemas

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strconv"
)

const (
	RefKindBranch RefKind = "branch"
	RefKindTag    RefKind = "tag"
)

// releaseBranchRegexp matches release branches carrying an explicit version,
// eg. release/1.4.0.
var releaseBranchRegexp = regexp.MustCompile(`^release/(\d+)\.(\d+)\.(\d+)$`)

// RefKind tells branches and tags apart.
type RefKind string

// Valid returns whether the RefKind is a known reference kind.
func (rk RefKind) Valid() bool {
	switch rk {
	case RefKindBranch, RefKindTag:
		return true
	}

	return false
}

// Ref is the branch or tag a deployment request targets.
type Ref struct {
	Kind        RefKind
	Name        string
	ProjectName string
}

// RefKey indexes refs in the store.
type RefKey string

// Key derives the store key of the ref from its kind, project and name.
func (ref Ref) Key() RefKey {
	return RefKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(string(ref.Kind) + ref.ProjectName + ref.Name)))))
}

// Refs indexes refs by their key.
type Refs map[RefKey]Ref

// Count returns the number of refs held.
func (refs Refs) Count() int {
	return len(refs)
}

// DefaultLabelsValues returns the metric labels identifying the ref.
func (ref Ref) DefaultLabelsValues() map[string]string {
	return map[string]string{
		"kind":    string(ref.Kind),
		"project": ref.ProjectName,
		"ref":     ref.Name,
	}
}

// NewRef returns a Ref for the given project, kind and name.
func NewRef(projectName string, kind RefKind, name string) Ref {
	return Ref{
		Kind:        kind,
		Name:        name,
		ProjectName: projectName,
	}
}

// ReleaseBranchVersion extracts the semantic version named by a release/X.Y.Z
// branch. The second return value is false when the ref is not such a branch.
func (ref Ref) ReleaseBranchVersion() (Semantic, bool) {
	if ref.Kind != RefKindBranch {
		return Semantic{}, false
	}

	matches := releaseBranchRegexp.FindStringSubmatch(ref.Name)
	if len(matches) != 4 {
		return Semantic{}, false
	}

	major, _ := strconv.ParseUint(matches[1], 10, 64)
	minor, _ := strconv.ParseUint(matches[2], 10, 64)
	patch, _ := strconv.ParseUint(matches[3], 10, 64)

	return Semantic{Major: major, Minor: minor, Patch: patch}, true
}

// MatchesHotfixPattern returns whether the ref name matches the given
// hotfix branch regular expression.
func (ref Ref) MatchesHotfixPattern(pattern string) (bool, error) {
	if ref.Kind != RefKindBranch || pattern == "" {
		return false, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid hotfix branch regexp (%s): %v", pattern, err)
	}

	return re.MatchString(ref.Name), nil
}
