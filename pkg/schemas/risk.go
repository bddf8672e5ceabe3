package schemas

const (
	// ReleaseTypePatch is a patch version bump.
	ReleaseTypePatch ReleaseType = "patch"

	// ReleaseTypeMinor is a minor version bump.
	ReleaseTypeMinor ReleaseType = "minor"

	// ReleaseTypeMajor is a major version bump.
	ReleaseTypeMajor ReleaseType = "major"

	// ReleaseTypeHotfix is a release cut from a hotfix branch, regardless of
	// the numeric version delta.
	ReleaseTypeHotfix ReleaseType = "hotfix"
)

const (
	// RiskLevelLow marks releases with negligible blast radius.
	RiskLevelLow RiskLevel = "low"

	// RiskLevelMedium marks routine releases.
	RiskLevelMedium RiskLevel = "medium"

	// RiskLevelHigh marks releases warranting explicit approval.
	RiskLevelHigh RiskLevel = "high"

	// RiskLevelCritical marks releases with the widest blast radius.
	RiskLevelCritical RiskLevel = "critical"
)

// ReleaseType classifies the version delta of a production release.
type ReleaseType string

// RiskLevel classifies the blast radius of a production release.
type RiskLevel string

// Valid returns whether the RiskLevel is a known level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	}

	return false
}

// defaultRiskLevels maps release types to their default risk tier.
var defaultRiskLevels = map[ReleaseType]RiskLevel{
	ReleaseTypePatch:  RiskLevelMedium,
	ReleaseTypeMinor:  RiskLevelHigh,
	ReleaseTypeMajor:  RiskLevelCritical,
	ReleaseTypeHotfix: RiskLevelHigh,
}

// RiskAssessment is the outcome of classifying a production-bound release.
type RiskAssessment struct {
	ReleaseType      ReleaseType
	RiskLevel        RiskLevel
	ApprovalRequired bool

	// CommitsSincePrevious is the commit distance to the previously released
	// version, when it could be computed. Informational only, it never
	// changes the assessed level.
	CommitsSincePrevious int
}

// RiskOptions tunes the risk assessment of a single run.
type RiskOptions struct {
	// Hotfix marks the release as cut from a hotfix branch.
	Hotfix bool

	// Emergency requests the approval bypass for this run.
	Emergency bool

	// EmergencyBypassApproval allows Emergency to actually skip approvals.
	EmergencyBypassApproval bool

	// LevelOverrides replaces the default release type to risk level mapping
	// for the listed types.
	LevelOverrides map[ReleaseType]RiskLevel
}

// ClassifyRelease determines the release type from the version delta between
// the resolved version and the previously released one. A missing previous
// version classifies as a major release (first release ever, conservative).
func ClassifyRelease(current Semantic, previous *Semantic, hotfix bool) ReleaseType {
	if hotfix {
		return ReleaseTypeHotfix
	}

	if previous == nil {
		return ReleaseTypeMajor
	}

	switch {
	case current.Major != previous.Major:
		return ReleaseTypeMajor
	case current.Minor != previous.Minor:
		return ReleaseTypeMinor
	default:
		return ReleaseTypePatch
	}
}

// AssessRisk classifies a production-bound semantic release into a risk tier
// and derives its approval requirement. Approval is required for high and
// critical risk levels unless the run is an emergency and the emergency
// bypass is enabled.
func AssessRisk(current Semantic, previous *Semantic, opts RiskOptions) RiskAssessment {
	releaseType := ClassifyRelease(current, previous, opts.Hotfix)

	level, ok := opts.LevelOverrides[releaseType]
	if !ok || !level.Valid() {
		level = defaultRiskLevels[releaseType]
	}

	approvalRequired := level == RiskLevelHigh || level == RiskLevelCritical
	if opts.Emergency && opts.EmergencyBypassApproval {
		approvalRequired = false
	}

	return RiskAssessment{
		ReleaseType:      releaseType,
		RiskLevel:        level,
		ApprovalRequired: approvalRequired,
	}
}
