package schemas

import (
	"sort"
	"strings"
)

// DefaultEnvironmentAliases maps branch names which designate an environment
// directly to the environment they deploy to.
var DefaultEnvironmentAliases = map[string]Environment{
	"develop":        EnvironmentDevelopment,
	"staging":        EnvironmentStaging,
	"qa":             EnvironmentStaging,
	"sqe":            EnvironmentStaging,
	"preprod":        EnvironmentPreProduction,
	"pre-production": EnvironmentPreProduction,
}

// TargetInput carries everything the target selection rules inspect.
type TargetInput struct {
	Ref  string
	Kind RefKind

	// Override forces a single environment, manual triggers only.
	Override *Environment

	// Manual marks an explicitly dispatched run, as opposed to one derived
	// from a push event.
	Manual bool

	// ProductionDeployed reports whether the exact tag already deployed
	// successfully to production.
	ProductionDeployed bool

	// EnvironmentAliases maps environment branch names to environments;
	// DefaultEnvironmentAliases applies when nil.
	EnvironmentAliases map[string]Environment
}

// DeploymentTarget pairs a selected environment with the version resolved
// for it.
type DeploymentTarget struct {
	Environment Environment
	Version     ResolvedVersion
}

// DeploymentTargetSet is the ordered set of environments one run deploys to.
type DeploymentTargetSet []DeploymentTarget

// Environments returns the environments of the set in deployment order.
func (ts DeploymentTargetSet) Environments() []Environment {
	envs := make([]Environment, 0, len(ts))
	for _, t := range ts {
		envs = append(envs, t.Environment)
	}

	return envs
}

// Includes returns whether the set contains the given environment.
func (ts DeploymentTargetSet) Includes(env Environment) bool {
	for _, t := range ts {
		if t.Environment == env {
			return true
		}
	}

	return false
}

// Version returns the resolved version attached to the given environment.
func (ts DeploymentTargetSet) Version(env Environment) (ResolvedVersion, bool) {
	for _, t := range ts {
		if t.Environment == env {
			return t.Version, true
		}
	}

	return ResolvedVersion{}, false
}

// targetRule is one row of the environment selection table. Rules are
// evaluated top to bottom and the first matching rule wins.
type targetRule struct {
	name    string
	matches func(in TargetInput) bool
	envs    func(in TargetInput) []Environment
}

var targetRuleTable = []targetRule{
	{
		name: "manual-override",
		matches: func(in TargetInput) bool {
			return in.Override != nil
		},
		envs: func(in TargetInput) []Environment {
			return []Environment{*in.Override}
		},
	},
	{
		name: "release-tag",
		matches: func(in TargetInput) bool {
			return in.Kind == RefKindTag && IsReleaseVersion(in.Ref)
		},
		envs: func(in TargetInput) []Environment {
			// A release tag already live in production only ever reaches
			// production again through an explicit manual re-dispatch.
			if in.ProductionDeployed && in.Manual {
				return []Environment{EnvironmentProduction}
			}

			return []Environment{EnvironmentPreProduction}
		},
	},
	{
		name: "prerelease-tag",
		matches: func(in TargetInput) bool {
			if in.Kind != RefKindTag {
				return false
			}

			s, err := ParseSemantic(in.Ref)
			if err != nil {
				return false
			}

			return strings.HasPrefix(s.Prerelease, "rc.") || strings.HasPrefix(s.Prerelease, "pre.")
		},
		envs: func(_ TargetInput) []Environment {
			return []Environment{EnvironmentPreProduction}
		},
	},
	{
		name: "default-branch",
		matches: func(in TargetInput) bool {
			return in.Kind == RefKindBranch && (in.Ref == "main" || in.Ref == "master")
		},
		envs: func(_ TargetInput) []Environment {
			return []Environment{EnvironmentDevelopment, EnvironmentStaging}
		},
	},
	{
		name: "release-branch",
		matches: func(in TargetInput) bool {
			return in.Kind == RefKindBranch && strings.HasPrefix(in.Ref, "release/")
		},
		envs: func(_ TargetInput) []Environment {
			// Production is deliberately excluded, it requires an explicit
			// manual dispatch.
			return []Environment{EnvironmentStaging, EnvironmentPreProduction}
		},
	},
	{
		name: "environment-branch",
		matches: func(in TargetInput) bool {
			if in.Kind != RefKindBranch {
				return false
			}

			_, ok := in.aliases()[in.Ref]

			return ok
		},
		envs: func(in TargetInput) []Environment {
			return []Environment{in.aliases()[in.Ref]}
		},
	},
	{
		name: "default",
		matches: func(_ TargetInput) bool {
			return true
		},
		envs: func(_ TargetInput) []Environment {
			return []Environment{EnvironmentDevelopment}
		},
	},
}

// aliases returns the configured environment branch aliases, falling back to
// the defaults.
func (in TargetInput) aliases() map[string]Environment {
	if in.EnvironmentAliases != nil {
		return in.EnvironmentAliases
	}

	return DefaultEnvironmentAliases
}

// SelectEnvironments decides which environments a ref deploys to, evaluating
// the selection rules top to bottom with first match winning. The returned
// environments are sorted in deployment order. The second return value names
// the matched rule.
func SelectEnvironments(in TargetInput) ([]Environment, string) {
	for _, rule := range targetRuleTable {
		if !rule.matches(in) {
			continue
		}

		envs := rule.envs(in)
		sort.Slice(envs, func(i, j int) bool {
			return envs[i].Ordinal() < envs[j].Ordinal()
		})

		return envs, rule.name
	}

	// The table terminates with a catch-all rule.
	return []Environment{EnvironmentDevelopment}, "default"
}
