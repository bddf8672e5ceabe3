package config

import (
	"github.com/creasty/defaults"
)

// Project holds the configuration of the project this orchestrator manages
// deployments for.
type Project struct {
	// Name represents the project identifier, commonly known as path_with_namespace in GitLab.
	Name string `validate:"required" yaml:"name"`

	// HotfixBranchRegexp classifies refs as hotfixes when their branch name
	// matches. Defaults to "^hotfix/".
	HotfixBranchRegexp string `default:"^hotfix/" yaml:"hotfix_branch_regexp"`

	// AutoCreateReleaseTags enables pushing the vX.Y.Z tag back to the
	// repository when a release branch resolves a version which is not tagged
	// yet. Defaults to true.
	AutoCreateReleaseTags bool `default:"true" yaml:"auto_create_release_tags"`

	// ExcludeRefsRegexp skips deployment triggering for refs whose name
	// matches, webhook events only. Manual requests are never filtered.
	ExcludeRefsRegexp string `yaml:"exclude_refs_regexp"`

	// EnvironmentAliases maps branch names to the environment they deploy to,
	// replacing the built-in aliases (develop, staging, qa, sqe, preprod,
	// pre-production) when set.
	EnvironmentAliases map[string]string `validate:"dive,oneof=development staging preproduction production" yaml:"environment_aliases"`

	// VersionPrefixes overrides the prefix of generated sha-timestamp version
	// identifiers per environment.
	VersionPrefixes map[string]string `validate:"dive,required" yaml:"version_prefixes"`
}

// NewProject creates a new Project instance with default parameters set,
// and assigns the given project name.
// The name usually corresponds to GitLab's path_with_namespace.
func NewProject(name string) (p Project) {
	defaults.MustSet(&p)
	p.Name = name

	return
}
