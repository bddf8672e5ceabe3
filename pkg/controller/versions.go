package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

const (
	// refLeaseTTL bounds how long a crashed run can keep its ref locked
	// before a concurrent instance takes over.
	refLeaseTTL = 5 * time.Minute

	// refLeaseRetryInterval paces the acquisition attempts whilst another
	// run holds the lease.
	refLeaseRetryInterval = time.Second
)

// resolveTargets selects the target environments for the record's ref and
// resolves the version each of them will receive. Runs on the same ref are
// serialized through a store lease for the duration of the resolution, so
// two concurrent runs can never derive conflicting versions from the same
// tag listing.
func (c *Controller) resolveTargets(ctx context.Context, record *schemas.DeploymentRecord) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:resolveTargets")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", record.ID.String()))

	req := record.Request
	ref := req.TargetRef()

	envs, rule := schemas.SelectEnvironments(schemas.TargetInput{
		Ref:                req.Ref,
		Kind:               req.RefKind,
		Override:           req.EnvironmentOverride,
		Manual:             req.Manual(),
		ProductionDeployed: c.refAlreadyReleased(ctx, req),
		EnvironmentAliases: c.environmentAliases(),
	})

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": req.ProjectName,
		"ref":          req.Ref,
		"rule":         rule,
		"environments": envs,
	}).Info("selected deployment targets")

	if req.ForceVersion != "" {
		productionBound := false

		for _, env := range envs {
			if env == schemas.EnvironmentProduction {
				productionBound = true
			}
		}

		if !productionBound {
			return fmt.Errorf("force_version is only accepted on production bound runs (targets: %v)", envs)
		}
	}

	if err := c.acquireRefLease(ctx, ref); err != nil {
		return err
	}

	defer c.releaseRefLease(ctx, ref)

	// The ref itself is stored for observability and metric labeling, its
	// absence never fails a run.
	if err := c.Store.SetRef(ctx, ref); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": ref.ProjectName,
				"ref":          ref.Name,
			}).
			WithError(err).
			Error("writing ref in the store")
	}

	sha, err := c.resolveCommitSha(ctx, req)
	if err != nil {
		return err
	}

	record.CommitSha = sha
	span.SetAttributes(attribute.String("commit_sha", sha))

	// Semantic environments targeted by the same run share one resolved
	// version, computed once from a single tag listing.
	var (
		semanticVersion  schemas.ResolvedVersion
		semanticResolved bool
	)

	targets := make(schemas.DeploymentTargetSet, 0, len(envs))

	for _, env := range envs {
		var version schemas.ResolvedVersion

		switch env.VersionScheme() {
		case schemas.VersionSchemeSemantic:
			if !semanticResolved {
				tags, err := c.Gitlab.ListProjectTags(ctx, req.ProjectName)
				if err != nil {
					return errors.Wrap(err, "listing project tags")
				}

				semanticVersion, err = c.resolveSemanticVersion(ctx, record, tags)
				if err != nil {
					return err
				}

				semanticResolved = true
			}

			version = semanticVersion
		default:
			version = schemas.NewShaTimestampVersion(c.versionPrefix(env), sha, time.Now())
		}

		targets = append(targets, schemas.DeploymentTarget{
			Environment: env,
			Version:     version,
		})

		log.WithFields(log.Fields{
			"record-id":   record.ID.String(),
			"environment": env,
			"version":     version.Raw,
		}).Debug("resolved environment version")
	}

	record.Targets = targets

	return nil
}

// resolveSemanticVersion derives the semantic version of a production or
// preproduction bound run: an operator supplied version wins, then a
// semantic tag deploys verbatim, a release branch deploys its embedded
// version, and anything else becomes the next prerelease after the highest
// existing semantic tag.
func (c *Controller) resolveSemanticVersion(ctx context.Context, record *schemas.DeploymentRecord, tags []string) (schemas.ResolvedVersion, error) {
	req := record.Request

	if req.ForceVersion != "" {
		forced, err := schemas.ParseSemantic(req.ForceVersion)
		if err != nil {
			return schemas.ResolvedVersion{}, errors.Wrapf(schemas.ErrInvalidVersionFormat, "forced version (%s)", req.ForceVersion)
		}

		return schemas.NewSemanticVersion(forced), nil
	}

	if req.RefKind == schemas.RefKindTag {
		if tagged, err := schemas.ParseSemantic(req.Ref); err == nil {
			return schemas.NewSemanticVersion(tagged), nil
		}
		// Non semantic tags fall through to the prerelease path.
	}

	if branchVersion, ok := req.TargetRef().ReleaseBranchVersion(); ok {
		return c.resolveReleaseBranchVersion(ctx, record, branchVersion)
	}

	var latest *schemas.Semantic

	if highest, ok := schemas.LatestSemantic(tags); ok {
		latest = &highest
	}

	return schemas.NextPrereleaseVersion(latest, record.CommitSha), nil
}

// resolveReleaseBranchVersion resolves a release/X.Y.Z branch to its
// embedded version and reconciles the matching release tag: an existing tag
// pins the deployed commit, a missing one gets created at the branch head
// when tag auto creation is enabled.
func (c *Controller) resolveReleaseBranchVersion(ctx context.Context, record *schemas.DeploymentRecord, branchVersion schemas.Semantic) (schemas.ResolvedVersion, error) {
	version := schemas.NewSemanticVersion(branchVersion)

	tagSha, found, err := c.Gitlab.GetTagCommit(ctx, record.Request.ProjectName, version.Raw)
	if err != nil {
		return schemas.ResolvedVersion{}, errors.Wrap(err, "reading release tag")
	}

	if found {
		if tagSha != record.CommitSha {
			log.WithFields(log.Fields{
				"record-id":    record.ID.String(),
				"project-name": record.Request.ProjectName,
				"version":      version.Raw,
			}).Warn("release tag does not point at the branch head, deploying the tagged commit")

			record.CommitSha = tagSha
		}

		return version, nil
	}

	if !c.Config.Project.AutoCreateReleaseTags {
		// The tag is the release manager's to create; the run still deploys
		// the version the branch name mandates.
		return version, nil
	}

	if err := c.Gitlab.CreateTag(ctx, record.Request.ProjectName, version.Raw, record.CommitSha); err != nil {
		return schemas.ResolvedVersion{}, errors.Wrap(err, "creating release tag")
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"version":      version.Raw,
	}).Info("created release tag at branch head")

	return version, nil
}

// resolveCommitSha pins the commit the whole run operates on. Push events
// carry it already; manual runs resolve it from the ref.
func (c *Controller) resolveCommitSha(ctx context.Context, req schemas.DeploymentRequest) (string, error) {
	if req.CommitSha != "" {
		return req.CommitSha, nil
	}

	if req.RefKind == schemas.RefKindTag {
		sha, found, err := c.Gitlab.GetTagCommit(ctx, req.ProjectName, req.Ref)
		if err != nil {
			return "", errors.Wrap(err, "reading tag commit")
		}

		if !found {
			return "", fmt.Errorf("tag (%s) not found on project %s", req.Ref, req.ProjectName)
		}

		return sha, nil
	}

	sha, _, err := c.Gitlab.GetBranchHeadCommit(ctx, req.ProjectName, req.Ref)
	if err != nil {
		return "", errors.Wrap(err, "reading branch head commit")
	}

	return sha, nil
}

// refAlreadyReleased reports whether the requested tag already went through
// a successful production release, which routes its redeployment according
// to the release tag rule.
func (c *Controller) refAlreadyReleased(ctx context.Context, req schemas.DeploymentRequest) bool {
	if req.RefKind != schemas.RefKindTag || !schemas.IsReleaseVersion(req.Ref) {
		return false
	}

	release := schemas.Release{
		ProjectName: req.ProjectName,
		Version:     req.Ref,
	}

	exists, err := c.Store.ReleaseExists(ctx, release.Key())
	if err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": req.ProjectName,
				"version":      req.Ref,
			}).
			WithError(err).
			Warn("reading release from the store")

		return false
	}

	return exists
}

// environmentAliases converts the configured alias table into typed
// environments. A configured table replaces the default aliases entirely.
func (c *Controller) environmentAliases() map[string]schemas.Environment {
	if len(c.Config.Project.EnvironmentAliases) == 0 {
		return nil
	}

	aliases := make(map[string]schemas.Environment, len(c.Config.Project.EnvironmentAliases))

	for name, target := range c.Config.Project.EnvironmentAliases {
		env, err := schemas.ParseEnvironment(target)
		if err != nil {
			log.WithFields(log.Fields{
				"alias":       name,
				"environment": target,
			}).Warn("ignoring environment alias towards an unknown environment")

			continue
		}

		aliases[name] = env
	}

	return aliases
}

// versionPrefix returns the configured version prefix of an environment,
// falling back to its default one.
func (c *Controller) versionPrefix(env schemas.Environment) string {
	if prefix, ok := c.Config.Project.VersionPrefixes[string(env)]; ok && prefix != "" {
		return prefix
	}

	return env.DefaultVersionPrefix()
}

// acquireRefLease blocks until the ref lease is held, polling whilst a
// concurrent run keeps it. The lease carries the process UUID so a dead
// instance's lease can be taken over once its keepalive expired.
func (c *Controller) acquireRefLease(ctx context.Context, ref schemas.Ref) error {
	logFields := log.Fields{
		"project-name": ref.ProjectName,
		"ref":          ref.Name,
	}

	for {
		acquired, err := c.Store.AcquireRefLease(ctx, ref.Key(), c.UUID.String(), refLeaseTTL)
		if err != nil {
			return errors.Wrap(err, "acquiring ref lease")
		}

		if acquired {
			log.WithFields(logFields).Debug("acquired ref lease")

			return nil
		}

		log.WithFields(logFields).Debug("ref lease held by a concurrent run, waiting..")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(refLeaseRetryInterval):
		}
	}
}

// releaseRefLease returns the ref lease once version resolution completed.
func (c *Controller) releaseRefLease(ctx context.Context, ref schemas.Ref) {
	if err := c.Store.ReleaseRefLease(ctx, ref.Key(), c.UUID.String()); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": ref.ProjectName,
				"ref":          ref.Name,
			}).
			WithError(err).
			Warn("releasing ref lease")
	}
}
