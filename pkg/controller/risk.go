package controller

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// assessRisk classifies a production bound run against the previously
// released version and derives whether it needs an explicit approval.
func (c *Controller) assessRisk(ctx context.Context, record *schemas.DeploymentRecord) (schemas.RiskAssessment, error) {
	req := record.Request

	version, _ := record.Targets.Version(schemas.EnvironmentProduction)
	if version.Semantic == nil {
		return schemas.RiskAssessment{}, fmt.Errorf("production target carries no semantic version")
	}

	var previous *schemas.Semantic

	release, found, err := c.Store.GetCurrentRelease(ctx, req.ProjectName)
	if err != nil {
		return schemas.RiskAssessment{}, errors.Wrap(err, "reading current release from the store")
	}

	if found {
		if s, err := schemas.ParseSemantic(release.Version); err != nil {
			log.WithFields(log.Fields{
				"project-name": req.ProjectName,
				"version":      release.Version,
			}).Warn("current release version is not semantic, assessing as a first release")
		} else {
			previous = &s
		}
	}

	hotfix, err := req.TargetRef().MatchesHotfixPattern(c.Config.Project.HotfixBranchRegexp)
	if err != nil {
		log.WithFields(log.Fields{
			"project-name": req.ProjectName,
			"ref":          req.Ref,
		}).WithError(err).Warn("matching hotfix branch pattern")
	}

	risk := schemas.AssessRisk(*version.Semantic, previous, schemas.RiskOptions{
		Hotfix:                  hotfix,
		Emergency:               req.Emergency,
		EmergencyBypassApproval: c.Config.Risk.EmergencyBypassApproval,
		LevelOverrides:          c.riskLevelOverrides(),
	})

	// The commit distance is informational; failing to compute it never
	// fails the assessment.
	if previous != nil {
		count, err := c.Gitlab.GetCommitCountBetweenRefs(ctx, req.ProjectName, previous.String(), version.Semantic.String())
		if err != nil {
			log.WithContext(ctx).
				WithFields(log.Fields{
					"project-name": req.ProjectName,
				}).
				WithError(err).
				Debug("computing commit distance to the previous release")
		} else {
			risk.CommitsSincePrevious = count
		}
	}

	log.WithFields(log.Fields{
		"record-id":         record.ID.String(),
		"project-name":      req.ProjectName,
		"release-type":      risk.ReleaseType,
		"risk-level":        risk.RiskLevel,
		"approval-required": risk.ApprovalRequired,
	}).Info("assessed deployment risk")

	return risk, nil
}

// riskLevelOverrides converts the configured release type to risk level
// overrides into their typed form. Unknown levels are weeded out by the
// assessment itself.
func (c *Controller) riskLevelOverrides() map[schemas.ReleaseType]schemas.RiskLevel {
	if len(c.Config.Risk.LevelOverrides) == 0 {
		return nil
	}

	overrides := make(map[schemas.ReleaseType]schemas.RiskLevel, len(c.Config.Risk.LevelOverrides))

	for releaseType, level := range c.Config.Risk.LevelOverrides {
		overrides[schemas.ReleaseType(releaseType)] = schemas.RiskLevel(level)
	}

	return overrides
}
