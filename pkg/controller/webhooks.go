package controller

import (
	"context"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// emergencyMarker flags a push as an emergency deployment when present in
// the head commit or tag message.
const emergencyMarker = "[emergency]"

// processPushEvent maps a GitLab push event onto a deployment request for
// the pushed branch. Branch deletions (empty CheckoutSHA) are ignored, the
// orchestrator has nothing to deploy for them.
func (c *Controller) processPushEvent(ctx context.Context, e goGitlab.PushEvent) {
	if e.CheckoutSHA == "" {
		log.WithFields(log.Fields{
			"project-name": e.Project.PathWithNamespace,
			"ref":          e.Ref,
		}).Debug("received branch deletion push event, ignoring")

		return
	}

	branch, found := strings.CutPrefix(e.Ref, "refs/heads/")
	if !found {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": e.Project.PathWithNamespace,
				"ref":          e.Ref,
			}).
			Error("extracting branch name from ref")

		return
	}

	emergency := false

	for _, commit := range e.Commits {
		if commit.ID == e.CheckoutSHA {
			emergency = strings.Contains(commit.Message, emergencyMarker)

			break
		}
	}

	c.triggerDeploymentRun(ctx, schemas.DeploymentRequest{
		ProjectName: e.Project.PathWithNamespace,
		Ref:         branch,
		RefKind:     schemas.RefKindBranch,
		CommitSha:   e.CheckoutSHA,
		Actor:       e.UserUsername,
		Trigger:     schemas.TriggerKindWebhook,
		Emergency:   emergency,
	})
}

// processTagEvent maps a GitLab tag push event onto a deployment request
// for the pushed tag. Tag deletions (empty CheckoutSHA) are ignored.
func (c *Controller) processTagEvent(ctx context.Context, e goGitlab.TagEvent) {
	if e.CheckoutSHA == "" {
		log.WithFields(log.Fields{
			"project-name": e.Project.PathWithNamespace,
			"ref":          e.Ref,
		}).Debug("received tag deletion tag event, ignoring")

		return
	}

	tag, found := strings.CutPrefix(e.Ref, "refs/tags/")
	if !found {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": e.Project.PathWithNamespace,
				"ref":          e.Ref,
			}).
			Error("extracting tag name from ref")

		return
	}

	c.triggerDeploymentRun(ctx, schemas.DeploymentRequest{
		ProjectName: e.Project.PathWithNamespace,
		Ref:         tag,
		RefKind:     schemas.RefKindTag,
		CommitSha:   e.CheckoutSHA,
		Actor:       e.UserUsername,
		Trigger:     schemas.TriggerKindWebhook,
		Emergency:   strings.Contains(e.Message, emergencyMarker),
	})
}

// triggerDeploymentRun accepts a webhook derived deployment request,
// dropping events for projects this orchestrator does not manage and refs
// excluded by configuration.
func (c *Controller) triggerDeploymentRun(ctx context.Context, req schemas.DeploymentRequest) {
	if req.ProjectName != c.Config.Project.Name {
		log.WithFields(log.Fields{
			"project-name": req.ProjectName,
		}).Debug("project not managed by this orchestrator, ignoring webhook")

		return
	}

	if c.refExcluded(req.Ref) {
		log.WithFields(log.Fields{
			"project-name": req.ProjectName,
			"ref":          req.Ref,
		}).Debug("ref excluded by configuration, ignoring webhook")

		return
	}

	if _, err := c.AcceptDeploymentRequest(ctx, req); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": req.ProjectName,
				"ref":          req.Ref,
			}).
			WithError(err).
			Warn("accepting deployment request from webhook")
	}
}

// refExcluded returns whether the configured exclusion regexp filters the
// ref out of webhook triggering.
func (c *Controller) refExcluded(ref string) bool {
	if c.Config.Project.ExcludeRefsRegexp == "" {
		return false
	}

	re, err := regexp.Compile(c.Config.Project.ExcludeRefsRegexp)
	if err != nil {
		log.WithFields(log.Fields{
			"regexp": c.Config.Project.ExcludeRefsRegexp,
		}).WithError(err).Warn("invalid ref exclusion regexp, not filtering")

		return false
	}

	return re.MatchString(ref)
}
