package gitlab

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// GetBranchHeadCommit fetches the commit currently at the head of a branch.
// It returns the full commit SHA and its committed date, which seed the
// sha-timestamp version of development and staging deployments.
func (c *Client) GetBranchHeadCommit(ctx context.Context, project, branch string) (string, time.Time, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:GetBranchHeadCommit")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", project),
		attribute.String("branch_name", branch),
	)

	log.WithFields(log.Fields{
		"project-name": project,
		"branch":       branch,
	}).Debug("reading project branch")

	c.rateLimit(ctx)

	b, resp, err := c.Branches.GetBranch(project, branch, goGitlab.WithContext(ctx))
	if err != nil {
		return "", time.Time{}, err
	}

	c.requestsRemaining(resp)

	return b.Commit.ID, *b.Commit.CommittedDate, nil
}
