package gitlab

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"
	"go.openly.dev/pointy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ListProjectTags retrieves the names of all tags of a project. The tag
// namespace is the source of truth for semantic version resolution.
func (c *Client) ListProjectTags(ctx context.Context, projectName string) (tags []string, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:ListProjectTags")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", projectName))

	options := &goGitlab.ListTagsOptions{
		ListOptions: goGitlab.ListOptions{
			Page:    1,
			PerPage: 100,
		},
	}

	for {
		c.rateLimit(ctx)

		var (
			projectTags []*goGitlab.Tag
			resp        *goGitlab.Response
		)

		projectTags, resp, err = c.Tags.ListTags(projectName, options, goGitlab.WithContext(ctx))
		if err != nil {
			return
		}

		c.requestsRemaining(resp)

		for _, tag := range projectTags {
			tags = append(tags, tag.Name)
		}

		if resp.CurrentPage >= resp.NextPage {
			break
		}

		options.Page = resp.NextPage
	}

	return
}

// GetTagCommit retrieves the commit SHA a tag points at. It reports
// found=false when the tag does not exist.
func (c *Client) GetTagCommit(ctx context.Context, projectName, tagName string) (sha string, found bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:GetTagCommit")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", projectName),
		attribute.String("tag_name", tagName),
	)

	log.WithFields(log.Fields{
		"project-name": projectName,
		"tag":          tagName,
	}).Debug("reading project tag")

	c.rateLimit(ctx)

	tag, resp, err := c.Tags.GetTag(projectName, tagName, goGitlab.WithContext(ctx))
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		// A missing tag is not an error, it drives the auto-tagging decision
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	c.requestsRemaining(resp)

	return tag.Commit.ID, true, nil
}

// CreateTag creates a tag pointing at the given commit SHA. This is the only
// write the orchestrator ever performs against the GitLab API.
func (c *Client) CreateTag(ctx context.Context, projectName, tagName, sha string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:CreateTag")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", projectName),
		attribute.String("tag_name", tagName),
		attribute.String("sha", sha),
	)

	log.WithFields(log.Fields{
		"project-name": projectName,
		"tag":          tagName,
		"sha":          sha,
	}).Info("creating release tag")

	c.rateLimit(ctx)

	_, resp, err := c.Tags.CreateTag(projectName, &goGitlab.CreateTagOptions{
		TagName: pointy.String(tagName),
		Ref:     pointy.String(sha),
	}, goGitlab.WithContext(ctx))
	if err != nil {
		return err
	}

	c.requestsRemaining(resp)

	return nil
}
