package gitlab

import (
	"context"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// GetProject retrieves a single project by its name. The controller uses it
// at startup to verify the configured project exists.
func (c *Client) GetProject(ctx context.Context, name string) (*goGitlab.Project, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:GetProject")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", name))

	log.WithFields(log.Fields{
		"project-name": name,
	}).Debug("reading project")

	c.rateLimit(ctx)

	p, resp, err := c.Projects.GetProject(name, &goGitlab.GetProjectOptions{}, goGitlab.WithContext(ctx))
	c.requestsRemaining(resp)

	return p, err
}
