package controller

import (
	"context"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/helvethink/deployment-orchestrator/pkg/gitlab"
)

// GetGitLabMetadata fetches the instance metadata and refreshes the GitLab
// version the orchestrator reports through its monitoring telemetry.
func (c *Controller) GetGitLabMetadata(ctx context.Context) error {
	metadata, _, err := c.Gitlab.Metadata.GetMetadata(goGitlab.WithContext(ctx))
	if err != nil {
		return err
	}

	if metadata.Version == "" {
		return nil
	}

	c.Gitlab.UpdateVersion(gitlab.NewGitLabVersion(metadata.Version))

	log.WithFields(log.Fields{
		"gitlab-version":  metadata.Version,
		"gitlab-revision": metadata.Revision,
	}).Debug("refreshed gitlab instance metadata")

	return nil
}
