package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

func TestResolveTargetsMainBranch(t *testing.T) {
	c, _ := newTestController(t)

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	assert.Equal(t, testSha, record.CommitSha)
	assert.Equal(t, []schemas.Environment{
		schemas.EnvironmentDevelopment,
		schemas.EnvironmentStaging,
	}, record.Targets.Environments())

	devVersion, ok := record.Targets.Version(schemas.EnvironmentDevelopment)
	require.True(t, ok)
	assert.True(t, schemas.IsShaTimestampVersion(devVersion.Raw))
	assert.True(t, strings.HasPrefix(devVersion.Raw, "dev-8c36bd2-"))
	assert.Equal(t, schemas.VersionSchemeShaTimestamp, devVersion.Scheme)

	stagingVersion, ok := record.Targets.Version(schemas.EnvironmentStaging)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(stagingVersion.Raw, "staging-8c36bd2-"))

	// The ref is persisted and its resolution lease released again
	ref := record.Request.TargetRef()
	exists, err := c.Store.RefExists(testCtx, ref.Key())
	require.NoError(t, err)
	assert.True(t, exists)

	acquired, err := c.Store.AcquireRefLease(testCtx, ref.Key(), "another-process", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestResolveTargetsVersionPrefixOverride(t *testing.T) {
	c, _ := newTestController(t)
	c.Config.Project.VersionPrefixes = map[string]string{"development": "sandbox"}

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	devVersion, ok := record.Targets.Version(schemas.EnvironmentDevelopment)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(devVersion.Raw, "sandbox-"))

	// Environments without an override keep their default prefix
	stagingVersion, ok := record.Targets.Version(schemas.EnvironmentStaging)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(stagingVersion.Raw, "staging-"))
}

func TestResolveTargetsEnvironmentAliases(t *testing.T) {
	c, _ := newTestController(t)
	c.Config.Project.EnvironmentAliases = map[string]string{"integration": "staging"}

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "integration",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))
	assert.Equal(t, []schemas.Environment{schemas.EnvironmentStaging}, record.Targets.Environments())

	// A configured alias table replaces the built-in one entirely, the qa
	// alias no longer applies
	record = schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "qa",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))
	assert.Equal(t, []schemas.Environment{schemas.EnvironmentDevelopment}, record.Targets.Environments())
}

func TestResolveTargetsReleaseTag(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"name":"v1.2.3"}]`)
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v1.2.3",
		RefKind:     schemas.RefKindTag,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	assert.Equal(t, []schemas.Environment{schemas.EnvironmentPreProduction}, record.Targets.Environments())

	version, ok := record.Targets.Version(schemas.EnvironmentPreProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.2.3", version.Raw)
	assert.Equal(t, schemas.VersionSchemeSemantic, version.Scheme)
}

func TestResolveTargetsReleasedTagManualPromotion(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"name":"v1.2.3"}]`)
		})

	require.NoError(t, c.Store.SetRelease(testCtx, schemas.Release{
		ProjectName: "foo",
		Version:     "v1.2.3",
	}))

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v1.2.3",
		RefKind:     schemas.RefKindTag,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindAPI,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	// An already released tag requested manually promotes to production
	assert.Equal(t, []schemas.Environment{schemas.EnvironmentProduction}, record.Targets.Environments())

	version, ok := record.Targets.Version(schemas.EnvironmentProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.2.3", version.Raw)
}

func TestResolveTargetsReleaseBranchCreatesTag(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[]`)
		})
	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags/v1.4.0",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

	var created map[string]interface{}

	mux.HandleFunc("POST /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&created)

			fmt.Fprint(w, `{"name":"v1.4.0","commit":{"id":"`+testSha+`"}}`)
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "release/1.4.0",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	assert.Equal(t, []schemas.Environment{
		schemas.EnvironmentStaging,
		schemas.EnvironmentPreProduction,
	}, record.Targets.Environments())

	version, ok := record.Targets.Version(schemas.EnvironmentPreProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.4.0", version.Raw)

	// The missing release tag got created at the branch head
	require.NotNil(t, created)
	assert.Equal(t, "v1.4.0", created["tag_name"])
	assert.Equal(t, testSha, created["ref"])
}

func TestResolveTargetsReleaseBranchTagPinned(t *testing.T) {
	c, mux := newTestController(t)

	const taggedSha = "f0e1d2c3b4a5f0e1d2c3b4a5f0e1d2c3b4a5f0e1"

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"name":"v1.4.0"}]`)
		})
	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags/v1.4.0",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"name":"v1.4.0","commit":{"id":"`+taggedSha+`"}}`)
		})
	mux.HandleFunc("POST /api/v4/projects/foo/repository/tags",
		func(_ http.ResponseWriter, _ *http.Request) {
			t.Error("unexpected tag creation")
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "release/1.4.0",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	// The existing tag pins the deployed commit, diverging branch head or not
	assert.Equal(t, taggedSha, record.CommitSha)

	version, ok := record.Targets.Version(schemas.EnvironmentPreProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.4.0", version.Raw)
}

func TestResolveTargetsAutoCreateReleaseTagsDisabled(t *testing.T) {
	c, mux := newTestController(t)
	c.Config.Project.AutoCreateReleaseTags = false

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[]`)
		})
	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags/v1.4.0",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	mux.HandleFunc("POST /api/v4/projects/foo/repository/tags",
		func(_ http.ResponseWriter, _ *http.Request) {
			t.Error("unexpected tag creation")
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "release/1.4.0",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	// The branch mandated version still deploys, the tag is the release
	// manager's to create
	version, ok := record.Targets.Version(schemas.EnvironmentPreProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.4.0", version.Raw)
	assert.Equal(t, testSha, record.CommitSha)
}

func TestResolveTargetsOverridePrerelease(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"name":"v1.3.0"},{"name":"nightly"}]`)
		})

	override := schemas.EnvironmentPreProduction
	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName:         "foo",
		Ref:                 "feature/checkout-v2",
		RefKind:             schemas.RefKindBranch,
		CommitSha:           testSha,
		Actor:               "alice",
		Trigger:             schemas.TriggerKindAPI,
		EnvironmentOverride: &override,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	assert.Equal(t, []schemas.Environment{schemas.EnvironmentPreProduction}, record.Targets.Environments())

	// No release tag matches the ref, the next prerelease after the highest
	// existing tag is generated
	version, ok := record.Targets.Version(schemas.EnvironmentPreProduction)
	require.True(t, ok)
	assert.Equal(t, "v1.3.1-pre.8c36bd2", version.Raw)
	assert.Equal(t, schemas.VersionSchemeSemanticPrerelease, version.Scheme)
}

func TestResolveTargetsForceVersionOffProduction(t *testing.T) {
	c, _ := newTestController(t)

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName:  "foo",
		Ref:          "main",
		RefKind:      schemas.RefKindBranch,
		CommitSha:    testSha,
		Actor:        "alice",
		Trigger:      schemas.TriggerKindAPI,
		ForceVersion: "v9.9.9",
	})

	err := c.resolveTargets(testCtx, &record)
	assert.ErrorContains(t, err, "force_version is only accepted on production bound runs")
}

func TestResolveTargetsForceVersionOnProduction(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[]`)
		})

	override := schemas.EnvironmentProduction
	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName:         "foo",
		Ref:                 "main",
		RefKind:             schemas.RefKindBranch,
		CommitSha:           testSha,
		Actor:               "alice",
		Trigger:             schemas.TriggerKindAPI,
		EnvironmentOverride: &override,
		ForceVersion:        "v9.9.9",
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))

	version, ok := record.Targets.Version(schemas.EnvironmentProduction)
	require.True(t, ok)
	assert.Equal(t, "v9.9.9", version.Raw)
	assert.Equal(t, schemas.VersionSchemeSemantic, version.Scheme)
}

func TestResolveCommitShaFromBranchHead(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/branches/main",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"name":"main","commit":{"id":"`+testSha+`","committed_date":"2026-03-02T10:00:00Z"}}`)
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindAPI,
	})

	require.NoError(t, c.resolveTargets(testCtx, &record))
	assert.Equal(t, testSha, record.CommitSha)
}

func TestResolveCommitShaTagNotFound(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags/v4.0.0",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v4.0.0",
		RefKind:     schemas.RefKindTag,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindAPI,
	})

	err := c.resolveTargets(testCtx, &record)
	assert.ErrorContains(t, err, "tag (v4.0.0) not found")
}
