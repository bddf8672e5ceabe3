package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/deployment-orchestrator/pkg/deployer"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

func TestExecuteRunMainBranch(t *testing.T) {
	c, mux := newTestController(t)

	devCalls := deployEndpointStub(mux, schemas.EnvironmentDevelopment, `{"status":"succeeded","url":"https://dev.example.com"}`)
	stagingCalls := deployEndpointStub(mux, schemas.EnvironmentStaging, `{"status":"succeeded","url":"https://staging.example.com"}`)
	prodCalls := deployEndpointStub(mux, schemas.EnvironmentProduction, `{"status":"succeeded"}`)

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.ExecuteRun(testCtx, record))

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateSucceeded, stored.State)
	assert.Equal(t, testSha, stored.CommitSha)

	// Main branch runs roll through development and staging, production is
	// out of reach without a release tag.
	assert.Equal(t, 1, *devCalls)
	assert.Equal(t, 1, *stagingCalls)
	assert.Equal(t, 0, *prodCalls)

	require.Len(t, stored.Environments, 2)
	assert.Equal(t, schemas.EnvironmentDevelopment, stored.Environments[0].Environment)
	assert.Equal(t, schemas.DeployStatusSucceeded, stored.Environments[0].Status)
	assert.Equal(t, "https://dev.example.com", stored.Environments[0].URL)
	assert.Equal(t, schemas.EnvironmentStaging, stored.Environments[1].Environment)
	assert.Equal(t, schemas.DeployStatusSucceeded, stored.Environments[1].Status)

	require.NotNil(t, stored.Gate)
	assert.True(t, stored.Gate.Passed)
	assert.Equal(t, 100, stored.Gate.Score)

	// Risk assessment is reserved for production bound runs
	assert.Nil(t, stored.Risk)
}

func TestExecuteRunGateBlocked(t *testing.T) {
	c, mux := newTestController(t)

	devCalls := deployEndpointStub(mux, schemas.EnvironmentDevelopment, `{"status":"succeeded"}`)

	scans := passingScanners()
	scans[1] = fakeScanner{tool: schemas.ScanToolSAST, findings: []schemas.ScanFinding{
		scanFinding(schemas.ScanToolSAST, schemas.ScanMetricCriticalCount, 3),
	}}
	c.Scanners = scans

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.ExecuteRun(testCtx, record))

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateBlocked, stored.State)
	assert.Equal(t, "GateBlocked", stored.ErrorClass)
	assert.Contains(t, stored.ErrorDetail, "security gate blocked")
	assert.Equal(t, 0, *devCalls)

	require.NotNil(t, stored.Gate)
	assert.False(t, stored.Gate.Passed)
	assert.Equal(t, schemas.GateRuleCriticalVulnerabilities, stored.Gate.BlockReason)
	assert.Equal(t, 10, stored.Gate.Score)
}

func TestExecuteRunScanUnavailable(t *testing.T) {
	c, mux := newTestController(t)

	devCalls := deployEndpointStub(mux, schemas.EnvironmentDevelopment, `{"status":"succeeded"}`)

	scans := passingScanners()
	scans[1] = fakeScanner{tool: schemas.ScanToolSAST, err: fmt.Errorf("sast api is down")}
	c.Scanners = scans

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.ExecuteRun(testCtx, record))

	// An unreachable scan tool fails closed instead of letting unscanned
	// code through
	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateBlocked, stored.State)
	assert.Equal(t, "ScanUnavailable", stored.ErrorClass)
	assert.Equal(t, 0, *devCalls)

	require.NotNil(t, stored.Gate)
	assert.Equal(t, schemas.GateRuleScanUnavailable, stored.Gate.BlockReason)
}

func TestExecuteRunTerminalRecordUntouched(t *testing.T) {
	c, _ := newTestController(t)

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Trigger:     schemas.TriggerKindWebhook,
	})
	record.State = schemas.RunStateSucceeded

	require.NoError(t, c.ExecuteRun(testCtx, record))

	exists, err := c.Store.RecordExists(testCtx, record.Key())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecuteRunDeployFailureRecordsOutcome(t *testing.T) {
	c, mux := newTestController(t)

	devCalls := deployEndpointStub(mux, schemas.EnvironmentDevelopment, `{"status":"failed","error":"helm upgrade failed"}`)
	stagingCalls := deployEndpointStub(mux, schemas.EnvironmentStaging, `{"status":"succeeded"}`)

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindWebhook,
	})

	require.NoError(t, c.ExecuteRun(testCtx, record))

	// A failed environment does not short-circuit the remaining ones
	assert.Equal(t, 1, *devCalls)
	assert.Equal(t, 1, *stagingCalls)

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateFailed, stored.State)
	assert.Equal(t, "DeployFailed", stored.ErrorClass)
	assert.Contains(t, stored.ErrorDetail, "development")

	require.Len(t, stored.Environments, 2)
	assert.Equal(t, schemas.DeployStatusFailed, stored.Environments[0].Status)
	assert.Equal(t, "helm upgrade failed", stored.Environments[0].Error)
	assert.Equal(t, schemas.DeployStatusSucceeded, stored.Environments[1].Status)
}

// productionRunFixtures seeds the store and the test server with an already
// released v1.2.0 tag on top of a live v1.1.0, the ingredients of a manual
// production promotion requiring an approval.
func productionRunFixtures(t *testing.T, c Controller, mux *http.ServeMux) schemas.DeploymentRecord {
	t.Helper()

	mux.HandleFunc("GET /api/v4/projects/foo/repository/tags",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `[{"name":"v1.1.0"},{"name":"v1.2.0"}]`)
		})
	mux.HandleFunc("GET /api/v4/projects/foo/repository/compare",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"commits":[{"id":"a"},{"id":"b"},{"id":"c"},{"id":"d"},{"id":"e"}]}`)
		})

	require.NoError(t, c.Store.SetRelease(testCtx, schemas.Release{
		ProjectName: "foo",
		Version:     "v1.2.0",
		DeployedAt:  time.Now().UTC().Add(-24 * time.Hour),
	}))
	require.NoError(t, c.Store.SetCurrentRelease(testCtx, schemas.Release{
		ProjectName: "foo",
		Version:     "v1.1.0",
		DeployedAt:  time.Now().UTC().Add(-48 * time.Hour),
	}))

	return schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v1.2.0",
		RefKind:     schemas.RefKindTag,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindAPI,
	})
}

// awaitSuspendedRun polls the store until the record suspends awaiting an
// approval signal.
func awaitSuspendedRun(t *testing.T, c Controller, id uuid.UUID) {
	t.Helper()

	require.Eventually(t, func() bool {
		record := schemas.DeploymentRecord{ID: id}
		if err := c.Store.GetRecord(testCtx, &record); err != nil {
			return false
		}

		return record.State == schemas.RunStateAwaitingApproval
	}, 10*time.Second, 50*time.Millisecond)
}

func TestExecuteRunProductionApproved(t *testing.T) {
	c, mux := newTestController(t)

	prodCalls := deployEndpointStub(mux, schemas.EnvironmentProduction, `{"status":"succeeded","url":"https://prod.example.com"}`)
	record := productionRunFixtures(t, c, mux)

	done := make(chan error, 1)

	go func() {
		done <- c.ExecuteRun(testCtx, record)
	}()

	awaitSuspendedRun(t, c, record.ID)
	require.NoError(t, c.SetApproval(testCtx, record.ID.String(), schemas.ApprovalSignal{
		Approved: true,
		Approver: "bob",
	}))
	require.NoError(t, <-done)

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateSucceeded, stored.State)
	assert.Equal(t, 1, *prodCalls)

	require.NotNil(t, stored.Risk)
	assert.Equal(t, schemas.ReleaseTypeMinor, stored.Risk.ReleaseType)
	assert.Equal(t, schemas.RiskLevelHigh, stored.Risk.RiskLevel)
	assert.True(t, stored.Risk.ApprovalRequired)
	assert.Equal(t, 5, stored.Risk.CommitsSincePrevious)

	require.NotNil(t, stored.Approval)
	assert.Equal(t, "bob", stored.Approval.Approver)

	// The approved deployment becomes the live production release
	release, found, err := c.Store.GetCurrentRelease(testCtx, "foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1.2.0", release.Version)
	assert.Equal(t, record.ID.String(), release.RecordID)
}

func TestExecuteRunProductionDenied(t *testing.T) {
	c, mux := newTestController(t)

	prodCalls := deployEndpointStub(mux, schemas.EnvironmentProduction, `{"status":"succeeded"}`)
	record := productionRunFixtures(t, c, mux)

	done := make(chan error, 1)

	go func() {
		done <- c.ExecuteRun(testCtx, record)
	}()

	awaitSuspendedRun(t, c, record.ID)
	require.NoError(t, c.SetApproval(testCtx, record.ID.String(), schemas.ApprovalSignal{
		Approved: false,
		Approver: "mallory",
	}))
	require.NoError(t, <-done)

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateBlocked, stored.State)
	assert.Equal(t, "ApprovalDenied", stored.ErrorClass)
	assert.Contains(t, stored.ErrorDetail, "mallory")
	assert.Equal(t, 0, *prodCalls)

	// The live release is left untouched
	release, found, err := c.Store.GetCurrentRelease(testCtx, "foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1.1.0", release.Version)
}

func TestExecuteRunProductionCancelled(t *testing.T) {
	c, mux := newTestController(t)

	prodCalls := deployEndpointStub(mux, schemas.EnvironmentProduction, `{"status":"succeeded"}`)
	record := productionRunFixtures(t, c, mux)

	done := make(chan error, 1)

	go func() {
		done <- c.ExecuteRun(testCtx, record)
	}()

	awaitSuspendedRun(t, c, record.ID)
	require.NoError(t, c.SetApproval(testCtx, record.ID.String(), schemas.ApprovalSignal{
		Cancelled: true,
		Approver:  "carol",
	}))
	require.NoError(t, <-done)

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateFailed, stored.State)
	assert.Contains(t, stored.ErrorDetail, "cancelled by carol")
	assert.Equal(t, 0, *prodCalls)
}

func TestExecuteRunEmergencyBypassesApproval(t *testing.T) {
	c, mux := newTestController(t)

	prodCalls := deployEndpointStub(mux, schemas.EnvironmentProduction, `{"status":"succeeded"}`)
	record := productionRunFixtures(t, c, mux)
	record.Request.Emergency = true

	// No approval signal is ever sent, the run must complete on its own
	require.NoError(t, c.ExecuteRun(testCtx, record))

	stored := storedRecord(t, c, record.Key())
	assert.Equal(t, schemas.RunStateSucceeded, stored.State)
	assert.Equal(t, 1, *prodCalls)

	require.NotNil(t, stored.Risk)
	assert.Equal(t, schemas.RiskLevelHigh, stored.Risk.RiskLevel)
	assert.False(t, stored.Risk.ApprovalRequired)
	assert.Nil(t, stored.Approval)
}

func TestExecuteRollbackRun(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /deploy/production/artifact",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	var payloads []deployer.Request

	mux.HandleFunc("POST /deploy/production", func(w http.ResponseWriter, r *http.Request) {
		var req deployer.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		payloads = append(payloads, req)

		fmt.Fprint(w, `{"status":"succeeded"}`)
	})

	original := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v1.2.0",
		RefKind:     schemas.RefKindTag,
		CommitSha:   testSha,
		Actor:       "alice",
		Trigger:     schemas.TriggerKindAPI,
	})
	original.State = schemas.RunStateSucceeded
	original.CommitSha = testSha
	original.Targets = schemas.DeploymentTargetSet{{
		Environment: schemas.EnvironmentProduction,
		Version:     schemas.NewSemanticVersion(schemas.Semantic{Major: 1, Minor: 2}),
	}}
	original.Environments = []schemas.EnvironmentOutcome{{
		Environment: schemas.EnvironmentProduction,
		Version:     schemas.NewSemanticVersion(schemas.Semantic{Major: 1, Minor: 2}),
		Status:      schemas.DeployStatusSucceeded,
	}}
	require.NoError(t, c.Store.SetRecord(testCtx, original))

	rollback, err := c.NewRollbackRun(testCtx, original.ID.String(), "bob", schemas.TriggerKindAPI)
	require.NoError(t, err)
	assert.True(t, rollback.SkipBuild)
	assert.Equal(t, original.Key(), rollback.RollbackOf)

	require.NoError(t, c.ExecuteRun(testCtx, rollback))

	stored := storedRecord(t, c, rollback.Key())
	assert.Equal(t, schemas.RunStateRolledBack, stored.State)

	require.Len(t, payloads, 1)
	assert.True(t, payloads[0].SkipBuild)
	assert.Equal(t, "v1.2.0", payloads[0].Version)
	assert.Equal(t, testSha, payloads[0].CommitSha)

	// The restored version becomes the live production release again
	release, found, err := c.Store.GetCurrentRelease(testCtx, "foo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1.2.0", release.Version)
}

func TestExecuteRollbackRunArtifactGone(t *testing.T) {
	c, mux := newTestController(t)

	mux.HandleFunc("GET /deploy/production/artifact",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

	rollback := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "v1.2.0",
		RefKind:     schemas.RefKindTag,
		CommitSha:   testSha,
		Actor:       "bob",
		Trigger:     schemas.TriggerKindAPI,
	})
	rollback.SkipBuild = true
	rollback.CommitSha = testSha
	rollback.Targets = schemas.DeploymentTargetSet{{
		Environment: schemas.EnvironmentProduction,
		Version:     schemas.NewSemanticVersion(schemas.Semantic{Major: 1, Minor: 2}),
	}}

	require.NoError(t, c.ExecuteRun(testCtx, rollback))

	stored := storedRecord(t, c, rollback.Key())
	assert.Equal(t, schemas.RunStateFailed, stored.State)
	assert.Equal(t, "RollbackTargetInvalid", stored.ErrorClass)
	assert.Contains(t, stored.ErrorDetail, "no longer resolves to a deployable artifact")
}

func TestGateBlockError(t *testing.T) {
	assert.True(t, errors.Is(
		gateBlockError(schemas.GateResult{BlockReason: schemas.GateRuleScanUnavailable}),
		schemas.ErrScanUnavailable,
	))
	assert.True(t, errors.Is(
		gateBlockError(schemas.GateResult{Score: 40}),
		schemas.ErrGateBlocked,
	))
	assert.True(t, errors.Is(
		gateBlockError(schemas.GateResult{BlockReason: schemas.GateRuleCriticalVulnerabilities}),
		schemas.ErrGateBlocked,
	))
}

func TestGetRecordByID(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.getRecordByID(testCtx, "not-a-uuid")
	assert.ErrorContains(t, err, "invalid deployment record id")

	_, err = c.getRecordByID(testCtx, uuid.NewString())
	assert.True(t, errors.Is(err, errRecordNotFound))

	record := schemas.NewDeploymentRecord(schemas.DeploymentRequest{
		ProjectName: "foo",
		Ref:         "main",
		RefKind:     schemas.RefKindBranch,
		Trigger:     schemas.TriggerKindWebhook,
	})
	require.NoError(t, c.Store.SetRecord(testCtx, record))

	found, err := c.getRecordByID(testCtx, record.ID.String())
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
}
