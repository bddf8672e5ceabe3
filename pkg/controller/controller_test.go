package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/taskq/v4"
	goGitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/deployer"
	"github.com/helvethink/deployment-orchestrator/pkg/gitlab"
	"github.com/helvethink/deployment-orchestrator/pkg/notifier"
	"github.com/helvethink/deployment-orchestrator/pkg/ratelimit"
	"github.com/helvethink/deployment-orchestrator/pkg/scanners"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
	"github.com/helvethink/deployment-orchestrator/pkg/store"
)

var testCtx = context.Background()

const testSha = "8c36bd2c8a47e0cf8bdba24bea470fe4e66e5cc1"

// testConfig returns a configuration pointing every outbound endpoint at the
// given test server.
func testConfig(serverURL string) config.Config {
	cfg := config.New()
	cfg.Project = config.NewProject("foo")
	cfg.Gitlab.Token = "token"
	cfg.Gitlab.EnableHealthCheck = false
	cfg.Risk.ApprovalCheckIntervalSeconds = 1
	cfg.Deploy.TimeoutSeconds = 5
	cfg.Deploy.Endpoints.Development.URL = serverURL + "/deploy/development"
	cfg.Deploy.Endpoints.Staging.URL = serverURL + "/deploy/staging"
	cfg.Deploy.Endpoints.PreProduction.URL = serverURL + "/deploy/preproduction"
	cfg.Deploy.Endpoints.Production.URL = serverURL + "/deploy/production"

	return cfg
}

// newTestController returns a controller wired to a local test server, an
// in-memory store and an in-memory task queue. The registered task handlers
// are no-ops: scenarios drive run execution directly, queued tasks must not
// race them in the background.
func newTestController(t *testing.T) (Controller, *http.ServeMux) {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)

	gc, err := goGitlab.NewOAuthClient("token",
		goGitlab.WithBaseURL(server.URL),
		goGitlab.WithoutRetries(),
	)
	require.NoError(t, err)

	c := Controller{
		Config: cfg,
		Gitlab: &gitlab.Client{
			Client:      gc,
			RateLimiter: ratelimit.NewLocalLimiter(100, 10),
			RateCounter: ratecounter.NewRateCounter(time.Second),
		},
		Scanners: passingScanners(),
		Deployer: deployer.New(cfg.Deploy),
		Notifier: notifier.New(cfg.Notifications),
		Store:    store.NewLocalStore(),
		UUID:     uuid.New(),
	}

	c.TaskController = NewTaskController(testCtx, nil, cfg.Gitlab.MaximumJobsQueueSize)

	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypeDeploymentRun:         func(string) error { return nil },
		schemas.TaskTypeGarbageCollectRecords: func() error { return nil },
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}

	return c, mux
}

// fakeScanner feeds canned findings into the scan collection.
type fakeScanner struct {
	tool     schemas.ScanTool
	findings []schemas.ScanFinding
	err      error
}

func (s fakeScanner) Tool() schemas.ScanTool {
	return s.tool
}

func (s fakeScanner) Fetch(_ context.Context, _ scanners.Target) ([]schemas.ScanFinding, error) {
	return s.findings, s.err
}

func scanFinding(tool schemas.ScanTool, metric schemas.ScanMetric, value float64) schemas.ScanFinding {
	return schemas.ScanFinding{
		Tool:        tool,
		Metric:      metric,
		Value:       value,
		CollectedAt: time.Now().UTC(),
	}
}

// passingScanners covers the four scan tools with findings clearing every
// gate rule.
func passingScanners() []scanners.Scanner {
	return []scanners.Scanner{
		fakeScanner{tool: schemas.ScanToolCodeQuality, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricCoverage, 92),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricTestsPassed, 1),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricLintPassed, 1),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricQualityGateStatus, 1),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricBlockerCount, 0),
			scanFinding(schemas.ScanToolCodeQuality, schemas.ScanMetricCriticalCount, 0),
		}},
		fakeScanner{tool: schemas.ScanToolSAST, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolSAST, schemas.ScanMetricCriticalCount, 0),
			scanFinding(schemas.ScanToolSAST, schemas.ScanMetricHighCount, 1),
			scanFinding(schemas.ScanToolSAST, schemas.ScanMetricMediumCount, 2),
		}},
		fakeScanner{tool: schemas.ScanToolSCA, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolSCA, schemas.ScanMetricCriticalCount, 0),
			scanFinding(schemas.ScanToolSCA, schemas.ScanMetricHighCount, 0),
			scanFinding(schemas.ScanToolSCA, schemas.ScanMetricMediumCount, 1),
		}},
		fakeScanner{tool: schemas.ScanToolIaC, findings: []schemas.ScanFinding{
			scanFinding(schemas.ScanToolIaC, schemas.ScanMetricCriticalCount, 0),
			scanFinding(schemas.ScanToolIaC, schemas.ScanMetricHighCount, 0),
		}},
	}
}

// deployEndpointStub wires a deployment endpoint returning the given response
// body and counts the requests it receives.
func deployEndpointStub(mux *http.ServeMux, env schemas.Environment, response string) *int {
	calls := new(int)

	mux.HandleFunc("POST /deploy/"+string(env), func(w http.ResponseWriter, _ *http.Request) {
		*calls++

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})

	return calls
}

func storedRecord(t *testing.T, c Controller, rk schemas.RecordKey) schemas.DeploymentRecord {
	t.Helper()

	record := schemas.DeploymentRecord{ID: uuid.MustParse(string(rk))}
	require.NoError(t, c.Store.GetRecord(testCtx, &record))

	return record
}
