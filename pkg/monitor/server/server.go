package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/gitlab"
	"github.com/helvethink/deployment-orchestrator/pkg/monitor"
	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
	"github.com/helvethink/deployment-orchestrator/pkg/store"
)

// Server exposes orchestrator telemetry over the internal monitoring listener.
// It speaks plain HTTP/JSON so the monitor CLI can poll it without extra tooling.
type Server struct {
	gitlabClient             *gitlab.Client
	cfg                      config.Config
	store                    store.Store
	taskSchedulingMonitoring map[schemas.TaskType]*monitor.TaskSchedulingStatus
}

// NewServer returns a monitoring server reading from the given collaborators.
func NewServer(
	gitlabClient *gitlab.Client,
	c config.Config,
	st store.Store,
	tsm map[schemas.TaskType]*monitor.TaskSchedulingStatus,
) *Server {
	return &Server{
		gitlabClient:             gitlabClient,
		cfg:                      c,
		store:                    st,
		taskSchedulingMonitoring: tsm,
	}
}

// Serve listens on the internal monitoring address until the process exits.
// A no-op when no listener address was configured.
func (s *Server) Serve() {
	if s.cfg.Global.InternalMonitoringListenerAddress == nil {
		log.Info("internal monitoring listener address not set")

		return
	}

	log.WithFields(log.Fields{
		"scheme": s.cfg.Global.InternalMonitoringListenerAddress.Scheme,
		"host":   s.cfg.Global.InternalMonitoringListenerAddress.Host,
		"path":   s.cfg.Global.InternalMonitoringListenerAddress.Path,
	}).Info("internal monitoring listener set")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /telemetry", s.TelemetryHandler)
	mux.HandleFunc("GET /config", s.ConfigHandler)

	var (
		l   net.Listener
		err error
	)

	switch s.cfg.Global.InternalMonitoringListenerAddress.Scheme {
	case "unix":
		unixAddr, err := net.ResolveUnixAddr("unix", s.cfg.Global.InternalMonitoringListenerAddress.Path)
		if err != nil {
			log.WithError(err).Fatal()
		}

		// A leftover socket file from a previous run prevents binding.
		if _, err := os.Stat(s.cfg.Global.InternalMonitoringListenerAddress.Path); err == nil {
			if err := os.Remove(s.cfg.Global.InternalMonitoringListenerAddress.Path); err != nil {
				log.WithError(err).Fatal()
			}
		}

		defer func(path string) {
			if err := os.Remove(path); err != nil {
				log.WithError(err).Fatal()
			}
		}(s.cfg.Global.InternalMonitoringListenerAddress.Path)

		if l, err = net.ListenUnix("unix", unixAddr); err != nil {
			log.WithError(err).Fatal()
		}

	default:
		if l, err = net.Listen(s.cfg.Global.InternalMonitoringListenerAddress.Scheme, s.cfg.Global.InternalMonitoringListenerAddress.Host); err != nil {
			log.WithError(err).Fatal()
		}
	}

	defer l.Close() // nolint: errcheck

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err = srv.Serve(l); err != nil {
		log.WithError(err).Fatal()
	}
}

// ConfigHandler serves the running configuration as YAML, secrets masked.
func (s *Server) ConfigHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")

	if _, err := w.Write([]byte(s.cfg.ToYAML())); err != nil {
		log.WithError(err).Warn("writing config payload")
	}
}

// TelemetryHandler serves a point in time snapshot of the orchestrator internals.
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	telemetry, err := s.collectTelemetry(r.Context())
	if err != nil {
		log.WithContext(r.Context()).WithError(err).Error("collecting telemetry")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err = json.NewEncoder(w).Encode(telemetry); err != nil {
		log.WithContext(r.Context()).WithError(err).Warn("encoding telemetry payload")
	}
}

func clampRatio(v float64) float64 {
	if v > 1 {
		return 1
	}

	return v
}

// collectTelemetry assembles the telemetry snapshot from the GitLab client,
// the store and the task scheduling statuses.
func (s *Server) collectTelemetry(ctx context.Context) (telemetry monitor.Telemetry, err error) {
	telemetry.GitlabVersion = s.gitlabClient.Version().Version
	telemetry.GitlabAPIUsage = clampRatio(float64(s.gitlabClient.RateCounter.Rate()) / float64(s.cfg.Gitlab.MaximumRequestsPerSecond))
	telemetry.GitlabAPIRequestsCount = s.gitlabClient.RequestsCounter.Load()

	// The rate limit headers are only known once an authenticated call went
	// through, the ratio stays at zero until then.
	if s.gitlabClient.RequestsLimit > 0 {
		telemetry.GitlabAPIRateLimit = clampRatio(float64(s.gitlabClient.RequestsRemaining) / float64(s.gitlabClient.RequestsLimit))
	}

	telemetry.GitlabAPILimitRemaining = s.gitlabClient.RequestsRemaining

	var queuedTasks uint64

	queuedTasks, err = s.store.CurrentlyQueuedTasksCount(ctx)
	if err != nil {
		return
	}

	telemetry.TasksBufferUsage = float64(queuedTasks) / float64(s.cfg.Gitlab.MaximumJobsQueueSize)

	telemetry.TasksExecutedCount, err = s.store.ExecutedTasksCount(ctx)
	if err != nil {
		return
	}

	telemetry.Records.Count, err = s.store.RecordsCount(ctx)
	if err != nil {
		return
	}

	telemetry.Releases.Count, err = s.store.ReleasesCount(ctx)
	if err != nil {
		return
	}

	telemetry.Refs.Count, err = s.store.RefsCount(ctx)
	if err != nil {
		return
	}

	telemetry.Metrics.Count, err = s.store.MetricsCount(ctx)
	if err != nil {
		return
	}

	// Records, refs and metrics are reclaimed by a single garbage collection
	// task, they share its schedule. Releases are kept forever.
	if status, ok := s.taskSchedulingMonitoring[schemas.TaskTypeGarbageCollectRecords]; ok {
		for _, e := range []*monitor.Entity{&telemetry.Records, &telemetry.Refs, &telemetry.Metrics} {
			e.LastGC = status.Last
			e.NextGC = status.Next
		}
	}

	return
}
