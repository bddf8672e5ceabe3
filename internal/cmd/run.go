package cmd

import (
	"context"
	"html/template"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/helvethink/deployment-orchestrator/pkg/config"
	"github.com/helvethink/deployment-orchestrator/pkg/controller"
	monitoringServer "github.com/helvethink/deployment-orchestrator/pkg/monitor/server"
)

// rootTemplate is served on the root page to point at the exposed endpoints.
const rootTemplate string = `
<!DOCTYPE html>
<head><title>Deployment Orchestrator</title></head>
<body>
	<h1>Deployment Orchestrator</h1>
	<p>Metrics at: <a href='/metrics'>/metrics</a></p>
	<p>Deployments at: <a href='/api/deployments'>/api/deployments</a></p>
	<p>Source: <a href='https://github.com/helvethink/deployment-orchestrator'>github.com/helvethink/deployment-orchestrator</a></p>
</body>
</html>`

// Run launches the orchestrator daemon and blocks until it receives a
// termination signal.
func Run(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}

	// The monitoring server listens on its own internal socket so operators
	// can inspect telemetry without exposing it on the public listener.
	go func(c *controller.Controller) {
		s := monitoringServer.NewServer(
			c.Gitlab,
			c.Config,
			c.Store,
			c.TaskController.TaskSchedulingMonitoring,
		)
		s.Serve()
	}(&c)

	onShutdown := make(chan os.Signal, 1)
	signal.Notify(onShutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	mux := http.NewServeMux()
	registerRoutes(ctx, mux, &c, cfg)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithContext(ctx).
				WithError(err).
				Fatal()
		}
	}()

	log.WithFields(
		log.Fields{
			"listen-address":               cfg.Server.ListenAddress,
			"pprof-endpoint-enabled":       cfg.Server.EnablePprof,
			"metrics-endpoint-enabled":     cfg.Server.Metrics.Enabled,
			"webhook-endpoint-enabled":     cfg.Server.Webhook.Enabled,
			"api-endpoints-enabled":        cfg.Server.API.Enabled,
			"openmetrics-encoding-enabled": cfg.Server.Metrics.EnableOpenmetricsEncoding,
			"controller-uuid":              c.UUID,
		},
	).Info("http server started")

	<-onShutdown
	log.Info("received signal, attempting to gracefully exit..")
	ctxCancel()

	httpServerContext, forceHTTPServerShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer forceHTTPServerShutdown()

	if err := srv.Shutdown(httpServerContext); err != nil {
		return 1, err
	}

	log.Info("stopped!")

	return 0, nil
}

// registerRoutes wires the public HTTP surface onto the mux, honouring the
// per-endpoint enablement flags from the configuration.
func registerRoutes(ctx context.Context, mux *http.ServeMux, c *controller.Controller, cfg config.Config) {
	rootPage := template.Must(template.New("root").Parse(rootTemplate))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if err := rootPage.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	health := c.HealthCheckHandler(ctx)
	mux.HandleFunc("/health/live", health.LiveEndpoint)
	mux.HandleFunc("/health/ready", health.ReadyEndpoint)

	if cfg.Server.Metrics.Enabled {
		mux.HandleFunc("/metrics", c.MetricsHandler)
	}

	if cfg.Server.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.Server.Webhook.Enabled {
		mux.HandleFunc("/webhook", c.WebhookHandler)
	}

	if cfg.Server.API.Enabled {
		mux.HandleFunc("POST /api/deployments", c.DeploymentsPostHandler)
		mux.HandleFunc("GET /api/deployments", c.DeploymentsListHandler)
		mux.HandleFunc("GET /api/deployments/{id}", c.DeploymentGetHandler)
		mux.HandleFunc("POST /api/deployments/{id}/approval", c.ApprovalPostHandler)
		mux.HandleFunc("POST /api/deployments/{id}/rollback", c.RollbackPostHandler)
	}
}
