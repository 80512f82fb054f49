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

	"github.com/helvethink/sf-trigger-toggler/pkg/config"
	"github.com/helvethink/sf-trigger-toggler/pkg/controller"
)

const rootTemplate = `<!DOCTYPE html>
<html>
<head><title>Salesforce Trigger Toggler</title></head>
<body>
	<h1>Salesforce Trigger Toggler</h1>
	<p>Version: {{ .Version }}</p>
	<p>Toggle a trigger: <code>POST /api/toggle-trigger</code></p>
	{{- if .MetricsEnabled }}
	<p>Metrics at: <a href='/metrics'>/metrics</a></p>
	{{- end }}
	<p>Health: <a href='/health/live'>/health/live</a>, <a href='/health/ready'>/health/ready</a></p>
</body>
</html>`

var rootPage = template.Must(template.New("root").Parse(rootTemplate))

// Run starts the HTTP service and blocks until a termination signal.
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

	onShutdown := make(chan os.Signal, 1)
	signal.Notify(onShutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	srv := NewHTTPServer(ctx, cfg, c, cliCtx.App.Version)

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
			"openmetrics-encoding-enabled": cfg.Server.Metrics.EnableOpenmetricsEncoding,
			"controller-uuid":              c.UUID,
		},
	).Info("http server started")

	<-onShutdown

	log.Info("received signal, attempting to gracefully exit..")
	ctxCancel()

	// In-flight toggles may be waiting on a deploy, they get the configured grace period
	httpServerContext, forceHTTPServerShutdown := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second,
	)
	defer forceHTTPServerShutdown()

	if err := srv.Shutdown(httpServerContext); err != nil {
		return 1, err
	}

	log.Info("stopped!")

	return 0, nil
}

// NewHTTPServer wires the health, metrics, debug and API endpoints of c.
func NewHTTPServer(ctx context.Context, cfg config.Config, c *controller.Controller, version string) *http.Server {
	mux := http.NewServeMux()

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

	c.RegisterAPIHandlers(mux)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err := rootPage.Execute(w, struct {
			Version        string
			MetricsEnabled bool
		}{version, cfg.Server.Metrics.Enabled}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
