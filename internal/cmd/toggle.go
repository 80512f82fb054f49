package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/helvethink/sf-trigger-toggler/pkg/controller"
	"github.com/helvethink/sf-trigger-toggler/pkg/deploy"
	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// Toggle switches a trigger once from the command line and prints the
// outcome as the HTTP endpoint would.
func Toggle(cliCtx *cli.Context) (int, error) {
	assertStringVariableDefined(cliCtx, "trigger")
	assertStringVariableDefined(cliCtx, "status")

	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	// Nothing outlives the command
	cfg.Deploy.TrackInBackground = false
	cfg.GarbageCollect.Deployments.OnInit = false
	cfg.GarbageCollect.Deployments.Scheduled = false

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}

	return toggle(ctx, c.Orchestrator, deploy.Request{
		Credentials: schemas.Credentials{
			Username:      cliCtx.String("username"),
			Password:      cliCtx.String("password"),
			SecurityToken: cliCtx.String("security-token"),
			SessionID:     cliCtx.String("session-id"),
			InstanceURL:   cliCtx.String("org-url"),
		},
		TriggerName: cliCtx.String("trigger"),
		Status:      cliCtx.String("status"),
	}, cliCtx.App.Writer)
}

func toggle(ctx context.Context, o *deploy.Orchestrator, req deploy.Request, w io.Writer) (int, error) {
	j, toggleErr := o.Toggle(ctx, req)

	resp := controller.DeploymentResponse{Success: toggleErr == nil, JobID: j.ID}
	if j.ID != "" {
		resp.Response = &j
	}

	if toggleErr != nil {
		resp.Error = toggleErr.Error()

		var timeout *schemas.PollTimeoutError
		resp.TimedOut = errors.As(toggleErr, &timeout)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(resp); err != nil {
		log.WithError(err).Warn("writing toggle result")
	}

	if toggleErr != nil {
		return 1, toggleErr
	}

	return 0, nil
}
