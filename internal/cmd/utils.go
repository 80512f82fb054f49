package cmd

import (
	"fmt"
	stdlibLog "log"
	"net"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/go-logr/stdr"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/taskq/v4"

	"github.com/helvethink/sf-trigger-toggler/internal/logging"
	"github.com/helvethink/sf-trigger-toggler/pkg/config"
)

var start time.Time

// configure loads the configuration file when one is given, applies the CLI
// overrides, validates the result and sets up logging.
func configure(ctx *cli.Context) (cfg config.Config, err error) {
	if t, ok := ctx.App.Metadata["startTime"].(time.Time); ok {
		start = t
	}

	if path := ctx.String("config"); path != "" {
		if cfg, err = config.ParseFile(path); err != nil {
			return
		}
	} else {
		cfg = config.New()
	}

	if err = configCliOverrides(ctx, &cfg); err != nil {
		return
	}

	if err = cfg.Validate(); err != nil {
		return
	}

	if err = logger.Configure(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		return
	}

	// Traces get the warning and error entries attached as span events
	log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
	)))

	taskq.SetLogger(stdr.New(stdlibLog.New(log.StandardLogger().WriterLevel(log.WarnLevel), "taskq", 0)))

	log.WithFields(
		log.Fields{
			"salesforce-login-url":  cfg.Salesforce.LoginURL,
			"salesforce-auth-mode":  cfg.Salesforce.AuthMode,
			"salesforce-api":        cfg.Salesforce.APIVersion,
			"salesforce-rate-limit": fmt.Sprintf("%drps", cfg.Salesforce.MaximumRequestsPerSecond),
			"oauth-client-set":      cfg.Salesforce.ClientID != "",
		},
	).Info("configured")

	log.WithFields(log.Fields{
		"poll-interval-seconds": cfg.Deploy.PollIntervalSeconds,
		"max-poll-attempts":     cfg.Deploy.MaxPollAttempts,
		"poll-deadline-seconds": cfg.Deploy.PollDeadlineSeconds,
		"track-in-background":   cfg.Deploy.TrackInBackground,
	}).Info("deploy polling")

	log.WithFields(config.SchedulerConfig{
		OnInit:          cfg.GarbageCollect.Deployments.OnInit,
		Scheduled:       cfg.GarbageCollect.Deployments.Scheduled,
		IntervalSeconds: cfg.GarbageCollect.Deployments.IntervalSeconds,
	}.Log()).Info("garbage collect deployments")

	return
}

// exit logs the execution time and error (if any), then returns a CLI exit code.
func exit(exitCode int, err error) cli.ExitCoder {
	defer log.WithFields(
		log.Fields{
			"execution-time": time.Since(start),
		},
	).Debug("exited..")

	if err != nil {
		log.WithError(err).Error()
	}

	return cli.Exit("", exitCode)
}

// ExecWrapper gracefully logs and exits our `run` functions.
func ExecWrapper(f func(ctx *cli.Context) (int, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return exit(f(ctx))
	}
}

// configCliOverrides merges the values set through flags or environment
// variables over cfg. Unset flags leave cfg untouched.
func configCliOverrides(ctx *cli.Context, cfg *config.Config) error {
	var overrides config.Config

	overrides.Log.Level = ctx.String("log-level")
	overrides.Log.Format = ctx.String("log-format")
	overrides.Salesforce.ClientID = ctx.String("client-id")
	overrides.Salesforce.ClientSecret = ctx.String("client-secret")
	overrides.Salesforce.LoginURL = ctx.String("login-url")
	overrides.Redis.URL = ctx.String("redis-url")

	if port := ctx.String("port"); port != "" {
		overrides.Server.ListenAddress = net.JoinHostPort("", port)
	}

	if healthURL := ctx.String("salesforce-health-url"); healthURL != "" {
		overrides.Salesforce.HealthURL = healthURL
		overrides.Salesforce.EnableHealthCheck = true
	}

	return mergo.Merge(cfg, overrides, mergo.WithOverride)
}

// assertStringVariableDefined ensures a required string flag is set.
// If not, it prints help and exits the program.
func assertStringVariableDefined(ctx *cli.Context, k string) {
	if len(ctx.String(k)) == 0 {
		_ = cli.ShowCommandHelp(ctx, ctx.Command.Name)

		log.Errorf("'--%s' must be set!", k)
		os.Exit(2)
	}
}
