package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/sf-trigger-toggler/internal/cmd"
)

// Run handles the instantiation of the CLI application.
func Run(version string, args []string) {
	if err := NewApp(version, time.Now()).Run(args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "sf-trigger-toggler"
	app.Version = version
	app.Usage = "Switch Salesforce Apex triggers on and off through the Metadata API"
	app.EnableBashCompletion = true

	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"SFTT_CONFIG"},
			Usage:   "config `file`, defaults are used when omitted",
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"SFTT_LOG_LEVEL"},
			Usage:   "log `level` (trace,debug,info,warning,error,fatal,panic)",
		},
		&cli.StringFlag{
			Name:    "log-format",
			EnvVars: []string{"SFTT_LOG_FORMAT"},
			Usage:   "log `format` (text,json)",
		},
		&cli.StringFlag{
			Name:    "client-id",
			EnvVars: []string{"CLIENT_ID"},
			Usage:   "connected app consumer `key`",
		},
		&cli.StringFlag{
			Name:    "client-secret",
			EnvVars: []string{"CLIENT_SECRET"},
			Usage:   "connected app consumer `secret`",
		},
		&cli.StringFlag{
			Name:    "login-url",
			EnvVars: []string{"LOGIN_URL"},
			Usage:   "salesforce login `url`, https://test.salesforce.com for sandboxes",
		},
		&cli.StringFlag{
			Name:    "salesforce-health-url",
			EnvVars: []string{"SFTT_SALESFORCE_HEALTH_URL"},
			Usage:   "`url` probed by the readiness check, enables it",
		},
		&cli.StringFlag{
			Name:    "port",
			EnvVars: []string{"PORT"},
			Usage:   "http listening `port`",
		},
		&cli.StringFlag{
			Name:    "redis-url",
			EnvVars: []string{"SFTT_REDIS_URL"},
			Usage:   "redis `url` for HA setups (format: redis[s]://[:password@]host[:port][/db-number][?option=value])",
		},
	}

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "start the http service",
			Action: cmd.ExecWrapper(cmd.Run),
		},
		{
			Name:   "validate",
			Usage:  "validate the configuration and exit",
			Action: cmd.ExecWrapper(cmd.Validate),
			Flags: cli.FlagsByName{
				&cli.BoolFlag{
					Name:  "print",
					Usage: "print the resulting configuration, secrets masked",
				},
			},
		},
		{
			Name:   "toggle",
			Usage:  "switch a trigger on or off once and print the outcome",
			Action: cmd.ExecWrapper(cmd.Toggle),
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "trigger",
					Aliases: []string{"t"},
					Usage:   "trigger API `name`",
				},
				&cli.StringFlag{
					Name:    "status",
					Aliases: []string{"s"},
					Usage:   "target `status` (on,off,active,inactive)",
				},
				&cli.StringFlag{
					Name:    "username",
					EnvVars: []string{"SF_USERNAME"},
					Usage:   "salesforce `username`",
				},
				&cli.StringFlag{
					Name:    "password",
					EnvVars: []string{"SF_PASSWORD"},
					Usage:   "salesforce `password`",
				},
				&cli.StringFlag{
					Name:    "security-token",
					EnvVars: []string{"SF_SECURITY_TOKEN"},
					Usage:   "salesforce security `token`",
				},
				&cli.StringFlag{
					Name:    "session-id",
					EnvVars: []string{"SF_SESSION_ID"},
					Usage:   "existing session `id`, used instead of a login",
				},
				&cli.StringFlag{
					Name:    "org-url",
					EnvVars: []string{"SF_INSTANCE_URL"},
					Usage:   "instance `url` the session belongs to",
				},
			},
		},
	}

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}
