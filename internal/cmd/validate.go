package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Validate loads and validates the configuration without starting anything.
// With --print, the resulting configuration is written out, secrets masked.
func Validate(cliCtx *cli.Context) (int, error) {
	log.Debug("validating configuration..")

	cfg, err := configure(cliCtx)
	if err != nil {
		log.WithError(err).Error("failed to configure")
		return 1, err
	}

	if cliCtx.Bool("print") {
		fmt.Fprint(cliCtx.App.Writer, cfg.ToYAML())
	}

	log.Debug("configuration is valid")

	return 0, nil
}
