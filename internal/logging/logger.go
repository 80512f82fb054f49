package logger

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Config holds the logging options.
type Config struct {
	Level        string    // trace, debug, info, warning, error, fatal or panic
	Format       string    // text or json
	ReportCaller bool      // include the calling file and line
	Output       io.Writer // defaults to os.Stdout
}

// Configure sets up the standard logrus logger. It fails on an unknown level
// or format, leaving the logger untouched.
func Configure(c Config) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}

	var formatter log.Formatter

	switch c.Format {
	case "text", "":
		formatter = &log.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}

	out := c.Output
	if out == nil {
		out = os.Stdout
	}

	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetReportCaller(c.ReportCaller)
	log.SetOutput(out)

	return nil
}
