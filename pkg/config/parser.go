package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format of a configuration file.
type Format uint8

const (
	// FormatYAML is the only supported format.
	FormatYAML Format = iota
)

// ParseFile reads filename and parses it. ${VAR} references in the file are
// replaced by the matching environment variables, so that secrets such as
// the client secret can stay out of it.
func ParseFile(filename string) (Config, error) {
	f, err := GetTypeFromFileExtension(filename)
	if err != nil {
		return Config{}, err
	}

	raw, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}

	cfg, err := Parse(f, []byte(os.ExpandEnv(string(raw))))
	if err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %s", filename)
	}

	return cfg, nil
}

// Parse decodes b. Keys absent from the input keep their default value.
func Parse(f Format, b []byte) (cfg Config, err error) {
	cfg = New()

	if f != FormatYAML {
		return cfg, fmt.Errorf("unsupported config type '%+v'", f)
	}

	err = yaml.Unmarshal(b, &cfg)

	return
}

// GetTypeFromFileExtension maps .yml and .yaml to FormatYAML.
func GetTypeFromFileExtension(filename string) (Format, error) {
	if ext := filepath.Ext(filename); ext != ".yml" && ext != ".yaml" {
		return 0, fmt.Errorf("unsupported config type '%s', expected .y(a)ml", ext)
	}

	return FormatYAML, nil
}
