// Package config loads the broker's optional on-disk defaults. Flags
// always take precedence; the file only supplies values the operator
// didn't pass on the command line.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of an optional --config YAML file.
type File struct {
	Hostname    string `yaml:"hostname,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	LogPath     string `yaml:"log,omitempty"`
	MaxSessions int    `yaml:"max_sessions,omitempty"`
	AdminAddr   string `yaml:"admin_addr,omitempty"`
}

// Load reads and parses a YAML config file. A missing path is not an
// error; it returns a zero-value File so callers fall back to flag
// defaults untouched.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, errors.Wrapf(err, "config: parse %s", path)
	}
	return f, nil
}
