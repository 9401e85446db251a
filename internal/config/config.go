// Package config loads the YAML configuration file. Only the keys under
// `registry:` and `sweep:` are consumed by the core; everything else in the
// file belongs to external collaborators and is preserved but never
// interpreted here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
)

// Registry holds the driver connection settings. "s3" is the only supported
// driver; the field exists so a malformed config names the
// driver it tried to use.
type Registry struct {
	Driver    string `yaml:"driver"`
	Bucket    string `yaml:"bucket"`
	Path      string `yaml:"path"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    *bool  `yaml:"secure"`
}

// IsSecure reports whether HTTPS should be used, defaulting to true when
// unset.
func (r Registry) IsSecure() bool {
	if r.Secure == nil {
		return true
	}
	return *r.Secure
}

// Sweep holds the sweep run's tunables: the sweep age, state file path,
// scan concurrency, HTTP timeout, and dead-letter bound. Only the age can be
// overridden on the command line (`sweep --age`).
type Sweep struct {
	Age              string        `yaml:"age"`
	StateFile        string        `yaml:"state_file"`
	DispatchCapacity int           `yaml:"dispatch_capacity"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	DeadLetterLimit  int           `yaml:"dead_letter_limit"`
}

// Config is the full parsed configuration file.
type Config struct {
	Registry Registry               `yaml:"registry"`
	Sweep    Sweep                  `yaml:"sweep"`
	Extra    map[string]interface{} `yaml:",inline"`
}

// defaults returns the built-in configuration applied before the YAML file
// and CLI flags are layered on top.
func defaults() Config {
	return Config{
		Sweep: Sweep{
			Age:              "1d",
			StateFile:        "delete.json",
			DispatchCapacity: 25,
			HTTPTimeout:      30 * time.Second,
			DeadLetterLimit:  5,
		},
	}
}

// Load reads and parses path, filling in defaults for any omitted `sweep:`
// key. A missing or malformed `registry.driver` is a KindConfig error.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gcerrors.New(gcerrors.KindConfig, op, fmt.Sprintf("reading %s", path), err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, gcerrors.New(gcerrors.KindConfig, op, "parsing YAML", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, gcerrors.New(gcerrors.KindConfig, op, "validating", err)
	}

	return &cfg, nil
}

func (c Config) validate() error {
	if c.Registry.Driver != "s3" {
		return fmt.Errorf("registry.driver %q is not supported (only \"s3\")", c.Registry.Driver)
	}
	if c.Registry.Bucket == "" {
		return fmt.Errorf("registry.bucket is required")
	}
	if c.Registry.AccessKey == "" || c.Registry.SecretKey == "" {
		return fmt.Errorf("registry.access_key and registry.secret_key are required")
	}
	return nil
}
