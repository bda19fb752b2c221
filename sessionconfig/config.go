// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sessionconfig loads driver session settings from YAML files
// and the environment. Settings resolve in order: defaults, then the
// config file, then MOBIUS_* environment variables.
package sessionconfig

import (
	"os"
	"runtime"
	"strconv"

	"github.com/grailbio/base/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a driver session.
type Config struct {
	// Engine selects the cluster engine: "local" or "bigmachine".
	Engine string `yaml:"engine"`
	// Parallelism is the default partition count for parallelized
	// collections. Zero means the number of available CPUs.
	Parallelism int `yaml:"parallelism"`
	// LogLevel sets the driver's log verbosity: "off", "error",
	// "info", or "debug".
	LogLevel string `yaml:"loglevel"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Engine:      "local",
		Parallelism: runtime.GOMAXPROCS(0),
		LogLevel:    "info",
	}
}

// Load reads a YAML config file, layers the environment on top, and
// validates the result. A missing file is not an error: defaults and
// environment apply.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, errors.E(err, "sessionconfig: reading", path)
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, errors.E(errors.Invalid, err, "sessionconfig: parsing", path)
		}
	}
	c.fromEnv()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FromEnv returns the default configuration with MOBIUS_* environment
// overrides applied.
func FromEnv() (Config, error) {
	c := Default()
	c.fromEnv()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) fromEnv() {
	if v := os.Getenv("MOBIUS_ENGINE"); v != "" {
		c.Engine = v
	}
	if v := os.Getenv("MOBIUS_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Parallelism = n
		}
	}
	if v := os.Getenv("MOBIUS_LOGLEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c Config) validate() error {
	switch c.Engine {
	case "local", "bigmachine":
	default:
		return errors.E(errors.Invalid, "sessionconfig: unknown engine", c.Engine)
	}
	if c.Parallelism < 1 {
		return errors.E(errors.Invalid, "sessionconfig: parallelism must be positive")
	}
	switch c.LogLevel {
	case "off", "error", "info", "debug":
	default:
		return errors.E(errors.Invalid, "sessionconfig: unknown log level", c.LogLevel)
	}
	return nil
}
