// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the configuration of a benchmark run.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"
)

var logger = loggo.GetLogger("perfkit.config")

const (
	// RunURIKey identifies the run. Resources created by the run are
	// named after it.
	RunURIKey = "run-uri"

	// ProjectKey is the GCP project the run provisions in.
	ProjectKey = "project"

	// GcloudPathKey is the gcloud executable.
	GcloudPathKey = "gcloud-path"

	// RetryAttemptsKey, RetryDelayKey and RetryMaxDelayKey set how
	// failing provider commands are retried.
	RetryAttemptsKey = "retry-attempts"
	RetryDelayKey    = "retry-delay"
	RetryMaxDelayKey = "retry-max-delay"

	// CommandTimeoutKey bounds a single provider command. Zero disables
	// the timeout.
	CommandTimeoutKey = "command-timeout"

	// StateDirKey is where run state is kept between invocations.
	StateDirKey = "state-dir"

	// CredentialsFileKey is a service account key file used for direct
	// GCE API calls. Application default credentials are used when it
	// is empty.
	CredentialsFileKey = "credentials-file"

	// ComputeEndpointKey overrides the GCE API endpoint.
	ComputeEndpointKey = "compute-endpoint"
)

var configFields = schema.Fields{
	RunURIKey:         schema.String(),
	ProjectKey:        schema.String(),
	GcloudPathKey:     schema.String(),
	RetryAttemptsKey:  schema.ForceInt(),
	RetryDelayKey:     schema.String(),
	RetryMaxDelayKey:  schema.String(),
	CommandTimeoutKey: schema.String(),
	StateDirKey:       schema.String(),

	CredentialsFileKey: schema.String(),
	ComputeEndpointKey: schema.String(),
}

var configDefaults = schema.Defaults{
	RunURIKey:         schema.Omit,
	GcloudPathKey:     "gcloud",
	RetryAttemptsKey:  5,
	RetryDelayKey:     "1s",
	RetryMaxDelayKey:  "30s",
	CommandTimeoutKey: "10m",
	StateDirKey:       "",

	CredentialsFileKey: "",
	ComputeEndpointKey: "",
}

var runURIPattern = regexp.MustCompile(`^[a-z0-9]{1,12}$`)

// NewRunURI returns a new random run identifier. It always holds a
// letter that cannot be part of a YAML number, so it stays a string
// when written unquoted.
func NewRunURI() string {
	for {
		id := uuid.NewString()
		id = id[len(id)-8:]
		if strings.ContainsAny(id, "acdf") {
			return id
		}
	}
}

// Config is a validated run configuration.
type Config struct {
	attrs        map[string]interface{}
	generatedURI bool
}

// New validates attrs and returns the resulting Config. A run URI is
// generated when attrs has none.
func New(attrs map[string]interface{}) (*Config, error) {
	// YAML reads an unquoted all-digit run URI as a number, dropping
	// leading zeros or reading it as octal, so it cannot be recovered.
	switch value := attrs[RunURIKey].(type) {
	case int, int64, uint64, float64:
		return nil, errors.NotValidf("unquoted numeric %s %v", RunURIKey, value)
	}
	checker := schema.FieldMap(configFields, configDefaults)
	coerced, err := checker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "run config")
	}
	valid := coerced.(map[string]interface{})
	for name := range attrs {
		if _, ok := configFields[name]; !ok {
			logger.Warningf("unknown config field %q", name)
		}
	}
	cfg := &Config{attrs: valid}
	if _, ok := valid[RunURIKey]; !ok {
		valid[RunURIKey] = NewRunURI()
		cfg.generatedURI = true
		logger.Infof("generated run URI %q", valid[RunURIKey])
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// ReadFile reads the YAML config at path and applies overrides on top
// of it. An empty path reads nothing.
func ReadFile(path string, overrides map[string]interface{}) (*Config, error) {
	attrs := make(map[string]interface{})
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reading config")
		}
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Annotatef(err, "parsing config %q", path)
		}
	}
	for name, value := range overrides {
		attrs[name] = value
	}
	cfg, err := New(attrs)
	return cfg, errors.Trace(err)
}

func (c *Config) validate() error {
	if c.Project() == "" {
		return errors.NotValidf("empty %s", ProjectKey)
	}
	if !runURIPattern.MatchString(c.RunURI()) {
		return errors.NotValidf("%s %q (want 1 to 12 lower case letters or digits)", RunURIKey, c.RunURI())
	}
	if c.GcloudPath() == "" {
		return errors.NotValidf("empty %s", GcloudPathKey)
	}
	if c.RetryAttempts() < 1 {
		return errors.NotValidf("%s %d", RetryAttemptsKey, c.RetryAttempts())
	}
	for _, key := range []string{RetryDelayKey, RetryMaxDelayKey, CommandTimeoutKey} {
		d, err := time.ParseDuration(c.attrs[key].(string))
		if err != nil {
			return errors.NewNotValid(err, key)
		}
		if d < 0 {
			return errors.NotValidf("negative %s %v", key, d)
		}
	}
	if c.RetryDelay() == 0 {
		return errors.NotValidf("zero %s", RetryDelayKey)
	}
	return nil
}

// Attrs returns a copy of the validated attributes.
func (c *Config) Attrs() map[string]interface{} {
	attrs := make(map[string]interface{}, len(c.attrs))
	for name, value := range c.attrs {
		attrs[name] = value
	}
	return attrs
}

// RunURI returns the run identifier.
func (c *Config) RunURI() string {
	return c.attrs[RunURIKey].(string)
}

// RunURIGenerated reports whether the run URI was generated by New
// rather than configured.
func (c *Config) RunURIGenerated() bool {
	return c.generatedURI
}

// Project returns the GCP project.
func (c *Config) Project() string {
	return c.attrs[ProjectKey].(string)
}

// GcloudPath returns the gcloud executable.
func (c *Config) GcloudPath() string {
	return c.attrs[GcloudPathKey].(string)
}

// RetryAttempts returns how many times a provider command is tried.
func (c *Config) RetryAttempts() int {
	return c.attrs[RetryAttemptsKey].(int)
}

// RetryDelay returns the wait before the first retry.
func (c *Config) RetryDelay() time.Duration {
	return c.duration(RetryDelayKey)
}

// RetryMaxDelay returns the longest wait between retries.
func (c *Config) RetryMaxDelay() time.Duration {
	return c.duration(RetryMaxDelayKey)
}

// CommandTimeout returns the limit on a single provider command.
func (c *Config) CommandTimeout() time.Duration {
	return c.duration(CommandTimeoutKey)
}

// StateDir returns the state directory, which may be empty.
func (c *Config) StateDir() string {
	return c.attrs[StateDirKey].(string)
}

// CredentialsFile returns the service account key file, which may be
// empty.
func (c *Config) CredentialsFile() string {
	return c.attrs[CredentialsFileKey].(string)
}

// ComputeEndpoint returns the GCE API endpoint override, which may be
// empty.
func (c *Config) ComputeEndpoint() string {
	return c.attrs[ComputeEndpointKey].(string)
}

func (c *Config) duration(key string) time.Duration {
	// Validated in New.
	d, _ := time.ParseDuration(c.attrs[key].(string))
	return d
}
