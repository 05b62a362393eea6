// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gce

import (
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"
)

const firewallStateVersion = 1

// firewallState is the encoded form of a Firewall. It holds what must
// survive the process: the run identity and the created rule names.
type firewallState struct {
	Version       int      `yaml:"version"`
	Project       string   `yaml:"project"`
	RunURI        string   `yaml:"run-uri"`
	FirewallNames []string `yaml:"firewall-names"`
}

// MarshalYAML implements yaml.Marshaler.
func (fw *Firewall) MarshalYAML() (interface{}, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return firewallState{
		Version:       firewallStateVersion,
		Project:       fw.project,
		RunURI:        fw.runURI,
		FirewallNames: append([]string(nil), fw.names...),
	}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler. The decoded firewall has
// no command runner; use ResumeFirewall to get one ready for use.
func (fw *Firewall) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var source map[interface{}]interface{}
	if err := unmarshal(&source); err != nil {
		return errors.Trace(err)
	}
	state, err := importFirewallState(source)
	if err != nil {
		return errors.Trace(err)
	}
	// A decoded firewall always starts unlocked.
	fw.mu = sync.Mutex{}
	fw.project = state.Project
	fw.runURI = state.RunURI
	fw.names = state.FirewallNames
	fw.known = set.NewStrings(state.FirewallNames...)
	return nil
}

// ResumeFirewall decodes a firewall encoded by a previous process and
// attaches the collaborators from config. The encoded firewall must
// belong to the project and run named by config.
func ResumeFirewall(config FirewallConfig, data []byte) (*Firewall, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	fw := &Firewall{}
	if err := yaml.Unmarshal(data, fw); err != nil {
		return nil, errors.Annotate(err, "decoding firewall state")
	}
	if fw.project != config.Project {
		return nil, errors.NotValidf("firewall state for project %q in project %q", fw.project, config.Project)
	}
	if fw.runURI != config.RunURI {
		return nil, errors.NotValidf("firewall state for run %q in run %q", fw.runURI, config.RunURI)
	}
	fw.attach(config)
	return fw, nil
}

func importFirewallState(source map[interface{}]interface{}) (*firewallState, error) {
	checker := schema.FieldMap(schema.Fields{
		"version": schema.ForceInt(),
	}, nil)
	coerced, err := checker.Coerce(source, nil)
	if err != nil {
		return nil, errors.Annotate(err, "firewall state version schema check failed")
	}
	version := coerced.(map[string]interface{})["version"].(int)
	switch version {
	case 1:
		return importFirewallStateV1(source)
	}
	return nil, errors.NotValidf("firewall state version %d", version)
}

func importFirewallStateV1(source map[interface{}]interface{}) (*firewallState, error) {
	fields := schema.Fields{
		"project":        schema.String(),
		"run-uri":        schema.String(),
		"firewall-names": schema.List(schema.String()),
	}
	defaults := schema.Defaults{
		"firewall-names": schema.Omit,
	}
	checker := schema.FieldMap(fields, defaults)

	coerced, err := checker.Coerce(source, nil)
	if err != nil {
		return nil, errors.Annotate(err, "firewall state v1 schema check failed")
	}
	valid := coerced.(map[string]interface{})
	// From here we know that the map returned from the schema coercion
	// contains fields of the right type.

	state := &firewallState{
		Version: 1,
		Project: valid["project"].(string),
		RunURI:  valid["run-uri"].(string),
	}
	if state.Project == "" {
		return nil, errors.NotValidf("firewall state with empty project")
	}
	if state.RunURI == "" {
		return nil, errors.NotValidf("firewall state with empty run-uri")
	}
	seen := set.NewStrings()
	if names, ok := valid["firewall-names"].([]interface{}); ok {
		for _, name := range names {
			name := name.(string)
			if seen.Contains(name) {
				return nil, errors.NotValidf("firewall state with duplicate rule %q", name)
			}
			seen.Add(name)
			state.FirewallNames = append(state.FirewallNames, name)
		}
	}
	return state, nil
}
