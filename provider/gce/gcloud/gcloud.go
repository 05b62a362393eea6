// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gcloud builds the gcloud command lines used to manage GCE
// resources and interprets their failures.
package gcloud

import "fmt"

// DefaultPath is the gcloud executable used when none is configured.
const DefaultPath = "gcloud"

// Resource is a GCE resource that gcloud commands act upon.
type Resource interface {
	// Project is the GCP project the resource lives in.
	Project() string
}

// ZonedResource is a Resource that lives in a single zone.
type ZonedResource interface {
	Resource

	// Zone is the zone of the resource. It may be empty.
	Zone() string
}

// DefaultFlags returns the flags every gcloud command acting on r
// needs: the project, machine readable output and no prompting. The
// zone is added for zoned resources.
func DefaultFlags(r Resource) []string {
	flags := []string{
		"--project", r.Project(),
		"--format", "json",
		"--quiet",
	}
	if zoned, ok := r.(ZonedResource); ok && zoned.Zone() != "" {
		flags = append(flags, "--zone", zoned.Zone())
	}
	return flags
}

// FirewallRuleCreateArgs returns the command creating the named rule,
// allowing both TCP and UDP traffic on port.
func FirewallRuleCreateArgs(path, name string, port int) []string {
	return []string{
		path, "compute", "firewall-rules", "create", name,
		"--allow", fmt.Sprintf("tcp:%d", port), fmt.Sprintf("udp:%d", port),
	}
}

// FirewallRuleDeleteArgs returns the command deleting the named rule.
func FirewallRuleDeleteArgs(path, name string) []string {
	return []string{path, "compute", "firewall-rules", "delete", name}
}
