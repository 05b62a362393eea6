// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gce

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/perfkit/network"
	"github.com/juju/perfkit/provider/gce/gcloud"
)

var logger = loggo.GetLogger("perfkit.provider.gce")

const firewallNamePrefix = "perfkit-firewall"

// RuleName returns the name of the firewall rule that opens port for
// the given run. External tooling relies on this format.
func RuleName(runURI string, port int) string {
	return fmt.Sprintf("%s%d", RuleNamePrefix(runURI), port)
}

// RuleNamePrefix returns the prefix shared by the names of all rules
// of the given run.
func RuleNamePrefix(runURI string) string {
	return fmt.Sprintf("%s-%s-", firewallNamePrefix, runURI)
}

// CommandRunner runs a command, retrying transient failures. An error
// is only returned once the command has failed for good.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) error
}

// DefaultFlagsFunc returns the flags appended to every command issued
// for a resource.
type DefaultFlagsFunc func(gcloud.Resource) []string

// FirewallConfig holds the parameters of a Firewall.
type FirewallConfig struct {
	// Project is the GCP project the rules are created in.
	Project string

	// RunURI identifies the benchmark run. It namespaces the rule
	// names so that concurrent runs in one project never collide.
	RunURI string

	// GcloudPath is the gcloud executable, gcloud.DefaultPath if empty.
	GcloudPath string

	// Runner issues the gcloud commands.
	Runner CommandRunner

	// DefaultFlags defaults to gcloud.DefaultFlags.
	DefaultFlags DefaultFlagsFunc
}

// Validate returns an error if the config cannot be used.
func (config FirewallConfig) Validate() error {
	if config.Project == "" {
		return errors.NotValidf("empty Project")
	}
	if config.RunURI == "" {
		return errors.NotValidf("empty RunURI")
	}
	if config.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	return nil
}

// Firewall opens ports for the machines of a benchmark run by creating
// one GCE firewall rule per port, and deletes those rules when the run
// is over.
type Firewall struct {
	project string
	runURI  string

	gcloudPath   string
	runner       CommandRunner
	defaultFlags DefaultFlagsFunc

	// mu guards names and known. It belongs to this process only and
	// is never part of the encoded state.
	mu    sync.Mutex
	names []string
	known set.Strings
}

var (
	_ network.Firewall = (*Firewall)(nil)
	_ gcloud.Resource  = (*Firewall)(nil)
)

// NewFirewall returns a Firewall with no rules.
func NewFirewall(config FirewallConfig) (*Firewall, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	fw := &Firewall{
		project: config.Project,
		runURI:  config.RunURI,
		known:   set.NewStrings(),
	}
	fw.attach(config)
	return fw, nil
}

// attach sets the process local collaborators of fw.
func (fw *Firewall) attach(config FirewallConfig) {
	fw.gcloudPath = config.GcloudPath
	if fw.gcloudPath == "" {
		fw.gcloudPath = gcloud.DefaultPath
	}
	fw.runner = config.Runner
	fw.defaultFlags = config.DefaultFlags
	if fw.defaultFlags == nil {
		fw.defaultFlags = gcloud.DefaultFlags
	}
}

// Project implements gcloud.Resource.
func (fw *Firewall) Project() string {
	return fw.project
}

// RunURI returns the run the firewall belongs to.
func (fw *Firewall) RunURI() string {
	return fw.runURI
}

// RuleNames returns the names of the rules created so far, in creation
// order.
func (fw *Firewall) RuleNames() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]string(nil), fw.names...)
}

// EnsurePortOpen is part of the network.Firewall interface. Rules are
// never created for static machines. The rule opens both TCP and UDP.
//
// The create command runs while the firewall is locked, so concurrent
// callers wait for each other even when they open different ports.
func (fw *Firewall) EnsurePortOpen(ctx context.Context, m network.Machine, port int) error {
	if m.IsStatic() {
		logger.Debugf("not opening port %d for static machine %q", port, m.Name())
		return nil
	}
	name := RuleName(fw.runURI, port)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.known.Contains(name) {
		return nil
	}

	args := gcloud.FirewallRuleCreateArgs(fw.gcloudPath, name, port)
	err := fw.run(ctx, args)
	switch {
	case err == nil:
		logger.Infof("opened port %d for machine %q with firewall rule %q", port, m.Name(), name)
	case gcloud.IsAlreadyExists(err):
		// The name is unique to this run, so an earlier attempt
		// created it without recording it.
		logger.Warningf("firewall rule %q already exists, adopting it", name)
	default:
		return errors.Annotatef(err, "opening port %d", port)
	}
	fw.names = append(fw.names, name)
	fw.known.Add(name)
	return nil
}

// TeardownAll is part of the network.Firewall interface. Each rule is
// deleted in creation order. A rule that cannot be deleted does not stop
// the others from being deleted; all failures are returned together.
// Rules that no longer exist count as deleted.
//
// TeardownAll does not lock the firewall and does not forget the rules.
// The firewall should be discarded afterwards.
func (fw *Firewall) TeardownAll(ctx context.Context) error {
	var failed []error
	for _, name := range fw.names {
		err := fw.run(ctx, gcloud.FirewallRuleDeleteArgs(fw.gcloudPath, name))
		switch {
		case err == nil:
			logger.Infof("deleted firewall rule %q", name)
		case gcloud.IsNotFound(err):
			logger.Debugf("firewall rule %q already deleted", name)
		default:
			logger.Errorf("cannot delete firewall rule %q: %v", name, err)
			failed = append(failed, errors.Annotatef(err, "deleting firewall rule %q", name))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.Annotatef(stderrors.Join(failed...),
		"cannot delete %d of %d firewall rules", len(failed), len(fw.names))
}

func (fw *Firewall) run(ctx context.Context, args []string) error {
	if fw.runner == nil {
		return errors.Errorf("firewall for run %q has no command runner", fw.runURI)
	}
	args = append(args, fw.defaultFlags(fw)...)
	return errors.Trace(fw.runner.RunCommand(ctx, args))
}
