// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/perfkit/config"
	"github.com/juju/perfkit/internal/cmdrunner"
	"github.com/juju/perfkit/internal/runstate"
	"github.com/juju/perfkit/provider/gce"
)

// Info holds everything necessary to describe a command's intent and
// usage.
type Info struct {
	// Name is the command's name.
	Name string

	// Args describes the command's expected arguments.
	Args string

	// Purpose is a short explanation of the command's purpose.
	Purpose string

	// ExistingRun is set for commands that only make sense for a run
	// that was started earlier, so its run URI must be given.
	ExistingRun bool
}

// Usage combines Name and Args to describe the command's intended usage.
func (i *Info) Usage() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", i.Name, i.Args))
}

// Command is implemented by the subcommands of pkb-firewall.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds the command's options to f.
	SetFlags(f *gnuflag.FlagSet)

	// Init handles the positional arguments left after parsing the
	// command's options.
	Init(args []string) error

	// Run executes the command.
	Run(ctx context.Context, env *runEnv) error
}

// runEnv is what a command runs against.
type runEnv struct {
	config   *config.Config
	store    *runstate.Store
	firewall gce.FirewallConfig
	metrics  *cmdrunner.Collector
	stdout   io.Writer
}

// checkEmpty returns an error if args is not empty.
func checkEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognised args: %s", args)
	}
	return nil
}
