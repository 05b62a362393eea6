// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

type teardownCommand struct{}

func (*teardownCommand) Info() *Info {
	return &Info{
		Name:        "teardown",
		Purpose:     "delete every firewall rule of the run",
		ExistingRun: true,
	}
}

func (*teardownCommand) SetFlags(*gnuflag.FlagSet) {}

func (*teardownCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (*teardownCommand) Run(ctx context.Context, env *runEnv) error {
	runURI := env.config.RunURI()
	fw, err := env.store.Load(ctx, env.firewall)
	if errors.Is(err, errors.NotFound) {
		logger.Infof("nothing to tear down for run %q", runURI)
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	// State is kept on failure so that teardown can be run again.
	if err := fw.TeardownAll(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(env.store.Remove(ctx, runURI))
}
