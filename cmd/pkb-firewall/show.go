// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v2"
)

type showCommand struct{}

func (*showCommand) Info() *Info {
	return &Info{
		Name:        "show",
		Purpose:     "print the saved firewall state of the run",
		ExistingRun: true,
	}
}

func (*showCommand) SetFlags(*gnuflag.FlagSet) {}

func (*showCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (*showCommand) Run(ctx context.Context, env *runEnv) error {
	fw, err := env.store.Load(ctx, env.firewall)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(fw)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = env.stdout.Write(data)
	return errors.Trace(err)
}
