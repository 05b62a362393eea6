// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"golang.org/x/sync/errgroup"

	"github.com/juju/perfkit/network"
	"github.com/juju/perfkit/provider/gce"
)

type allowCommand struct {
	machine string
	static  bool
	ports   []int
}

func (*allowCommand) Info() *Info {
	return &Info{
		Name:    "allow",
		Args:    "<port> ...",
		Purpose: "open ports for a machine of the run",
	}
}

func (c *allowCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.machine, "machine", "default", "name of the machine the ports are opened for")
	f.BoolVar(&c.static, "static", false, "the machine is static and needs no firewall rules")
}

func (c *allowCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no ports specified")
	}
	for _, arg := range args {
		port, err := strconv.Atoi(arg)
		if err != nil || port < 1 || port > 65535 {
			return errors.Errorf("invalid port %q", arg)
		}
		c.ports = append(c.ports, port)
	}
	return nil
}

func (c *allowCommand) Run(ctx context.Context, env *runEnv) error {
	machine := network.MachineRef{MachineName: c.machine, Static: c.static}
	var names []string
	err := env.store.Update(ctx, env.firewall, func(fw *gce.Firewall) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, port := range c.ports {
			port := port // per-iteration copy; go directive is 1.21
			g.Go(func() error {
				return fw.EnsurePortOpen(ctx, machine, port)
			})
		}
		err := g.Wait()
		names = fw.RuleNames()
		return err
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, name := range names {
		fmt.Fprintln(env.stdout, name)
	}
	return nil
}
