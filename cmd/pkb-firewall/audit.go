// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/perfkit/config"
	"github.com/juju/perfkit/provider/gce"
	"github.com/juju/perfkit/provider/gce/google"
)

// liveRules is the part of the GCE API used by audit.
type liveRules interface {
	Rules(ctx context.Context, prefix string) ([]google.Rule, error)
	DeleteRule(ctx context.Context, name string) error
}

var newLiveRules = func(ctx context.Context, cfg *config.Config) (liveRules, error) {
	conn, err := google.Connect(ctx, google.ConnectionConfig{
		Project:         cfg.Project(),
		CredentialsFile: cfg.CredentialsFile(),
		Endpoint:        cfg.ComputeEndpoint(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return conn, nil
}

type auditCommand struct {
	deleteLeaked bool
}

func (*auditCommand) Info() *Info {
	return &Info{
		Name:        "audit",
		Purpose:     "compare the saved firewall rules of the run with those in GCE",
		ExistingRun: true,
	}
}

func (c *auditCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.deleteLeaked, "delete-leaked", false, "delete rules that exist in GCE but were never saved")
}

func (*auditCommand) Init(args []string) error {
	return checkEmpty(args)
}

// Run prints one line per rule of the run: "ok" for rules that are both
// saved and in GCE, "leaked" for rules only in GCE and "missing" for
// rules only saved.
func (c *auditCommand) Run(ctx context.Context, env *runEnv) error {
	runURI := env.config.RunURI()
	saved := set.NewStrings()
	fw, err := env.store.Load(ctx, env.firewall)
	switch {
	case errors.Is(err, errors.NotFound):
		logger.Debugf("no saved state for run %q", runURI)
	case err != nil:
		return errors.Trace(err)
	default:
		saved = set.NewStrings(fw.RuleNames()...)
	}

	api, err := newLiveRules(ctx, env.config)
	if err != nil {
		return errors.Trace(err)
	}
	rules, err := api.Rules(ctx, gce.RuleNamePrefix(runURI))
	if google.IsAuthorisationFailure(err) {
		return errors.Annotatef(err, "credentials not authorised for project %q", env.config.Project())
	}
	if err != nil {
		return errors.Trace(err)
	}
	live := set.NewStrings()
	for _, rule := range rules {
		live.Add(rule.Name)
	}

	for _, name := range live.Union(saved).SortedValues() {
		status := "ok"
		switch {
		case !saved.Contains(name):
			status = "leaked"
		case !live.Contains(name):
			status = "missing"
		}
		fmt.Fprintf(env.stdout, "%-7s %s\n", status, name)
	}
	if !c.deleteLeaked {
		return nil
	}

	var failed []error
	for _, name := range live.Difference(saved).SortedValues() {
		if err := api.DeleteRule(ctx, name); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Trace(stderrors.Join(failed...))
}
