// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package runstate keeps the firewall state of a run on disk so that a
// later invocation can resume it.
package runstate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mutex/v2"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v2"

	"github.com/juju/perfkit/provider/gce"
)

var logger = loggo.GetLogger("perfkit.runstate")

const (
	stateFileName = "firewall.yaml"
	lockDelay     = 50 * time.Millisecond
)

// Store reads and writes run state under a directory, one
// subdirectory per run. Every operation holds the run lock, which
// another invocation may hold for as long as its provider commands
// take, and waits for it until the operation's context is done.
type Store struct {
	dir          string
	clock        clock.Clock
	acquireMutex func(mutex.Spec) (mutex.Releaser, error)
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.NotValidf("empty state directory")
	}
	return &Store{
		dir:          dir,
		clock:        clock.WallClock,
		acquireMutex: mutex.Acquire,
	}, nil
}

// Path returns the state file of the given run.
func (s *Store) Path(runURI string) string {
	return filepath.Join(s.dir, runURI, stateFileName)
}

// Load resumes the firewall of config's run from disk. It returns a
// NotFound error when the run has no saved state.
func (s *Store) Load(ctx context.Context, config gce.FirewallConfig) (*gce.Firewall, error) {
	releaser, err := s.lock(ctx, config.RunURI, "load")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer releaser.Release()
	return s.load(config)
}

// Save writes the state of fw.
func (s *Store) Save(ctx context.Context, fw *gce.Firewall) error {
	releaser, err := s.lock(ctx, fw.RunURI(), "save")
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()
	return s.save(fw)
}

// Update loads the firewall of config's run, or creates an empty one,
// and calls fn with it while holding the run lock. The firewall is
// saved afterwards even if fn fails, so rules fn managed to create are
// never forgotten. The error from fn is returned.
func (s *Store) Update(ctx context.Context, config gce.FirewallConfig, fn func(*gce.Firewall) error) error {
	releaser, err := s.lock(ctx, config.RunURI, "update")
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	fw, err := s.load(config)
	if errors.Is(err, errors.NotFound) {
		logger.Debugf("no saved state for run %q", config.RunURI)
		fw, err = gce.NewFirewall(config)
	}
	if err != nil {
		return errors.Trace(err)
	}

	fnErr := fn(fw)
	if err := s.save(fw); err != nil {
		if fnErr != nil {
			logger.Errorf("run %q: %v", config.RunURI, fnErr)
		}
		return errors.Annotatef(err, "saving state for run %q", config.RunURI)
	}
	return errors.Trace(fnErr)
}

// Remove deletes all saved state of the run. Removing state that does
// not exist is not an error.
func (s *Store) Remove(ctx context.Context, runURI string) error {
	releaser, err := s.lock(ctx, runURI, "remove")
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	if err := os.RemoveAll(filepath.Dir(s.Path(runURI))); err != nil {
		return errors.Annotatef(err, "removing state for run %q", runURI)
	}
	logger.Debugf("removed state for run %q", runURI)
	return nil
}

// lock acquires the run lock, waiting until ctx is done.
func (s *Store) lock(ctx context.Context, runURI, operation string) (mutex.Releaser, error) {
	if runURI == "" {
		return nil, errors.NotValidf("empty run URI")
	}
	releaser, err := s.acquireMutex(mutex.Spec{
		Name:   "perfkit-" + runURI,
		Clock:  s.clock,
		Delay:  lockDelay,
		Cancel: ctx.Done(),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "cannot lock run %q for %s", runURI, operation)
	}
	return releaser, nil
}

func (s *Store) load(config gce.FirewallConfig) (*gce.Firewall, error) {
	path := s.Path(config.RunURI)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("state for run %q", config.RunURI)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	fw, err := gce.ResumeFirewall(config, data)
	if err != nil {
		return nil, errors.Annotatef(err, "loading %s", path)
	}
	return fw, nil
}

func (s *Store) save(fw *gce.Firewall) error {
	data, err := yaml.Marshal(fw)
	if err != nil {
		return errors.Trace(err)
	}
	path := s.Path(fw.RunURI())
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return errors.Trace(err)
	}
	logger.Tracef("saved %d firewall rules for run %q", len(fw.RuleNames()), fw.RunURI())
	return nil
}
