// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runstate_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/perfkit/internal/runstate"
	"github.com/juju/perfkit/network"
	"github.com/juju/perfkit/provider/gce"
)

type runner struct {
	testing.Stub

	delay time.Duration
}

func (r *runner) RunCommand(ctx context.Context, args []string) error {
	r.MethodCall(r, "RunCommand", args)
	time.Sleep(r.delay)
	return r.NextErr()
}

type releaser struct {
	released *int
}

func (r releaser) Release() {
	*r.released++
}

type storeSuite struct {
	testing.IsolationSuite

	dir    string
	store  *runstate.Store
	runner *runner
	config gce.FirewallConfig
}

var _ = gc.Suite(&storeSuite{})

var (
	ctx = context.Background()
	vm  = network.MachineRef{MachineName: "vm-0"}
)

func (s *storeSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.dir = c.MkDir()
	store, err := runstate.NewStore(s.dir)
	c.Assert(err, jc.ErrorIsNil)
	s.store = store
	s.runner = &runner{}
	s.config = gce.FirewallConfig{
		Project: "bench",
		RunURI:  "abc123",
		Runner:  s.runner,
	}
}

func (s *storeSuite) TestNewStoreEmptyDir(c *gc.C) {
	_, err := runstate.NewStore("")
	c.Assert(err, gc.ErrorMatches, "empty state directory not valid")
}

func (s *storeSuite) TestPath(c *gc.C) {
	c.Assert(s.store.Path("abc123"), gc.Equals, filepath.Join(s.dir, "abc123", "firewall.yaml"))
}

func (s *storeSuite) TestLoadNotFound(c *gc.C) {
	_, err := s.store.Load(ctx, s.config)
	c.Assert(err, gc.ErrorMatches, `state for run "abc123" not found`)
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *storeSuite) TestSaveLoad(c *gc.C) {
	fw, err := gce.NewFirewall(s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(fw.EnsurePortOpen(ctx, vm, 22), jc.ErrorIsNil)
	c.Assert(s.store.Save(ctx, fw), jc.ErrorIsNil)

	info, err := os.Stat(s.store.Path("abc123"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(info.Mode().Perm(), gc.Equals, os.FileMode(0600))

	loaded, err := s.store.Load(ctx, s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(loaded.RuleNames(), jc.DeepEquals, []string{"perfkit-firewall-abc123-22"})
}

func (s *storeSuite) TestLoadCorrupt(c *gc.C) {
	path := s.store.Path("abc123")
	c.Assert(os.MkdirAll(filepath.Dir(path), 0700), jc.ErrorIsNil)
	c.Assert(os.WriteFile(path, []byte("version: 7\n"), 0600), jc.ErrorIsNil)

	_, err := s.store.Load(ctx, s.config)
	c.Assert(err, gc.ErrorMatches, `loading .*firewall.yaml: decoding firewall state: firewall state version 7 not valid`)
}

func (s *storeSuite) TestUpdateCreates(c *gc.C) {
	err := s.store.Update(ctx, s.config, func(fw *gce.Firewall) error {
		c.Check(fw.RuleNames(), gc.HasLen, 0)
		return fw.EnsurePortOpen(ctx, vm, 80)
	})
	c.Assert(err, jc.ErrorIsNil)

	err = s.store.Update(ctx, s.config, func(fw *gce.Firewall) error {
		return fw.EnsurePortOpen(ctx, vm, 443)
	})
	c.Assert(err, jc.ErrorIsNil)

	loaded, err := s.store.Load(ctx, s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(loaded.RuleNames(), jc.DeepEquals, []string{
		"perfkit-firewall-abc123-80",
		"perfkit-firewall-abc123-443",
	})
	s.runner.CheckCallNames(c, "RunCommand", "RunCommand")
}

func (s *storeSuite) TestUpdateSavesOnError(c *gc.C) {
	s.runner.SetErrors(nil, errors.New("quota exceeded"))
	err := s.store.Update(ctx, s.config, func(fw *gce.Firewall) error {
		if err := fw.EnsurePortOpen(ctx, vm, 80); err != nil {
			return err
		}
		return fw.EnsurePortOpen(ctx, vm, 443)
	})
	c.Assert(err, gc.ErrorMatches, "opening port 443: quota exceeded")

	loaded, err := s.store.Load(ctx, s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(loaded.RuleNames(), jc.DeepEquals, []string{"perfkit-firewall-abc123-80"})
}

func (s *storeSuite) TestRemove(c *gc.C) {
	fw, err := gce.NewFirewall(s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.store.Save(ctx, fw), jc.ErrorIsNil)

	c.Assert(s.store.Remove(ctx, "abc123"), jc.ErrorIsNil)
	_, err = os.Stat(filepath.Join(s.dir, "abc123"))
	c.Assert(os.IsNotExist(err), jc.IsTrue)

	// Removing again is fine.
	c.Assert(s.store.Remove(ctx, "abc123"), jc.ErrorIsNil)
}

func (s *storeSuite) TestLockSpec(c *gc.C) {
	var specs []mutex.Spec
	released := 0
	runstate.SetAcquireMutex(s.store, func(spec mutex.Spec) (mutex.Releaser, error) {
		specs = append(specs, spec)
		return releaser{&released}, nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := s.store.Update(ctx, s.config, func(*gce.Firewall) error { return nil })
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(specs, gc.HasLen, 1)
	c.Assert(specs[0].Name, gc.Equals, "perfkit-abc123")
	c.Assert(specs[0].Timeout, gc.Equals, time.Duration(0))
	c.Assert(specs[0].Cancel, gc.Equals, ctx.Done())
	c.Assert(released, gc.Equals, 1)
}

func (s *storeSuite) TestLockFailure(c *gc.C) {
	runstate.SetAcquireMutex(s.store, func(mutex.Spec) (mutex.Releaser, error) {
		return nil, mutex.ErrCancelled
	})
	called := false
	err := s.store.Update(ctx, s.config, func(*gce.Firewall) error {
		called = true
		return nil
	})
	c.Assert(err, gc.ErrorMatches, `cannot lock run "abc123" for update: .*`)
	c.Assert(errors.Cause(err), gc.Equals, mutex.ErrCancelled)
	c.Assert(called, jc.IsFalse)
}

func (s *storeSuite) TestLockHeldElsewhere(c *gc.C) {
	held, err := mutex.Acquire(mutex.Spec{
		Name:    "perfkit-abc123",
		Clock:   clock.WallClock,
		Delay:   10 * time.Millisecond,
		Timeout: time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = s.store.Load(waitCtx, s.config)
	c.Assert(errors.Cause(err), gc.Equals, mutex.ErrCancelled)

	held.Release()
	_, err = s.store.Load(ctx, s.config)
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *storeSuite) TestConcurrentUpdatesWait(c *gc.C) {
	// Each update holds the run lock while its slow command runs.
	s.runner.delay = 300 * time.Millisecond

	results := make(chan error, 2)
	for _, port := range []int{80, 443} {
		port := port // per-iteration copy; go directive is 1.21
		go func() {
			results <- s.store.Update(ctx, s.config, func(fw *gce.Firewall) error {
				return fw.EnsurePortOpen(ctx, vm, port)
			})
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			c.Check(err, jc.ErrorIsNil)
		case <-time.After(10 * time.Second):
			c.Fatalf("timed out waiting for updates")
		}
	}

	loaded, err := s.store.Load(ctx, s.config)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(loaded.RuleNames(), jc.SameContents, []string{
		"perfkit-firewall-abc123-80",
		"perfkit-firewall-abc123-443",
	})
	s.runner.CheckCallNames(c, "RunCommand", "RunCommand")
}

func (s *storeSuite) TestEmptyRunURI(c *gc.C) {
	c.Assert(s.store.Remove(ctx, ""), gc.ErrorMatches, "empty run URI not valid")
}
