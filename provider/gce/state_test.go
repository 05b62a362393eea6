// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gce_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	"gopkg.in/yaml.v2"

	"github.com/juju/perfkit/provider/gce"
)

type stateSuite struct {
	testing.IsolationSuite

	runner *fakeRunner
	config gce.FirewallConfig
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.runner = newFakeRunner()
	s.config = gce.FirewallConfig{
		Project: "bench",
		RunURI:  "abc123",
		Runner:  s.runner,
	}
}

func (s *stateSuite) openedFirewall(c *gc.C, ports ...int) *gce.Firewall {
	fw, err := gce.NewFirewall(s.config)
	c.Assert(err, jc.ErrorIsNil)
	for _, port := range ports {
		c.Assert(fw.EnsurePortOpen(context.Background(), vmA, port), jc.ErrorIsNil)
	}
	return fw
}

func (s *stateSuite) TestMarshal(c *gc.C) {
	fw := s.openedFirewall(c, 22, 8080)

	data, err := yaml.Marshal(fw)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(data), gc.Equals, `
version: 1
project: bench
run-uri: abc123
firewall-names:
- perfkit-firewall-abc123-22
- perfkit-firewall-abc123-8080
`[1:])
}

func (s *stateSuite) TestMarshalNoRules(c *gc.C) {
	fw := s.openedFirewall(c)

	data, err := yaml.Marshal(fw)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(data), gc.Equals, `
version: 1
project: bench
run-uri: abc123
firewall-names: []
`[1:])
}

func (s *stateSuite) TestResume(c *gc.C) {
	data, err := yaml.Marshal(s.openedFirewall(c, 22, 8080))
	c.Assert(err, jc.ErrorIsNil)

	runner := newFakeRunner()
	s.config.Runner = runner
	fw, err := gce.ResumeFirewall(s.config, data)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(fw.Project(), gc.Equals, "bench")
	c.Assert(fw.RunURI(), gc.Equals, "abc123")
	c.Assert(fw.RuleNames(), jc.DeepEquals, []string{
		"perfkit-firewall-abc123-22",
		"perfkit-firewall-abc123-8080",
	})

	// Known ports stay open without a command, new ones are created
	// with the resumed runner.
	c.Assert(fw.EnsurePortOpen(context.Background(), vmB, 8080), jc.ErrorIsNil)
	c.Assert(fw.EnsurePortOpen(context.Background(), vmB, 443), jc.ErrorIsNil)
	c.Assert(runner.commands(), jc.DeepEquals, [][]string{createCommand(443)})

	runner.ResetCalls()
	c.Assert(fw.TeardownAll(context.Background()), jc.ErrorIsNil)
	c.Assert(runner.commands(), jc.DeepEquals, [][]string{
		deleteCommand(22), deleteCommand(8080), deleteCommand(443),
	})
}

func (s *stateSuite) TestResumeIsLockable(c *gc.C) {
	data, err := yaml.Marshal(s.openedFirewall(c, 22))
	c.Assert(err, jc.ErrorIsNil)

	fw, err := gce.ResumeFirewall(s.config, data)
	c.Assert(err, jc.ErrorIsNil)

	// Encoding takes the lock, so a second round trip proves the
	// decoded firewall's lock is usable.
	again, err := yaml.Marshal(fw)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(again), gc.Equals, string(data))
}

func (s *stateSuite) TestUnmarshalEmbedded(c *gc.C) {
	var doc struct {
		Firewall *gce.Firewall `yaml:"firewall"`
	}
	err := yaml.Unmarshal([]byte(`
firewall:
  version: 1
  project: bench
  run-uri: abc123
  firewall-names: [perfkit-firewall-abc123-22]
`), &doc)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(doc.Firewall.RuleNames(), jc.DeepEquals, []string{"perfkit-firewall-abc123-22"})

	// Without a runner nothing can be changed.
	err = doc.Firewall.EnsurePortOpen(context.Background(), vmA, 80)
	c.Assert(err, gc.ErrorMatches, `opening port 80: firewall for run "abc123" has no command runner`)
}

func (s *stateSuite) TestResumeErrors(c *gc.C) {
	for i, test := range []struct {
		about string
		data  string
		err   string
	}{{
		about: "other project",
		data:  "version: 1\nproject: other\nrun-uri: abc123\n",
		err:   `firewall state for project "other" in project "bench" not valid`,
	}, {
		about: "other run",
		data:  "version: 1\nproject: bench\nrun-uri: def456\n",
		err:   `firewall state for run "def456" in run "abc123" not valid`,
	}, {
		about: "unknown version",
		data:  "version: 2\nproject: bench\nrun-uri: abc123\n",
		err:   `decoding firewall state: firewall state version 2 not valid`,
	}, {
		about: "empty project",
		data:  "version: 1\nproject: \"\"\nrun-uri: abc123\n",
		err:   `decoding firewall state: firewall state with empty project not valid`,
	}, {
		about: "duplicate rule",
		data:  "version: 1\nproject: bench\nrun-uri: abc123\nfirewall-names: [a, b, a]\n",
		err:   `decoding firewall state: firewall state with duplicate rule "a" not valid`,
	}} {
		c.Logf("test %d: %s", i, test.about)
		_, err := gce.ResumeFirewall(s.config, []byte(test.data))
		c.Check(err, gc.ErrorMatches, test.err)
		c.Check(err, jc.Satisfies, errors.IsNotValid)
	}
}

func (s *stateSuite) TestResumeSchemaErrors(c *gc.C) {
	for i, data := range []string{
		"project: bench\nrun-uri: abc123\n",
		"version: 1\nrun-uri: abc123\n",
		"version: 1\nproject: bench\nrun-uri: abc123\nfirewall-names: 22\n",
	} {
		c.Logf("test %d", i)
		_, err := gce.ResumeFirewall(s.config, []byte(data))
		c.Check(err, gc.ErrorMatches, `decoding firewall state: firewall state (version|v1) schema check failed: .*`)
	}
}

func (s *stateSuite) TestResumeInvalidConfig(c *gc.C) {
	s.config.Runner = nil
	_, err := gce.ResumeFirewall(s.config, []byte("version: 1\nproject: bench\nrun-uri: abc123\n"))
	c.Assert(err, gc.ErrorMatches, "nil Runner not valid")
}
