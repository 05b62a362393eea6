// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package google

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/juju/errors"
	"google.golang.org/api/compute/v1"
)

// Rule is a firewall rule as reported by GCE.
type Rule struct {
	Name    string
	Network string

	// Allowed holds one "protocol:port" entry per allowed port, or just
	// the protocol when all its ports are allowed.
	Allowed []string
}

func newRule(fw *compute.Firewall) Rule {
	rule := Rule{
		Name:    fw.Name,
		Network: fw.Network,
	}
	for _, allowed := range fw.Allowed {
		if len(allowed.Ports) == 0 {
			rule.Allowed = append(rule.Allowed, allowed.IPProtocol)
			continue
		}
		for _, port := range allowed.Ports {
			rule.Allowed = append(rule.Allowed, allowed.IPProtocol+":"+port)
		}
	}
	return rule
}

// Rules returns the firewall rules of the project whose names start
// with prefix, sorted by name.
func (c *Connection) Rules(ctx context.Context, prefix string) ([]Rule, error) {
	call := c.firewalls.List(c.project).
		Filter(fmt.Sprintf(`name eq "%s.*"`, regexp.QuoteMeta(prefix)))

	var rules []Rule
	err := call.Pages(ctx, func(page *compute.FirewallList) error {
		for _, fw := range page.Items {
			// The filter is applied by the server; don't rely on it.
			if strings.HasPrefix(fw.Name, prefix) {
				rules = append(rules, newRule(fw))
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "listing firewall rules in project %q", c.project)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Name < rules[j].Name
	})
	return rules, nil
}

// DeleteRule requests the deletion of the named rule without waiting
// for it to complete. Deleting a rule that does not exist is not an
// error.
func (c *Connection) DeleteRule(ctx context.Context, name string) error {
	_, err := c.firewalls.Delete(c.project, name).Context(ctx).Do()
	if IsNotFound(err) {
		logger.Debugf("firewall rule %q already deleted", name)
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "deleting firewall rule %q", name)
	}
	logger.Infof("deleting firewall rule %q", name)
	return nil
}
