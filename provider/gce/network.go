// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gce

import (
	"context"

	"github.com/juju/perfkit/network"
)

// NetworkDefaultName is the network every GCE project starts with.
const NetworkDefaultName = "default"

// DefaultNetwork is the GCE network.Network. Benchmark machines are
// attached to the project's default network, which always exists, so
// Create and Delete deliberately do nothing.
type DefaultNetwork struct{}

var _ network.Network = DefaultNetwork{}

// Name returns the name of the GCE network in use.
func (DefaultNetwork) Name() string {
	return NetworkDefaultName
}

// Create is part of the network.Network interface.
func (DefaultNetwork) Create(context.Context) error {
	logger.Debugf("using the %q network, nothing to create", NetworkDefaultName)
	return nil
}

// Delete is part of the network.Network interface.
func (DefaultNetwork) Delete(context.Context) error {
	logger.Debugf("using the %q network, nothing to delete", NetworkDefaultName)
	return nil
}
