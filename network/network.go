// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package network holds the provider independent contracts for the
// networking resources a benchmark run provisions: the firewall that
// exposes machine ports and the virtual network the machines live on.
package network

import "context"

// Machine is the view of a benchmark machine that networking
// resources need.
type Machine interface {
	// Name identifies the machine in logs.
	Name() string

	// IsStatic reports whether the machine already existed before the
	// run and is not owned by it. No infrastructure is ever changed on
	// behalf of a static machine.
	IsStatic() bool
}

// Firewall opens machine ports for the lifetime of a benchmark run.
type Firewall interface {
	// EnsurePortOpen makes sure that the given port is reachable on the
	// machine. Calling it again for a port that is already open has no
	// effect. It is safe to call concurrently.
	EnsurePortOpen(ctx context.Context, m Machine, port int) error

	// TeardownAll removes every rule the firewall created. It must only
	// be called once all EnsurePortOpen calls have returned.
	TeardownAll(ctx context.Context) error
}

// Network is a provider virtual network.
type Network interface {
	// Create provisions the network.
	Create(ctx context.Context) error

	// Delete removes the network.
	Delete(ctx context.Context) error
}

// MachineRef is a plain Machine value, used where only the name and
// ownership of a machine are known.
type MachineRef struct {
	MachineName string
	Static      bool
}

var _ Machine = MachineRef{}

// Name is part of the Machine interface.
func (m MachineRef) Name() string {
	return m.MachineName
}

// IsStatic is part of the Machine interface.
func (m MachineRef) IsStatic() bool {
	return m.Static
}
