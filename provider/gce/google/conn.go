// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package google talks to the GCE API directly, rather than through
// gcloud. It is used to inspect the firewall rules that actually exist
// in a project.
package google

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

var logger = loggo.GetLogger("perfkit.provider.gce.google")

// Scopes are the OAuth scopes requested for API access.
var Scopes = []string{compute.ComputeScope}

// ConnectionConfig holds the parameters of a Connection.
type ConnectionConfig struct {
	// Project is the GCP project the connection works in.
	Project string

	// CredentialsFile is a service account key file. Application
	// default credentials are used when it is empty.
	CredentialsFile string

	// Endpoint overrides the API endpoint.
	Endpoint string

	// Anonymous connects without credentials. Only emulators accept
	// such connections.
	Anonymous bool
}

// Validate returns an error if the config cannot be used.
func (cfg ConnectionConfig) Validate() error {
	if cfg.Project == "" {
		return errors.NotValidf("empty Project")
	}
	if cfg.Anonymous && cfg.CredentialsFile != "" {
		return errors.NotValidf("anonymous connection with credentials file")
	}
	return nil
}

// Connection provides the GCE API calls needed to inspect and clean up
// the firewall rules of a project.
type Connection struct {
	firewalls *compute.FirewallsService
	project   string
}

// Connect authenticates and opens a connection to the GCE API.
func Connect(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	opts := []option.ClientOption{option.WithScopes(Scopes...)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		creds, err := credentials(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, errors.Trace(err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "connecting to GCE")
	}
	logger.Debugf("connected to GCE for project %q", cfg.Project)
	return &Connection{
		firewalls: service.Firewalls,
		project:   cfg.Project,
	}, nil
}

func credentials(ctx context.Context, path string) (*google.Credentials, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, Scopes...)
		if err != nil {
			return nil, errors.Annotate(err, "finding default credentials")
		}
		return creds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading credentials")
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing credentials %q", path)
	}
	return creds, nil
}

// Project returns the project of the connection.
func (c *Connection) Project() string {
	return c.project
}
