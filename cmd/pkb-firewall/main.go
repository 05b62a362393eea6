// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// pkb-firewall opens the ports of a benchmark run in a GCE project and
// deletes the firewall rules again when the run is over. The rules of
// a run are remembered between invocations in a state directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/perfkit/config"
	"github.com/juju/perfkit/internal/cmdrunner"
	"github.com/juju/perfkit/internal/runstate"
	"github.com/juju/perfkit/provider/gce"
	"github.com/juju/perfkit/provider/gce/gcloud"
)

var logger = loggo.GetLogger("perfkit.cmd.pkb-firewall")

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func commands() []Command {
	return []Command{
		&allowCommand{},
		&teardownCommand{},
		&showCommand{},
		&auditCommand{},
	}
}

// newRunner returns the runner issuing gcloud commands for the run.
var newRunner = func(cfg *config.Config, metrics *cmdrunner.Collector) (gce.CommandRunner, error) {
	runner, err := cmdrunner.New(cmdrunner.Config{
		Attempts:     cfg.RetryAttempts(),
		Delay:        cfg.RetryDelay(),
		MaxDelay:     cfg.RetryMaxDelay(),
		Timeout:      cfg.CommandTimeout(),
		Clock:        clock.WallClock,
		IsFatalError: gcloud.IsPermanent,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runner, nil
}

// defaultStateDir is used when neither flags nor config name one.
func defaultStateDir() string {
	return filepath.Join(os.TempDir(), "perfkitbenchmarker", "runs")
}

type globalFlags struct {
	configPath  string
	runURI      string
	project     string
	stateDir    string
	metricsFile string
	debug       bool
}

func (g *globalFlags) setFlags(f *gnuflag.FlagSet) {
	f.StringVar(&g.configPath, "config", "", "YAML file with the run configuration")
	f.StringVar(&g.runURI, "run-uri", "", "identifier of the run, generated if not set")
	f.StringVar(&g.project, "project", "", "GCP project of the run")
	f.StringVar(&g.stateDir, "state-dir", "", "directory holding the state of runs")
	f.StringVar(&g.metricsFile, "metrics-file", "", "write command metrics to this file in Prometheus text format")
	f.BoolVar(&g.debug, "debug", false, "log debug messages")
}

func (g *globalFlags) overrides() map[string]interface{} {
	attrs := make(map[string]interface{})
	for key, value := range map[string]string{
		config.RunURIKey:   g.runURI,
		config.ProjectKey:  g.project,
		config.StateDirKey: g.stateDir,
	} {
		if value != "" {
			attrs[key] = value
		}
	}
	return attrs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Main runs the command named in args and returns the exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var global globalFlags
	f := gnuflag.NewFlagSet("pkb-firewall", gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	global.setFlags(f)
	if err := f.Parse(false, args); err != nil {
		return usageError(stderr, err)
	}
	args = f.Args()
	if len(args) == 0 {
		return usageError(stderr, errors.New("no command specified"))
	}

	var command Command
	for _, c := range commands() {
		if c.Info().Name == args[0] {
			command = c
		}
	}
	if command == nil {
		return usageError(stderr, errors.Errorf("unrecognised command %q", args[0]))
	}
	info := command.Info()
	cf := gnuflag.NewFlagSet(info.Name, gnuflag.ContinueOnError)
	cf.SetOutput(io.Discard)
	command.SetFlags(cf)
	if err := cf.Parse(true, args[1:]); err != nil {
		return usageError(stderr, errors.Annotate(err, info.Name))
	}
	if err := command.Init(cf.Args()); err != nil {
		return usageError(stderr, errors.Annotate(err, info.Name))
	}

	level := "INFO"
	if global.debug {
		level = "DEBUG"
	}
	if err := loggo.ConfigureLoggers("<root>=" + level); err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitError
	}

	cfg, err := config.ReadFile(global.configPath, global.overrides())
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitError
	}
	if info.ExistingRun && cfg.RunURIGenerated() {
		return usageError(stderr, errors.Errorf("%s needs the run URI of an earlier run", info.Name))
	}

	env, err := newRunEnv(cfg, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitError
	}
	logger.Debugf("running %s for run %q in project %q", info.Name, cfg.RunURI(), cfg.Project())
	code := exitOK
	if err := command.Run(ctx, env); err != nil {
		logger.Debugf("%s failed: %s", info.Name, errors.ErrorStack(err))
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		code = exitError
	}
	if global.metricsFile != "" {
		if err := writeMetrics(global.metricsFile, env.metrics); err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			code = exitError
		}
	}
	return code
}

// writeMetrics writes the metrics in the format read by the node
// exporter's textfile collector.
func writeMetrics(path string, metrics prometheus.Collector) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return errors.Trace(err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return errors.Annotate(err, "writing metrics")
	}
	return nil
}

func newRunEnv(cfg *config.Config, stdout io.Writer) (*runEnv, error) {
	stateDir := cfg.StateDir()
	if stateDir == "" {
		stateDir = defaultStateDir()
	}
	store, err := runstate.NewStore(stateDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	metrics := cmdrunner.NewMetricsCollector()
	runner, err := newRunner(cfg, metrics)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &runEnv{
		config:  cfg,
		store:   store,
		metrics: metrics,
		firewall: gce.FirewallConfig{
			Project:    cfg.Project(),
			RunURI:     cfg.RunURI(),
			GcloudPath: cfg.GcloudPath(),
			Runner:     runner,
		},
		stdout: stdout,
	}, nil
}

func usageError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "ERROR %v\n", err)
	fmt.Fprintln(stderr, "usage: pkb-firewall [options] <command> [args]")
	fmt.Fprintln(stderr, "\ncommands:")
	for _, c := range commands() {
		info := c.Info()
		fmt.Fprintf(stderr, "    %-30s %s\n", info.Usage(), info.Purpose)
	}
	return exitUsage
}
