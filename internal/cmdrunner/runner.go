// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmdrunner runs external commands, retrying the ones that fail
// with a non-zero exit status.
package cmdrunner

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/kballard/go-shellquote"
)

var logger = loggo.GetLogger("perfkit.cmdrunner")

const (
	// DefaultAttempts is the number of times a failing command is run
	// before giving up.
	DefaultAttempts = 5

	// DefaultDelay is the wait before the first retry. It doubles on
	// each subsequent retry, up to DefaultMaxDelay.
	DefaultDelay    = time.Second
	DefaultMaxDelay = 30 * time.Second
)

// execCommand runs a single attempt of a command, reporting a non-zero
// exit status as a *CommandError. Tests replace it.
var execCommand = func(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &CommandError{
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
	return stdout.String(), err
}

// Config holds the retry policy of a Runner.
type Config struct {
	// Attempts is the maximum number of times a command is run.
	Attempts int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// MaxDelay caps the doubling delay between retries. Zero means no
	// cap.
	MaxDelay time.Duration

	// Timeout bounds a single attempt. A timed out attempt counts as a
	// transient failure. Zero means no timeout.
	Timeout time.Duration

	// Clock is used to wait between attempts.
	Clock clock.Clock

	// IsFatalError, if set, is consulted for every command that exits
	// with a non-zero status. Returning true stops the retries.
	IsFatalError func(error) bool

	// Metrics, if set, records every attempt.
	Metrics *Collector
}

// DefaultConfig returns the default retry policy using the wall clock.
func DefaultConfig() Config {
	return Config{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		MaxDelay: DefaultMaxDelay,
		Clock:    clock.WallClock,
	}
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Attempts < 1 {
		return errors.NotValidf("attempts %d", c.Attempts)
	}
	if c.Delay <= 0 {
		return errors.NotValidf("delay %v", c.Delay)
	}
	if c.MaxDelay < 0 {
		return errors.NotValidf("max delay %v", c.MaxDelay)
	}
	if c.Timeout < 0 {
		return errors.NotValidf("timeout %v", c.Timeout)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Runner runs commands with a retry policy.
type Runner struct {
	config Config
}

// New returns a Runner using the given retry policy.
func New(config Config) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Runner{config: config}, nil
}

// RunCommand runs the command described by args, the first of which
// is the executable. Commands exiting with a non-zero status are
// retried; failing to start the command or cancelling ctx is fatal.
// When the attempts run out the last *CommandError is returned.
func (r *Runner) RunCommand(ctx context.Context, args []string) error {
	_, err := r.Output(ctx, args)
	return errors.Trace(err)
}

// Output is like RunCommand but also returns the standard output of
// the successful attempt.
func (r *Runner) Output(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.NotValidf("empty command")
	}
	cmdline := shellquote.Join(args...)
	logger.Debugf("running %s", cmdline)

	var stdout string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			stdout, err = r.attempt(ctx, args)
			return err
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil || !IsCommandError(err) {
				return true
			}
			return r.config.IsFatalError != nil && r.config.IsFatalError(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("attempt %d of %s failed: %v", attempt, cmdline, err)
		},
		Attempts:    r.config.Attempts,
		Delay:       r.config.Delay,
		MaxDelay:    r.config.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.config.Clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return stdout, nil
	case retry.IsAttemptsExceeded(err):
		return "", errors.Annotatef(retry.LastError(err), "giving up after %d attempts", r.config.Attempts)
	case retry.IsRetryStopped(err):
		return "", errors.Annotatef(ctx.Err(), "running %s", cmdline)
	}
	if ctx.Err() != nil {
		return "", errors.Annotatef(ctx.Err(), "running %s", cmdline)
	}
	return "", errors.Trace(err)
}

func (r *Runner) attempt(ctx context.Context, args []string) (string, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	start := r.config.Clock.Now()
	stdout, err := execCommand(ctx, args)
	r.config.Metrics.observe(args[0], r.config.Clock.Now().Sub(start), err)
	if err == nil {
		return stdout, nil
	}
	if IsCommandError(err) {
		return "", err
	}
	return "", errors.Annotatef(err, "starting %s", shellquote.Join(args...))
}
