// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmdrunner

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"
)

// CommandError describes a command that ran but exited with a non-zero
// status.
type CommandError struct {
	// Args holds the command and its arguments.
	Args []string

	// ExitCode is the exit status of the command.
	ExitCode int

	// Stdout and Stderr hold the output of the failed command.
	Stdout string
	Stderr string
}

// Error implements error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", shellquote.Join(e.Args...), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// IsCommandError reports whether the cause of err is a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// AsCommandError returns the *CommandError in err's chain, if any.
func AsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}
