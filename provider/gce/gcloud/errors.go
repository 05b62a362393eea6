// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gcloud

import (
	"strings"

	"github.com/juju/perfkit/internal/cmdrunner"
)

// IsNotFound reports whether err is a failed gcloud command that
// complained about a missing resource.
func IsNotFound(err error) bool {
	return stderrContains(err, "was not found", "notFound")
}

// IsAlreadyExists reports whether err is a failed gcloud command that
// complained about creating a resource that already exists.
func IsAlreadyExists(err error) bool {
	return stderrContains(err, "already exists", "alreadyExists")
}

// IsPermanent reports whether retrying the failed command cannot
// change its outcome. It is suitable as a cmdrunner.Config
// IsFatalError function.
func IsPermanent(err error) bool {
	return IsNotFound(err) || IsAlreadyExists(err)
}

func stderrContains(err error, markers ...string) bool {
	cmdErr, ok := cmdrunner.AsCommandError(err)
	if !ok {
		return false
	}
	for _, marker := range markers {
		if strings.Contains(cmdErr.Stderr, marker) {
			return true
		}
	}
	return false
}
