// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

const (
	// ExitSuccess is the status of a node whose job ended cleanly.
	ExitSuccess = 0

	// ExitFailure is the generic failure status. The workload's own
	// nonzero code is not propagated: callers only need the
	// success/failure classification.
	ExitFailure = 1
)

// StatusFor maps a workload exit code to a process exit status.
func StatusFor(code int) int {
	if code == 0 {
		return ExitSuccess
	}
	return ExitFailure
}

// Fatal writes "error: err" to stderr and exits with ExitFailure. Use
// it in main() for errors that occur before the logger is built.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitFailure)
}
