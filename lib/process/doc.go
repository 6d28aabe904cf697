// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the exit-status contract of the muster binary.
//
// A muster process exits ExitSuccess when its part of the job ended
// cleanly and ExitFailure on every failure path: workload failure,
// orchestration faults, unreachable master, unresolvable hosts. Fatal
// covers errors that happen before the structured logger exists.
package process
