// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workload starts the training command on the master and
// supervises it to completion.
//
// Launch returns as soon as the child is running (plus a short settle
// delay). The child's outcome arrives later on a one-slot channel as a
// [Result]: the exit code on a normal exit, or [SentinelFailure] when
// the command could not be started or supervised. Exactly one Result
// is delivered, after which the channel is closed.
//
// The child runs in its own process group. Canceling the Launch
// context sends SIGTERM to the whole group and SIGKILL after
// Launcher.StopGrace, so a shell wrapper cannot leave its children
// running behind it.
package workload
