// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology describes the fixed set of nodes taking part in one
// job and the values every node derives from it without talking to the
// others.
//
// A [Topology] is built once from the deployment's host list and the
// name of the local host. Rank is the local host's index in that list,
// world size is its length, and rank 0 is the master. The value is
// immutable and is passed explicitly to everything that needs it; the
// process environment is never used to carry rank or world size.
//
// [DerivePort] maps a job identifier to the TCP port the master listens
// on. It is a pure function, so the master and every worker compute the
// same port independently, and different jobs sharing hosts land on
// different ports.
package topology
