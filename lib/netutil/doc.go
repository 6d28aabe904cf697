// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors for the rendezvous
// protocol. Teardown on either side of a master/worker connection
// produces EOF, ECONNRESET, or EPIPE on the surviving side, and the
// protocol treats those as a peer leaving rather than as a fault.
package netutil
