// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for muster packages.
//
// [RequireReceive] wraps the select-with-timeout safety valve so tests
// waiting on a protocol step fail instead of hanging when the step
// never happens. It is the only place in the test suite that uses wall-clock timeouts; protocol timing inside
// tests runs on clock.Fake.
//
// [FreePort] reserves a loopback TCP port for end-to-end tests that need
// to tell workers where the master will listen before it listens.
//
// All helpers call t.Fatalf on failure.
package testutil
