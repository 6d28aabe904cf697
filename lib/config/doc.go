// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML tuning file for muster.
//
// The file is named by either the MUSTER_CONFIG environment variable
// (via [Load]) or the --config flag (via [LoadFile]). There is no
// discovery and no per-field environment override: what the file says
// is what runs, overlaid on [Default]. A job that supplies no file runs
// on [Default], which carries the reference protocol constants
// (30 connect attempts, 10s backoff, 200ms settle delay).
//
// Durations are YAML duration strings ("10s", "250ms").
//
// This package depends on no other muster packages.
package config
