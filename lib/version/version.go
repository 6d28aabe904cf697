// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the muster binary.
//
// Values are injected at build time with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/muster/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/muster
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the release version.
	Version = "0.1.0-dev"
)

// Info returns the one-line string printed by --version.
func Info() string {
	return fmt.Sprintf("%s (%s, %s, %s/%s)", Version, GitCommit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
