// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/muster/lib/artifact"
	"github.com/bureau-foundation/muster/lib/orchestrator"
	"github.com/bureau-foundation/muster/lib/process"
	"github.com/bureau-foundation/muster/lib/version"
	"github.com/bureau-foundation/muster/lib/workload"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

// run returns an error only for problems found before the logger
// exists. Once the job starts, failures are logged and folded into the
// exit code.
func run(args []string) (int, error) {
	opts, err := parseOptions(args)
	if errors.Is(err, pflag.ErrHelp) {
		return process.ExitSuccess, nil
	}
	if err != nil {
		return 0, err
	}
	if opts.showVersion {
		fmt.Println("muster", version.Info())
		return process.ExitSuccess, nil
	}

	settings, err := loadSettings(opts)
	if err != nil {
		return 0, err
	}
	descriptor, err := loadDescriptor(opts)
	if err != nil {
		return 0, err
	}
	topo, err := descriptor.Topology()
	if err != nil {
		return 0, fmt.Errorf("cluster descriptor: %w", err)
	}
	jobID := opts.jobID
	if jobID == "" {
		jobID = descriptor.JobName
	}
	inputs, err := parseInputs(opts.inputs)
	if err != nil {
		return 0, err
	}

	baseLogger, err := newLogger(os.Stderr, settings.Logging, opts.logLevel)
	if err != nil {
		return 0, err
	}
	logger := baseLogger.With(
		"host", topo.Current(),
		"rank", topo.Rank(),
		"role", topo.Role().String(),
	)

	nodeConfig := orchestrator.Config{
		Topology:   topo,
		JobID:      jobID,
		MasterHost: opts.masterAddr,
		Settings:   settings,
		Inputs:     inputs,
		DataPath:   opts.dataPath,
		Logger:     logger,
	}
	if len(opts.command) > 0 {
		nodeConfig.Command = workload.Command{Path: opts.command[0], Args: opts.command[1:]}
	}
	if opts.artifactRoot != "" {
		compression, err := artifact.ParseCompression(settings.Artifacts.Compression)
		if err != nil {
			return 0, err
		}
		nodeConfig.Stager = &artifact.DirectoryStore{
			Root:        opts.artifactRoot,
			Compression: compression,
			Logger:      logger.With("component", "artifact"),
		}
	}
	if opts.outputDestination != "" {
		nodeConfig.Output = &artifact.Transfer{Source: opts.outputSource, Destination: opts.outputDestination}
	}

	node, err := orchestrator.New(nodeConfig)
	if err != nil {
		return 0, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return node.Run(ctx).ExitCode, nil
}
