// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/muster/lib/artifact"
	"github.com/bureau-foundation/muster/lib/config"
	"github.com/bureau-foundation/muster/lib/topology"
)

// distEnvVariable carries the cluster descriptor JSON when neither
// --dist-env nor --dist-env-file is given.
const distEnvVariable = "MUSTER_DIST_ENV"

type options struct {
	configPath  string
	distEnv     string
	distEnvFile string
	masterAddr  string
	jobID       string
	dataPath    string
	logLevel    string
	showVersion bool

	artifactRoot      string
	inputs            []string
	outputSource      string
	outputDestination string

	// command is everything after "--".
	command []string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("muster", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to muster.yaml (default: $MUSTER_CONFIG, else built-in defaults)")
	flagSet.StringVar(&opts.distEnv, "dist-env", "", "cluster descriptor as a JSON string")
	flagSet.StringVar(&opts.distEnvFile, "dist-env-file", "", "path to the cluster descriptor JSON file")
	flagSet.StringVar(&opts.masterAddr, "master-addr", "", "host workers dial (default: the first host in the descriptor)")
	flagSet.StringVar(&opts.jobID, "job-id", "", "job id (default: the descriptor's job_name)")
	flagSet.StringVar(&opts.dataPath, "data-path", "", "directory that receives ip_list.txt")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flagSet.StringVar(&opts.artifactRoot, "artifact-root", "", "directory holding input and output bundles")
	flagSet.StringArrayVar(&opts.inputs, "input", nil, "bundle=dir to fetch before the barrier (repeatable)")
	flagSet.StringVar(&opts.outputSource, "output-source", "", "directory the workload writes its outputs to")
	flagSet.StringVar(&opts.outputDestination, "output-destination", "", "bundle the master uploads outputs to on success")
	return flagSet
}

// parseOptions parses the command line. The workload command follows
// "--" and is not interpreted.
func parseOptions(args []string) (*options, error) {
	opts := &options{}
	flagSet := newFlagSet(opts)
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	rest := flagSet.Args()
	dash := flagSet.ArgsLenAtDash()
	if dash < 0 && len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument %q (put the workload command after --)", rest[0])
	}
	if dash > 0 {
		return nil, fmt.Errorf("unexpected argument %q before --", rest[0])
	}
	if dash == 0 {
		opts.command = rest
	}
	if (opts.outputSource == "") != (opts.outputDestination == "") {
		return nil, fmt.Errorf("--output-source and --output-destination must be given together")
	}
	if opts.artifactRoot == "" && (len(opts.inputs) > 0 || opts.outputDestination != "") {
		return nil, fmt.Errorf("--input and --output-destination need --artifact-root")
	}
	return opts, nil
}

// loadSettings reads --config, then $MUSTER_CONFIG, then falls back to
// the defaults.
func loadSettings(opts *options) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	if os.Getenv("MUSTER_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// loadDescriptor reads the cluster descriptor from --dist-env,
// --dist-env-file or $MUSTER_DIST_ENV, in that order.
func loadDescriptor(opts *options) (topology.Descriptor, error) {
	switch {
	case opts.distEnv != "":
		return topology.ParseDescriptor([]byte(opts.distEnv))
	case opts.distEnvFile != "":
		return topology.ReadDescriptor(opts.distEnvFile)
	case os.Getenv(distEnvVariable) != "":
		return topology.ParseDescriptor([]byte(os.Getenv(distEnvVariable)))
	default:
		return topology.Descriptor{}, fmt.Errorf("no cluster descriptor: use --dist-env, --dist-env-file or $%s", distEnvVariable)
	}
}

// parseInputs turns bundle=dir arguments into fetch transfers.
func parseInputs(values []string) ([]artifact.Transfer, error) {
	transfers := make([]artifact.Transfer, 0, len(values))
	for _, value := range values {
		bundle, directory, found := strings.Cut(value, "=")
		if !found || bundle == "" || directory == "" {
			return nil, fmt.Errorf("--input %q: want bundle=dir", value)
		}
		transfers = append(transfers, artifact.Transfer{Source: bundle, Destination: directory})
	}
	return transfers, nil
}
