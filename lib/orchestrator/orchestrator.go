// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"

	"github.com/bureau-foundation/muster/lib/artifact"
	"github.com/bureau-foundation/muster/lib/clock"
	"github.com/bureau-foundation/muster/lib/config"
	"github.com/bureau-foundation/muster/lib/process"
	"github.com/bureau-foundation/muster/lib/rendezvous"
	"github.com/bureau-foundation/muster/lib/topology"
	"github.com/bureau-foundation/muster/lib/workload"
)

// IPListName is the file written into the data path listing one
// resolved address per rank.
const IPListName = "ip_list.txt"

// Launcher starts the workload. *workload.Launcher implements it.
type Launcher interface {
	Launch(ctx context.Context, command workload.Command) (<-chan workload.Result, error)
}

// Config is everything one node needs to run its part of a job.
type Config struct {
	Topology topology.Topology

	// JobID identifies the job on the wire and seeds the port.
	JobID string

	// MasterHost is the host workers dial and the workload sees as
	// MASTER_ADDR. Default: the first host in the topology.
	MasterHost string

	// Settings supplies timeouts, ports and limits. Default:
	// config.Default().
	Settings *config.Config

	// Command is the workload, run on the master only.
	Command workload.Command

	// Launcher defaults to a workload.Launcher built from Settings.
	Launcher Launcher

	// Stager moves Inputs in before the barrier and Output out after a
	// successful workload. Nil disables staging.
	Stager artifact.Stager
	Inputs []artifact.Transfer
	Output *artifact.Transfer

	// Resolver defaults to net.DefaultResolver.
	Resolver topology.Resolver

	// DataPath, when set, receives ip_list.txt.
	DataPath string

	// Dialer overrides how workers reach the master.
	Dialer rendezvous.Dialer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Outcome is the result of Run.
type Outcome struct {
	Role topology.Role

	// Workload is the workload's result on a master that launched it,
	// nil otherwise.
	Workload *workload.Result

	// Err is the first failure, nil on success.
	Err error

	// ExitCode is the process exit status for this node.
	ExitCode int
}

// Orchestrator runs one node. Create with New; Run once.
type Orchestrator struct {
	config   Config
	settings *config.Config
	clock    clock.Clock
	logger   *slog.Logger
	launcher Launcher
	resolver topology.Resolver

	masterHost string
	port       int
}

// New validates config and fills in defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Topology.WorldSize() == 0 {
		return nil, fmt.Errorf("topology is required")
	}
	if cfg.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if cfg.Topology.Role() == topology.Master && cfg.Command.Path == "" {
		return nil, fmt.Errorf("the master needs a workload command")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = &workload.Launcher{
			Clock:       clk,
			Logger:      logger.With("component", "workload"),
			SettleDelay: settings.Workload.SettleDelay,
			StopGrace:   settings.Workload.StopGrace,
		}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	masterHost := cfg.MasterHost
	if masterHost == "" {
		masterHost = cfg.Topology.MasterHost()
	}
	port := settings.Listen.Port
	if port == 0 {
		derived, err := topology.DerivePort(cfg.JobID, settings.Listen.PortBase, settings.Listen.PortSpan)
		if err != nil {
			return nil, fmt.Errorf("deriving port: %w", err)
		}
		port = derived
	}

	return &Orchestrator{
		config:     cfg,
		settings:   settings,
		clock:      clk,
		logger:     logger,
		launcher:   launcher,
		resolver:   resolver,
		masterHost: masterHost,
		port:       port,
	}, nil
}

// Port returns the rendezvous port every node uses for this job.
func (o *Orchestrator) Port() int { return o.port }

// MasterAddress returns the host:port workers dial.
func (o *Orchestrator) MasterAddress() string {
	return net.JoinHostPort(o.masterHost, strconv.Itoa(o.port))
}

// Run executes this node's role to completion and reports the exit
// status. It never panics on protocol or workload failures; every
// failure is in the Outcome.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	role := o.config.Topology.Role()
	o.logger.Info("starting",
		"role", role.String(),
		"rank", o.config.Topology.Rank(),
		"world_size", o.config.Topology.WorldSize(),
		"workers", o.config.Topology.WorkerCount(),
		"job_id", o.config.JobID,
		"master_address", o.MasterAddress(),
	)

	var outcome Outcome
	if role == topology.Master {
		outcome = o.runMaster(ctx)
	} else {
		outcome = o.runWorker(ctx)
	}
	outcome.Role = role

	switch {
	case outcome.Err != nil:
		outcome.ExitCode = process.ExitFailure
	case outcome.Workload != nil:
		outcome.ExitCode = process.StatusFor(outcome.Workload.ExitCode)
	default:
		outcome.ExitCode = process.ExitSuccess
	}
	if outcome.ExitCode != process.ExitSuccess {
		o.logger.Error("job failed", "role", role.String(), "exit_code", outcome.ExitCode, "error", outcome.Err)
	} else {
		o.logger.Info("job succeeded", "role", role.String(), "exit_code", outcome.ExitCode)
	}
	return outcome
}

// resolveHosts resolves every host and writes ip_list.txt when a data
// path is configured. It returns the ip list path, or "" if none was
// written.
func (o *Orchestrator) resolveHosts(ctx context.Context) (string, error) {
	addresses, err := topology.Resolve(ctx, o.resolver, o.config.Topology)
	if err != nil {
		return "", err
	}
	o.logger.Debug("hosts resolved", "addresses", addresses)
	if o.config.DataPath == "" {
		return "", nil
	}
	path := filepath.Join(o.config.DataPath, IPListName)
	if err := topology.WriteIPList(path, addresses); err != nil {
		return "", err
	}
	return path, nil
}

// stageInputs fetches every input transfer in order.
func (o *Orchestrator) stageInputs(ctx context.Context) error {
	if o.config.Stager == nil {
		return nil
	}
	for _, transfer := range o.config.Inputs {
		if err := o.config.Stager.Fetch(ctx, transfer); err != nil {
			return fmt.Errorf("staging input %s: %w", transfer.Source, err)
		}
	}
	return nil
}
