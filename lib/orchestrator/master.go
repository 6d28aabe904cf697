// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/bureau-foundation/muster/lib/rendezvous"
	"github.com/bureau-foundation/muster/lib/workload"
)

// ErrWorkloadFailed means the workload ran and did not exit 0.
var ErrWorkloadFailed = errors.New("workload failed")

func (o *Orchestrator) runMaster(ctx context.Context) Outcome {
	ipList, err := o.resolveHosts(ctx)
	if err != nil {
		return Outcome{Err: err}
	}

	bindHost := o.settings.Listen.BindHost
	if bindHost == "" {
		bindHost = o.masterHost
	}
	master, err := rendezvous.Listen(rendezvous.MasterConfig{
		Address:          net.JoinHostPort(bindHost, strconv.Itoa(o.port)),
		JobID:            o.config.JobID,
		WorldSize:        o.config.Topology.WorldSize(),
		HandshakeTimeout: o.settings.Barrier.HandshakeTimeout,
		WriteTimeout:     o.settings.KeepAlive.WriteTimeout,
		Clock:            o.clock,
		Logger:           o.logger.With("component", "rendezvous"),
	})
	if err != nil {
		return Outcome{Err: err}
	}

	// Teardown runs exactly once on every path out of here, panics
	// included: stop heartbeats, tell every registered worker to exit,
	// close every socket.
	var keepAlive *rendezvous.KeepAlive
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			if keepAlive != nil {
				keepAlive.Stop()
				o.logger.Debug("keep-alive stopped", "rounds", keepAlive.Rounds())
			}
			if err := master.BroadcastTermination(); err != nil {
				o.logger.Warn("termination broadcast incomplete", "error", err)
			}
			if err := master.Close(); err != nil {
				o.logger.Debug("closing rendezvous sockets", "error", err)
			}
		})
	}
	defer teardown()

	result, err := o.superviseMaster(ctx, master, ipList, &keepAlive)
	teardown()

	outcome := Outcome{Workload: result, Err: err}
	if err != nil {
		return outcome
	}
	if !result.Succeeded() {
		outcome.Err = fmt.Errorf("%w: exit code %d", ErrWorkloadFailed, result.ExitCode)
		if result.Err != nil {
			outcome.Err = fmt.Errorf("%w: exit code %d: %w", ErrWorkloadFailed, result.ExitCode, result.Err)
		}
		return outcome
	}
	outcome.Err = o.uploadOutput(ctx)
	return outcome
}

// superviseMaster runs the master from accept through the workload
// result. It starts keep-alive into *keepAlive so the caller's
// teardown can stop it whatever happens here.
func (o *Orchestrator) superviseMaster(ctx context.Context, master *rendezvous.Master, ipList string, keepAlive **rendezvous.KeepAlive) (*workload.Result, error) {
	budget := newBarrierBudget(o.clock, o.settings.Barrier.Timeout)
	if err := budget.run(ctx, master.AcceptAll); err != nil {
		return nil, err
	}
	if err := o.stageInputs(ctx); err != nil {
		return nil, err
	}
	if err := budget.run(ctx, master.SyncPeers); err != nil {
		return nil, err
	}

	started, err := master.StartKeepAlive(o.settings.KeepAlive.Interval)
	if err != nil {
		return nil, fmt.Errorf("starting keep-alive: %w", err)
	}
	*keepAlive = started

	results, err := o.launcher.Launch(ctx, o.workloadCommand(ipList))
	if err != nil {
		return nil, fmt.Errorf("launching workload: %w", err)
	}
	result, ok := <-results
	if !ok {
		result = workload.Result{ExitCode: workload.SentinelFailure, Err: fmt.Errorf("workload result channel closed without a result")}
	}
	o.logger.Info("workload finished", "exit_code", result.ExitCode, "run_id", master.RunID())
	return &result, nil
}

// workloadCommand returns the configured command with the job's
// topology added to its environment. Variables the command already
// sets are left alone.
func (o *Orchestrator) workloadCommand(ipList string) workload.Command {
	command := o.config.Command
	env := map[string]string{
		"WORLD_SIZE":  strconv.Itoa(o.config.Topology.WorldSize()),
		"RANK":        strconv.Itoa(o.config.Topology.Rank()),
		"MASTER_ADDR": o.masterHost,
		"MASTER_PORT": strconv.Itoa(o.port),
	}
	if ipList != "" {
		env["MUSTER_IP_LIST"] = ipList
	}
	for name, value := range command.Env {
		env[name] = value
	}
	command.Env = env
	return command
}

// uploadOutput publishes the output directory if one is configured
// and exists.
func (o *Orchestrator) uploadOutput(ctx context.Context) error {
	output := o.config.Output
	if o.config.Stager == nil || output == nil || output.Destination == "" {
		return nil
	}
	if _, err := os.Stat(output.Source); errors.Is(err, fs.ErrNotExist) {
		o.logger.Warn("output directory missing, nothing uploaded", "source", output.Source)
		return nil
	}
	if err := o.config.Stager.Upload(ctx, *output); err != nil {
		return fmt.Errorf("uploading output to %s: %w", output.Destination, err)
	}
	return nil
}
