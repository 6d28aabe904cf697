// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/muster/lib/rendezvous"
)

func (o *Orchestrator) runWorker(ctx context.Context) Outcome {
	if _, err := o.resolveHosts(ctx); err != nil {
		return Outcome{Err: err}
	}

	worker, err := rendezvous.Connect(ctx, rendezvous.WorkerConfig{
		Address:      o.MasterAddress(),
		JobID:        o.config.JobID,
		Rank:         o.config.Topology.Rank(),
		Attempts:     o.settings.Connect.Attempts,
		Backoff:      o.settings.Connect.Backoff,
		DialTimeout:  o.settings.Connect.DialTimeout,
		IdleTimeout:  o.settings.Connect.IdleTimeout,
		WriteTimeout: o.settings.KeepAlive.WriteTimeout,
		Dialer:       o.config.Dialer,
		Clock:        o.clock,
		Logger:       o.logger.With("component", "rendezvous"),
	})
	if err != nil {
		return Outcome{Err: err}
	}
	defer func() {
		if err := worker.Close(); err != nil {
			o.logger.Debug("closing master connection", "error", err)
		}
	}()

	if err := o.stageInputs(ctx); err != nil {
		return Outcome{Err: err}
	}
	budget := newBarrierBudget(o.clock, o.settings.Barrier.Timeout)
	if err := budget.run(ctx, worker.SignalReadyAndAwaitGo); err != nil {
		return Outcome{Err: err}
	}

	termination, err := worker.AwaitTermination(ctx)
	if err != nil {
		return Outcome{Err: fmt.Errorf("awaiting termination: %w", err)}
	}
	o.logger.Info("released by master",
		"termination", termination.String(),
		"run_id", worker.RunID(),
		"heartbeats", worker.Heartbeats(),
	)
	return Outcome{}
}
