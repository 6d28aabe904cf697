// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/bureau-foundation/muster/lib/clock"
	"github.com/bureau-foundation/muster/lib/rendezvous"
)

// barrierBudget spreads one barrier timeout across the phases that
// make up the rendezvous, skipping the time spent staging inputs in
// between. A zero total means no limit.
type barrierBudget struct {
	clock clock.Clock
	total time.Duration
	used  time.Duration
}

func newBarrierBudget(clk clock.Clock, total time.Duration) *barrierBudget {
	return &barrierBudget{clock: clk, total: total}
}

// run calls phase with a context that expires, with cause
// rendezvous.ErrBarrierTimeout, when the remaining budget runs out.
func (b *barrierBudget) run(ctx context.Context, phase func(context.Context) error) error {
	if b.total <= 0 {
		return phase(ctx)
	}
	remaining := b.total - b.used
	if remaining <= 0 {
		return rendezvous.ErrBarrierTimeout
	}
	started := b.clock.Now()
	phaseCtx, cancel := rendezvous.WithBarrierTimeout(ctx, b.clock, remaining)
	defer cancel()
	err := phase(phaseCtx)
	b.used += b.clock.Now().Sub(started)
	return err
}
