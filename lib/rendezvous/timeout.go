// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"time"

	"github.com/bureau-foundation/muster/lib/clock"
)

// WithBarrierTimeout returns a context canceled with cause
// ErrBarrierTimeout once d has elapsed on clk. A non-positive d
// returns a context with no deadline, so that the barrier waits
// indefinitely. The returned cancel must be called to release the
// timer goroutine.
func WithBarrierTimeout(parent context.Context, clk clock.Clock, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	ctx, cancel := context.WithCancelCause(parent)
	expired := clk.After(d)
	go func() {
		select {
		case <-expired:
			cancel(ErrBarrierTimeout)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
