// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/muster/lib/clock"
)

// KeepAlive heartbeats a fixed set of peers on an interval until
// stopped. A peer whose send fails is logged and tried again on the
// next round; one bad peer never stops heartbeats to the others.
type KeepAlive struct {
	peers    []*Peer
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	rounds atomic.Uint64

	// failures counts consecutive failed sends per peer index. Only
	// the loop goroutine touches it.
	failures []int
}

func startKeepAlive(peers []*Peer, interval time.Duration, clk clock.Clock, logger *slog.Logger) *KeepAlive {
	ctx, cancel := context.WithCancel(context.Background())
	keepAlive := &KeepAlive{
		peers:    peers,
		interval: interval,
		clock:    clk,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
		failures: make([]int, len(peers)),
	}
	go keepAlive.run(ctx)
	return keepAlive
}

func (k *KeepAlive) run(ctx context.Context) {
	defer close(k.done)

	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Debug("keep-alive started", "interval", k.interval, "workers", len(k.peers))
	k.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.beat(ctx)
		}
	}
}

// beat sends one heartbeat round. It checks ctx before every send so
// Stop takes effect between peers, not only between rounds.
func (k *KeepAlive) beat(ctx context.Context) {
	for index, peer := range k.peers {
		if ctx.Err() != nil {
			return
		}
		if peer.Closed() {
			continue
		}
		if err := peer.Send(Frame{Type: FrameHeartbeat}); err != nil {
			k.failures[index]++
			if k.failures[index] == 1 {
				k.logger.Warn("heartbeat failed", "worker_rank", peer.Rank(), "error", err)
			} else {
				k.logger.Debug("heartbeat failed",
					"worker_rank", peer.Rank(),
					"consecutive_failures", k.failures[index],
				)
			}
			continue
		}
		k.failures[index] = 0
	}
	k.rounds.Add(1)
}

// Rounds returns the number of completed heartbeat rounds.
func (k *KeepAlive) Rounds() uint64 { return k.rounds.Load() }

// Stop ends the heartbeat loop and waits for it to exit. After Stop
// returns no further heartbeat is written. Safe to call more than
// once.
func (k *KeepAlive) Stop() {
	k.cancel()
	<-k.done
}
