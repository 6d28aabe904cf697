// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/muster/lib/clock"
	"github.com/bureau-foundation/muster/lib/netutil"
)

// Dialer opens the worker's connection to the master. *net.Dialer
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// WorkerConfig configures Connect.
type WorkerConfig struct {
	// Address is the master's host:port.
	Address string

	// JobID is sent in hello and must match the master's.
	JobID string

	// Rank is this worker's rank, 1 through world size minus one.
	Rank int

	// Attempts is the dial budget. Default 30.
	Attempts int

	// Backoff is the wait between failed dials. Default 10s.
	Backoff time.Duration

	// DialTimeout bounds each dial. Zero means only ctx bounds it.
	DialTimeout time.Duration

	// IdleTimeout, when positive, treats a master that sends nothing
	// for this long after release as gone.
	IdleTimeout time.Duration

	// WriteTimeout bounds every frame written to the master.
	WriteTimeout time.Duration

	// Dialer defaults to a zero net.Dialer.
	Dialer Dialer

	// Clock drives the backoff wait. Default clock.Real().
	Clock clock.Clock

	// Logger receives protocol events. Default discards.
	Logger *slog.Logger
}

// Termination says why AwaitTermination returned.
type Termination int

const (
	// TerminationSignalled means the master sent terminate.
	TerminationSignalled Termination = iota + 1

	// TerminationMasterGone means the connection ended without a
	// terminate frame. The master is assumed finished.
	TerminationMasterGone

	// TerminationIdle means nothing arrived within IdleTimeout.
	TerminationIdle
)

func (t Termination) String() string {
	switch t {
	case TerminationSignalled:
		return "signalled"
	case TerminationMasterGone:
		return "master-gone"
	case TerminationIdle:
		return "idle"
	default:
		return fmt.Sprintf("termination(%d)", int(t))
	}
}

// Worker is a non-zero rank's connection to the master.
type Worker struct {
	config WorkerConfig
	peer   *Peer
	logger *slog.Logger

	runID      string
	heartbeats atomic.Uint64
}

// Connect dials the master, retrying up to Attempts times with Backoff
// between attempts, and sends hello. When every attempt fails the
// error wraps ErrConnectExhausted and the last dial error.
func Connect(ctx context.Context, config WorkerConfig) (*Worker, error) {
	if config.Attempts <= 0 {
		config.Attempts = 30
	}
	if config.Backoff < 0 {
		config.Backoff = 0
	} else if config.Backoff == 0 {
		config.Backoff = 10 * time.Second
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger := config.Logger

	var conn net.Conn
	var lastErr error
	for attempt := 1; attempt <= config.Attempts; attempt++ {
		conn, lastErr = dial(ctx, config)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connecting to master %s: %w", config.Address, context.Cause(ctx))
		}
		logger.Info("master not reachable yet",
			"address", config.Address,
			"attempt", attempt,
			"attempts", config.Attempts,
			"error", lastErr,
		)
		if attempt == config.Attempts {
			break
		}
		select {
		case <-config.Clock.After(config.Backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to master %s: %w", config.Address, context.Cause(ctx))
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %d attempts to %s: %w", ErrConnectExhausted, config.Attempts, config.Address, lastErr)
	}

	peer := newPeer(conn, nil, 0, config.WriteTimeout)
	if err := peer.Send(Frame{Type: FrameHello, Rank: config.Rank, JobID: config.JobID}); err != nil {
		peer.Close()
		return nil, err
	}
	logger.Info("connected to master", "address", config.Address)
	return &Worker{config: config, peer: peer, logger: logger}, nil
}

func dial(ctx context.Context, config WorkerConfig) (net.Conn, error) {
	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}
	return config.Dialer.DialContext(ctx, "tcp", config.Address)
}

// SignalReadyAndAwaitGo is the worker side of the barrier: it sends
// ready, then blocks until go arrives. Heartbeats that race ahead of
// go are ignored. A terminate before go returns ErrAborted.
func (w *Worker) SignalReadyAndAwaitGo(ctx context.Context) error {
	if err := w.peer.Send(Frame{Type: FrameReady, Rank: w.config.Rank}); err != nil {
		return err
	}
	w.logger.Debug("reported ready")

	stopInterrupt := context.AfterFunc(ctx, w.peer.interruptReads)
	defer stopInterrupt()

	for {
		frame, err := w.peer.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("awaiting go: %w", context.Cause(ctx))
			}
			if netutil.IsExpectedCloseError(err) {
				return fmt.Errorf("awaiting go: %w", ErrPeerLost)
			}
			return fmt.Errorf("awaiting go: %w", err)
		}
		switch frame.Type {
		case FrameGo:
			w.runID = frame.RunID
			w.logger.Info("barrier released", "run_id", frame.RunID)
			return nil
		case FrameHeartbeat:
			w.heartbeats.Add(1)
		case FrameTerminate:
			return ErrAborted
		default:
			return fmt.Errorf("awaiting go: %w: got %s", ErrProtocol, frame.Type)
		}
	}
}

// AwaitTermination blocks until the master signals termination or
// the connection ends. Heartbeats are counted and otherwise ignored.
// The only error is the cause of ctx being canceled; every way the
// master can go away is reported as a Termination.
func (w *Worker) AwaitTermination(ctx context.Context) (Termination, error) {
	stopInterrupt := context.AfterFunc(ctx, w.peer.interruptReads)
	defer stopInterrupt()

	for {
		if ctx.Err() != nil {
			return 0, context.Cause(ctx)
		}
		if w.config.IdleTimeout > 0 {
			w.peer.setReadDeadline(time.Now().Add(w.config.IdleTimeout))
			// A cancel landing between the check above and the new
			// deadline would otherwise be hidden behind the idle timeout.
			if ctx.Err() != nil {
				return 0, context.Cause(ctx)
			}
		}
		frame, err := w.peer.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return 0, context.Cause(ctx)
			}
			if w.config.IdleTimeout > 0 && netutil.IsTimeout(err) {
				w.logger.Warn("master idle, treating as terminated", "idle_timeout", w.config.IdleTimeout)
				return TerminationIdle, nil
			}
			if !netutil.IsExpectedCloseError(err) {
				w.logger.Warn("master connection failed, treating as terminated", "error", err)
			} else {
				w.logger.Info("master closed connection without terminate")
			}
			return TerminationMasterGone, nil
		}
		switch frame.Type {
		case FrameHeartbeat:
			w.heartbeats.Add(1)
		case FrameTerminate:
			w.logger.Info("termination received")
			return TerminationSignalled, nil
		default:
			w.logger.Warn("ignoring unexpected frame", "type", frame.Type.String())
		}
	}
}

// RunID returns the run id received with go.
func (w *Worker) RunID() string { return w.runID }

// Heartbeats returns how many heartbeats have been received.
func (w *Worker) Heartbeats() uint64 { return w.heartbeats.Load() }

// Close closes the connection to the master.
func (w *Worker) Close() error {
	err := w.peer.Close()
	if err != nil && netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}
