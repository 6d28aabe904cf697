// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import "errors"

var (
	// ErrConnectExhausted means a worker used its whole dial budget
	// without reaching the master.
	ErrConnectExhausted = errors.New("master unreachable within retry budget")

	// ErrPeerLost means the other end closed the connection at a point
	// where the protocol still needed it.
	ErrPeerLost = errors.New("peer connection lost")

	// ErrBarrierTimeout is the cancellation cause installed by
	// WithBarrierTimeout when the barrier does not complete in time.
	ErrBarrierTimeout = errors.New("barrier timed out")

	// ErrAborted means the master sent terminate before releasing the
	// barrier.
	ErrAborted = errors.New("master aborted the job before releasing the barrier")

	// ErrPeerClosed is returned by Send on a peer that was closed
	// locally.
	ErrPeerClosed = errors.New("peer connection closed")

	// ErrProtocol means a peer sent a frame that is not valid at this
	// point in the protocol.
	ErrProtocol = errors.New("protocol violation")

	// ErrNotReleased is returned when keep-alive is started before the
	// barrier has released every worker.
	ErrNotReleased = errors.New("barrier not released")
)
