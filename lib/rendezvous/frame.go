// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import "strconv"

// FrameType identifies a protocol message. Values are wire constants.
type FrameType uint8

const (
	// FrameHello is the first frame a worker sends: its rank and job id.
	FrameHello FrameType = 1

	// FrameReady is the worker's barrier arrival.
	FrameReady FrameType = 2

	// FrameGo is the master's barrier release.
	FrameGo FrameType = 3

	// FrameHeartbeat keeps an otherwise idle connection alive while
	// the workload runs. Workers ignore its contents.
	FrameHeartbeat FrameType = 4

	// FrameTerminate tells a worker it may exit. Sent once per job.
	FrameTerminate FrameType = 5
)

// String returns the frame type name used in logs.
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameReady:
		return "ready"
	case FrameGo:
		return "go"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameTerminate:
		return "terminate"
	default:
		return "frame(" + strconv.Itoa(int(t)) + ")"
	}
}

// Frame is the single message shape on a rendezvous connection.
type Frame struct {
	Type FrameType `cbor:"type"`

	// Rank is the sender's rank on hello and ready.
	Rank int `cbor:"rank,omitempty"`

	// JobID is set on hello so the master can drop connections that
	// belong to another job sharing the port.
	JobID string `cbor:"job_id,omitempty"`

	// RunID is set on go. It identifies this barrier round in logs on
	// every node.
	RunID string `cbor:"run_id,omitempty"`

	// Sequence is assigned by Peer.Send: 1 for the first frame a peer
	// sends, increasing by one per frame.
	Sequence uint64 `cbor:"seq"`
}
