// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements the single-use master/worker protocol
// that brackets a distributed job: one barrier round before the
// workload starts and one termination broadcast after it ends.
//
// The topology is fixed. Rank 0 runs a [Master]; every other rank
// runs a [Worker]. Each worker holds exactly one TCP connection to the
// master for the life of the job, and every message on it is a CBOR
// [Frame]:
//
//	worker                          master
//	  | -- hello {rank, job_id} -->   |  AcceptAll: map connection to rank
//	  | -- ready ----------------->   |  SyncPeers: wait for every ready,
//	  | <-------------- go {run_id}-- |            then release everyone
//	  | <------------- heartbeat ---  |  KeepAlive, while the workload runs
//	  | <------------- heartbeat ---  |
//	  | <------------- terminate ---  |  BroadcastTermination, once
//	close                           close
//
// The hello frame carries the worker's rank, so the master never infers
// rank from accept order. Connections that claim a rank outside
// [1, world size), a rank already taken, or a different job are dropped
// and accepting continues.
//
// Writes to a [Peer] are serialized by a per-peer lock, so heartbeats
// and the termination frame never interleave on the wire. Each frame a
// peer sends carries a per-connection sequence number, which lets tests
// check ordering from the receiving side.
//
// Blocking reads honor context cancellation by moving the read deadline
// into the past. The connection stays open, so teardown can still send
// termination after an aborted barrier.
//
// There is no barrier timeout unless the caller wraps the context with
// [WithBarrierTimeout]: a worker that never arrives stalls the master.
package rendezvous
