// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs one node's part of a distributed training
// job from start to exit status.
//
// Every node runs the same binary. The topology decides the role:
//
//	master (rank 0)                     worker (rank 1..N-1)
//	  resolve hosts, write ip_list.txt    resolve hosts, write ip_list.txt
//	  listen                              connect (bounded retries)
//	  accept N-1 workers
//	  fetch inputs                        fetch inputs
//	  barrier: await ready, send go  <->  barrier: send ready, await go
//	  start keep-alive, launch workload   await termination
//	  await workload result                 (heartbeats ignored)
//	  stop keep-alive
//	  broadcast terminate            -->  exit 0
//	  close
//	  upload outputs (on success)
//	  exit 0 or 1 from workload result
//
// On the master, everything after listen is followed by the same
// teardown whatever failed: keep-alive stopped, terminate sent to
// every registered worker, every socket closed. Workers never run the
// workload and never inherit its exit code.
package orchestrator
