// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"slices"
	"strconv"
)

// Role is the protocol branch a node executes.
type Role int

const (
	// Master is rank 0: it accepts workers, runs the workload, and
	// broadcasts termination.
	Master Role = iota

	// Worker is every other rank.
	Worker
)

// String returns "master" or "worker".
func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Worker:
		return "worker"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// Topology is the immutable description of one job's nodes.
type Topology struct {
	hosts   []string
	current string
	rank    int
}

// New builds a Topology. hosts must be non-empty with unique, non-empty
// entries, and current must be one of them.
func New(hosts []string, current string) (Topology, error) {
	if len(hosts) == 0 {
		return Topology{}, fmt.Errorf("host list is empty")
	}
	seen := make(map[string]struct{}, len(hosts))
	for index, host := range hosts {
		if host == "" {
			return Topology{}, fmt.Errorf("host %d is empty", index)
		}
		if _, duplicate := seen[host]; duplicate {
			return Topology{}, fmt.Errorf("host %q listed more than once", host)
		}
		seen[host] = struct{}{}
	}
	rank := slices.Index(hosts, current)
	if rank < 0 {
		return Topology{}, fmt.Errorf("current host %q is not in the host list %v", current, hosts)
	}
	return Topology{
		hosts:   slices.Clone(hosts),
		current: current,
		rank:    rank,
	}, nil
}

// Hosts returns a copy of the ordered host list.
func (t Topology) Hosts() []string { return slices.Clone(t.hosts) }

// Current returns the local host identifier.
func (t Topology) Current() string { return t.current }

// Rank returns the local host's index in the host list.
func (t Topology) Rank() int { return t.rank }

// WorldSize returns the number of nodes.
func (t Topology) WorldSize() int { return len(t.hosts) }

// MasterHost returns the rank 0 host identifier.
func (t Topology) MasterHost() string { return t.hosts[0] }

// Role returns Master for rank 0 and Worker otherwise.
func (t Topology) Role() Role {
	if t.rank == 0 {
		return Master
	}
	return Worker
}

// WorkerCount returns the number of non-master ranks.
func (t Topology) WorkerCount() int { return len(t.hosts) - 1 }
