// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies
// it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolve returns one address for every host, in rank order: the first
// IPv4 address, or the first address if a host has no IPv4 one. Any
// host that cannot be resolved fails the whole call: a node that cannot
// reach one of its peers cannot take part in the job.
func Resolve(ctx context.Context, resolver Resolver, t Topology) ([]string, error) {
	addresses := make([]string, 0, len(t.hosts))
	for _, host := range t.hosts {
		found, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolving host %q: %w", host, err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("resolving host %q: no addresses", host)
		}
		addresses = append(addresses, preferIPv4(found))
	}
	return addresses, nil
}

func preferIPv4(found []string) string {
	for _, candidate := range found {
		if address, err := netip.ParseAddr(candidate); err == nil && address.Unmap().Is4() {
			return address.Unmap().String()
		}
	}
	return found[0]
}

// WriteIPList writes one address per line to path, which the workload's
// own launcher reads to find its peers. The file is replaced atomically.
func WriteIPList(path string, addresses []string) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".ip_list-*")
	if err != nil {
		return fmt.Errorf("creating ip list: %w", err)
	}
	writer := bufio.NewWriter(temporary)
	for _, address := range addresses {
		writer.WriteString(address)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return fmt.Errorf("writing ip list: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("closing ip list: %w", err)
	}
	if err := os.Chmod(temporary.Name(), 0644); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("setting ip list mode: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("renaming ip list into place: %w", err)
	}
	return nil
}
