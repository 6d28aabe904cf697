// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Descriptor is the cluster description supplied by the deployment
// environment, for example:
//
//	{
//	  "hosts": ["algo-1", "algo-2", "algo-3"],
//	  "current_host": "algo-2",
//	  "job_name": "job-42",  // hashed into the master port
//	}
//
// Comments and trailing commas are accepted.
type Descriptor struct {
	Hosts       []string `json:"hosts"`
	CurrentHost string   `json:"current_host"`
	JobName     string   `json:"job_name"`
}

// ParseDescriptor decodes a JSONC descriptor.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var descriptor Descriptor
	if err := json.Unmarshal(jsonc.ToJSON(data), &descriptor); err != nil {
		return Descriptor{}, fmt.Errorf("parsing cluster descriptor: %w", err)
	}
	return descriptor, nil
}

// ReadDescriptor reads and decodes a descriptor file.
func ReadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading %s: %w", path, err)
	}
	descriptor, err := ParseDescriptor(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return descriptor, nil
}

// Topology builds the Topology the descriptor describes.
func (d Descriptor) Topology() (Topology, error) {
	return New(d.Hosts, d.CurrentHost)
}
