// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// portDomain prefixes the hashed job id so the port derivation never
// collides with another use of BLAKE3 over the same string.
const portDomain = "muster.port\x00"

// DerivePort maps jobID into [base, base+span). The mapping depends on
// nothing but its arguments.
func DerivePort(jobID string, base, span int) (int, error) {
	if jobID == "" {
		return 0, fmt.Errorf("job id is empty")
	}
	if base < 1 || span < 1 || base+span > 65536 {
		return 0, fmt.Errorf("port range [%d, %d) is not within 1..65535", base, base+span)
	}
	digest := blake3.Sum256([]byte(portDomain + jobID))
	offset := binary.BigEndian.Uint64(digest[:8]) % uint64(span)
	return base + int(offset), nil
}
