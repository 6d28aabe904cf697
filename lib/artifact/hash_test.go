// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"strings"
	"testing"
)

func TestDomainKeysSeparateHashes(t *testing.T) {
	input := []byte("the same bytes in both domains")

	fileHash, _, err := HashFile(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fileHash == hashBundle(input) {
		t.Error("file and bundle domains produced the same hash for identical input")
	}
}

func TestDomainKeysArePaddedNames(t *testing.T) {
	for name, key := range map[string]domainKey{
		"muster.artifact.file":   fileDomainKey,
		"muster.artifact.bundle": bundleDomainKey,
	} {
		if got := string(bytes.TrimRight(key[:], "\x00")); got != name {
			t.Errorf("domain key reads %q, want %q", got, name)
		}
	}
}

func TestHashFileStreamsAndCountsBytes(t *testing.T) {
	content := strings.Repeat("graph partition ", 10000)

	streamed, size, err := HashFile(strings.NewReader(content))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}

	// Writing in uneven pieces must give the same digest.
	hasher := newFileHasher()
	for offset := 0; offset < len(content); offset += 777 {
		end := min(offset+777, len(content))
		hasher.Write([]byte(content[offset:end]))
	}
	if hasher.Sum() != streamed {
		t.Error("piecewise digest differs from streamed digest")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	hash, _, _ := HashFile(strings.NewReader("checkpoint"))
	parsed, err := ParseHash(FormatHash(hash))
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Errorf("ParseHash(FormatHash(h)) = %x, want %x", parsed, hash)
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("ParseHash accepted a 2-byte hash")
	}
	if _, err := ParseHash(strings.Repeat("zz", 32)); err == nil {
		t.Error("ParseHash accepted non-hex input")
	}
}
