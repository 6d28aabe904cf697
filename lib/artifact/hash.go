// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The same bytes
// hash differently in each domain.
type domainKey [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes.
// Changing one invalidates every manifest written with it.
var (
	fileDomainKey = domainKey{
		'm', 'u', 's', 't', 'e', 'r', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	bundleDomainKey = domainKey{
		'm', 'u', 's', 't', 'e', 'r', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// fileHasher streams file content through the file-domain hash.
type fileHasher struct {
	hasher *blake3.Hasher
	size   int64
}

func newFileHasher() *fileHasher {
	return &fileHasher{hasher: newKeyed(fileDomainKey)}
}

func (h *fileHasher) Write(data []byte) (int, error) {
	h.size += int64(len(data))
	return h.hasher.Write(data)
}

func (h *fileHasher) Sum() Hash { return sum(h.hasher) }

// HashFile returns the file-domain digest and length of everything
// read from reader.
func HashFile(reader io.Reader) (Hash, int64, error) {
	hasher := newFileHasher()
	if _, err := io.Copy(hasher, reader); err != nil {
		return Hash{}, 0, err
	}
	return hasher.Sum(), hasher.size, nil
}

// hashBundle returns the bundle-domain digest of an encoded manifest.
// It identifies a bundle version in logs.
func hashBundle(encodedManifest []byte) Hash {
	hasher := newKeyed(bundleDomainKey)
	hasher.Write(encodedManifest)
	return sum(hasher)
}

// FormatHash returns the hex encoding of a hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("artifact hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

func newKeyed(key domainKey) *blake3.Hasher {
	// NewKeyed only fails on a key that is not 32 bytes.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Hash {
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
