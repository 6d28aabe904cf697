// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bureau-foundation/muster/lib/codec"
)

// manifestVersion is bumped on any incompatible manifest change.
const manifestVersion = 1

// Manifest lists the files in a bundle. It is stored next to the
// content archive as CBOR and read before the archive, so every file
// extracted can be checked against it.
type Manifest struct {
	Version     int         `json:"version"`
	Compression Compression `json:"compression"`
	Files       []FileEntry `json:"files"`
}

// FileEntry is one regular file in a bundle.
type FileEntry struct {
	// Path is slash-separated and relative to the bundle root.
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Mode   uint32 `json:"mode"`
	Digest Hash   `json:"digest"`
}

// index returns the entries keyed by path.
func (m *Manifest) index() map[string]FileEntry {
	entries := make(map[string]FileEntry, len(m.Files))
	for _, entry := range m.Files {
		entries[entry.Path] = entry
	}
	return entries
}

// validate checks the manifest before any extraction starts.
func (m *Manifest) validate() error {
	if m.Version != manifestVersion {
		return fmt.Errorf("manifest version %d, want %d", m.Version, manifestVersion)
	}
	if _, err := ParseCompression(string(m.Compression)); err != nil {
		return err
	}
	seen := make(map[string]bool, len(m.Files))
	for _, entry := range m.Files {
		if err := checkRelativePath(entry.Path); err != nil {
			return err
		}
		if seen[entry.Path] {
			return fmt.Errorf("manifest lists %q twice", entry.Path)
		}
		seen[entry.Path] = true
	}
	return nil
}

func (m *Manifest) sortFiles() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

func writeManifest(path string, manifest *Manifest) (Hash, error) {
	encoded, err := codec.Marshal(manifest)
	if err != nil {
		return Hash{}, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return Hash{}, fmt.Errorf("writing manifest: %w", err)
	}
	return hashBundle(encoded), nil
}

func readManifest(path string) (*Manifest, Hash, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest Manifest
	if err := codec.Unmarshal(encoded, &manifest); err != nil {
		return nil, Hash{}, fmt.Errorf("decoding manifest %s: %w", filepath.Base(path), err)
	}
	if err := manifest.validate(); err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %w", ErrCorruptBundle, err)
	}
	return &manifest, hashBundle(encoded), nil
}
