// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact stages job inputs onto a node and job outputs off
// it.
//
// A bundle is a named directory under a store root holding two files:
//
//	manifest.cbor        Manifest: every file's path, size, mode and
//	                     BLAKE3 digest (CBOR, Core Deterministic)
//	content.tar[.zst|.lz4]
//	                     the files themselves as one tar stream
//
// [DirectoryStore.Upload] builds a bundle from a local directory and
// publishes it with a rename. [DirectoryStore.Fetch] extracts one,
// verifying each file against the manifest as it is written, and
// refuses entries whose path would land outside the destination.
//
// Digests are BLAKE3 in keyed mode with a per-domain key, so a file
// digest can never collide with a bundle digest.
package artifact
