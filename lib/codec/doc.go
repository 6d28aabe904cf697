// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration shared by muster's
// wire protocol and its artifact manifests.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so a
// given frame or manifest always encodes to the same bytes. The decoder
// ignores unknown fields, which lets a newer master add frame fields
// without breaking older workers.
//
// Buffer-oriented (manifests on disk):
//
//	data, err := codec.Marshal(manifest)
//	err = codec.Unmarshal(data, &manifest)
//
// Stream-oriented (one encoder and one decoder per TCP connection):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that are only ever CBOR carry `cbor` struct tags.
package codec
