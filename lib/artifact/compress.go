// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the stream compression of a bundle's content
// archive. The name is recorded in the manifest, so a bundle can be
// read whatever the reader's own setting.
type Compression string

const (
	CompressionNone Compression = "none"

	// CompressionLZ4 is the LZ4 frame format. Fast, modest ratio;
	// suits checkpoints that are mostly float tensors.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd is zstd at the default level. Better ratios on
	// graph partitions and configs.
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

// extension is the content archive's file suffix.
func (c Compression) extension() string {
	switch c {
	case CompressionLZ4:
		return ".tar.lz4"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// nopWriteCloser adapts a writer whose Close must not close the
// underlying file.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps destination. Close flushes the compressor but
// leaves destination open.
func compressWriter(destination io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopWriteCloser{destination}, nil
	case CompressionLZ4:
		return lz4.NewWriter(destination), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// decompressReader wraps source. Close releases decoder resources but
// leaves source open.
func decompressReader(source io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case CompressionNone:
		return io.NopCloser(source), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(source)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}
