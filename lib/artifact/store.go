// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsafePath means a bundle entry would be written outside the
	// destination directory.
	ErrUnsafePath = errors.New("unsafe path in bundle")

	// ErrDigestMismatch means an extracted file does not match the
	// digest or size its manifest records.
	ErrDigestMismatch = errors.New("artifact digest mismatch")

	// ErrCorruptBundle means the archive and manifest disagree or the
	// manifest is malformed.
	ErrCorruptBundle = errors.New("corrupt bundle")

	// ErrBundleNotFound means no bundle of that name exists.
	ErrBundleNotFound = errors.New("bundle not found")
)

const (
	manifestName = "manifest.cbor"
	contentName  = "content"
)

// Transfer names the two ends of one artifact copy. For Fetch, Source
// is a bundle name and Destination a local directory. For Upload,
// Source is a local directory and Destination a bundle name.
type Transfer struct {
	Source      string
	Destination string
}

// Stager moves job inputs onto a node before training and job outputs
// off it afterwards.
type Stager interface {
	Fetch(ctx context.Context, transfer Transfer) error
	Upload(ctx context.Context, transfer Transfer) error
}

// DirectoryStore keeps bundles as subdirectories of Root, typically
// a shared filesystem mounted on every node. Each bundle directory
// holds a CBOR manifest and a compressed tar of the files.
type DirectoryStore struct {
	Root string

	// Compression applies to bundles this store writes. Default zstd.
	Compression Compression

	Logger *slog.Logger
}

var _ Stager = (*DirectoryStore)(nil)

func (s *DirectoryStore) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

func (s *DirectoryStore) bundleDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid bundle name %q", name)
	}
	return filepath.Join(s.Root, name), nil
}

// Upload archives the regular files under transfer.Source into the
// bundle transfer.Destination, replacing any previous bundle of that
// name. The new bundle is built in a temporary directory and renamed
// into place, so readers see the old bundle or the new one.
func (s *DirectoryStore) Upload(ctx context.Context, transfer Transfer) error {
	bundle, err := s.bundleDir(transfer.Destination)
	if err != nil {
		return err
	}
	info, err := os.Stat(transfer.Source)
	if err != nil {
		return fmt.Errorf("upload source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload source %s is not a directory", transfer.Source)
	}
	compression := s.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return err
	}

	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("creating artifact root: %w", err)
	}
	staging, err := os.MkdirTemp(s.Root, "."+transfer.Destination+".upload-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	manifest := &Manifest{Version: manifestVersion, Compression: compression}
	contentPath := filepath.Join(staging, contentName+compression.extension())
	if err := writeArchive(ctx, transfer.Source, contentPath, compression, manifest); err != nil {
		return err
	}
	manifest.sortFiles()
	bundleHash, err := writeManifest(filepath.Join(staging, manifestName), manifest)
	if err != nil {
		return err
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return fmt.Errorf("publishing bundle: %w", err)
	}

	if err := os.RemoveAll(bundle); err != nil {
		return fmt.Errorf("replacing bundle %s: %w", transfer.Destination, err)
	}
	if err := os.Rename(staging, bundle); err != nil {
		return fmt.Errorf("publishing bundle %s: %w", transfer.Destination, err)
	}

	s.logger().Info("bundle uploaded",
		"bundle", transfer.Destination,
		"files", len(manifest.Files),
		"compression", string(compression),
		"digest", FormatHash(bundleHash),
	)
	return nil
}

// writeArchive tars every regular file under source into contentPath
// and records each one in manifest.
func writeArchive(ctx context.Context, source, contentPath string, compression Compression, manifest *Manifest) (err error) {
	file, err := os.Create(contentPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("closing archive: %w", closeErr)
		}
	}()

	compressor, err := compressWriter(file, compression)
	if err != nil {
		return err
	}
	archive := tar.NewWriter(compressor)

	walkErr := filepath.WalkDir(source, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(source, filePath)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		fileEntry, err := appendFile(archive, filePath, filepath.ToSlash(relative), info)
		if err != nil {
			return fmt.Errorf("archiving %s: %w", relative, err)
		}
		manifest.Files = append(manifest.Files, fileEntry)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("flushing %s stream: %w", compression, err)
	}
	return nil
}

func appendFile(archive *tar.Writer, filePath, name string, info fs.FileInfo) (FileEntry, error) {
	source, err := os.Open(filePath)
	if err != nil {
		return FileEntry{}, err
	}
	defer source.Close()

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	}
	if err := archive.WriteHeader(header); err != nil {
		return FileEntry{}, err
	}
	hasher := newFileHasher()
	written, err := io.Copy(io.MultiWriter(archive, hasher), source)
	if err != nil {
		return FileEntry{}, err
	}
	if written != info.Size() {
		return FileEntry{}, fmt.Errorf("file changed size while archiving (%d bytes, expected %d)", written, info.Size())
	}
	return FileEntry{
		Path:   name,
		Size:   written,
		Mode:   uint32(info.Mode().Perm()),
		Digest: hasher.Sum(),
	}, nil
}

// Fetch extracts the bundle transfer.Source into the directory
// transfer.Destination, creating it if needed. Files are extracted
// into a staging directory beside the destination and checked against
// the manifest's size and digest; the first mismatch aborts the fetch
// with the destination untouched. Only a fully verified bundle is
// moved into place.
func (s *DirectoryStore) Fetch(ctx context.Context, transfer Transfer) error {
	bundle, err := s.bundleDir(transfer.Source)
	if err != nil {
		return err
	}
	manifest, bundleHash, err := readManifest(filepath.Join(bundle, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBundleNotFound, transfer.Source)
		}
		return fmt.Errorf("bundle %s: %w", transfer.Source, err)
	}

	content, err := os.Open(filepath.Join(bundle, contentName+manifest.Compression.extension()))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptBundle, transfer.Source, err)
	}
	defer content.Close()
	decompressor, err := decompressReader(content, manifest.Compression)
	if err != nil {
		return err
	}
	defer decompressor.Close()

	destination := filepath.Clean(transfer.Destination)
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("creating fetch destination: %w", err)
	}
	staging, err := os.MkdirTemp(filepath.Dir(destination), ".muster-fetch-*")
	if err != nil {
		return fmt.Errorf("creating fetch staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	expected := manifest.index()
	extracted := make(map[string]bool, len(expected))
	archive := tar.NewReader(decompressor)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptBundle, transfer.Source, err)
		}
		if err := checkRelativePath(header.Name); err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			return fmt.Errorf("%w: %s: entry %q is not a regular file", ErrCorruptBundle, transfer.Source, header.Name)
		}
		entry, listed := expected[header.Name]
		if !listed || extracted[header.Name] {
			return fmt.Errorf("%w: %s: entry %q not in manifest", ErrCorruptBundle, transfer.Source, header.Name)
		}
		if err := extractFile(archive, staging, entry); err != nil {
			return err
		}
		extracted[header.Name] = true
	}
	if len(extracted) != len(expected) {
		return fmt.Errorf("%w: %s: archive has %d of %d manifest files", ErrCorruptBundle, transfer.Source, len(extracted), len(expected))
	}
	if err := publishStaged(staging, destination, manifest.Files); err != nil {
		return fmt.Errorf("publishing %s: %w", transfer.Source, err)
	}

	s.logger().Info("bundle fetched",
		"bundle", transfer.Source,
		"destination", transfer.Destination,
		"files", len(extracted),
		"digest", FormatHash(bundleHash),
	)
	return nil
}

// publishStaged moves every verified file from staging into
// destination, replacing files of the same name. Both directories
// share a parent, so each move is a rename.
func publishStaged(staging, destination string, files []FileEntry) error {
	for _, entry := range files {
		relative := filepath.FromSlash(entry.Path)
		target := filepath.Join(destination, relative)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(staging, relative), target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(source io.Reader, destinationRoot string, entry FileEntry) (err error) {
	target := filepath.Join(destinationRoot, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(entry.Mode)&fs.ModePerm|0o200)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	hasher := newFileHasher()
	written, err := io.Copy(io.MultiWriter(file, hasher), io.LimitReader(source, entry.Size+1))
	if err != nil {
		return fmt.Errorf("extracting %s: %w", entry.Path, err)
	}
	if written != entry.Size || hasher.Sum() != entry.Digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, entry.Path)
	}
	return nil
}

// checkRelativePath rejects absolute paths, parent references, and
// anything else that would resolve outside the extraction root.
func checkRelativePath(name string) error {
	if name == "" || path.IsAbs(name) || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if path.Clean(name) != name {
		return fmt.Errorf("%w: %q is not clean", ErrUnsafePath, name)
	}
	return nil
}
