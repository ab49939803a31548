// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Source kinds used in logs and metric labels.
const (
	sourceLocal  = "local"
	sourceRemote = "remote"
)

// Source retrieves logical file bytes from a loaded build.
type Source interface {
	// GetFile resolves fileID for the active locale and decodes its content.
	GetFile(ctx context.Context, fileID uint32) ([]byte, error)
	// GetFileByName maps name through the listfile and calls GetFile.
	GetFileByName(ctx context.Context, name string) ([]byte, error)
	// GetFileByContentKey skips root resolution.
	GetFileByContentKey(ctx context.Context, ckey Key) ([]byte, error)
	// OpenFile returns a lazy block decoder for fileID.
	OpenFile(ctx context.Context, fileID uint32) (*BlockStream, error)
	// Root returns the loaded root table.
	Root() *RootTable
	// Encoding returns the loaded encoding table.
	Encoding() *EncodingTable
	Close() error
}

// encodedReader is the physical-location step of a source.
type encodedReader interface {
	// readEncoded returns n bytes at off inside the stored container of
	// ekey. n < 0 reads to the end of the container.
	readEncoded(ctx context.Context, ekey Key, off, n int64) ([]byte, error)
	// encodedSize returns the stored container size, or -1 when unknown.
	encodedSize(ekey Key) int64
	// dropEncoded evicts a locally cached copy of ekey and reports whether
	// one existed.
	dropEncoded(ekey Key) bool
}

// storage composes root, encoding and a physical reader into file retrieval.
type storage struct {
	reader   encodedReader
	root     *RootTable
	encoding *EncodingTable
	logger   *zap.Logger
	opts     SourceOptions
	kind     string
	closed   atomic.Bool
}

// Root returns the loaded root table.
func (s *storage) Root() *RootTable {
	return s.root
}

// Encoding returns the loaded encoding table.
func (s *storage) Encoding() *EncodingTable {
	return s.encoding
}

// GetFile implements Source.
func (s *storage) GetFile(ctx context.Context, fileID uint32) ([]byte, error) {
	data, err := s.getFile(ctx, fileID)
	s.opts.Metrics.fileFetched(s.kind, err)
	if err != nil {
		return nil, s.fileError(fileID, "", err)
	}

	return data, nil
}

// GetFileByName implements Source.
func (s *storage) GetFileByName(ctx context.Context, name string) ([]byte, error) {
	if s.opts.Listfile == nil {
		return nil, &FileError{Name: name, Err: ErrNoListfile}
	}

	fileID, ok := s.opts.Listfile.FileID(name)
	if !ok {
		return nil, &FileError{Name: name, Err: fmt.Errorf("%w: %q", ErrNameNotFound, name)}
	}

	data, err := s.getFile(ctx, fileID)
	s.opts.Metrics.fileFetched(s.kind, err)
	if err != nil {
		return nil, s.fileError(fileID, name, err)
	}

	return data, nil
}

// GetFileByContentKey implements Source.
func (s *storage) GetFileByContentKey(ctx context.Context, ckey Key) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	data, err := s.fetchContent(ctx, ckey)
	s.opts.Metrics.fileFetched(s.kind, err)
	if err != nil {
		s.logger.Debug("fetch content failed", zap.Stringer("ckey", ckey), zap.Error(err))
		return nil, fmt.Errorf("content %s: %w", ckey, err)
	}

	return data, nil
}

// OpenFile implements Source.
func (s *storage) OpenFile(ctx context.Context, fileID uint32) (*BlockStream, error) {
	stream, err := s.openFile(ctx, fileID)
	if err != nil {
		return nil, s.fileError(fileID, "", err)
	}

	return stream, nil
}

// getFile runs the full resolution pipeline for one file ID.
func (s *storage) getFile(ctx context.Context, fileID uint32) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ckey, err := s.root.Resolve(fileID, s.opts.Locale)
	if err != nil {
		return nil, err
	}

	return s.fetchContent(ctx, ckey)
}

// resolveEncodingKey maps a content key to its canonical encoding key.
func (s *storage) resolveEncodingKey(ckey Key) (Key, error) {
	entry, ok := s.encoding.Lookup(ckey)
	if !ok {
		return Key{}, fmt.Errorf("%w: %s", ErrContentKeyNotFound, ckey)
	}

	return entry.EKey, nil
}

// fetchContent resolves ckey and decodes its container.
func (s *storage) fetchContent(ctx context.Context, ckey Key) ([]byte, error) {
	ekey, err := s.resolveEncodingKey(ckey)
	if err != nil {
		return nil, err
	}

	return s.fetchEncoded(ctx, ekey)
}

// fetchEncoded reads the whole container of ekey, checks its identity and decodes it.
func (s *storage) fetchEncoded(ctx context.Context, ekey Key) ([]byte, error) {
	raw, err := s.reader.readEncoded(ctx, ekey, 0, -1)
	if err != nil {
		return nil, err
	}

	s.opts.Metrics.bytesRead(s.kind, len(raw))
	data, err := DecodeBLTE(raw, &ekey, s.blteOptions())
	if err == nil || !errors.Is(err, ErrIntegrity) || !s.reader.dropEncoded(ekey) {
		return data, err
	}

	s.logger.Warn("refetching corrupt cached container", zap.Stringer("ekey", ekey), zap.Error(err))
	if raw, err = s.reader.readEncoded(ctx, ekey, 0, -1); err != nil {
		return nil, err
	}

	s.opts.Metrics.bytesRead(s.kind, len(raw))
	return DecodeBLTE(raw, &ekey, s.blteOptions())
}

// openFile reads only the container header and returns a stream that
// fetches block payloads as they are requested.
func (s *storage) openFile(ctx context.Context, fileID uint32) (*BlockStream, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ckey, err := s.root.Resolve(fileID, s.opts.Locale)
	if err != nil {
		return nil, err
	}

	ekey, err := s.resolveEncodingKey(ckey)
	if err != nil {
		return nil, err
	}

	header, err := s.readHeader(ctx, ekey)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, _ int, desc BlockDescriptor) ([]byte, error) {
		payload, err := s.reader.readEncoded(ctx, ekey, desc.Offset, int64(desc.CompressedSize))
		if err == nil {
			s.opts.Metrics.bytesRead(s.kind, len(payload))
		}

		return payload, err
	}

	return NewBlockStream(header, fetch, BlockStreamOptions{BLTEOptions: s.blteOptions()})
}

// readHeader fetches and verifies the container header of ekey. Headerless
// containers are hashed in full, so their single block is read here too.
func (s *storage) readHeader(ctx context.Context, ekey Key) (*BLTEHeader, error) {
	head, err := s.reader.readEncoded(ctx, ekey, 0, 8)
	if err != nil {
		return nil, err
	}

	need, err := BLTEHeaderSize(head)
	if err != nil {
		return nil, err
	}

	total := s.reader.encodedSize(ekey)
	if need == 8 {
		head, err = s.reader.readEncoded(ctx, ekey, 0, -1)
		if err != nil {
			return nil, err
		}
		total = int64(len(head))
	} else if head, err = s.reader.readEncoded(ctx, ekey, 0, int64(need)); err != nil {
		return nil, err
	}

	header, err := ParseBLTEHeader(head, total)
	if err != nil {
		return nil, err
	}

	if err := verifyContainerKey(head, header, ekey); err != nil {
		return nil, err
	}

	return header, nil
}

// blteOptions derives decoder options from the source options.
func (s *storage) blteOptions() BLTEOptions {
	return BLTEOptions{
		Keys:                s.opts.Keys,
		ZeroFillMissingKeys: s.opts.ZeroFillMissingKeys,
	}
}

// fileError wraps err at the API boundary and logs it with its category.
func (s *storage) fileError(fileID uint32, name string, err error) error {
	s.logger.Debug("file fetch failed",
		zap.Uint32("file_id", fileID),
		zap.String("name", name),
		zap.String("category", outcomeLabel(err)),
		zap.Error(err),
	)

	return &FileError{FileID: fileID, Name: name, Err: err}
}

// loadTables reads the encoding table by encoding key and then the root table
// through it.
func (s *storage) loadTables(ctx context.Context, build *BuildConfig) error {
	encData, err := s.fetchEncoded(ctx, build.EncodingEKey)
	if err != nil {
		return fmt.Errorf("load encoding %s: %w", build.EncodingEKey, err)
	}

	if s.encoding, err = ParseEncoding(encData); err != nil {
		return fmt.Errorf("parse encoding: %w", err)
	}

	rootData, err := s.fetchContent(ctx, build.Root)
	if err != nil {
		return fmt.Errorf("load root %s: %w", build.Root, err)
	}

	if s.root, err = ParseRoot(rootData); err != nil {
		return fmt.Errorf("parse root: %w", err)
	}

	total, named := s.root.FileCounts()
	s.logger.Info("loaded build",
		zap.String("build", build.BuildName),
		zap.Int("encoding_entries", s.encoding.Len()),
		zap.Int("root_files", s.root.Len()),
		zap.Uint32("root_total", total),
		zap.Uint32("root_named", named),
	)

	return nil
}
