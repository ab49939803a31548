// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Local install layout below the game directory.
const (
	buildInfoFile  = ".build.info"
	localDataDir   = "Data"
	localIndexDir  = "data"
	localConfigDir = "config"
)

// LocalSource reads files from an installed archive set.
type LocalSource struct {
	storage
	index   *LocalIndex
	build   *BuildConfig
	files   map[int]*os.File
	dataDir string
	mu      sync.Mutex
}

var _ Source = (*LocalSource)(nil)

// OpenLocal loads the build selected by .build.info (or opts.BuildKey) from
// the game directory dir: build config, archive indexes, encoding and root.
func OpenLocal(ctx context.Context, dir string, opts LocalOptions) (*LocalSource, error) {
	opts.applyDefaults()
	logger := opts.Logger.Named(sourceLocal)

	buildKey := opts.BuildKey
	if buildKey == "" {
		f, err := os.Open(filepath.Join(dir, buildInfoFile))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", buildInfoFile, err)
		}

		records, err := ParseBuildInfo(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", buildInfoFile, err)
		}

		rec, err := SelectBuildInfo(records, opts.Product)
		if err != nil {
			return nil, err
		}

		buildKey = rec.BuildKey
		logger.Debug("selected build", zap.String("product", rec.Product), zap.String("version", rec.Version))
	}

	key, err := ParseKey(buildKey)
	if err != nil {
		return nil, fmt.Errorf("build key: %w", err)
	}

	dataRoot := filepath.Join(dir, localDataDir)
	cfgData, err := os.ReadFile(filepath.Join(dataRoot, localConfigDir, filepath.FromSlash(key.CDNPath())))
	if err != nil {
		return nil, fmt.Errorf("read build config: %w", err)
	}

	build, err := ParseBuildConfig(cfgData)
	if err != nil {
		return nil, fmt.Errorf("build config %s: %w", key, err)
	}

	dataDir := filepath.Join(dataRoot, localIndexDir)
	index, err := LoadLocalIndexes(dataDir)
	if err != nil {
		return nil, err
	}

	s := &LocalSource{
		index:   index,
		build:   build,
		files:   make(map[int]*os.File),
		dataDir: dataDir,
	}
	s.reader = s
	s.logger = logger.With(zap.String("build", key.String()))
	s.opts = opts.SourceOptions
	s.kind = sourceLocal

	if err := s.loadTables(ctx, build); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Build returns the loaded build config.
func (s *LocalSource) Build() *BuildConfig {
	return s.build
}

// Index returns the merged archive index.
func (s *LocalSource) Index() *LocalIndex {
	return s.index
}

// Close releases open data.NNN handles.
func (s *LocalSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for n, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data.%03d: %w", n, err))
		}
	}
	s.files = nil

	return errors.Join(errs...)
}

// encodedSize returns the indexed size without the per-entry header.
func (s *LocalSource) encodedSize(ekey Key) int64 {
	loc, ok := s.index.Lookup(ekey)
	if !ok || loc.Size < localEntryHeader {
		return -1
	}

	return int64(loc.Size) - localEntryHeader
}

// dropEncoded reports false; archives are read in place.
func (s *LocalSource) dropEncoded(Key) bool {
	return false
}

// readEncoded reads from data.NNN, skipping the 30-byte entry header.
func (s *LocalSource) readEncoded(ctx context.Context, ekey Key, off, n int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loc, ok := s.index.Lookup(ekey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEncodingKeyNotIndexed, ekey)
	}

	size := int64(loc.Size) - localEntryHeader
	if size < 0 {
		return nil, fmt.Errorf("%w: entry %s smaller than its header", ErrMalformedIndex, ekey)
	}

	if n < 0 {
		n = size - off
	}

	if off < 0 || n < 0 || off+n > size {
		return nil, fmt.Errorf("%w: range %d+%d outside entry of %d bytes", ErrShortRead, off, n, size)
	}

	f, err := s.dataFile(loc.Archive)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, int64(loc.Offset)+localEntryHeader+off); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: data.%03d truncated at %d", ErrShortRead, loc.Archive, loc.Offset)
		}

		return nil, fmt.Errorf("read data.%03d: %w", loc.Archive, err)
	}

	return buf, nil
}

// dataFile returns a shared handle for data.NNN, opening it on first use.
func (s *LocalSource) dataFile(archive int) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files == nil {
		return nil, ErrClosed
	}

	if f, ok := s.files[archive]; ok {
		return f, nil
	}

	name := fmt.Sprintf("data.%03d", archive)
	f, err := os.Open(filepath.Join(s.dataDir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	s.files[archive] = f
	return f, nil
}
