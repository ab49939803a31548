// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cacheManifestName is the per-build bookkeeping file.
const cacheManifestName = "manifest.json"

// cacheManifest records per-build cache bookkeeping.
type cacheManifest struct {
	LastAccess time.Time `json:"last_access"`
	Created    time.Time `json:"created,omitzero"`
	BuildKey   string    `json:"build_key,omitempty"`
}

// BuildCache is an on-disk blob store scoped to one build key.
// It is safe for concurrent use.
type BuildCache struct {
	opts     BuildCacheOptions
	logger   *zap.Logger
	matcher  *compressMatcher
	timer    *time.Timer
	manifest cacheManifest
	dir      string
	mu       sync.Mutex
	dirty    bool
	closed   bool
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	// Removed lists build keys whose directories were deleted.
	Removed []string `json:"removed,omitempty" yaml:"removed,omitempty"`
	// Kept is the number of build directories left in place.
	Kept int `json:"kept" yaml:"kept"`
	// Failed is the number of directories that could not be inspected or removed.
	Failed int `json:"failed" yaml:"failed"`
}

// OpenBuildCache creates root/buildKey if absent, loads its manifest
// (missing or corrupt manifests start fresh), stamps a new access time and
// persists it.
func OpenBuildCache(root, buildKey string, opts BuildCacheOptions) (*BuildCache, error) {
	opts.applyDefaults()

	buildKey = strings.TrimSpace(buildKey)
	if buildKey == "" || strings.ContainsAny(buildKey, `/\`) || buildKey == "." || buildKey == ".." {
		return nil, fmt.Errorf("%w: build key %q", ErrInvalidCachePath, buildKey)
	}

	matcher, err := newCompressMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, err
	}

	c := &BuildCache{
		opts:    opts,
		logger:  opts.Logger.Named("cache").With(zap.String("build", buildKey)),
		matcher: matcher,
		dir:     filepath.Join(root, buildKey),
	}

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	manifest, err := readCacheManifest(c.dir)
	if err != nil {
		c.logger.Warn("discarding cache manifest", zap.Error(err))
	}

	now := time.Now().UTC()
	if manifest.Created.IsZero() {
		manifest.Created = now
	}
	manifest.BuildKey = buildKey
	manifest.LastAccess = now
	c.manifest = manifest

	if err := c.writeManifestLocked(); err != nil {
		return nil, err
	}

	return c, nil
}

// Dir returns the build directory.
func (c *BuildCache) Dir() string {
	return c.dir
}

// FilePath returns the absolute on-disk path for name.
func (c *BuildCache) FilePath(name string) (string, error) {
	clean, err := normalizeCacheName(name)
	if err != nil {
		return "", err
	}

	if clean == cacheManifestName || strings.HasSuffix(clean, compressedBlobExt) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidCachePath, name)
	}

	return filepath.Join(c.dir, filepath.FromSlash(clean)), nil
}

// HasFile reports whether name is stored in either raw or compressed form.
func (c *BuildCache) HasFile(name string) bool {
	p, err := c.FilePath(name)
	if err != nil {
		return false
	}

	if fileExists(p) || fileExists(p+compressedBlobExt) {
		return true
	}

	return false
}

// GetFile returns the stored blob. ok is false when name is not cached.
func (c *BuildCache) GetFile(name string) (data []byte, ok bool, err error) {
	p, err := c.FilePath(name)
	if err != nil {
		return nil, false, err
	}

	c.touch()

	data, err = os.ReadFile(p)
	if err == nil {
		c.opts.Metrics.cacheLookup(true)
		return data, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	blob, err := os.ReadFile(p + compressedBlobExt)
	if errors.Is(err, os.ErrNotExist) {
		c.opts.Metrics.cacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	data, err = decompressBlob(blob)
	if err != nil {
		c.logger.Warn("dropping corrupt cache entry", zap.String("name", name), zap.Error(err))
		_ = os.Remove(p + compressedBlobExt)
		c.opts.Metrics.cacheLookup(false)
		return nil, false, err
	}

	c.opts.Metrics.cacheLookup(true)
	return data, true, nil
}

// StoreFile writes data under name, replacing any previous entry. Entries
// selected by the compression rules are stored LZSS-compressed when that
// makes them smaller.
func (c *BuildCache) StoreFile(name string, data []byte) error {
	p, err := c.FilePath(name)
	if err != nil {
		return err
	}

	c.touch()

	out, target, stale := data, p, p+compressedBlobExt
	if shouldCompress(c.opts, c.matcher, name, len(data)) {
		blob, ok, err := compressBlob(data)
		if err != nil {
			return err
		}

		if ok {
			out, target, stale = blob, p+compressedBlobExt, p
		}
	}

	if err := writeFileAtomic(target, out); err != nil {
		return fmt.Errorf("store cache entry %s: %w", name, err)
	}

	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("remove stale cache entry", zap.String("path", stale), zap.Error(err))
	}

	return nil
}

// RemoveFile deletes name in both stored forms and reports whether an entry existed.
func (c *BuildCache) RemoveFile(name string) (bool, error) {
	p, err := c.FilePath(name)
	if err != nil {
		return false, err
	}

	removed := false
	for _, target := range []string{p, p + compressedBlobExt} {
		err := os.Remove(target)
		switch {
		case err == nil:
			removed = true
		case !errors.Is(err, os.ErrNotExist):
			return removed, fmt.Errorf("remove cache entry %s: %w", name, err)
		}
	}

	return removed, nil
}

// LastAccess returns the manifest access time.
func (c *BuildCache) LastAccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.manifest.LastAccess
}

// Flush writes a pending manifest update immediately.
func (c *BuildCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if !c.dirty {
		return nil
	}

	if err := c.writeManifestLocked(); err != nil {
		return err
	}

	c.dirty = false
	return nil
}

// Close flushes the manifest and stops scheduling writes.
func (c *BuildCache) Close() error {
	err := c.Flush()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return err
}

// touch refreshes the access time and schedules a debounced manifest write.
func (c *BuildCache) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manifest.LastAccess = time.Now().UTC()
	c.dirty = true
	if c.closed {
		return
	}

	if c.timer != nil {
		c.timer.Reset(c.opts.SaveDelay)
		return
	}

	c.timer = time.AfterFunc(c.opts.SaveDelay, func() {
		if err := c.Flush(); err != nil {
			c.logger.Warn("persist cache manifest", zap.Error(err))
		}
	})
}

// writeManifestLocked persists the manifest.
func (c *BuildCache) writeManifestLocked() error {
	data, err := json.MarshalIndent(c.manifest, "", "\t")
	if err != nil {
		return fmt.Errorf("encode cache manifest: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(c.dir, cacheManifestName), data); err != nil {
		return fmt.Errorf("write cache manifest: %w", err)
	}

	return nil
}

// readCacheManifest loads dir's manifest. A missing file yields a zero manifest.
func readCacheManifest(dir string) (cacheManifest, error) {
	var m cacheManifest
	data, err := os.ReadFile(filepath.Join(dir, cacheManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, err
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return cacheManifest{}, fmt.Errorf("parse cache manifest: %w", err)
	}

	return m, nil
}

// SweepBuildCaches deletes build directories under root whose last access is
// older than expiry. A zero expiry disables the sweep. Directories without a
// readable manifest are judged by their modification time.
func SweepBuildCaches(root string, expiry time.Duration, logger *zap.Logger) (SweepResult, error) {
	var res SweepResult
	if expiry <= 0 {
		return res, nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache")

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("list cache root: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		last, err := lastCacheAccess(dir, entry)
		if err != nil {
			logger.Warn("inspect build cache", zap.String("dir", dir), zap.Error(err))
			res.Failed++
			continue
		}

		age := now.Sub(last)
		if age <= expiry {
			res.Kept++
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove expired build cache", zap.String("dir", dir), zap.Error(err))
			res.Failed++
			continue
		}

		logger.Info("removed expired build cache", zap.String("build", entry.Name()), zap.Duration("age", age))
		res.Removed = append(res.Removed, entry.Name())
	}

	return res, nil
}

// lastCacheAccess reads the manifest access time, falling back to the directory mtime.
func lastCacheAccess(dir string, entry os.DirEntry) (time.Time, error) {
	m, err := readCacheManifest(dir)
	if err == nil && !m.LastAccess.IsZero() {
		return m.LastAccess, nil
	}

	info, err := entry.Info()
	if err != nil {
		return time.Time{}, err
	}

	return info.ModTime(), nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
