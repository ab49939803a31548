// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// maxConcurrentIndexFetches bounds parallel CDN index downloads.
	maxConcurrentIndexFetches = 8
	// maxPatchDocSize bounds versions and cdns downloads.
	maxPatchDocSize = 4 * 1024 * 1024
)

// RemoteSource reads files from CDN hosts through ranged HTTP requests.
type RemoteSource struct {
	storage
	client   *http.Client
	resolver *HostResolver
	cache    *BuildCache
	index    *CDNIndex
	build    *BuildConfig
	cdn      CDNRecord
	version  VersionRecord
	ropts    RemoteOptions
}

var _ Source = (*RemoteSource)(nil)

// OpenRemote selects a build from the patch server (or the supplied
// versions and cdns rows), ranks the region's CDN hosts and loads configs,
// archive indexes, encoding and root. Downloaded configs, indexes and tables
// are kept in the build cache when CacheDir is set.
func OpenRemote(ctx context.Context, opts RemoteOptions) (*RemoteSource, error) {
	opts.applyDefaults()
	logger := opts.Logger.Named(sourceRemote).With(zap.String("region", opts.Region), zap.String("product", opts.Product))

	s := &RemoteSource{
		client:   opts.HTTPClient,
		resolver: opts.Resolver,
		ropts:    opts,
	}
	s.reader = s
	s.logger = logger
	s.opts = opts.SourceOptions
	s.kind = sourceRemote

	if s.resolver == nil {
		s.resolver = NewHostResolver(opts.Hosts)
	}

	if err := s.selectBuild(ctx); err != nil {
		return nil, err
	}

	if err := s.load(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// selectBuild picks the versions and cdns rows for the configured region.
func (s *RemoteSource) selectBuild(ctx context.Context) error {
	versions := s.ropts.Versions
	if versions == nil {
		doc, err := s.fetchPatchDoc(ctx, "versions")
		if err != nil {
			return err
		}

		if versions, err = ParseVersions(bytes.NewReader(doc)); err != nil {
			return fmt.Errorf("parse versions: %w", err)
		}
	}

	cdns := s.ropts.CDNs
	if cdns == nil {
		doc, err := s.fetchPatchDoc(ctx, "cdns")
		if err != nil {
			return err
		}

		if cdns, err = ParseCDNs(bytes.NewReader(doc)); err != nil {
			return fmt.Errorf("parse cdns: %w", err)
		}
	}

	var err error
	if s.version, err = SelectVersion(versions, s.ropts.Region); err != nil {
		return err
	}

	if s.cdn, err = SelectCDN(cdns, s.ropts.Region); err != nil {
		return err
	}

	if s.ropts.BuildKey != "" {
		s.version.BuildConfig = s.ropts.BuildKey
	}

	return nil
}

// load fetches configs, indexes and tables of the selected build.
func (s *RemoteSource) load(ctx context.Context) error {
	buildKey, err := ParseKey(s.version.BuildConfig)
	if err != nil {
		return fmt.Errorf("build config key: %w", err)
	}

	cdnKey, err := ParseKey(s.version.CDNConfig)
	if err != nil {
		return fmt.Errorf("cdn config key: %w", err)
	}

	s.logger = s.logger.With(zap.String("build", buildKey.String()))

	if s.ropts.CacheDir != "" {
		if s.cache, err = OpenBuildCache(s.ropts.CacheDir, buildKey.String(), s.ropts.Cache); err != nil {
			return err
		}

		res, err := SweepBuildCaches(s.ropts.CacheDir, s.ropts.CacheExpiry, s.logger)
		if err != nil {
			s.logger.Warn("sweep build caches", zap.Error(err))
		} else if len(res.Removed) > 0 {
			s.logger.Info("swept build caches", zap.Int("removed", len(res.Removed)), zap.Int("kept", res.Kept))
		}
	}

	ranked, err := s.hosts(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("selected CDN host", zap.String("host", ranked[0].Host), zap.Duration("latency", ranked[0].Latency))

	buildData, err := s.fetchCached(ctx, "config/"+buildKey.String(), "config/"+buildKey.CDNPath())
	if err != nil {
		return fmt.Errorf("fetch build config: %w", err)
	}

	if s.build, err = ParseBuildConfig(buildData); err != nil {
		return fmt.Errorf("build config %s: %w", buildKey, err)
	}

	cdnData, err := s.fetchCached(ctx, "config/"+cdnKey.String(), "config/"+cdnKey.CDNPath())
	if err != nil {
		return fmt.Errorf("fetch cdn config: %w", err)
	}

	cdnConfig, err := ParseCDNConfig(cdnData)
	if err != nil {
		return fmt.Errorf("cdn config %s: %w", cdnKey, err)
	}

	if s.index, err = s.loadIndexes(ctx, cdnConfig.Archives); err != nil {
		return err
	}

	return s.loadTables(ctx, s.build)
}

// loadIndexes downloads and merges the .index file of every archive.
func (s *RemoteSource) loadIndexes(ctx context.Context, archives []Key) (*CDNIndex, error) {
	parsed := make([]*CDNIndex, len(archives))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIndexFetches)

	for i, archive := range archives {
		g.Go(func() error {
			data, err := s.fetchCached(gctx, "indexes/"+archive.String()+".index", "data/"+archive.CDNPath()+".index")
			if err != nil {
				return fmt.Errorf("fetch index %s: %w", archive, err)
			}

			idx, err := ParseCDNIndex(data, archive)
			if err != nil {
				return fmt.Errorf("index %s: %w", archive, err)
			}

			parsed[i] = idx
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := NewCDNIndex()
	for _, idx := range parsed {
		merged.Merge(idx)
	}

	s.logger.Debug("loaded archive indexes", zap.Int("archives", len(archives)), zap.Int("entries", merged.Len()))
	return merged, nil
}

// Build returns the loaded build config.
func (s *RemoteSource) Build() *BuildConfig {
	return s.build
}

// Version returns the selected versions row.
func (s *RemoteSource) Version() VersionRecord {
	return s.version
}

// Hosts returns the current host ranking for the selected region.
func (s *RemoteSource) Hosts(ctx context.Context) ([]HostRanking, error) {
	return s.hosts(ctx)
}

// Close flushes the build cache manifest.
func (s *RemoteSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if s.cache != nil {
		return s.cache.Close()
	}

	return nil
}

// hosts ranks the region's CDN hosts.
func (s *RemoteSource) hosts(ctx context.Context) ([]HostRanking, error) {
	return s.resolver.RankedHosts(ctx, s.ropts.Region, s.cdn.Hosts, s.cdn.Path)
}

// encodedSize returns the archived size, or -1 for loose files.
func (s *RemoteSource) encodedSize(ekey Key) int64 {
	if s.index == nil {
		return -1
	}

	loc, ok := s.index.Lookup(ekey)
	if !ok {
		return -1
	}

	return int64(loc.Size)
}

// dropEncoded evicts the cached copy of a loose container.
func (s *RemoteSource) dropEncoded(ekey Key) bool {
	if s.cache == nil {
		return false
	}

	removed, err := s.cache.RemoveFile("data/" + ekey.String())
	if err != nil {
		s.logger.Warn("evict cache entry", zap.Stringer("ekey", ekey), zap.Error(err))
	}

	return removed
}

// readEncoded fetches part of a container. Archived keys are read from their
// archive with a Range request; other keys are fetched as loose files.
// Whole loose containers are kept in the build cache.
func (s *RemoteSource) readEncoded(ctx context.Context, ekey Key, off, n int64) ([]byte, error) {
	if s.index != nil {
		if loc, ok := s.index.Lookup(ekey); ok {
			if n < 0 {
				n = int64(loc.Size) - off
			}

			if off < 0 || n < 0 || off+n > int64(loc.Size) {
				return nil, fmt.Errorf("%w: range %d+%d outside entry of %d bytes", ErrShortRead, off, n, loc.Size)
			}

			return s.fetch(ctx, "data/"+loc.Archive.CDNPath(), int64(loc.Offset)+off, n)
		}
	}

	if off == 0 && n < 0 {
		return s.fetchCached(ctx, "data/"+ekey.String(), "data/"+ekey.CDNPath())
	}

	return s.fetch(ctx, "data/"+ekey.CDNPath(), off, n)
}

// fetchCached returns a cached object or downloads and caches it.
func (s *RemoteSource) fetchCached(ctx context.Context, cacheName, remotePath string) ([]byte, error) {
	if s.cache != nil {
		data, ok, err := s.cache.GetFile(cacheName)
		if err != nil {
			s.logger.Debug("cache read failed", zap.String("name", cacheName), zap.Error(err))
		}
		if ok {
			return data, nil
		}
	}

	data, err := s.fetch(ctx, remotePath, 0, -1)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.StoreFile(cacheName, data); err != nil {
			s.logger.Warn("cache write failed", zap.String("name", cacheName), zap.Error(err))
		}
	}

	return data, nil
}

// fetch downloads remotePath from the best host, failing over through the
// ranking. n < 0 requests the object from off to its end.
func (s *RemoteSource) fetch(ctx context.Context, remotePath string, off, n int64) ([]byte, error) {
	ranked, err := s.hosts(ctx)
	if err != nil {
		return nil, err
	}

	var notFound int
	var errs []error
	for _, host := range ranked {
		data, err := s.fetchFrom(ctx, host, remotePath, off, n)
		if err == nil {
			s.opts.Metrics.bytesRead("cdn", len(data))
			return data, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(err, ErrNotOnCDN) {
			notFound++
			continue
		}

		s.logger.Debug("cdn fetch failed", zap.String("host", host.Host), zap.String("path", remotePath), zap.Error(err))
		s.resolver.MarkFailed(host.Host)
		errs = append(errs, err)
	}

	if notFound > 0 && len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotOnCDN, remotePath)
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrNoReachableHost, remotePath, errors.Join(errs...))
}

// fetchFrom performs one bounded request against host.
func (s *RemoteSource) fetchFrom(ctx context.Context, host HostRanking, remotePath string, off, n int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ropts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host.URL()+"/"+remotePath, nil)
	if err != nil {
		return nil, err
	}

	ranged := off > 0 || n >= 0
	if ranged {
		if n >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", off))
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotOnCDN
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return nil, fmt.Errorf("status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	// Servers that ignore Range send the whole object.
	if ranged && resp.StatusCode == http.StatusOK {
		if off > int64(len(body)) {
			return nil, fmt.Errorf("%w: offset %d past object of %d bytes", ErrShortRead, off, len(body))
		}

		body = body[off:]
		if n >= 0 && n <= int64(len(body)) {
			body = body[:n]
		}
	}

	if n >= 0 && int64(len(body)) != n {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortRead, len(body), n)
	}

	return body, nil
}

// fetchPatchDoc downloads a patch server document such as "versions".
func (s *RemoteSource) fetchPatchDoc(ctx context.Context, name string) ([]byte, error) {
	url := strings.TrimSuffix(fmt.Sprintf(s.ropts.PatchURL, s.ropts.Region, s.ropts.Product), "/") + "/" + name

	ctx, cancel := context.WithTimeout(ctx, s.ropts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrTransport, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %s", ErrTransport, name, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPatchDocSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransport, name, err)
	}

	return data, nil
}
