// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PingFunc measures the round-trip time to one CDN host.
type PingFunc func(ctx context.Context, host HostRanking) (time.Duration, error)

// HostResolver ranks CDN hosts by latency. Rankings are cached per
// (region, path, candidate list); concurrent identical requests share one
// ranking run. Failed hosts are filtered from every later result.
// It is safe for concurrent use.
type HostResolver struct {
	opts     HostResolverOptions
	logger   *zap.Logger
	rankings map[string][]HostRanking
	failed   map[string]struct{}
	group    singleflight.Group
	mu       sync.Mutex
}

// NewHostResolver returns a resolver with an empty ranking cache.
func NewHostResolver(opts HostResolverOptions) *HostResolver {
	opts.applyDefaults()

	r := &HostResolver{
		opts:     opts,
		logger:   opts.Logger.Named("cdn"),
		rankings: make(map[string][]HostRanking),
		failed:   make(map[string]struct{}),
	}

	if r.opts.Ping == nil {
		r.opts.Ping = r.httpPing
	}

	return r
}

// RankedHosts returns reachable, non-failed hosts sorted by ascending latency.
// Candidates are hosts followed by the configured fallback hosts.
func (r *HostResolver) RankedHosts(ctx context.Context, region string, hosts []string, path string) ([]HostRanking, error) {
	candidates := mergeHosts(hosts, r.opts.FallbackHosts)
	if len(candidates) == 0 {
		return nil, ErrNoHosts
	}

	key := region + "|" + path + "|" + strings.Join(candidates, ",")

	r.mu.Lock()
	cached, ok := r.rankings[key]
	r.mu.Unlock()
	if ok {
		return r.filterFailed(cached)
	}

	ch := r.group.DoChan(key, func() (any, error) {
		ranked, err := r.rank(context.WithoutCancel(ctx), candidates, path)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.rankings[key] = ranked
		r.mu.Unlock()
		return ranked, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return r.filterFailed(res.Val.([]HostRanking))
	}
}

// BestHost returns the lowest-latency reachable host.
func (r *HostResolver) BestHost(ctx context.Context, region string, hosts []string, path string) (HostRanking, error) {
	ranked, err := r.RankedHosts(ctx, region, hosts, path)
	if err != nil {
		return HostRanking{}, err
	}

	return ranked[0], nil
}

// MarkFailed excludes host from every later ranking result.
func (r *HostResolver) MarkFailed(host string) {
	r.mu.Lock()
	_, already := r.failed[host]
	r.failed[host] = struct{}{}
	r.mu.Unlock()

	if !already {
		r.opts.Metrics.hostFailed(host)
		r.logger.Warn("host marked failed", zap.String("host", host))
	}
}

// IsFailed reports whether host was marked failed.
func (r *HostResolver) IsFailed(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.failed[host]
	return ok
}

// rank pings every non-failed candidate concurrently and sorts by latency.
func (r *HostResolver) rank(ctx context.Context, candidates []string, path string) ([]HostRanking, error) {
	type result struct {
		ranking HostRanking
		err     error
	}

	results := make([]result, len(candidates))
	var wg sync.WaitGroup
	for i, host := range candidates {
		if r.IsFailed(host) {
			results[i].err = fmt.Errorf("%s: previously failed", host)
			continue
		}

		wg.Go(func() {
			h := HostRanking{Host: host, Path: path}
			pingCtx, cancel := context.WithTimeout(ctx, r.opts.PingTimeout)
			defer cancel()

			latency, err := r.opts.Ping(pingCtx, h)
			if err != nil {
				results[i].err = err
				return
			}

			h.Latency = latency
			results[i].ranking = h
		})
	}
	wg.Wait()

	ranked := make([]HostRanking, 0, len(candidates))
	for i, res := range results {
		if res.err != nil {
			r.logger.Debug("ping failed", zap.String("host", candidates[i]), zap.Error(res.err))
			r.MarkFailed(candidates[i])
			continue
		}

		r.opts.Metrics.pinged(res.ranking.Host, res.ranking.Latency)
		ranked = append(ranked, res.ranking)
	}

	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: %d candidates", ErrNoReachableHost, len(candidates))
	}

	slices.SortStableFunc(ranked, func(a, b HostRanking) int {
		return cmp.Compare(a.Latency, b.Latency)
	})

	r.logger.Debug("ranked hosts", zap.Int("reachable", len(ranked)), zap.String("best", ranked[0].Host))
	return ranked, nil
}

// filterFailed returns a copy of ranked without failed hosts.
func (r *HostResolver) filterFailed(ranked []HostRanking) ([]HostRanking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HostRanking, 0, len(ranked))
	for _, h := range ranked {
		if _, bad := r.failed[h.Host]; !bad {
			out = append(out, h)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: all ranked hosts failed", ErrNoReachableHost)
	}

	return out, nil
}

// httpPing times a HEAD request to the host root. Any HTTP response counts as reachable.
func (r *HostResolver) httpPing(ctx context.Context, host HostRanking) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, host.URL()+"/", nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()

	return time.Since(start), nil
}

// mergeHosts concatenates host lists, trimming blanks and dropping repeats
// while keeping first-seen order.
func mergeHosts(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, h := range list {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}

			if _, dup := seen[h]; dup {
				continue
			}

			seen[h] = struct{}{}
			out = append(out, h)
		}
	}

	return out
}

// SplitHosts splits a space- or comma-separated host list.
func SplitHosts(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
