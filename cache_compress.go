// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/woozymasta/lzss"
	"github.com/woozymasta/pathrules"
)

const (
	// compressedBlobExt marks cache entries stored LZSS-compressed.
	compressedBlobExt = ".lzss"
	// compressedBlobMagic starts every compressed cache blob.
	compressedBlobMagic = "CLZS"
	// compressedBlobHeader is magic plus the original size (LE u32).
	compressedBlobHeader = 8
)

// compressMatcher holds compiled allow-list rules for cache compression.
type compressMatcher struct {
	matcher *pathrules.Matcher
}

// newCompressMatcher compiles compression path rules; no rules yields nil.
func newCompressMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*compressMatcher, error) {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{Action: rule.Action, Pattern: pattern})
	}

	if len(normalized) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(normalized, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &compressMatcher{matcher: matcher}, nil
}

// Match reports whether a cache entry name is selected for compression.
func (m *compressMatcher) Match(name string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(name)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompress applies the size window and the path rules.
func shouldCompress(opts BuildCacheOptions, matcher *compressMatcher, name string, size int) bool {
	if size < int(opts.MinCompressSize) || size > int(opts.MaxCompressSize) {
		return false
	}

	return matcher.Match(name)
}

// compressBlob returns data as an LZSS blob, or ok=false when compression
// does not make it smaller.
func compressBlob(data []byte) ([]byte, bool, error) {
	packed, err := lzss.Compress(data, lzss.DefaultCompressOptions())
	if err != nil {
		return nil, false, fmt.Errorf("lzss compress: %w", err)
	}

	if len(packed)+compressedBlobHeader >= len(data) {
		return nil, false, nil
	}

	out := make([]byte, compressedBlobHeader, compressedBlobHeader+len(packed))
	copy(out, compressedBlobMagic)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data))) //nolint:gosec // bounded by MaxCompressSize
	return append(out, packed...), true, nil
}

// decompressBlob reverses compressBlob.
func decompressBlob(blob []byte) ([]byte, error) {
	if len(blob) < compressedBlobHeader || string(blob[:4]) != compressedBlobMagic {
		return nil, fmt.Errorf("%w: bad blob header", ErrCorruptCacheEntry)
	}

	size := int(binary.LittleEndian.Uint32(blob[4:8]))
	var out bytes.Buffer
	out.Grow(size)
	if _, err := lzss.DecompressToWriter(&out, bytes.NewReader(blob[compressedBlobHeader:]), size, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCacheEntry, err)
	}

	if out.Len() != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorruptCacheEntry, out.Len(), size)
	}

	return out.Bytes(), nil
}
