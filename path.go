// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
	"hash/fnv"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// maxPathSegmentLen limits one output path segment to a common filesystem-safe length.
const maxPathSegmentLen = 240

// reservedDeviceNames are Windows device names that cannot be used as file names.
var reservedDeviceNames = map[string]struct{}{
	"aux": {}, "con": {}, "nul": {}, "prn": {}, "clock$": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {}, "com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {}, "lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// NormalizePath converts a listfile or cache name to clean slash-separated
// relative form. It accepts "/" and "\" and drops leading "./" and "/".
// Returns "" for empty or root-only input.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = path.Clean("/" + strings.TrimPrefix(raw, "/"))
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return raw
}

// normalizePathForMatching trims and converts separators without cleaning.
func normalizePathForMatching(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, `\`, "/")
	return strings.TrimPrefix(raw, "./")
}

// normalizeCacheName validates a cache entry name. Names that are empty,
// absolute or climb out of the cache directory are rejected.
func normalizeCacheName(name string) (string, error) {
	raw := normalizePathForMatching(name)
	if raw == "" || strings.HasPrefix(raw, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCachePath, name)
	}

	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q escapes cache directory", ErrInvalidCachePath, name)
		}
	}

	clean := NormalizePath(raw)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCachePath, name)
	}

	return clean, nil
}

// SanitizeExportPath rewrites a listfile name into a filesystem-safe relative
// path. Unsafe runes become '_', reserved device names get a '_' prefix and
// overlong segments are shortened with a stable hash suffix.
func SanitizeExportPath(name string) (string, error) {
	parts := strings.Split(normalizePathForMatching(name), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}

		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidExportPath, name)
		}

		out = append(out, sanitizeSegment(part))
	}

	if len(out) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidExportPath, name)
	}

	return strings.Join(out, "/"), nil
}

// sanitizeSegment makes one path segment safe on common filesystems.
func sanitizeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if unicode.IsControl(r) || unicode.In(r, unicode.Cf) || r == '�' || strings.ContainsRune(`<>:"|?*`, r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	out := strings.TrimRight(b.String(), ". ")
	if out == "" {
		return "_"
	}

	base := strings.ToLower(out)
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	if _, reserved := reservedDeviceNames[base]; reserved {
		out = "_" + out
	}

	return shortenSegment(out, maxPathSegmentLen)
}

// shortenSegment trims value to maxLen, keeping a stable hash of the full value.
func shortenSegment(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	suffix := fmt.Sprintf("~%08x", h.Sum32())
	ext := path.Ext(value)
	if len(ext) > maxLen/4 {
		ext = ""
	}

	return value[:maxLen-len(suffix)-len(ext)] + suffix + ext
}
