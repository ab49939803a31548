// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// localIndexRecordSize is key prefix + high byte + offset/low + size.
	localIndexRecordSize = 18
	// localIndexOffsetBits is the number of offset bits in the packed field.
	localIndexOffsetBits = 30
	// localIndexOffsetMask keeps the offset bits of the packed field.
	localIndexOffsetMask = 1<<localIndexOffsetBits - 1
)

// indexKey is the truncated key used by local journals.
type indexKey [indexKeySize]byte

// LocalIndex maps truncated encoding keys to data.NNN locations.
// Built once, then read-only.
type LocalIndex struct {
	entries map[indexKey]ArchiveLocation
}

// NewLocalIndex returns an empty index ready for Merge.
func NewLocalIndex() *LocalIndex {
	return &LocalIndex{entries: make(map[indexKey]ArchiveLocation)}
}

// ParseLocalIndex parses one .idx journal.
func ParseLocalIndex(data []byte) (*LocalIndex, error) {
	c := newCursor(data)
	headerHashSize := int(c.U32LE())
	c.Skip(4) // header hash

	headerStart := c.Offset()
	if headerHashSize >= 8 {
		c.Skip(4) // version + bucket + extra bytes
		sizeBytes := c.U8()
		offsetBytes := c.U8()
		keyBytes := c.U8()
		offsetBits := c.U8()
		if c.Err() == nil && keyBytes != 0 &&
			(keyBytes != indexKeySize || offsetBytes != 5 || sizeBytes != 4 || offsetBits != localIndexOffsetBits) {
			return nil, fmt.Errorf("%w: unsupported layout key=%d offset=%d size=%d bits=%d",
				ErrMalformedIndex, keyBytes, offsetBytes, sizeBytes, offsetBits)
		}
	}

	c.Seek(headerStart + headerHashSize)
	c.Seek(alignUp(c.Offset(), 16))
	dataLength := int(c.U32LE())
	c.Skip(4) // data hash
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedIndex, err)
	}

	count := dataLength / localIndexRecordSize
	if count*localIndexRecordSize > c.Remaining() {
		return nil, fmt.Errorf("%w: %d records declared, %d bytes left", ErrMalformedIndex, count, c.Remaining())
	}

	idx := &LocalIndex{entries: make(map[indexKey]ArchiveLocation, count)}
	for range count {
		var key indexKey
		copy(key[:], c.Bytes(indexKeySize))
		high := c.U8()
		low := c.U32BE()
		size := c.U32LE()

		if _, dup := idx.entries[key]; dup {
			continue
		}

		idx.entries[key] = ArchiveLocation{
			Archive: int(high)<<2 | int(low>>localIndexOffsetBits),
			Offset:  low & localIndexOffsetMask,
			Size:    size,
		}
	}

	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: records: %w", ErrMalformedIndex, err)
	}

	return idx, nil
}

// Merge adds entries from other that are not already present.
func (idx *LocalIndex) Merge(other *LocalIndex) {
	if other == nil {
		return
	}

	for key, loc := range other.entries {
		if _, ok := idx.entries[key]; !ok {
			idx.entries[key] = loc
		}
	}
}

// Lookup returns the location for an encoding key, matched by its 9-byte prefix.
func (idx *LocalIndex) Lookup(ekey Key) (ArchiveLocation, bool) {
	var key indexKey
	copy(key[:], ekey[:indexKeySize])
	loc, ok := idx.entries[key]
	return loc, ok
}

// Len returns the number of distinct prefixes.
func (idx *LocalIndex) Len() int {
	return len(idx.entries)
}

// localIndexFile is one BBVVVVVVVV.idx journal on disk.
type localIndexFile struct {
	path    string
	bucket  uint64
	version uint64
}

// LoadLocalIndexes parses the newest journal of every bucket in dir and
// merges them in bucket order.
func LoadLocalIndexes(dir string) (*LocalIndex, error) {
	files, err := findLocalIndexFiles(dir)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no .idx files in %s", ErrMalformedIndex, dir)
	}

	merged := NewLocalIndex()
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read index %s: %w", f.path, err)
		}

		idx, err := ParseLocalIndex(data)
		if err != nil {
			return nil, fmt.Errorf("parse index %s: %w", filepath.Base(f.path), err)
		}

		merged.Merge(idx)
	}

	return merged, nil
}

// findLocalIndexFiles keeps the highest version per bucket, sorted by bucket.
func findLocalIndexFiles(dir string) ([]localIndexFile, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read index dir: %w", err)
	}

	newest := make(map[uint64]localIndexFile)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || len(name) != 14 || !strings.EqualFold(filepath.Ext(name), ".idx") {
			continue
		}

		bucket, err := strconv.ParseUint(name[0:2], 16, 8)
		if err != nil {
			continue
		}

		version, err := strconv.ParseUint(name[2:10], 16, 32)
		if err != nil {
			continue
		}

		if cur, ok := newest[bucket]; ok && cur.version >= version {
			continue
		}

		newest[bucket] = localIndexFile{
			path:    filepath.Join(dir, name),
			bucket:  bucket,
			version: version,
		}
	}

	files := make([]localIndexFile, 0, len(newest))
	for _, f := range newest {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].bucket < files[j].bucket })
	return files, nil
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
