// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"encoding/binary"
	"fmt"
)

const (
	// cdnIndexFooterSize is toc hash + layout bytes + element count + footer hash.
	cdnIndexFooterSize = 28
	// cdnIndexEntrySize is ekey + size + offset.
	cdnIndexEntrySize = keySize + 4 + 4
)

// CDNIndex maps encoding keys to ranges inside CDN archives.
type CDNIndex struct {
	entries map[Key]CDNLocation
}

// NewCDNIndex returns an empty index ready for Merge.
func NewCDNIndex() *CDNIndex {
	return &CDNIndex{entries: make(map[Key]CDNLocation)}
}

// ParseCDNIndex parses the .index file of one CDN archive.
func ParseCDNIndex(data []byte, archive Key) (*CDNIndex, error) {
	if len(data) < cdnIndexFooterSize {
		return nil, fmt.Errorf("%w: %d bytes, too short for footer", ErrMalformedIndex, len(data))
	}

	footer := data[len(data)-cdnIndexFooterSize:]
	pageSize := int(footer[11]) * 1024
	offsetBytes, sizeBytes, keyBytes := footer[12], footer[13], footer[14]
	count := int(binary.LittleEndian.Uint32(footer[16:20]))

	if keyBytes != keySize || sizeBytes != 4 || offsetBytes != 4 {
		return nil, fmt.Errorf("%w: unsupported layout key=%d size=%d offset=%d",
			ErrMalformedIndex, keyBytes, sizeBytes, offsetBytes)
	}

	if pageSize < cdnIndexEntrySize {
		return nil, fmt.Errorf("%w: page size %d", ErrMalformedIndex, pageSize)
	}

	perPage := pageSize / cdnIndexEntrySize
	body := data[:len(data)-cdnIndexFooterSize]

	idx := &CDNIndex{entries: make(map[Key]CDNLocation, count)}
	remaining := count
	for page := 0; remaining > 0; page++ {
		if page*pageSize >= len(body) {
			return nil, fmt.Errorf("%w: %d of %d entries missing", ErrMalformedIndex, remaining, count)
		}

		c := newCursor(body[page*pageSize : min((page+1)*pageSize, len(body))])
		for slot := 0; slot < perPage && remaining > 0 && c.Remaining() >= cdnIndexEntrySize; slot++ {
			ekey := c.Key()
			size := c.U32BE()
			offset := c.U32BE()
			if ekey.IsZero() {
				break
			}

			remaining--
			if _, dup := idx.entries[ekey]; dup {
				continue
			}

			idx.entries[ekey] = CDNLocation{Archive: archive, Offset: offset, Size: size}
		}
	}

	return idx, nil
}

// Merge adds entries from other that are not already present.
func (idx *CDNIndex) Merge(other *CDNIndex) {
	if other == nil {
		return
	}

	for key, loc := range other.entries {
		if _, ok := idx.entries[key]; !ok {
			idx.entries[key] = loc
		}
	}
}

// Lookup returns the archive range holding ekey.
func (idx *CDNIndex) Lookup(ekey Key) (CDNLocation, bool) {
	loc, ok := idx.entries[ekey]
	return loc, ok
}

// Len returns the number of indexed keys.
func (idx *CDNIndex) Len() int {
	return len(idx.entries)
}
