// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
)

// EncodingHeader is the fixed header of the encoding table.
type EncodingHeader struct {
	Version        uint8  `json:"version" yaml:"version"`
	HashSizeCKey   uint8  `json:"hash_size_ckey" yaml:"hash_size_ckey"`
	HashSizeEKey   uint8  `json:"hash_size_ekey" yaml:"hash_size_ekey"`
	CKeyPageSize   int    `json:"ckey_page_size" yaml:"ckey_page_size"`
	EKeyPageSize   int    `json:"ekey_page_size" yaml:"ekey_page_size"`
	CKeyPageCount  uint32 `json:"ckey_page_count" yaml:"ckey_page_count"`
	EKeyPageCount  uint32 `json:"ekey_page_count" yaml:"ekey_page_count"`
	ESpecBlockSize uint32 `json:"espec_block_size" yaml:"espec_block_size"`
}

// EncodingTable maps content keys to their canonical encoding key and size.
// Built once, then read-only.
type EncodingTable struct {
	entries map[Key]EncodingEntry
	header  EncodingHeader
}

// ParseEncoding parses a decoded encoding table.
func ParseEncoding(data []byte) (*EncodingTable, error) {
	c := newCursor(data)
	if magic := c.U16LE(); c.Err() == nil && magic != encodingMagic {
		return nil, fmt.Errorf("%w: encoding magic %#x", ErrInvalidMagic, magic)
	}

	h := EncodingHeader{
		Version:      c.U8(),
		HashSizeCKey: c.U8(),
		HashSizeEKey: c.U8(),
		CKeyPageSize: int(c.U16BE()) * 1024,
		EKeyPageSize: int(c.U16BE()) * 1024,
	}
	h.CKeyPageCount = c.U32BE()
	h.EKeyPageCount = c.U32BE()
	c.Skip(1) // unused
	h.ESpecBlockSize = c.U32BE()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: encoding header: %w", ErrMalformedTable, err)
	}

	if h.HashSizeCKey != keySize || h.HashSizeEKey != keySize {
		return nil, fmt.Errorf("%w: key sizes %d/%d, want %d", ErrMalformedTable, h.HashSizeCKey, h.HashSizeEKey, keySize)
	}

	if h.CKeyPageSize == 0 {
		return nil, fmt.Errorf("%w: zero page size", ErrMalformedTable)
	}

	// Spec strings, then one (first key, page hash) pair per content key page.
	c.Skip(int(h.ESpecBlockSize))
	c.Skip(int(h.CKeyPageCount) * (int(h.HashSizeCKey) + keySize))
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: page index: %w", ErrMalformedTable, err)
	}

	pagesStart := c.Offset()
	t := &EncodingTable{header: h, entries: make(map[Key]EncodingEntry)}
	for page := range int(h.CKeyPageCount) {
		start := pagesStart + page*h.CKeyPageSize
		end := start + h.CKeyPageSize
		if end > len(data) {
			return nil, fmt.Errorf("%w: page %d ends at %d past %d", ErrMalformedTable, page, end, len(data))
		}

		if err := t.parsePage(data[start:end]); err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrMalformedTable, page, err)
		}
	}

	return t, nil
}

// parsePage reads entries until a zero key count or the page end.
func (t *EncodingTable) parsePage(page []byte) error {
	c := newCursor(page)
	for c.Remaining() > 0 {
		keyCount := int(c.U8())
		if keyCount == 0 {
			return nil
		}

		size := c.U40BE()
		ckey := c.Key()
		ekey := c.Key()
		c.Skip((keyCount - 1) * keySize)
		if err := c.Err(); err != nil {
			return err
		}

		if _, ok := t.entries[ckey]; !ok {
			t.entries[ckey] = EncodingEntry{Size: size, EKey: ekey}
		}
	}

	return nil
}

// Header returns the parsed table header.
func (t *EncodingTable) Header() EncodingHeader {
	return t.header
}

// Lookup returns the canonical encoding key and logical size for ckey.
func (t *EncodingTable) Lookup(ckey Key) (EncodingEntry, bool) {
	e, ok := t.entries[ckey]
	return e, ok
}

// Len returns the number of content keys.
func (t *EncodingTable) Len() int {
	return len(t.entries)
}
