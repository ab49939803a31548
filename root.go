// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
	"slices"
)

const (
	// rootHeaderSizeV1 is the header size field value of v1/v2 tables.
	rootHeaderSizeV1 = 0x18
	// rootLegacyHeaderSize is the header size of v0 tables.
	rootLegacyHeaderSize = 12
	// rootNameHashSize is the per-record lookup hash size.
	rootNameHashSize = 8
)

// RootVariant is one (content flags, locale flags) group of the root table.
type RootVariant struct {
	ContentFlags ContentFlags `json:"content_flags" yaml:"content_flags"`
	LocaleFlags  Locale       `json:"locale_flags" yaml:"locale_flags"`
}

// RootEntry is one content key of a file under a variant.
type RootEntry struct {
	Variant RootVariant `json:"variant" yaml:"variant"`
	CKey    Key         `json:"ckey" yaml:"ckey"`
}

// rootVariantKey links a file to a content key under a variant index.
type rootVariantKey struct {
	variant int
	ckey    Key
}

// RootTable maps file IDs to content keys per variant.
// Built once, then read-only.
type RootTable struct {
	files      map[uint32][]rootVariantKey
	variants   []RootVariant
	version    int
	totalFiles uint32
	namedFiles uint32
}

// ParseRoot parses a decoded root table, either the TSFM layout (v0, v1, v2)
// or the classic headerless layout.
func ParseRoot(data []byte) (*RootTable, error) {
	t := &RootTable{files: make(map[uint32][]rootVariantKey)}
	c := newCursor(data)

	if len(data) >= 4 && c.U32LE() == rootMagic {
		if err := t.parseTSFM(c); err != nil {
			return nil, fmt.Errorf("%w: root: %w", ErrMalformedTable, err)
		}

		return t, nil
	}

	t.version = -1
	if err := t.parseClassic(newCursor(data)); err != nil {
		return nil, fmt.Errorf("%w: classic root: %w", ErrMalformedTable, err)
	}

	return t, nil
}

// parseTSFM reads the TSFM header and its groups. c is positioned after the magic.
func (t *RootTable) parseTSFM(c *cursor) error {
	headerSize := c.U32LE()
	version := c.U32LE()

	if headerSize != rootHeaderSizeV1 {
		// v0 stores the counts where v1 keeps header size and version.
		t.totalFiles, t.namedFiles = headerSize, version
		t.version = 0
		headerSize = rootLegacyHeaderSize
	} else {
		if version != 1 && version != 2 {
			return fmt.Errorf("unknown version %d", version)
		}

		t.version = int(version)
		t.totalFiles = c.U32LE()
		t.namedFiles = c.U32LE()
	}

	c.Seek(int(headerSize))
	if err := c.Err(); err != nil {
		return err
	}

	allowNameless := t.totalFiles != t.namedFiles
	for c.Remaining() > 0 {
		count := int(c.U32LE())
		var v RootVariant
		if t.version == 2 {
			v.LocaleFlags = Locale(c.U32LE())
			c1 := c.U32LE()
			c2 := c.U32LE()
			c3 := uint32(c.U8())
			v.ContentFlags = ContentFlags(c1 | c2 | c3<<17)
		} else {
			v.ContentFlags = ContentFlags(c.U32LE())
			v.LocaleFlags = Locale(c.U32LE())
		}

		if err := c.Err(); err != nil {
			return err
		}

		if count < 0 || count*(4+keySize) > c.Remaining() {
			return fmt.Errorf("group of %d records exceeds %d remaining bytes", count, c.Remaining())
		}

		ids := readFileIDs(c, count)
		variant := t.addVariant(v)
		for _, id := range ids {
			t.add(id, variant, c.Key())
		}

		if !(allowNameless && v.ContentFlags&ContentNoNameHash != 0) {
			c.Skip(rootNameHashSize * count)
		}

		if err := c.Err(); err != nil {
			return err
		}
	}

	return nil
}

// parseClassic reads groups whose content keys and name hashes are interleaved.
func (t *RootTable) parseClassic(c *cursor) error {
	for c.Remaining() > 0 {
		count := int(c.U32LE())
		v := RootVariant{
			ContentFlags: ContentFlags(c.U32LE()),
			LocaleFlags:  Locale(c.U32LE()),
		}

		if err := c.Err(); err != nil {
			return err
		}

		if count < 0 || count*(4+keySize+rootNameHashSize) > c.Remaining() {
			return fmt.Errorf("group of %d records exceeds %d remaining bytes", count, c.Remaining())
		}

		ids := readFileIDs(c, count)
		variant := t.addVariant(v)
		for _, id := range ids {
			t.add(id, variant, c.Key())
			c.Skip(rootNameHashSize)
		}

		if err := c.Err(); err != nil {
			return err
		}
	}

	t.totalFiles = uint32(len(t.files)) //nolint:gosec // map size
	return nil
}

// readFileIDs decodes delta-encoded IDs: each is base plus delta, and the
// next base is the previous ID plus one.
func readFileIDs(c *cursor, count int) []uint32 {
	ids := make([]uint32, count)
	var base uint32
	for i := range ids {
		id := base + uint32(c.I32LE()) //nolint:gosec // signed delta
		ids[i] = id
		base = id + 1
	}

	return ids
}

// addVariant appends v and returns its index.
func (t *RootTable) addVariant(v RootVariant) int {
	t.variants = append(t.variants, v)
	return len(t.variants) - 1
}

// add records ckey for id under variant.
func (t *RootTable) add(id uint32, variant int, ckey Key) {
	t.files[id] = append(t.files[id], rootVariantKey{variant: variant, ckey: ckey})
}

// Resolve returns the content key of the first variant, in table order, whose
// locale flags intersect locale and which is not low-violence content.
func (t *RootTable) Resolve(fileID uint32, locale Locale) (Key, error) {
	for _, vk := range t.files[fileID] {
		v := t.variants[vk.variant]
		if v.LocaleFlags&locale == 0 || v.ContentFlags&ContentLowViolence != 0 {
			continue
		}

		return vk.ckey, nil
	}

	return Key{}, fmt.Errorf("%w: file %d locale %#x", ErrFileNotFound, fileID, uint32(locale))
}

// Entries returns every variant recorded for fileID in table order.
func (t *RootTable) Entries(fileID uint32) []RootEntry {
	vks := t.files[fileID]
	out := make([]RootEntry, len(vks))
	for i, vk := range vks {
		out[i] = RootEntry{Variant: t.variants[vk.variant], CKey: vk.ckey}
	}

	return out
}

// Has reports whether fileID appears in any variant.
func (t *RootTable) Has(fileID uint32) bool {
	_, ok := t.files[fileID]
	return ok
}

// Len returns the number of distinct file IDs.
func (t *RootTable) Len() int {
	return len(t.files)
}

// Variants returns a copy of the variant list in appearance order.
func (t *RootTable) Variants() []RootVariant {
	return slices.Clone(t.variants)
}

// FileIDs returns all file IDs in ascending order.
func (t *RootTable) FileIDs() []uint32 {
	ids := make([]uint32, 0, len(t.files))
	for id := range t.files {
		ids = append(ids, id)
	}

	slices.Sort(ids)
	return ids
}

// Version returns the TSFM version (0, 1, 2) or -1 for the classic layout.
func (t *RootTable) Version() int {
	return t.version
}

// FileCounts returns the declared total and named file counts.
func (t *RootTable) FileCounts() (total, named uint32) {
	return t.totalFiles, t.namedFiles
}
