// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"crypto/md5" //nolint:gosec // BLTE integrity hashes are MD5 by format.
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
)

// BlockDescriptor describes one block of a BLTE container.
type BlockDescriptor struct {
	// Offset is the absolute offset of the block payload inside the container.
	Offset int64 `json:"offset" yaml:"offset"`
	// CompressedSize is the stored payload size including the mode byte.
	CompressedSize uint32 `json:"compressed_size" yaml:"compressed_size"`
	// DecompressedSize is the logical size; zero when unknown (headerless form).
	DecompressedSize uint32 `json:"decompressed_size" yaml:"decompressed_size"`
	// Hash is the MD5 of the stored payload.
	Hash [md5.Size]byte `json:"hash" yaml:"hash"`
	// HasHash reports whether Hash is checked before decode.
	HasHash bool `json:"has_hash,omitempty" yaml:"has_hash,omitempty"`
}

// BLTEHeader is the parsed container header and block table.
type BLTEHeader struct {
	// Blocks lists blocks in storage order.
	Blocks []BlockDescriptor `json:"blocks" yaml:"blocks"`
	// HeaderSize is the declared header size; zero means one implicit block.
	HeaderSize uint32 `json:"header_size" yaml:"header_size"`
	// EncodedSize is header plus all block payloads.
	EncodedSize int64 `json:"encoded_size" yaml:"encoded_size"`
}

// DecodedSize returns the sum of declared block sizes, or -1 when unknown.
func (h *BLTEHeader) DecodedSize() int64 {
	if h.HeaderSize == 0 {
		return -1
	}

	var total int64
	for i := range h.Blocks {
		total += int64(h.Blocks[i].DecompressedSize)
	}

	return total
}

// BLTEHeaderSize reads the magic and declared header size from the first 8
// bytes and returns how many leading bytes ParseBLTEHeader needs.
func BLTEHeaderSize(head []byte) (int, error) {
	if len(head) < 8 {
		return 0, fmt.Errorf("%w: %d bytes, need 8", ErrMalformedContainer, len(head))
	}

	if binary.LittleEndian.Uint32(head[0:4]) != blteMagic {
		return 0, fmt.Errorf("%w: container magic %#x", ErrInvalidMagic, binary.LittleEndian.Uint32(head[0:4]))
	}

	size := binary.BigEndian.Uint32(head[4:8])
	if size == 0 {
		return 8, nil
	}

	if size < blteHeaderFixed {
		return 0, fmt.Errorf("%w: header size %d", ErrMalformedContainer, size)
	}

	return int(size), nil
}

// ParseBLTEHeader parses the container header from head, which must hold at
// least BLTEHeaderSize bytes. totalSize is the full container size; it is
// required for the headerless form and validated otherwise (pass -1 when the
// size is not known yet).
func ParseBLTEHeader(head []byte, totalSize int64) (*BLTEHeader, error) {
	need, err := BLTEHeaderSize(head)
	if err != nil {
		return nil, err
	}

	if len(head) < need {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformedContainer, need, len(head))
	}

	c := newCursor(head)
	c.Skip(4)
	headerSize := c.U32BE()

	if headerSize == 0 {
		if totalSize < 9 {
			return nil, fmt.Errorf("%w: headerless container of %d bytes", ErrMalformedContainer, totalSize)
		}
		if totalSize-8 > math.MaxUint32 {
			return nil, fmt.Errorf("%w: implicit block too large", ErrMalformedContainer)
		}

		return &BLTEHeader{
			Blocks: []BlockDescriptor{{
				Offset:         8,
				CompressedSize: uint32(totalSize - 8), //nolint:gosec // bounded above
			}},
			EncodedSize: totalSize,
		}, nil
	}

	format := c.U8()
	count := int(c.U24BE())
	if format != blteTableFormat {
		return nil, fmt.Errorf("%w: block table format %#x", ErrMalformedContainer, format)
	}

	if count == 0 {
		return nil, fmt.Errorf("%w: zero blocks", ErrMalformedContainer)
	}

	if want := uint64(blteHeaderFixed) + uint64(count)*blteEntrySize; uint64(headerSize) != want {
		return nil, fmt.Errorf("%w: header size %d for %d blocks, want %d", ErrMalformedContainer, headerSize, count, want)
	}

	h := &BLTEHeader{
		HeaderSize: headerSize,
		Blocks:     make([]BlockDescriptor, count),
	}

	offset := int64(headerSize)
	for i := range h.Blocks {
		b := &h.Blocks[i]
		b.CompressedSize = c.U32BE()
		b.DecompressedSize = c.U32BE()
		copy(b.Hash[:], c.Bytes(md5.Size))
		b.HasHash = true
		b.Offset = offset

		if b.CompressedSize == 0 {
			return nil, fmt.Errorf("%w: block %d has zero stored size", ErrMalformedContainer, i)
		}

		offset += int64(b.CompressedSize)
	}

	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: block table: %w", ErrMalformedContainer, err)
	}

	h.EncodedSize = offset
	if totalSize >= 0 && totalSize != offset {
		return nil, fmt.Errorf("%w: blocks span %d bytes, container has %d", ErrMalformedContainer, offset, totalSize)
	}

	return h, nil
}

// verifyContainerKey checks the container identity hash. For containers with
// a block table the hash covers the header only; headerless containers hash
// in full.
func verifyContainerKey(data []byte, h *BLTEHeader, ekey Key) error {
	covered := data
	if h.HeaderSize > 0 {
		covered = data[:h.HeaderSize]
	}

	if sum := md5.Sum(covered); !bytes.Equal(sum[:], ekey[:]) { //nolint:gosec // format hash
		return fmt.Errorf("%w: expected %s, got %x", ErrContainerHashMismatch, ekey, sum)
	}

	return nil
}

// verifyBlockHash checks a block payload against its table entry before decode.
func verifyBlockHash(payload []byte, b *BlockDescriptor, index int) error {
	if !b.HasHash {
		return nil
	}

	if sum := md5.Sum(payload); sum != b.Hash { //nolint:gosec // format hash
		return fmt.Errorf("%w: block %d expected %x, got %x", ErrBlockHashMismatch, index, b.Hash, sum)
	}

	return nil
}

// BLTEReader decodes a fully fetched container. Blocks are decoded lazily in
// ascending order, only as far as reads require; progress never goes back.
// It is safe for concurrent use.
type BLTEReader struct {
	err    error
	header *BLTEHeader
	opts   BLTEOptions
	data   []byte
	out    []byte
	pos    int64
	next   int
	mu     sync.Mutex
}

// NewBLTEReader parses data as a BLTE container. When ekey is non-nil the
// container identity hash is verified before anything is decoded.
func NewBLTEReader(data []byte, ekey *Key, opts BLTEOptions) (*BLTEReader, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil container", ErrMalformedContainer)
	}

	need, err := BLTEHeaderSize(data)
	if err != nil {
		return nil, err
	}

	if len(data) < need {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedContainer)
	}

	h, err := ParseBLTEHeader(data, int64(len(data)))
	if err != nil {
		return nil, err
	}

	if ekey != nil {
		if err := verifyContainerKey(data, h, *ekey); err != nil {
			return nil, err
		}
	}

	return &BLTEReader{
		data:   data,
		header: h,
		opts:   opts,
		out:    make([]byte, 0, presizeHint(h.DecodedSize(), int64(len(data)))),
	}, nil
}

// presizeRatio bounds buffer presizing to this multiple of the stored bytes.
// Declared sizes are untrusted; buffers still grow past the hint.
const presizeRatio = 16

// presizeHint returns a buffer capacity for a declared decoded size of
// content stored in stored bytes.
func presizeHint(declared, stored int64) int {
	if declared <= 0 || stored <= 0 {
		return 0
	}

	limit := min(declared, stored*presizeRatio, math.MaxInt32)
	return int(limit)
}

// DecodeBLTE verifies and decodes a whole container in one call.
func DecodeBLTE(data []byte, ekey *Key, opts BLTEOptions) ([]byte, error) {
	r, err := NewBLTEReader(data, ekey, opts)
	if err != nil {
		return nil, err
	}

	return r.Bytes()
}

// Header returns the parsed container header.
func (r *BLTEReader) Header() *BLTEHeader {
	return r.header
}

// DecodedBlocks returns how many blocks have been decoded so far.
func (r *BLTEReader) DecodedBlocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.next
}

// Read implements io.Reader over the decoded content.
func (r *BLTEReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	if err := r.ensureLocked(r.pos + int64(len(p))); err != nil && int64(len(r.out)) <= r.pos {
		return 0, err
	}

	if r.pos >= int64(len(r.out)) {
		return 0, io.EOF
	}

	n := copy(p, r.out[r.pos:])
	r.pos += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt over the decoded content.
// Reading far into the file decodes every earlier block first.
func (r *BLTEReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	end := off + int64(len(p))
	if err := r.ensureLocked(end); err != nil && int64(len(r.out)) < end {
		return 0, err
	}

	if off >= int64(len(r.out)) {
		return 0, io.EOF
	}

	n := copy(p, r.out[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Bytes decodes all remaining blocks and returns the full content.
// The returned slice must not be modified.
func (r *BLTEReader) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLocked(math.MaxInt64); err != nil {
		return nil, err
	}

	return r.out, nil
}

// ensureLocked decodes blocks until at least n bytes are available or the
// container is exhausted. A decode failure is sticky.
func (r *BLTEReader) ensureLocked(n int64) error {
	for int64(len(r.out)) < n && r.next < len(r.header.Blocks) {
		if r.err != nil {
			return r.err
		}

		idx := r.next
		b := &r.header.Blocks[idx]
		end := b.Offset + int64(b.CompressedSize)
		if end > int64(len(r.data)) {
			r.err = fmt.Errorf("%w: block %d ends at %d past %d", ErrMalformedContainer, idx, end, len(r.data))
			return r.err
		}

		decoded, err := decodeStoredBlock(r.data[b.Offset:end], b, idx, r.opts)
		if err != nil {
			r.err = err
			return err
		}

		r.out = append(r.out, decoded...)
		r.next++
	}

	return r.err
}
