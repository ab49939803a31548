// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BlockFetchFunc returns the stored payload of one block, mode byte included.
// desc.Offset is relative to the start of the container.
type BlockFetchFunc func(ctx context.Context, index int, desc BlockDescriptor) ([]byte, error)

// BlockStream decodes a container one block at a time, fetching payloads on
// demand. Blocks are independently addressable, so Block may be called in any
// order; a small LRU keeps recently decoded blocks. It is safe for concurrent use.
type BlockStream struct {
	header *BLTEHeader
	fetch  BlockFetchFunc
	cache  *lru.Cache[int, []byte]
	opts   BlockStreamOptions
}

// NewBlockStream returns a lazy decoder over a parsed header.
func NewBlockStream(header *BLTEHeader, fetch BlockFetchFunc, opts BlockStreamOptions) (*BlockStream, error) {
	if header == nil || len(header.Blocks) == 0 {
		return nil, fmt.Errorf("%w: stream without blocks", ErrMalformedContainer)
	}

	if fetch == nil {
		return nil, fmt.Errorf("block stream: nil fetch function")
	}

	opts.applyDefaults()
	cache, err := lru.New[int, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}

	return &BlockStream{
		header: header,
		fetch:  fetch,
		cache:  cache,
		opts:   opts,
	}, nil
}

// Header returns the container header.
func (s *BlockStream) Header() *BLTEHeader {
	return s.header
}

// BlockCount returns the number of blocks.
func (s *BlockStream) BlockCount() int {
	return len(s.header.Blocks)
}

// Size returns the declared decoded size, or -1 when unknown.
func (s *BlockStream) Size() int64 {
	return s.header.DecodedSize()
}

// Block fetches, verifies and decodes block i. The result must not be modified.
func (s *BlockStream) Block(ctx context.Context, i int) ([]byte, error) {
	if i < 0 || i >= len(s.header.Blocks) {
		return nil, fmt.Errorf("%w: block %d of %d", ErrMalformedContainer, i, len(s.header.Blocks))
	}

	if out, ok := s.cache.Get(i); ok {
		return out, nil
	}

	desc := s.header.Blocks[i]
	payload, err := s.fetch(ctx, i, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", i, err)
	}

	if len(payload) != int(desc.CompressedSize) {
		return nil, fmt.Errorf("%w: block %d fetched %d bytes, want %d", ErrMalformedContainer, i, len(payload), desc.CompressedSize)
	}

	out, err := decodeStoredBlock(payload, &desc, i, s.opts.BLTEOptions)
	if err != nil {
		return nil, err
	}

	s.cache.Add(i, out)
	return out, nil
}

// Blocks yields decoded blocks in ascending order. Iteration stops at the
// first failure, which the returned function reports once iteration ends.
// Each call tracks its own error.
func (s *BlockStream) Blocks(ctx context.Context) (iter.Seq2[int, []byte], func() error) {
	var err error
	seq := func(yield func(int, []byte) bool) {
		err = nil
		for i := range s.header.Blocks {
			if err = ctx.Err(); err != nil {
				return
			}

			var out []byte
			if out, err = s.Block(ctx, i); err != nil {
				return
			}

			if !yield(i, out) {
				return
			}
		}
	}

	return seq, func() error { return err }
}

// Bytes materializes the full decoded content.
func (s *BlockStream) Bytes(ctx context.Context) ([]byte, error) {
	var stored int64
	for i := range s.header.Blocks {
		stored += int64(s.header.Blocks[i].CompressedSize)
	}

	var buf bytes.Buffer
	buf.Grow(presizeHint(s.Size(), stored))

	for i := range s.header.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := s.Block(ctx, i)
		if err != nil {
			return nil, err
		}

		buf.Write(out)
	}

	return buf.Bytes(), nil
}

// NewReader returns a sequential reader that fetches blocks as it is drained.
func (s *BlockStream) NewReader(ctx context.Context) io.Reader {
	return &blockStreamReader{ctx: ctx, stream: s}
}

// blockStreamReader drains a BlockStream in block order.
type blockStreamReader struct {
	ctx    context.Context
	err    error
	stream *BlockStream
	cur    []byte
	next   int
}

// Read implements io.Reader.
func (r *blockStreamReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		if r.next >= r.stream.BlockCount() {
			return 0, io.EOF
		}

		out, err := r.stream.Block(r.ctx, r.next)
		if err != nil {
			r.err = err
			return 0, err
		}

		r.cur = out
		r.next++
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}
