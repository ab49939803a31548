// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"crypto/md5" //nolint:gosec // BLTE integrity hashes are MD5 by format.
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// encodedBlock is one block ready to be written.
type encodedBlock struct {
	payload []byte
	size    uint32
}

// EncodeBLTE builds a BLTE container from data and returns it with its
// encoding key (the container identity hash).
func EncodeBLTE(data []byte, opts BLTEEncodeOptions) ([]byte, Key, error) {
	opts.applyDefaults()

	var encKey []byte
	var keyName []byte
	if opts.EncryptKeyName != "" {
		var err error
		if _, encKey, err = validateTactKey(opts.EncryptKeyName, hex.EncodeToString(opts.EncryptKey)); err != nil {
			return nil, Key{}, err
		}

		raw, _ := hex.DecodeString(opts.EncryptKeyName)
		keyName = make([]byte, len(raw))
		for i := range raw {
			keyName[len(raw)-1-i] = raw[i]
		}
	}

	chunks := splitBlocks(data, opts.BlockSize)
	if opts.Headerless && len(chunks) != 1 {
		return nil, Key{}, fmt.Errorf("%w: headerless container needs exactly one block", ErrMalformedContainer)
	}

	blocks := make([]encodedBlock, len(chunks))
	for i, chunk := range chunks {
		payload, err := encodeBlock(chunk, opts.Mode, opts.CompressionLevel)
		if err != nil {
			return nil, Key{}, fmt.Errorf("encode block %d: %w", i, err)
		}

		if encKey != nil {
			payload, err = encryptBlock(payload, i, keyName, encKey, opts.Nonce)
			if err != nil {
				return nil, Key{}, fmt.Errorf("encrypt block %d: %w", i, err)
			}
		}

		blocks[i] = encodedBlock{payload: payload, size: uint32(len(chunk))} //nolint:gosec // block sizes are bounded by BlockSize
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(blteMagic))

	if opts.Headerless {
		_ = binary.Write(&buf, binary.BigEndian, uint32(0))
		buf.Write(blocks[0].payload)

		out := buf.Bytes()
		return out, md5.Sum(out), nil //nolint:gosec // format hash
	}

	headerSize := blteHeaderFixed + blteEntrySize*len(blocks)
	_ = binary.Write(&buf, binary.BigEndian, uint32(headerSize)) //nolint:gosec // bounded by block count
	count := len(blocks)
	buf.Write([]byte{blteTableFormat, byte(count >> 16), byte(count >> 8), byte(count)})

	for _, b := range blocks {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(b.payload))) //nolint:gosec // block payload size
		_ = binary.Write(&buf, binary.BigEndian, b.size)
		sum := md5.Sum(b.payload) //nolint:gosec // format hash
		buf.Write(sum[:])
	}

	for _, b := range blocks {
		buf.Write(b.payload)
	}

	out := buf.Bytes()
	return out, md5.Sum(out[:headerSize]), nil //nolint:gosec // format hash
}

// splitBlocks cuts data into chunks of at most size bytes; size 0 means one chunk.
func splitBlocks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		chunks = append(chunks, data[off:end])
	}

	return chunks
}

// encodeBlock prefixes chunk with its mode byte, compressing for BlockCompressed.
func encodeBlock(chunk []byte, mode BlockMode, level int) ([]byte, error) {
	switch mode {
	case BlockNormal:
		out := make([]byte, 0, len(chunk)+1)
		out = append(out, byte(BlockNormal))
		return append(out, chunk...), nil

	case BlockCompressed:
		var buf bytes.Buffer
		buf.WriteByte(byte(BlockCompressed))
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}

		if _, err := zw.Write(chunk); err != nil {
			return nil, err
		}

		if err := zw.Close(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: cannot encode mode %s", ErrUnknownBlockMode, mode)
	}
}

// encryptBlock wraps an encoded block into an 'E' block.
func encryptBlock(inner []byte, index int, keyName, key []byte, nonce [blockNonceSize]byte) ([]byte, error) {
	s, err := NewSalsa20(key, blockNonce(nonce[:], index))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+1+len(keyName)+1+blockNonceSize+1+len(inner))
	out = append(out, byte(BlockEncrypted), byte(len(keyName)))
	out = append(out, keyName...)
	out = append(out, blockNonceSize)
	out = append(out, nonce[:]...)
	out = append(out, cipherSalsa20)
	return append(out, s.XOR(inner)...), nil
}
