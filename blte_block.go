// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// BlockMode is the leading byte of every stored BLTE block.
type BlockMode byte

const (
	// BlockNormal stores the payload as-is.
	BlockNormal BlockMode = 'N'
	// BlockCompressed stores a zlib stream.
	BlockCompressed BlockMode = 'Z'
	// BlockEncrypted stores an encrypted inner block.
	BlockEncrypted BlockMode = 'E'
	// BlockFrame is a recursive frame; not supported.
	BlockFrame BlockMode = 'F'
)

const (
	// cipherSalsa20 marks a Salsa20-encrypted block.
	cipherSalsa20 = 'S'
	// cipherARC4 marks an ARC4-encrypted block; not supported.
	cipherARC4 = 'A'
	// blockNonceSize is the stored nonce length.
	blockNonceSize = 4
	// maxBlockNesting bounds encrypted-inside-encrypted recursion.
	maxBlockNesting = 4
)

// String returns the mode letter.
func (m BlockMode) String() string {
	switch m {
	case BlockNormal, BlockCompressed, BlockEncrypted, BlockFrame:
		return string(rune(m))
	default:
		return fmt.Sprintf("0x%02x", byte(m))
	}
}

// decodeStoredBlock verifies a stored block against its descriptor and decodes it.
// A missing key yields zeros of the declared size when zero fill is enabled.
func decodeStoredBlock(payload []byte, b *BlockDescriptor, index int, opts BLTEOptions) ([]byte, error) {
	if err := verifyBlockHash(payload, b, index); err != nil {
		return nil, err
	}

	out, err := decodeBlock(payload, index, b.DecompressedSize, opts.Keys, 0)
	if err != nil {
		if opts.ZeroFillMissingKeys && errors.Is(err, ErrMissingKey) {
			return make([]byte, b.DecompressedSize), nil
		}

		return nil, err
	}

	return out, nil
}

// decodeBlock dispatches on the mode byte. Encrypted blocks are decrypted and
// dispatched again on the recovered inner block.
func decodeBlock(payload []byte, index int, declared uint32, keys KeySource, depth int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: block %d is empty", ErrMalformedContainer, index)
	}

	if depth > maxBlockNesting {
		return nil, fmt.Errorf("%w: block %d nests too deep", ErrMalformedContainer, index)
	}

	body := payload[1:]
	switch mode := BlockMode(payload[0]); mode {
	case BlockNormal:
		return append([]byte(nil), body...), nil

	case BlockCompressed:
		out, err := inflateBlock(body, declared)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", ErrMalformedContainer, index, err)
		}
		return out, nil

	case BlockEncrypted:
		inner, err := decryptBlock(body, index, keys)
		if err != nil {
			return nil, err
		}
		return decodeBlock(inner, index, declared, keys, depth+1)

	case BlockFrame:
		return nil, fmt.Errorf("%w: block %d", ErrUnsupportedFrame, index)

	default:
		return nil, fmt.Errorf("%w: %s in block %d", ErrUnknownBlockMode, mode, index)
	}
}

// inflateBlock decompresses a zlib stream, presizing for the declared size.
// Output longer than declared is kept.
func inflateBlock(src []byte, declared uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer func() { _ = zr.Close() }()

	buf := bytes.NewBuffer(make([]byte, 0, presizeHint(int64(declared), int64(len(src)))))
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	return buf.Bytes(), nil
}

// decryptBlock parses the encrypted block preamble and returns the inner block.
// Layout: name length (8), name, nonce length (4), nonce, cipher tag, data.
func decryptBlock(body []byte, index int, keys KeySource) ([]byte, error) {
	c := newCursor(body)
	nameLen := int(c.U8())
	if c.Err() == nil && nameLen != keyNameSize {
		return nil, fmt.Errorf("%w: block %d key name length %d", ErrMalformedContainer, index, nameLen)
	}

	name := c.Bytes(nameLen)
	nonceLen := int(c.U8())
	if c.Err() == nil && nonceLen != blockNonceSize {
		return nil, fmt.Errorf("%w: block %d nonce length %d", ErrMalformedContainer, index, nonceLen)
	}

	stored := c.Bytes(nonceLen)
	tag := c.U8()
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: block %d encryption header: %w", ErrMalformedContainer, index, err)
	}

	switch tag {
	case cipherSalsa20:
	case cipherARC4:
		return nil, fmt.Errorf("%w: ARC4 in block %d", ErrUnsupportedEncryption, index)
	default:
		return nil, fmt.Errorf("%w: cipher %#x in block %d", ErrUnsupportedEncryption, tag, index)
	}

	keyName := keyNameFromBytes(name)
	var key []byte
	if keys != nil {
		key, _ = keys.Get(keyName)
	}
	if key == nil {
		return nil, &MissingKeyError{KeyName: keyName, Block: index}
	}

	s, err := NewSalsa20(key, blockNonce(stored, index))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}

	return s.XOR(body[c.Offset():]), nil
}

// blockNonce mixes the block index into the stored nonce (little-endian)
// and zero-pads it to the 8 bytes Salsa20 expects.
func blockNonce(stored []byte, index int) []byte {
	nonce := make([]byte, 8)
	copy(nonce, stored)
	for i := 0; i < blockNonceSize; i++ {
		nonce[i] ^= byte(index >> (8 * i))
	}

	return nonce
}
