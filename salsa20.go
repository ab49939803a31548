// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	// salsaBlockSize is the keystream block size.
	salsaBlockSize = 64
	// DefaultSalsaRounds is the standard Salsa20/20 round count.
	DefaultSalsaRounds = 20
)

var (
	// sigma is the 32-byte key constant "expand 32-byte k".
	sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}
	// tau is the 16-byte key constant "expand 16-byte k".
	tau = [4]uint32{0x61707865, 0x3120646e, 0x79622d36, 0x6b206574}
)

// Salsa20 produces a Salsa20 keystream for an 8-byte nonce and a 16- or
// 32-byte key. Keystream position is byte-exact across calls. A Salsa20 value
// is not safe for concurrent use.
type Salsa20 struct {
	state  [16]uint32
	block  [salsaBlockSize]byte
	rounds int
	// used is the number of bytes already consumed from block.
	used int
}

// NewSalsa20 returns a Salsa20/20 cipher.
func NewSalsa20(key, nonce []byte) (*Salsa20, error) {
	return NewSalsa20Rounds(key, nonce, DefaultSalsaRounds)
}

// NewSalsa20Rounds returns a cipher with an explicit even round count.
func NewSalsa20Rounds(key, nonce []byte, rounds int) (*Salsa20, error) {
	if rounds <= 0 || rounds%2 != 0 {
		return nil, fmt.Errorf("%w: rounds %d must be positive and even", ErrInvalidCipherKey, rounds)
	}

	s := &Salsa20{rounds: rounds}
	if err := s.Reset(key, nonce); err != nil {
		return nil, err
	}

	return s, nil
}

// Reset loads a new key and nonce and rewinds the block counter to zero.
func (s *Salsa20) Reset(key, nonce []byte) error {
	if len(nonce) != 8 {
		return fmt.Errorf("%w: nonce length %d, want 8", ErrInvalidCipherKey, len(nonce))
	}

	var consts [4]uint32
	var k2 []byte
	switch len(key) {
	case 16:
		consts = tau
		k2 = key
	case 32:
		consts = sigma
		k2 = key[16:]
	default:
		return fmt.Errorf("%w: key length %d, want 16 or 32", ErrInvalidCipherKey, len(key))
	}

	st := &s.state
	st[0] = consts[0]
	st[1] = binary.LittleEndian.Uint32(key[0:4])
	st[2] = binary.LittleEndian.Uint32(key[4:8])
	st[3] = binary.LittleEndian.Uint32(key[8:12])
	st[4] = binary.LittleEndian.Uint32(key[12:16])
	st[5] = consts[1]
	st[6] = binary.LittleEndian.Uint32(nonce[0:4])
	st[7] = binary.LittleEndian.Uint32(nonce[4:8])
	st[10] = consts[2]
	st[11] = binary.LittleEndian.Uint32(k2[0:4])
	st[12] = binary.LittleEndian.Uint32(k2[4:8])
	st[13] = binary.LittleEndian.Uint32(k2[8:12])
	st[14] = binary.LittleEndian.Uint32(k2[12:16])
	st[15] = consts[3]
	s.SetCounter(0)

	return nil
}

// Counter returns the index of the next keystream block to be generated.
func (s *Salsa20) Counter() uint64 {
	return uint64(s.state[8]) | uint64(s.state[9])<<32
}

// SetCounter positions the keystream at the start of block n.
func (s *Salsa20) SetCounter(n uint64) {
	s.storeCounter(n)
	s.used = salsaBlockSize
}

// Keystream returns the next n keystream bytes.
func (s *Salsa20) Keystream(n int) []byte {
	return s.XOR(make([]byte, n))
}

// XOR returns src combined with the next len(src) keystream bytes.
// Encryption and decryption are the same operation.
func (s *Salsa20) XOR(src []byte) []byte {
	out := make([]byte, len(src))
	for i := range src {
		if s.used == salsaBlockSize {
			s.nextBlock()
		}

		out[i] = src[i] ^ s.block[s.used]
		s.used++
	}

	return out
}

// nextBlock generates one keystream block and advances the counter.
func (s *Salsa20) nextBlock() {
	x := s.state
	for i := 0; i < s.rounds; i += 2 {
		// column round
		x[4] ^= bits.RotateLeft32(x[0]+x[12], 7)
		x[8] ^= bits.RotateLeft32(x[4]+x[0], 9)
		x[12] ^= bits.RotateLeft32(x[8]+x[4], 13)
		x[0] ^= bits.RotateLeft32(x[12]+x[8], 18)

		x[9] ^= bits.RotateLeft32(x[5]+x[1], 7)
		x[13] ^= bits.RotateLeft32(x[9]+x[5], 9)
		x[1] ^= bits.RotateLeft32(x[13]+x[9], 13)
		x[5] ^= bits.RotateLeft32(x[1]+x[13], 18)

		x[14] ^= bits.RotateLeft32(x[10]+x[6], 7)
		x[2] ^= bits.RotateLeft32(x[14]+x[10], 9)
		x[6] ^= bits.RotateLeft32(x[2]+x[14], 13)
		x[10] ^= bits.RotateLeft32(x[6]+x[2], 18)

		x[3] ^= bits.RotateLeft32(x[15]+x[11], 7)
		x[7] ^= bits.RotateLeft32(x[3]+x[15], 9)
		x[11] ^= bits.RotateLeft32(x[7]+x[3], 13)
		x[15] ^= bits.RotateLeft32(x[11]+x[7], 18)

		// row round
		x[1] ^= bits.RotateLeft32(x[0]+x[3], 7)
		x[2] ^= bits.RotateLeft32(x[1]+x[0], 9)
		x[3] ^= bits.RotateLeft32(x[2]+x[1], 13)
		x[0] ^= bits.RotateLeft32(x[3]+x[2], 18)

		x[6] ^= bits.RotateLeft32(x[5]+x[4], 7)
		x[7] ^= bits.RotateLeft32(x[6]+x[5], 9)
		x[4] ^= bits.RotateLeft32(x[7]+x[6], 13)
		x[5] ^= bits.RotateLeft32(x[4]+x[7], 18)

		x[11] ^= bits.RotateLeft32(x[10]+x[9], 7)
		x[8] ^= bits.RotateLeft32(x[11]+x[10], 9)
		x[9] ^= bits.RotateLeft32(x[8]+x[11], 13)
		x[10] ^= bits.RotateLeft32(x[9]+x[8], 18)

		x[12] ^= bits.RotateLeft32(x[15]+x[14], 7)
		x[13] ^= bits.RotateLeft32(x[12]+x[15], 9)
		x[14] ^= bits.RotateLeft32(x[13]+x[12], 13)
		x[15] ^= bits.RotateLeft32(x[14]+x[13], 18)
	}

	for i := range x {
		binary.LittleEndian.PutUint32(s.block[i*4:], x[i]+s.state[i])
	}

	s.used = 0
	s.storeCounter(s.Counter() + 1)
}

// storeCounter writes the block counter words without touching buffered keystream.
func (s *Salsa20) storeCounter(n uint64) {
	s.state[8] = uint32(n)       //nolint:gosec // low word
	s.state[9] = uint32(n >> 32) //nolint:gosec // high word
}
