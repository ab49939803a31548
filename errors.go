// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"errors"
	"fmt"
)

// Error categories. Every specific sentinel below wraps exactly one category,
// so callers may match either the precise cause or the broad class with errors.Is.
var (
	// ErrResolution means a lookup step (root, encoding, index) had no answer.
	ErrResolution = errors.New("resolution failed")
	// ErrIntegrity means stored bytes do not match their declared hash.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrDecryption means an encrypted block could not be decrypted.
	ErrDecryption = errors.New("decryption failed")
	// ErrFormat means a structure is malformed or uses an unsupported variant.
	ErrFormat = errors.New("invalid format")
	// ErrTransport means no remote host could serve the request.
	ErrTransport = errors.New("transport failed")
)

// Sentinel errors for CASC operations. Use errors.Is in callers.
var (
	// ErrFileNotFound means no root variant matches the file ID and active locale.
	ErrFileNotFound = fmt.Errorf("%w: file not found for active locale", ErrResolution)
	// ErrContentKeyNotFound means the content key is absent from the encoding table.
	ErrContentKeyNotFound = fmt.Errorf("%w: content key not in encoding table", ErrResolution)
	// ErrEncodingKeyNotIndexed means no archive index references the encoding key.
	ErrEncodingKeyNotIndexed = fmt.Errorf("%w: encoding key not indexed", ErrResolution)
	// ErrNameNotFound means the listfile has no file ID for the requested name.
	ErrNameNotFound = fmt.Errorf("%w: name not in listfile", ErrResolution)
	// ErrNoListfile means name lookup was requested without a listfile.
	ErrNoListfile = fmt.Errorf("%w: no listfile configured", ErrResolution)
	// ErrNotOnCDN means every reachable CDN host answered 404 for the object.
	ErrNotOnCDN = fmt.Errorf("%w: object not found on CDN", ErrResolution)

	// ErrBlockHashMismatch means a block payload does not hash to its table entry.
	ErrBlockHashMismatch = fmt.Errorf("%w: block hash mismatch", ErrIntegrity)
	// ErrContainerHashMismatch means the container header does not hash to its encoding key.
	ErrContainerHashMismatch = fmt.Errorf("%w: container hash mismatch", ErrIntegrity)

	// ErrMissingKey means the key ring has no key for an encrypted block.
	ErrMissingKey = fmt.Errorf("%w: missing decryption key", ErrDecryption)
	// ErrUnsupportedEncryption means the block uses an unknown cipher tag.
	ErrUnsupportedEncryption = fmt.Errorf("%w: unsupported encryption", ErrDecryption)
	// ErrInvalidCipherKey means key or nonce length is not accepted by the cipher.
	ErrInvalidCipherKey = fmt.Errorf("%w: invalid cipher key or nonce", ErrDecryption)

	// ErrInvalidMagic means a structure starts with an unexpected signature.
	ErrInvalidMagic = fmt.Errorf("%w: bad magic", ErrFormat)
	// ErrMalformedContainer means BLTE block bookkeeping is inconsistent.
	ErrMalformedContainer = fmt.Errorf("%w: malformed container", ErrFormat)
	// ErrUnsupportedFrame means a block uses the recursive frame mode.
	ErrUnsupportedFrame = fmt.Errorf("%w: frame blocks are not implemented", ErrFormat)
	// ErrUnknownBlockMode means a block starts with an unrecognized mode byte.
	ErrUnknownBlockMode = fmt.Errorf("%w: unknown block mode", ErrFormat)
	// ErrMalformedIndex means an archive index is truncated or inconsistent.
	ErrMalformedIndex = fmt.Errorf("%w: malformed index", ErrFormat)
	// ErrMalformedTable means an encoding or root table is truncated or inconsistent.
	ErrMalformedTable = fmt.Errorf("%w: malformed table", ErrFormat)
	// ErrMalformedConfig means a TACT config or BPSV document cannot be parsed.
	ErrMalformedConfig = fmt.Errorf("%w: malformed config", ErrFormat)
	// ErrShortRead means a read went past the end of the buffer.
	ErrShortRead = fmt.Errorf("%w: read out of range", ErrFormat)
	// ErrInvalidKey means a hex key does not have the expected length.
	ErrInvalidKey = fmt.Errorf("%w: invalid key", ErrFormat)

	// ErrNoReachableHost means every CDN candidate failed to respond.
	ErrNoReachableHost = fmt.Errorf("%w: no reachable host", ErrTransport)
	// ErrNoHosts means the candidate host list is empty after filtering.
	ErrNoHosts = fmt.Errorf("%w: no candidate hosts", ErrTransport)

	// ErrClosed means the source or resource is already closed.
	ErrClosed = errors.New("source or resource already closed")
	// ErrInvalidCachePath means a cache entry name is empty or escapes the build directory.
	ErrInvalidCachePath = errors.New("invalid cache path")
	// ErrInvalidExportPath means an export output name is invalid for the destination.
	ErrInvalidExportPath = errors.New("invalid export path")
	// ErrBuildNotFound means no build matches the requested product or region.
	ErrBuildNotFound = errors.New("build not found")
	// ErrInvalidCompressPattern means a cache compression rule failed to compile.
	ErrInvalidCompressPattern = errors.New("invalid compress pattern")
	// ErrCorruptCacheEntry means a compressed cache blob cannot be decoded.
	ErrCorruptCacheEntry = errors.New("corrupt cache entry")
	// ErrInvalidFilterPattern means file filter rules failed to compile.
	ErrInvalidFilterPattern = errors.New("invalid filter pattern")
)

// MissingKeyError reports an encrypted block whose key is not registered.
// It matches ErrMissingKey with errors.Is.
type MissingKeyError struct {
	// KeyName is the 16-char hex key name as published in key lists.
	KeyName string
	// Block is the index of the block inside its container.
	Block int
}

// Error implements error.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%v: key %s (block %d)", ErrMissingKey, e.KeyName, e.Block)
}

// Unwrap returns ErrMissingKey.
func (e *MissingKeyError) Unwrap() error {
	return ErrMissingKey
}

// FileError is returned by sources at the API boundary. It carries the file ID
// and wraps the underlying cause.
type FileError struct {
	Err    error
	Name   string
	FileID uint32
}

// Error implements error.
func (e *FileError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("file %d (%s): %v", e.FileID, e.Name, e.Err)
	}

	return fmt.Sprintf("file %d: %v", e.FileID, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *FileError) Unwrap() error {
	return e.Err
}
