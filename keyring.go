// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// keyNameSize is the decoded size of a key name.
	keyNameSize = 8
	// tactKeySize is the decoded size of a key value.
	tactKeySize = 16
	// maxKeyListSize bounds the remote key list download.
	maxKeyListSize = 16 * 1024 * 1024
)

// KeyRing is a registry of named decryption keys with debounced persistence.
// It is safe for concurrent use.
type KeyRing struct {
	opts   KeyRingOptions
	keys   map[string][]byte
	timer  *time.Timer
	logger *zap.Logger
	mu     sync.Mutex
	// dirty reports whether keys changed since the last successful write.
	dirty bool
	// writes counts completed persistence writes.
	writes int
	closed bool
}

// NewKeyRing returns an empty key ring. Call Load to populate it.
func NewKeyRing(opts KeyRingOptions) *KeyRing {
	opts.applyDefaults()

	return &KeyRing{
		opts:   opts,
		keys:   make(map[string][]byte),
		logger: opts.Logger.Named("keyring"),
	}
}

// Get returns a copy of the key registered under name (case-insensitive).
func (k *KeyRing) Get(name string) ([]byte, bool) {
	if k == nil {
		return nil, false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	key, ok := k.keys[strings.ToLower(name)]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), key...), true
}

// Len returns the number of registered keys.
func (k *KeyRing) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.keys)
}

// Names returns registered key names in sorted order.
func (k *KeyRing) Names() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	names := make([]string, 0, len(k.keys))
	for name := range k.keys {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Add validates and registers a key. Name must decode to 8 bytes and key to
// 16 bytes; anything else is rejected without touching the registry.
// Accepted changes are persisted after SaveDelay, coalesced with later adds.
func (k *KeyRing) Add(name, key string) bool {
	normName, keyBytes, err := validateTactKey(name, key)
	if err != nil {
		k.logger.Debug("rejected key", zap.String("name", name), zap.Error(err))
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.keys[normName]; ok && string(existing) == string(keyBytes) {
		return true
	}

	k.keys[normName] = keyBytes
	k.markDirtyLocked()
	return true
}

// validateTactKey normalizes a hex key name and value.
func validateTactKey(name, key string) (string, []byte, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	key = strings.ToLower(strings.TrimSpace(key))

	nameBytes, err := hex.DecodeString(name)
	if err != nil || len(nameBytes) != keyNameSize {
		return "", nil, fmt.Errorf("%w: key name %q", ErrInvalidKey, name)
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil || len(keyBytes) != tactKeySize {
		return "", nil, fmt.Errorf("%w: key value for %s", ErrInvalidKey, name)
	}

	return name, keyBytes, nil
}

// markDirtyLocked flags pending changes and arms the debounce timer.
func (k *KeyRing) markDirtyLocked() {
	k.dirty = true
	if k.opts.Path == "" || k.closed {
		return
	}

	if k.timer != nil {
		k.timer.Reset(k.opts.SaveDelay)
		return
	}

	k.timer = time.AfterFunc(k.opts.SaveDelay, k.scheduledFlush)
}

// scheduledFlush runs when the debounce timer fires.
func (k *KeyRing) scheduledFlush() {
	if err := k.Flush(); err != nil {
		k.logger.Warn("persist keys", zap.String("path", k.opts.Path), zap.Error(err))
	}
}

// Flush writes pending changes immediately. It is a no-op when nothing changed.
func (k *KeyRing) Flush() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}

	if !k.dirty || k.opts.Path == "" {
		return nil
	}

	if err := k.writeLocked(); err != nil {
		return err
	}

	k.dirty = false
	k.writes++
	return nil
}

// Close flushes pending changes and stops scheduling writes.
func (k *KeyRing) Close() error {
	err := k.Flush()

	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()

	return err
}

// writeLocked persists the registry as a flat, indented name -> key JSON object.
func (k *KeyRing) writeLocked() error {
	out := make(map[string]string, len(k.keys))
	for name, key := range k.keys {
		out[name] = hex.EncodeToString(key)
	}

	data, err := json.MarshalIndent(out, "", "\t")
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	return writeFileAtomic(k.opts.Path, data)
}

// Load reads the local key file and then merges the remote key list.
// Missing or corrupt local files and unreachable remotes are logged, not returned;
// only context cancellation is reported.
func (k *KeyRing) Load(ctx context.Context) error {
	if n, err := k.LoadFile(); err != nil {
		k.logger.Warn("load local keys", zap.String("path", k.opts.Path), zap.Error(err))
	} else if n > 0 {
		k.logger.Debug("loaded local keys", zap.Int("count", n))
	}

	if k.opts.RemoteURL == "" {
		return nil
	}

	added, err := k.Refresh(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		k.logger.Warn("refresh remote keys", zap.String("url", k.opts.RemoteURL), zap.Error(err))
		return nil
	}

	k.logger.Info("refreshed remote keys", zap.Int("added", added), zap.Int("total", k.Len()))
	return nil
}

// LoadFile merges keys from the local JSON file without scheduling a write.
// A missing file yields zero keys and no error.
func (k *KeyRing) LoadFile() (int, error) {
	if k.opts.Path == "" {
		return 0, nil
	}

	data, err := os.ReadFile(k.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read keys: %w", err)
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, fmt.Errorf("parse keys: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	loaded := 0
	for name, key := range stored {
		normName, keyBytes, err := validateTactKey(name, key)
		if err != nil {
			continue
		}

		k.keys[normName] = keyBytes
		loaded++
	}

	return loaded, nil
}

// Refresh downloads the remote key list and merges it via Add.
// It returns the number of accepted lines.
func (k *KeyRing) Refresh(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.opts.RemoteURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build key list request: %w", err)
	}

	resp, err := k.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch key list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch key list: status %s", resp.Status)
	}

	return k.ReadList(io.LimitReader(resp.Body, maxKeyListSize))
}

// ReadList merges a newline-delimited "name key" list. Blank lines and lines
// starting with '#' are ignored; invalid lines are skipped.
func (k *KeyRing) ReadList(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	accepted, rejected := 0, 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			rejected++
			continue
		}

		if k.Add(fields[0], fields[1]) {
			accepted++
		} else {
			rejected++
		}
	}

	if err := sc.Err(); err != nil {
		return accepted, fmt.Errorf("read key list: %w", err)
	}

	if rejected > 0 {
		k.logger.Debug("skipped invalid key list lines", zap.Int("count", rejected))
	}

	return accepted, nil
}

// keyNameFromBytes formats an 8-byte BLTE key name the way key lists publish it.
func keyNameFromBytes(b []byte) string {
	rev := make([]byte, len(b))
	for i := range b {
		rev[len(b)-1-i] = b[i]
	}

	return hex.EncodeToString(rev)
}

// writeFileAtomic writes data to a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}
