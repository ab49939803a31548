// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Listfile maps file names to file IDs.
type Listfile interface {
	FileID(name string) (uint32, bool)
}

// MapListfile is an in-memory Listfile that also maps IDs back to names.
// Name lookup ignores case and separator style. It is safe for concurrent use.
type MapListfile struct {
	ids   map[string]uint32
	names map[uint32]string
	mu    sync.RWMutex
}

// NewMapListfile returns an empty listfile.
func NewMapListfile() *MapListfile {
	return &MapListfile{
		ids:   make(map[string]uint32),
		names: make(map[uint32]string),
	}
}

// ParseListfile reads "id;name" lines. Blank lines and lines starting with
// '#' are skipped; a malformed line is an error naming its line number.
func ParseListfile(r io.Reader) (*MapListfile, error) {
	l := NewMapListfile()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxConfigLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		idText, name, ok := strings.Cut(text, ";")
		if !ok {
			return nil, fmt.Errorf("%w: listfile line %d has no ';'", ErrMalformedConfig, line)
		}

		id, err := strconv.ParseUint(strings.TrimSpace(idText), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: listfile line %d: %w", ErrMalformedConfig, line, err)
		}

		l.Add(uint32(id), name)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read listfile: %w", err)
	}

	return l, nil
}

// LoadListfile reads a listfile from path.
func LoadListfile(path string) (*MapListfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open listfile: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseListfile(f)
}

// Add registers name for id. Later names for the same id replace earlier ones.
func (l *MapListfile) Add(id uint32, name string) {
	name = NormalizePath(name)
	if name == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ids[listfileKey(name)] = id
	l.names[id] = name
}

// FileID implements Listfile.
func (l *MapListfile) FileID(name string) (uint32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.ids[listfileKey(NormalizePath(name))]
	return id, ok
}

// Name returns the listed name of id.
func (l *MapListfile) Name(id uint32) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	name, ok := l.names[id]
	return name, ok
}

// Len returns the number of named file IDs.
func (l *MapListfile) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.names)
}

// listfileKey folds a normalized name for lookup.
func listfileKey(name string) string {
	return strings.ToLower(name)
}
