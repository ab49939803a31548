// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// FileFilter selects root table file IDs for batch export.
// Name-based fields need a FileNamer; unnamed IDs never match them.
type FileFilter struct {
	// Prefix keeps names under this directory, or the exact name.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Rules keep names matching include rules; empty keeps every name.
	Rules []pathrules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// MatcherOptions control rule matching; zero means case-insensitive with default exclude.
	MatcherOptions pathrules.MatcherOptions `json:"matcher_options,omitzero" yaml:"matcher_options,omitzero"`
	// Locale keeps IDs with a variant for this locale; zero keeps all.
	Locale Locale `json:"locale,omitempty" yaml:"locale,omitempty"`
	// MinSize drops files whose decoded size is smaller.
	MinSize uint64 `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	// NamedOnly drops IDs without a name.
	NamedOnly bool `json:"named_only,omitempty" yaml:"named_only,omitempty"`
	// ASCIIOnly drops names with non-ASCII bytes.
	ASCIIOnly bool `json:"ascii_only,omitempty" yaml:"ascii_only,omitempty"`
}

// needsName reports whether any name-based condition is set.
func (f FileFilter) needsName() bool {
	return f.NamedOnly || f.ASCIIOnly || f.Prefix != "" || len(f.Rules) > 0
}

// SelectFiles returns the file IDs of root, ascending, that pass f.
// enc is only consulted when MinSize is set.
func SelectFiles(root *RootTable, enc *EncodingTable, namer FileNamer, f FileFilter) ([]uint32, error) {
	matcher, err := newFilterMatcher(f)
	if err != nil {
		return nil, err
	}

	prefix := NormalizePath(f.Prefix)
	ids := root.FileIDs()
	out := ids[:0]
	for _, id := range ids {
		ckey, ok := filterContentKey(root, id, f.Locale)
		if !ok {
			continue
		}

		if f.MinSize > 0 {
			entry, ok := enc.Lookup(ckey)
			if !ok || entry.Size < f.MinSize {
				continue
			}
		}

		if !f.needsName() {
			out = append(out, id)
			continue
		}

		name := ""
		if namer != nil {
			name, _ = namer.Name(id)
		}
		if name == "" {
			continue
		}

		if f.ASCIIOnly && !filterPathIsASCIIOnly(name) {
			continue
		}

		if !filterHasPrefix(name, prefix) {
			continue
		}

		if matcher != nil && !matcher.Included(NormalizePath(name), false) {
			continue
		}

		out = append(out, id)
	}

	return out, nil
}

// newFilterMatcher compiles the filter rules; no rules yields nil.
func newFilterMatcher(f FileFilter) (*pathrules.Matcher, error) {
	if len(f.Rules) == 0 {
		return nil, nil
	}

	opts := f.MatcherOptions
	if opts == (pathrules.MatcherOptions{}) {
		opts = pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionExclude}
	}

	rules := make([]pathrules.Rule, 0, len(f.Rules))
	for _, rule := range f.Rules {
		if pattern := normalizePathForMatching(rule.Pattern); pattern != "" {
			rules = append(rules, pathrules.Rule{Action: rule.Action, Pattern: pattern})
		}
	}

	m, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilterPattern, err)
	}

	return m, nil
}

// filterContentKey picks the content key used for size checks. A zero locale
// takes the first variant.
func filterContentKey(root *RootTable, id uint32, locale Locale) (Key, bool) {
	if locale != 0 {
		ckey, err := root.Resolve(id, locale)
		return ckey, err == nil
	}

	entries := root.Entries(id)
	if len(entries) == 0 {
		return Key{}, false
	}

	return entries[0].CKey, true
}

// filterPathIsASCIIOnly reports whether path contains only ASCII bytes.
func filterPathIsASCIIOnly(pathValue string) bool {
	for idx := 0; idx < len(pathValue); idx++ {
		if pathValue[idx] >= 0x80 {
			return false
		}
	}

	return true
}

// filterHasPrefix reports whether name is prefix or lies under it, ignoring case.
func filterHasPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}

	name = strings.ToLower(NormalizePath(name))
	prefix = strings.ToLower(prefix)
	return name == prefix || strings.HasPrefix(name, prefix+"/")
}
