// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxConfigLine bounds a single line of a TACT text document.
const maxConfigLine = 1 << 20

// BPSVTable is a pipe-separated table as served by the patch server and
// stored in .build.info. Column names drop their "!TYPE:size" suffix.
type BPSVTable struct {
	Columns []string
	Rows    [][]string
	// SeqN is the "## seqn = N" value, or 0 when absent.
	SeqN int
}

// ParseBPSV reads a BPSV document. The first non-comment line is the header;
// every row must have as many fields as the header.
func ParseBPSV(r io.Reader) (*BPSVTable, error) {
	t := &BPSVTable{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxConfigLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if strings.HasPrefix(text, "##") {
			if k, v, ok := strings.Cut(strings.TrimPrefix(text, "##"), "="); ok && strings.TrimSpace(k) == "seqn" {
				t.SeqN, _ = strconv.Atoi(strings.TrimSpace(v))
			}
			continue
		}

		fields := strings.Split(text, "|")
		if t.Columns == nil {
			for _, f := range fields {
				name, _, _ := strings.Cut(f, "!")
				t.Columns = append(t.Columns, strings.TrimSpace(name))
			}
			continue
		}

		if len(fields) != len(t.Columns) {
			return nil, fmt.Errorf("%w: bpsv line %d has %d fields, want %d", ErrMalformedConfig, line, len(fields), len(t.Columns))
		}

		t.Rows = append(t.Rows, fields)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bpsv: %w", err)
	}

	if t.Columns == nil {
		return nil, fmt.Errorf("%w: bpsv has no header", ErrMalformedConfig)
	}

	return t, nil
}

// Column returns the index of name, ignoring case and spaces, or -1.
func (t *BPSVTable) Column(name string) int {
	want := columnKey(name)
	for i, c := range t.Columns {
		if columnKey(c) == want {
			return i
		}
	}

	return -1
}

// Value returns the named field of row, or "" when the column is absent.
func (t *BPSVTable) Value(row int, name string) string {
	i := t.Column(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}

	return strings.TrimSpace(t.Rows[row][i])
}

// columnKey folds a column name for lookup.
func columnKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

// VersionRecord is one row of the patch server versions document.
type VersionRecord struct {
	Region        string `json:"region" yaml:"region"`
	BuildConfig   string `json:"build_config" yaml:"build_config"`
	CDNConfig     string `json:"cdn_config" yaml:"cdn_config"`
	KeyRing       string `json:"key_ring,omitempty" yaml:"key_ring,omitempty"`
	VersionsName  string `json:"versions_name,omitempty" yaml:"versions_name,omitempty"`
	ProductConfig string `json:"product_config,omitempty" yaml:"product_config,omitempty"`
	BuildID       int    `json:"build_id,omitempty" yaml:"build_id,omitempty"`
}

// CDNRecord is one row of the patch server cdns document.
type CDNRecord struct {
	Name       string   `json:"name" yaml:"name"`
	Path       string   `json:"path" yaml:"path"`
	ConfigPath string   `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	Hosts      []string `json:"hosts" yaml:"hosts"`
}

// BuildInfoRecord is one row of a local .build.info file.
type BuildInfoRecord struct {
	Branch   string   `json:"branch" yaml:"branch"`
	BuildKey string   `json:"build_key" yaml:"build_key"`
	CDNKey   string   `json:"cdn_key" yaml:"cdn_key"`
	CDNPath  string   `json:"cdn_path,omitempty" yaml:"cdn_path,omitempty"`
	Version  string   `json:"version,omitempty" yaml:"version,omitempty"`
	Product  string   `json:"product,omitempty" yaml:"product,omitempty"`
	CDNHosts []string `json:"cdn_hosts,omitempty" yaml:"cdn_hosts,omitempty"`
	Active   bool     `json:"active" yaml:"active"`
}

// ParseVersions parses a versions document.
func ParseVersions(r io.Reader) ([]VersionRecord, error) {
	t, err := ParseBPSV(r)
	if err != nil {
		return nil, err
	}

	out := make([]VersionRecord, 0, len(t.Rows))
	for i := range t.Rows {
		rec := VersionRecord{
			Region:        t.Value(i, "Region"),
			BuildConfig:   t.Value(i, "BuildConfig"),
			CDNConfig:     t.Value(i, "CDNConfig"),
			KeyRing:       t.Value(i, "KeyRing"),
			VersionsName:  t.Value(i, "VersionsName"),
			ProductConfig: t.Value(i, "ProductConfig"),
		}
		rec.BuildID, _ = strconv.Atoi(t.Value(i, "BuildId"))
		out = append(out, rec)
	}

	return out, nil
}

// ParseCDNs parses a cdns document.
func ParseCDNs(r io.Reader) ([]CDNRecord, error) {
	t, err := ParseBPSV(r)
	if err != nil {
		return nil, err
	}

	out := make([]CDNRecord, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, CDNRecord{
			Name:       t.Value(i, "Name"),
			Path:       t.Value(i, "Path"),
			ConfigPath: t.Value(i, "ConfigPath"),
			Hosts:      SplitHosts(t.Value(i, "Hosts")),
		})
	}

	return out, nil
}

// ParseBuildInfo parses a local .build.info file.
func ParseBuildInfo(r io.Reader) ([]BuildInfoRecord, error) {
	t, err := ParseBPSV(r)
	if err != nil {
		return nil, err
	}

	if t.Column("Build Key") < 0 {
		return nil, fmt.Errorf("%w: .build.info has no Build Key column", ErrMalformedConfig)
	}

	out := make([]BuildInfoRecord, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, BuildInfoRecord{
			Branch:   t.Value(i, "Branch"),
			Active:   t.Value(i, "Active") == "1",
			BuildKey: t.Value(i, "Build Key"),
			CDNKey:   t.Value(i, "CDN Key"),
			CDNPath:  t.Value(i, "CDN Path"),
			CDNHosts: SplitHosts(t.Value(i, "CDN Hosts")),
			Version:  t.Value(i, "Version"),
			Product:  t.Value(i, "Product"),
		})
	}

	return out, nil
}

// SelectVersion returns the row for region.
func SelectVersion(records []VersionRecord, region string) (VersionRecord, error) {
	for _, r := range records {
		if strings.EqualFold(r.Region, region) {
			return r, nil
		}
	}

	return VersionRecord{}, fmt.Errorf("%w: no versions row for region %q", ErrBuildNotFound, region)
}

// SelectCDN returns the row for region.
func SelectCDN(records []CDNRecord, region string) (CDNRecord, error) {
	for _, r := range records {
		if strings.EqualFold(r.Name, region) {
			return r, nil
		}
	}

	return CDNRecord{}, fmt.Errorf("%w: no cdns row for region %q", ErrBuildNotFound, region)
}

// SelectBuildInfo picks the active row for product, or the first active row
// when product is empty.
func SelectBuildInfo(records []BuildInfoRecord, product string) (BuildInfoRecord, error) {
	for _, r := range records {
		if !r.Active {
			continue
		}

		if product == "" || strings.EqualFold(r.Product, product) {
			return r, nil
		}
	}

	return BuildInfoRecord{}, fmt.Errorf("%w: no active .build.info row for product %q", ErrBuildNotFound, product)
}

// ConfigFile holds "key = value ..." pairs of a build or CDN config.
// Values are split on whitespace.
type ConfigFile map[string][]string

// ParseConfigFile parses a TACT key/value config. Comment and blank lines are skipped.
func ParseConfigFile(data []byte) (ConfigFile, error) {
	cfg := make(ConfigFile)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxConfigLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("%w: config line %d has no '='", ErrMalformedConfig, line)
		}

		cfg[strings.TrimSpace(k)] = strings.Fields(v)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return cfg, nil
}

// Value returns the first value for key.
func (c ConfigFile) Value(key string) string {
	if v := c[key]; len(v) > 0 {
		return v[0]
	}

	return ""
}

// key parses the i-th value of name as a Key.
func (c ConfigFile) key(name string, i int) (Key, error) {
	v := c[name]
	if len(v) <= i {
		return Key{}, fmt.Errorf("%w: %q has no value %d", ErrMalformedConfig, name, i)
	}

	k, err := ParseKey(v[i])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrMalformedConfig, name, err)
	}

	return k, nil
}

// keys parses every value of name as a Key.
func (c ConfigFile) keys(name string) ([]Key, error) {
	out := make([]Key, 0, len(c[name]))
	for i := range c[name] {
		k, err := c.key(name, i)
		if err != nil {
			return nil, err
		}

		out = append(out, k)
	}

	return out, nil
}

// BuildConfig is the subset of a build config a reader needs.
type BuildConfig struct {
	BuildName string `json:"build_name,omitempty" yaml:"build_name,omitempty"`
	// Root is the content key of the root table.
	Root Key `json:"root" yaml:"root"`
	// Encoding is the content key of the encoding table.
	Encoding Key `json:"encoding" yaml:"encoding"`
	// EncodingEKey is the encoding key of the encoding table.
	EncodingEKey Key `json:"encoding_ekey" yaml:"encoding_ekey"`
}

// ParseBuildConfig reads root and encoding keys from a build config.
func ParseBuildConfig(data []byte) (*BuildConfig, error) {
	cfg, err := ParseConfigFile(data)
	if err != nil {
		return nil, err
	}

	bc := &BuildConfig{BuildName: strings.Join(cfg["build-name"], " ")}
	if bc.Root, err = cfg.key("root", 0); err != nil {
		return nil, err
	}

	if bc.Encoding, err = cfg.key("encoding", 0); err != nil {
		return nil, err
	}

	if bc.EncodingEKey, err = cfg.key("encoding", 1); err != nil {
		return nil, err
	}

	return bc, nil
}

// CDNConfig lists the CDN archives of a build.
type CDNConfig struct {
	Archives     []Key `json:"archives" yaml:"archives"`
	ArchiveGroup Key   `json:"archive_group,omitzero" yaml:"archive_group,omitempty"`
	FileIndex    Key   `json:"file_index,omitzero" yaml:"file_index,omitempty"`
}

// ParseCDNConfig reads archive keys from a CDN config.
func ParseCDNConfig(data []byte) (*CDNConfig, error) {
	cfg, err := ParseConfigFile(data)
	if err != nil {
		return nil, err
	}

	cc := &CDNConfig{}
	if cc.Archives, err = cfg.keys("archives"); err != nil {
		return nil, err
	}

	if len(cfg["archive-group"]) > 0 {
		if cc.ArchiveGroup, err = cfg.key("archive-group", 0); err != nil {
			return nil, err
		}
	}

	if len(cfg["file-index"]) > 0 {
		if cc.FileIndex, err = cfg.key("file-index", 0); err != nil {
			return nil, err
		}
	}

	return cc, nil
}
