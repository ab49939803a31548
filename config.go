// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/woozymasta/pathrules"
	"gopkg.in/yaml.v3"
)

// Environment variables that override config file values.
const (
	EnvLocale        = "CASC_LOCALE"
	EnvFallbackHosts = "CASC_FALLBACK_HOSTS"
	EnvCacheDir      = "CASC_CACHE_DIR"
)

// Config is the file form of client settings, shared by the CLI and embedders.
type Config struct {
	// Log configures NewLogger.
	Log LogConfig `json:"log,omitzero" yaml:"log,omitempty"`
	// Locale is a locale name such as "enUS".
	Locale string `json:"locale,omitempty" yaml:"locale,omitempty"`
	// Region selects patch server and CDN rows.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Product is the TACT product code.
	Product string `json:"product,omitempty" yaml:"product,omitempty"`
	// PatchURL is a format string taking region and product.
	PatchURL string `json:"patch_url,omitempty" yaml:"patch_url,omitempty"`
	// CacheDir is the build cache root; empty disables caching.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	// KeysFile persists the key ring.
	KeysFile string `json:"keys_file,omitempty" yaml:"keys_file,omitempty"`
	// KeysURL serves a "name key" list merged into the key ring.
	KeysURL string `json:"keys_url,omitempty" yaml:"keys_url,omitempty"`
	// Listfile is a path to an "id;name" listfile.
	Listfile string `json:"listfile,omitempty" yaml:"listfile,omitempty"`
	// FallbackHosts are tried in addition to server-provided CDN hosts.
	FallbackHosts []string `json:"fallback_hosts,omitempty" yaml:"fallback_hosts,omitempty"`
	// CompressCache lists glob patterns of cache entries stored compressed.
	CompressCache []string `json:"compress_cache,omitempty" yaml:"compress_cache,omitempty"`
	// CacheExpiry removes build caches idle for longer.
	CacheExpiry time.Duration `json:"cache_expiry,omitempty" yaml:"cache_expiry,omitempty"`
	// PingTimeout bounds one CDN host ping.
	PingTimeout time.Duration `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty"`
	// FetchTimeout bounds one CDN request.
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
	// ZeroFillMissingKeys substitutes zeroes for blocks with unknown keys.
	ZeroFillMissingKeys bool `json:"zero_fill_missing_keys,omitempty" yaml:"zero_fill_missing_keys,omitempty"`
}

// DefaultConfig returns a config built from environment overrides and defaults.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyEnv(os.LookupEnv)
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML config from path and applies environment overrides
// and defaults. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

// ParseConfig decodes YAML from r, then applies environment overrides and defaults.
func ParseConfig(r io.Reader) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}

	c.applyEnv(os.LookupEnv)
	c.applyDefaults()

	if _, err := c.locale(); err != nil {
		return nil, err
	}

	return c, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLocale); ok && v != "" {
		c.Locale = v
	}

	if v, ok := lookup(EnvFallbackHosts); ok && v != "" {
		c.FallbackHosts = SplitHosts(strings.ReplaceAll(v, ",", " "))
	}

	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.CacheDir = v
	}
}

// applyDefaults fills zero-valued config fields with defaults.
func (c *Config) applyDefaults() {
	c.Log.applyDefaults()

	if c.Locale == "" {
		c.Locale = "enUS"
	}

	if c.Region == "" {
		c.Region = DefaultRegion
	}

	if c.Product == "" {
		c.Product = DefaultProduct
	}

	if c.PatchURL == "" {
		c.PatchURL = DefaultPatchURL
	}

	if c.CacheExpiry <= 0 {
		c.CacheExpiry = DefaultCacheExpiry
	}

	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}

	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// locale parses the configured locale name.
func (c *Config) locale() (Locale, error) {
	l, err := ParseLocale(c.Locale)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}

	return l, nil
}

// SourceOptions returns the shared source options. Keys, Listfile, Logger
// and Metrics are left for the caller to attach.
func (c *Config) SourceOptions() (SourceOptions, error) {
	l, err := c.locale()
	if err != nil {
		return SourceOptions{}, err
	}

	return SourceOptions{Locale: l, ZeroFillMissingKeys: c.ZeroFillMissingKeys}, nil
}

// LocalOptions returns options for OpenLocal.
func (c *Config) LocalOptions() (LocalOptions, error) {
	so, err := c.SourceOptions()
	if err != nil {
		return LocalOptions{}, err
	}

	return LocalOptions{SourceOptions: so, Product: c.Product}, nil
}

// RemoteOptions returns options for OpenRemote.
func (c *Config) RemoteOptions() (RemoteOptions, error) {
	so, err := c.SourceOptions()
	if err != nil {
		return RemoteOptions{}, err
	}

	compress := make([]pathrules.Rule, 0, len(c.CompressCache))
	for _, p := range c.CompressCache {
		compress = append(compress, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}

	return RemoteOptions{
		SourceOptions: so,
		Region:        c.Region,
		Product:       c.Product,
		PatchURL:      c.PatchURL,
		CacheDir:      c.CacheDir,
		CacheExpiry:   c.CacheExpiry,
		FetchTimeout:  c.FetchTimeout,
		Hosts: HostResolverOptions{
			FallbackHosts: c.FallbackHosts,
			PingTimeout:   c.PingTimeout,
		},
		Cache: BuildCacheOptions{Compress: compress},
	}, nil
}

// KeyRingOptions returns options for NewKeyRing.
func (c *Config) KeyRingOptions() KeyRingOptions {
	return KeyRingOptions{Path: c.KeysFile, RemoteURL: c.KeysURL}
}
