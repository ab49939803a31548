// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/woozymasta/pathrules"
	"go.uber.org/zap"
)

// Internal binary layout and format limits.
const (
	keySize            = 16         // content and encoding key size
	indexKeySize       = 9          // truncated key stored in local .idx journals
	localEntryHeader   = 0x1E       // per-entry header preceding payload in data.NNN
	blteMagic          = 0x45544C42 // "BLTE" read little-endian
	blteTableFormat    = 0x0F       // leading byte of the block table
	blteEntrySize      = 24         // compSize + decompSize + md5
	blteHeaderFixed    = 12         // magic + headerSize + format + count
	encodingMagic      = 0x4E45     // "EN" read little-endian
	encodingHeaderSize = 22
	rootMagic          = 0x4D465354 // "TSFM" read little-endian
)

// Default tuning values.
const (
	DefaultSaveDelay       = 2 * time.Second
	DefaultPingTimeout     = 5 * time.Second
	DefaultFetchTimeout    = 60 * time.Second
	DefaultBlockCacheSize  = 4
	DefaultCacheExpiry     = 7 * 24 * time.Hour
	DefaultMinCompressSize = 512
	DefaultMaxCompressSize = 16 * 1024 * 1024
	DefaultRegion          = "us"
	DefaultProduct         = "wow"
	DefaultPatchURL        = "http://%s.patch.battle.net:1119/%s"
)

// Key is a 16-byte content or encoding key.
type Key [keySize]byte

// ParseKey decodes a 32-char hex string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != keySize*2 {
		return k, fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidKey, s, len(s), keySize*2)
	}

	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("%w: %q: %w", ErrInvalidKey, s, err)
	}

	return k, nil
}

// MustParseKey is ParseKey that panics on error. Intended for constants and tests.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}

	return k
}

// String returns lower-case hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether all bytes are zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// CDNPath returns the "xx/yy/key" path used by CDN data and config URLs.
func (k Key) CDNPath() string {
	s := k.String()
	return s[0:2] + "/" + s[2:4] + "/" + s
}

// Locale is a bit set of client locales used by root table variants.
type Locale uint32

// Locale flags.
const (
	LocaleEnUS Locale = 0x2
	LocaleKoKR Locale = 0x4
	LocaleFrFR Locale = 0x10
	LocaleDeDE Locale = 0x20
	LocaleZhCN Locale = 0x40
	LocaleEsES Locale = 0x80
	LocaleZhTW Locale = 0x100
	LocaleEnGB Locale = 0x200
	LocaleEnCN Locale = 0x400
	LocaleEnTW Locale = 0x800
	LocaleEsMX Locale = 0x1000
	LocaleRuRU Locale = 0x2000
	LocalePtBR Locale = 0x4000
	LocaleItIT Locale = 0x8000
	LocalePtPT Locale = 0x10000
	LocaleAll  Locale = 0xFFFFFFFF
)

var localeNames = map[string]Locale{
	"enus": LocaleEnUS,
	"kokr": LocaleKoKR,
	"frfr": LocaleFrFR,
	"dede": LocaleDeDE,
	"zhcn": LocaleZhCN,
	"eses": LocaleEsES,
	"zhtw": LocaleZhTW,
	"engb": LocaleEnGB,
	"encn": LocaleEnCN,
	"entw": LocaleEnTW,
	"esmx": LocaleEsMX,
	"ruru": LocaleRuRU,
	"ptbr": LocalePtBR,
	"itit": LocaleItIT,
	"ptpt": LocalePtPT,
}

// ParseLocale maps a locale name like "enUS" (case-insensitive) to its flag.
func ParseLocale(name string) (Locale, error) {
	l, ok := localeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown locale %q", name)
	}

	return l, nil
}

// ContentFlags describe a root table variant.
type ContentFlags uint32

// Content flags.
const (
	ContentInstall       ContentFlags = 0x4
	ContentLoadOnWindows ContentFlags = 0x8
	ContentLoadOnMacOS   ContentFlags = 0x10
	ContentX86_32        ContentFlags = 0x20
	ContentX86_64        ContentFlags = 0x40
	ContentLowViolence   ContentFlags = 0x80
	ContentDoNotLoad     ContentFlags = 0x100
	ContentUpdatePlugin  ContentFlags = 0x800
	ContentARM64         ContentFlags = 0x8000
	ContentEncrypted     ContentFlags = 0x8000000
	ContentNoNameHash    ContentFlags = 0x10000000
	ContentUncommonRes   ContentFlags = 0x20000000
	ContentBundle        ContentFlags = 0x40000000
	ContentNoCompression ContentFlags = 0x80000000
)

// ArchiveLocation is the placement of an encoding key inside local data.NNN archives.
type ArchiveLocation struct {
	// Archive is the NNN suffix of data.NNN.
	Archive int `json:"archive" yaml:"archive"`
	// Offset is the byte offset of the entry header in the archive.
	Offset uint32 `json:"offset" yaml:"offset"`
	// Size is the stored size including the 30-byte entry header.
	Size uint32 `json:"size" yaml:"size"`
}

// CDNLocation is the placement of an encoding key inside a CDN archive.
type CDNLocation struct {
	// Archive is the archive key (data/xx/yy/<archive>).
	Archive Key `json:"archive" yaml:"archive"`
	// Offset is the byte offset inside the archive.
	Offset uint32 `json:"offset" yaml:"offset"`
	// Size is the encoded size in bytes.
	Size uint32 `json:"size" yaml:"size"`
}

// EncodingEntry is one content key record of the encoding table.
type EncodingEntry struct {
	// Size is the logical (decoded) size.
	Size uint64 `json:"size" yaml:"size"`
	// EKey is the canonical (first) encoding key.
	EKey Key `json:"ekey" yaml:"ekey"`
}

// HostRanking is one CDN host with measured round-trip latency.
type HostRanking struct {
	// Host is the host name (optionally with port).
	Host string `json:"host" yaml:"host"`
	// Path is the CDN path suffix, for example "tpr/wow".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Latency is the measured ping time.
	Latency time.Duration `json:"latency" yaml:"latency"`
}

// URL returns "http://host/path".
func (h HostRanking) URL() string {
	base := h.Host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	if h.Path == "" {
		return base
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.Trim(h.Path, "/")
}

// FileNamer maps file IDs back to names, as MapListfile does.
type FileNamer interface {
	Name(fileID uint32) (string, bool)
}

// KeySource supplies decryption keys by 16-char hex name.
type KeySource interface {
	Get(name string) ([]byte, bool)
}

// BLTEOptions configures container decoding.
type BLTEOptions struct {
	// Keys resolves encrypted block keys; nil means every encrypted block is missing its key.
	Keys KeySource `json:"-" yaml:"-"`
	// ZeroFillMissingKeys replaces undecryptable blocks with zeroes instead of failing.
	ZeroFillMissingKeys bool `json:"zero_fill_missing_keys,omitempty" yaml:"zero_fill_missing_keys,omitempty"`
}

// BlockStreamOptions configures the lazy block decoder.
type BlockStreamOptions struct {
	BLTEOptions
	// CacheSize is the number of decoded blocks kept in memory.
	CacheSize int `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
}

// BLTEEncodeOptions configures EncodeBLTE.
type BLTEEncodeOptions struct {
	// EncryptKeyName is the published 16-hex-char key name; empty disables encryption.
	EncryptKeyName string `json:"encrypt_key_name,omitempty" yaml:"encrypt_key_name,omitempty"`
	// EncryptKey is the 16-byte key used with EncryptKeyName.
	EncryptKey []byte `json:"-" yaml:"-"`
	// BlockSize splits content into blocks of at most this size; zero means one block.
	BlockSize int `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	// CompressionLevel is the zlib level for compressed blocks.
	CompressionLevel int `json:"compression_level,omitempty" yaml:"compression_level,omitempty"`
	// Mode is BlockNormal or BlockCompressed; zero means BlockCompressed.
	Mode BlockMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Nonce is the stored per-container nonce for encrypted blocks.
	Nonce [blockNonceSize]byte `json:"-" yaml:"-"`
	// Headerless writes the single-block form without a block table.
	Headerless bool `json:"headerless,omitempty" yaml:"headerless,omitempty"`
}

// KeyRingOptions configures a KeyRing.
type KeyRingOptions struct {
	// HTTPClient is used for the remote key list; nil means http.DefaultClient.
	HTTPClient *http.Client `json:"-" yaml:"-"`
	// Logger receives load and persistence diagnostics.
	Logger *zap.Logger `json:"-" yaml:"-"`
	// Path is the local JSON file; empty disables persistence.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// RemoteURL serves a newline-delimited "name key" list; empty disables refresh.
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`
	// SaveDelay coalesces successive adds into one write.
	SaveDelay time.Duration `json:"save_delay,omitempty" yaml:"save_delay,omitempty"`
}

// HostResolverOptions configures CDN host ranking.
type HostResolverOptions struct {
	// Ping measures one host; nil uses an HTTP HEAD request.
	Ping PingFunc `json:"-" yaml:"-"`
	// HTTPClient is used by the default ping; nil means a client without timeout.
	HTTPClient *http.Client `json:"-" yaml:"-"`
	// Logger receives ranking diagnostics.
	Logger *zap.Logger `json:"-" yaml:"-"`
	// Metrics records ping latency and failures; nil disables.
	Metrics *Metrics `json:"-" yaml:"-"`
	// FallbackHosts are appended to every server-provided host list.
	FallbackHosts []string `json:"fallback_hosts,omitempty" yaml:"fallback_hosts,omitempty"`
	// PingTimeout bounds a single ping.
	PingTimeout time.Duration `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty"`
}

// BuildCacheOptions configures a build cache directory.
type BuildCacheOptions struct {
	// Logger receives manifest diagnostics.
	Logger *zap.Logger `json:"-" yaml:"-"`
	// Metrics records cache hits and misses; nil disables.
	Metrics *Metrics `json:"-" yaml:"-"`
	// Compress selects cache entries stored LZSS-compressed; empty means none.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// MinCompressSize disables compression for smaller entries.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables compression for larger entries.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
	// SaveDelay coalesces access-time manifest writes.
	SaveDelay time.Duration `json:"save_delay,omitempty" yaml:"save_delay,omitempty"`
}

// SourceOptions are shared by local and remote sources.
type SourceOptions struct {
	// Keys resolves encrypted block keys, usually a *KeyRing.
	Keys KeySource `json:"-" yaml:"-"`
	// Listfile maps names to file IDs for GetFileByName.
	Listfile Listfile `json:"-" yaml:"-"`
	// Logger receives load and fetch diagnostics.
	Logger *zap.Logger `json:"-" yaml:"-"`
	// Metrics records fetch outcomes; nil disables.
	Metrics *Metrics `json:"-" yaml:"-"`
	// Locale selects root variants.
	Locale Locale `json:"locale,omitempty" yaml:"locale,omitempty"`
	// ZeroFillMissingKeys substitutes zeroes for blocks with unknown keys.
	ZeroFillMissingKeys bool `json:"zero_fill_missing_keys,omitempty" yaml:"zero_fill_missing_keys,omitempty"`
}

// LocalOptions configures OpenLocal.
type LocalOptions struct {
	SourceOptions
	// Product selects a .build.info row by product code; empty takes the first active row.
	Product string `json:"product,omitempty" yaml:"product,omitempty"`
	// BuildKey forces a build config key instead of reading .build.info.
	BuildKey string `json:"build_key,omitempty" yaml:"build_key,omitempty"`
}

// RemoteOptions configures OpenRemote.
type RemoteOptions struct {
	SourceOptions
	// HTTPClient performs CDN and patch server requests; nil means http.DefaultClient.
	HTTPClient *http.Client `json:"-" yaml:"-"`
	// Resolver ranks CDN hosts; nil builds one from HostResolverOptions.
	Resolver *HostResolver `json:"-" yaml:"-"`
	// Versions overrides the patch server versions document.
	Versions []VersionRecord `json:"-" yaml:"-"`
	// CDNs overrides the patch server cdns document.
	CDNs []CDNRecord `json:"-" yaml:"-"`
	// Hosts are resolver options used when Resolver is nil.
	Hosts HostResolverOptions `json:"hosts,omitzero" yaml:"hosts,omitzero"`
	// Cache configures the per-build cache.
	Cache BuildCacheOptions `json:"cache,omitzero" yaml:"cache,omitzero"`
	// Region selects versions and cdns rows.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Product is the TACT product code.
	Product string `json:"product,omitempty" yaml:"product,omitempty"`
	// PatchURL is a format string taking region and product.
	PatchURL string `json:"patch_url,omitempty" yaml:"patch_url,omitempty"`
	// CacheDir is the build cache root; empty disables caching.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	// CacheExpiry removes other build caches idle for longer; zero disables the sweep.
	CacheExpiry time.Duration `json:"cache_expiry,omitempty" yaml:"cache_expiry,omitempty"`
	// BuildKey forces a build config key instead of the versions row.
	BuildKey string `json:"build_key,omitempty" yaml:"build_key,omitempty"`
	// FetchTimeout bounds a single CDN request.
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	// OnFileDone is called after one file is written or has failed.
	OnFileDone func(fileID uint32, outputPath string, written int64, err error) `json:"-" yaml:"-"`
	// Names maps file IDs to relative output names.
	Names map[uint32]string `json:"-" yaml:"-"`
	// Namer names IDs missing from Names; IDs nobody names are written as "<id>.bin".
	Namer FileNamer `json:"-" yaml:"-"`
	// MaxWorkers is the number of export workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// Overwrite replaces existing output files instead of counting them as failures.
	Overwrite bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

// applyDefaults fills zero-valued block stream options with defaults.
func (opts *BlockStreamOptions) applyDefaults() {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultBlockCacheSize
	}
}

// applyDefaults fills zero-valued encoder options with defaults.
func (opts *BLTEEncodeOptions) applyDefaults() {
	if opts.Mode == 0 {
		opts.Mode = BlockCompressed
	}

	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = zlib.DefaultCompression
	}
}

// applyDefaults fills zero-valued key ring options with defaults.
func (opts *KeyRingOptions) applyDefaults() {
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// applyDefaults fills zero-valued resolver options with defaults.
func (opts *HostResolverOptions) applyDefaults() {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// applyDefaults fills zero-valued cache options with defaults.
func (opts *BuildCacheOptions) applyDefaults() {
	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}

	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// applyDefaults fills zero-valued source options with defaults.
func (opts *SourceOptions) applyDefaults() {
	if opts.Locale == 0 {
		opts.Locale = LocaleEnUS
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// applyDefaults fills zero-valued remote options with defaults.
func (opts *RemoteOptions) applyDefaults() {
	opts.SourceOptions.applyDefaults()

	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	if opts.Product == "" {
		opts.Product = DefaultProduct
	}

	if opts.PatchURL == "" {
		opts.PatchURL = DefaultPatchURL
	}

	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.Hosts.Logger == nil {
		opts.Hosts.Logger = opts.Logger
	}

	if opts.Hosts.Metrics == nil {
		opts.Hosts.Metrics = opts.Metrics
	}

	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}

	if opts.Cache.Metrics == nil {
		opts.Cache.Metrics = opts.Metrics
	}
}
