package casc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	doc := `
locale: deDE
region: eu
cache_dir: /var/cache/casc
cache_expiry: 48h
fallback_hosts: [a.cdn, b.cdn]
compress_cache: ["*.index", "config/*"]
log:
  level: debug
  format: json
`
	cfg, err := ParseConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "eu", cfg.Region)
	require.Equal(t, DefaultProduct, cfg.Product)
	require.Equal(t, DefaultPatchURL, cfg.PatchURL)
	require.Equal(t, 48*time.Hour, cfg.CacheExpiry)
	require.Equal(t, DefaultFetchTimeout, cfg.FetchTimeout)
	require.Equal(t, "debug", cfg.Log.Level)

	ro, err := cfg.RemoteOptions()
	require.NoError(t, err)
	require.Equal(t, LocaleDeDE, ro.Locale)
	require.Equal(t, "/var/cache/casc", ro.CacheDir)
	require.Equal(t, []string{"a.cdn", "b.cdn"}, ro.Hosts.FallbackHosts)
	require.Len(t, ro.Cache.Compress, 2)
	require.Equal(t, "*.index", ro.Cache.Compress[0].Pattern)

	lo, err := cfg.LocalOptions()
	require.NoError(t, err)
	require.Equal(t, LocaleDeDE, lo.Locale)
	require.Equal(t, DefaultProduct, lo.Product)
}

func TestParseConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvLocale, "frFR")
	t.Setenv(EnvFallbackHosts, "x.cdn,y.cdn z.cdn")
	t.Setenv(EnvCacheDir, "/tmp/casc")

	cfg, err := ParseConfig(strings.NewReader("locale: enUS\ncache_dir: /elsewhere\n"))
	require.NoError(t, err)
	require.Equal(t, "frFR", cfg.Locale)
	require.Equal(t, []string{"x.cdn", "y.cdn", "z.cdn"}, cfg.FallbackHosts)
	require.Equal(t, "/tmp/casc", cfg.CacheDir)
}

func TestParseConfigErrors(t *testing.T) {
	t.Setenv(EnvLocale, "")

	_, err := ParseConfig(strings.NewReader("no_such_key: 1\n"))
	require.ErrorIs(t, err, ErrMalformedConfig)

	_, err = ParseConfig(strings.NewReader("locale: xxYY\n"))
	require.ErrorIs(t, err, ErrMalformedConfig)

	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Region, cfg.Region)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvCacheDir, "")

	path := filepath.Join(t.TempDir(), "casc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("product: wowt\nkeys_file: keys.json\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "wowt", cfg.Product)
	require.Equal(t, "keys.json", cfg.KeyRingOptions().Path)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
