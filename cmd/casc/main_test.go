package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/casc"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestKeysAddList(t *testing.T) {
	keys := filepath.Join(t.TempDir(), "keys.json")

	_, err := runCLI(t, "--keys", keys, "keys", "add", "FA505078126ACB3E", "BDC51862ABED79B2DE48C8E7E66C6200")
	require.NoError(t, err)

	_, err = runCLI(t, "--keys", keys, "keys", "add", "zz", "00")
	require.ErrorIs(t, err, casc.ErrInvalidKey)

	out, err := runCLI(t, "--keys", keys, "keys", "list")
	require.NoError(t, err)
	require.Equal(t, "fa505078126acb3e", strings.TrimSpace(out))
}

func TestCacheSweepRequiresDir(t *testing.T) {
	t.Setenv(casc.EnvCacheDir, "")

	_, err := runCLI(t, "cache", "sweep")
	require.ErrorContains(t, err, "no cache directory")

	_, err = runCLI(t, "--cache-dir", t.TempDir(), "cache", "sweep")
	require.NoError(t, err)
}

func TestResolveFileID(t *testing.T) {
	t.Parallel()

	id, err := resolveFileID(nil, "1375801")
	require.NoError(t, err)
	require.Equal(t, uint32(1375801), id)

	_, err = resolveFileID(nil, "world/maps/x.wdt")
	require.ErrorIs(t, err, casc.ErrNoListfile)

	l := casc.NewMapListfile()
	l.Add(42, `World\Maps\X.wdt`)

	id, err = resolveFileID(l, "world/maps/x.wdt")
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)

	_, err = resolveFileID(l, "missing")
	require.ErrorIs(t, err, casc.ErrNameNotFound)
}
