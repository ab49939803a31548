package casc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "slash", in: "/", want: ""},
		{name: "clean", in: "world/maps/azeroth/azeroth.wdt", want: "world/maps/azeroth/azeroth.wdt"},
		{name: "windows", in: `.\Interface\Icons\`, want: "Interface/Icons"},
		{name: "dot segments", in: "./a/../b//c.txt", want: "b/c.txt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizePath(tc.in))
		})
	}
}

func TestNormalizeCacheName(t *testing.T) {
	t.Parallel()

	got, err := normalizeCacheName(`indexes\0a1b.index`)
	require.NoError(t, err)
	require.Equal(t, "indexes/0a1b.index", got)

	for _, bad := range []string{"", " ", "/etc/passwd", "../outside", "a/../../b", "."} {
		_, err := normalizeCacheName(bad)
		require.ErrorIs(t, err, ErrInvalidCachePath, "name %q", bad)
	}
}

func TestSanitizeExportPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "world/maps/x.wdt", want: "world/maps/x.wdt"},
		{name: "backslashes", in: `Sound\Music\a.mp3`, want: "Sound/Music/a.mp3"},
		{name: "unsafe runes", in: "a/b<c>:d?.txt", want: "a/b_c__d_.txt"},
		{name: "reserved name", in: "dir/CON.txt", want: "dir/_CON.txt"},
		{name: "trailing dot", in: "dir/name. ", want: "dir/name"},
		{name: "control", in: "dir/a\x01b", want: "dir/a_b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := SanitizeExportPath(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := SanitizeExportPath("../escape")
	require.ErrorIs(t, err, ErrInvalidExportPath)

	_, err = SanitizeExportPath("//")
	require.ErrorIs(t, err, ErrInvalidExportPath)
}

func TestSanitizeLongSegment(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 400) + ".blp"
	got, err := SanitizeExportPath("dir/" + long)
	require.NoError(t, err)

	seg := strings.TrimPrefix(got, "dir/")
	require.Len(t, seg, maxPathSegmentLen)
	require.True(t, strings.HasSuffix(seg, ".blp"))

	again, err := SanitizeExportPath("dir/" + long)
	require.NoError(t, err)
	require.Equal(t, got, again)
}
