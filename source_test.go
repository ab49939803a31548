package casc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// counterValue reads the current value of a counter.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

// testKeyRing returns a key ring holding the fixture encryption key.
func testKeyRing(t *testing.T) *KeyRing {
	t.Helper()

	ring := NewKeyRing(KeyRingOptions{})
	require.True(t, ring.Add(testKeyName, testKeyValue))
	return ring
}

func TestOpenLocal(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	dir := fx.writeLocalInstall(t)
	ctx := context.Background()

	listfile := NewMapListfile()
	listfile.Add(fxSmall, `Interface\Small.txt`)

	src, err := OpenLocal(ctx, dir, LocalOptions{SourceOptions: SourceOptions{
		Keys:     testKeyRing(t),
		Listfile: listfile,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	require.Equal(t, "WOW-12345patch1.0.0_Retail", src.Build().BuildName)
	require.Equal(t, 6, src.Root().Len())

	for _, id := range []uint32{fxMultiBlock, fxSmall, fxEncrypted, fxHeaderless} {
		got, err := src.GetFile(ctx, id)
		require.NoError(t, err, "file %d", id)
		require.Equal(t, fx.files[id].content, got, "file %d", id)
	}

	got, err := src.GetFileByName(ctx, "interface/small.TXT")
	require.NoError(t, err)
	require.Equal(t, fx.files[fxSmall].content, got)

	got, err = src.GetFileByContentKey(ctx, fx.files[fxMultiBlock].ckey)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content, got)
}

func TestOpenLocalBuildSelection(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	dir := fx.writeLocalInstall(t)
	ctx := context.Background()

	src, err := OpenLocal(ctx, dir, LocalOptions{Product: "wow"})
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = OpenLocal(ctx, dir, LocalOptions{Product: "wow_classic"})
	require.ErrorIs(t, err, ErrBuildNotFound, "inactive rows are skipped")

	src, err = OpenLocal(ctx, dir, LocalOptions{BuildKey: fx.buildKey.String()})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.GetFile(ctx, fxSmall)
	require.ErrorIs(t, err, ErrClosed)

	_, err = OpenLocal(ctx, t.TempDir(), LocalOptions{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalSourceErrors(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	dir := fx.writeLocalInstall(t)
	ctx := context.Background()

	src, err := OpenLocal(ctx, dir, LocalOptions{SourceOptions: SourceOptions{Locale: LocaleEnUS}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	cases := []struct {
		name     string
		id       uint32
		sentinel error
		category error
	}{
		{name: "unknown id", id: 999, sentinel: ErrFileNotFound, category: ErrResolution},
		{name: "other locale", id: fxGermanOnly, sentinel: ErrFileNotFound, category: ErrResolution},
		{name: "no encoding entry", id: fxNoEncoding, sentinel: ErrContentKeyNotFound, category: ErrResolution},
		{name: "missing key", id: fxEncrypted, sentinel: ErrMissingKey, category: ErrDecryption},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := src.GetFile(ctx, tc.id)
			require.ErrorIs(t, err, tc.sentinel)
			require.ErrorIs(t, err, tc.category)

			var fe *FileError
			require.ErrorAs(t, err, &fe)
			require.Equal(t, tc.id, fe.FileID)
		})
	}

	var mk *MissingKeyError
	_, err = src.GetFile(ctx, fxEncrypted)
	require.ErrorAs(t, err, &mk)
	require.Equal(t, testKeyName, mk.KeyName)

	_, err = src.GetFileByName(ctx, "anything")
	require.ErrorIs(t, err, ErrNoListfile)
}

func TestLocalSourceZeroFill(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	src, err := OpenLocal(context.Background(), fx.writeLocalInstall(t), LocalOptions{
		SourceOptions: SourceOptions{ZeroFillMissingKeys: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	got, err := src.GetFile(context.Background(), fxEncrypted)
	require.NoError(t, err)
	require.Equal(t, make([]byte, len(fx.files[fxEncrypted].content)), got)
}

func TestLocalSourceCorruptArchive(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	dir := fx.writeLocalInstall(t)
	ctx := context.Background()

	src, err := OpenLocal(ctx, dir, LocalOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	// Flip the last byte of the multi-block file, which sits inside its final block.
	loc, ok := src.Index().Lookup(fx.files[fxMultiBlock].ekey)
	require.True(t, ok)

	path := filepath.Join(dir, localDataDir, localIndexDir, "data.000")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[loc.Offset+loc.Size-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	src2, err := OpenLocal(ctx, dir, LocalOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src2.Close() })

	_, err = src2.GetFile(ctx, fxMultiBlock)
	require.ErrorIs(t, err, ErrBlockHashMismatch)
	require.ErrorIs(t, err, ErrIntegrity)

	// The stream still serves the intact leading blocks.
	stream, err := src2.OpenFile(ctx, fxMultiBlock)
	require.NoError(t, err)
	first, err := stream.Block(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content[:1024], first)

	_, err = stream.Block(ctx, stream.BlockCount()-1)
	require.ErrorIs(t, err, ErrBlockHashMismatch)
}

func TestLocalSourceOpenFile(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	ctx := context.Background()
	src, err := OpenLocal(ctx, fx.writeLocalInstall(t), LocalOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	stream, err := src.OpenFile(ctx, fxMultiBlock)
	require.NoError(t, err)
	require.Equal(t, 5, stream.BlockCount())
	require.Equal(t, int64(5000), stream.Size())

	last, err := stream.Block(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content[4096:], last)

	all, err := io.ReadAll(stream.NewReader(ctx))
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content, all)

	stream, err = src.OpenFile(ctx, fxHeaderless)
	require.NoError(t, err)
	require.Equal(t, int64(-1), stream.Size())
	all, err = stream.Bytes(ctx)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxHeaderless].content, all)

	_, err = src.OpenFile(ctx, 999)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestSourceMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	fx := newStoreFixture(t)
	ctx := context.Background()
	src, err := OpenLocal(ctx, fx.writeLocalInstall(t), LocalOptions{SourceOptions: SourceOptions{Metrics: metrics}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	_, err = src.GetFile(ctx, fxSmall)
	require.NoError(t, err)
	_, err = src.GetFile(ctx, 999)
	require.Error(t, err)
	_, err = src.GetFile(ctx, fxEncrypted)
	require.Error(t, err)

	require.InDelta(t, 1, counterValue(t, metrics.fileFetches.WithLabelValues(sourceLocal, "resolution")), 0)
	require.InDelta(t, 1, counterValue(t, metrics.fileFetches.WithLabelValues(sourceLocal, "decryption")), 0)
	require.Positive(t, counterValue(t, metrics.bytesFetched.WithLabelValues(sourceLocal)))

	_, err = NewMetrics(reg)
	require.Error(t, err, "duplicate registration")

	var nilMetrics *Metrics
	nilMetrics.fileFetched(sourceLocal, nil)
	nilMetrics.cacheLookup(true)
}

func TestOpenRemote(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	cdn := newFakeCDN(t, fx)
	ctx := context.Background()
	cacheDir := t.TempDir()

	opts := fx.remoteOptions(cdn.Host())
	opts.Keys = testKeyRing(t)
	opts.CacheDir = cacheDir
	opts.Cache = BuildCacheOptions{Compress: includeRules("*.index"), MinCompressSize: 16}

	src, err := OpenRemote(ctx, opts)
	require.NoError(t, err)

	for _, id := range []uint32{fxMultiBlock, fxSmall, fxEncrypted, fxHeaderless} {
		got, err := src.GetFile(ctx, id)
		require.NoError(t, err, "file %d", id)
		require.Equal(t, fx.files[id].content, got, "file %d", id)
	}

	stream, err := src.OpenFile(ctx, fxMultiBlock)
	require.NoError(t, err)
	block, err := stream.Block(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content[2048:3072], block)

	hosts, err := src.Hosts(ctx)
	require.NoError(t, err)
	require.Equal(t, cdn.Host(), hosts[0].Host)
	require.NoError(t, src.Close())

	// Configs, indexes and the loose encoding table come from the cache on reopen.
	indexPath := "/tpr/wow/data/" + fx.archive.CDNPath() + ".index"
	require.Equal(t, 1, cdn.Requests(indexPath))

	src, err = OpenRemote(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	require.Equal(t, 1, cdn.Requests(indexPath))
	require.Equal(t, 1, cdn.Requests("/tpr/wow/config/"+fx.buildKey.CDNPath()))
	require.Equal(t, 1, cdn.Requests("/tpr/wow/data/"+fx.encodingKey.CDNPath()))
	require.FileExists(t, filepath.Join(cacheDir, fx.buildKey.String(), "indexes", fx.archive.String()+".index"+compressedBlobExt))
}

func TestRemoteSourceRefetchesCorruptCache(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	cdn := newFakeCDN(t, fx)
	ctx := context.Background()
	cacheDir := t.TempDir()

	opts := fx.remoteOptions(cdn.Host())
	opts.CacheDir = cacheDir

	src, err := OpenRemote(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	cached := filepath.Join(cacheDir, fx.buildKey.String(), "data", fx.encodingKey.String())
	data, err := os.ReadFile(cached)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(cached, data, 0o600))

	src, err = OpenRemote(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	encodingPath := "/tpr/wow/data/" + fx.encodingKey.CDNPath()
	require.Equal(t, 2, cdn.Requests(encodingPath))

	restored, err := os.ReadFile(cached)
	require.NoError(t, err)
	require.Equal(t, fx.containers[fx.encodingKey], restored)

	got, err := src.GetFile(ctx, fxSmall)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxSmall].content, got)
}

func TestOpenRemotePatchServer(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	cdn := newFakeCDN(t, fx)
	cdn.objects["/patch/us/wow/versions"] = []byte(
		"Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!String:0|ProductConfig!HEX:16\n" +
			"## seqn = 2241282\n" +
			"us|" + fx.buildKey.String() + "|" + fx.cdnKey.String() + "||12345|1.0.0.12345|\n")
	cdn.objects["/patch/us/wow/cdns"] = []byte(
		"Name!STRING:0|Path!STRING:0|Hosts!STRING:0|Servers!STRING:0|ConfigPath!STRING:0\n" +
			"## seqn = 2241282\n" +
			"eu|tpr/wow|unused.example||tpr/configs/data\n" +
			"us|tpr/wow|" + cdn.Host() + "||tpr/configs/data\n")
	// Another region's patch server answers with rows that lack that region.
	cdn.objects["/patch/kr/wow/versions"] = cdn.objects["/patch/us/wow/versions"]
	cdn.objects["/patch/kr/wow/cdns"] = cdn.objects["/patch/us/wow/cdns"]

	src, err := OpenRemote(context.Background(), RemoteOptions{PatchURL: cdn.srv.URL + "/patch/%s/%s"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	require.Equal(t, 12345, src.Version().BuildID)
	got, err := src.GetFile(context.Background(), fxSmall)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxSmall].content, got)

	_, err = OpenRemote(context.Background(), RemoteOptions{PatchURL: cdn.srv.URL + "/patch/%s/%s", Region: "kr"})
	require.ErrorIs(t, err, ErrBuildNotFound)
	require.ErrorContains(t, err, `region "kr"`)
}

func TestRemoteSourceFailover(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	good := newFakeCDN(t, fx)
	bad := newFakeCDN(t, fx)
	bad.SetFailing(true)

	opts := fx.remoteOptions(bad.Host(), good.Host())
	opts.Hosts.Ping = fakePing(map[string]time.Duration{
		bad.Host():  time.Millisecond,
		good.Host(): 20 * time.Millisecond,
	}, nil)

	src, err := OpenRemote(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	require.Positive(t, bad.TotalRequests(), "the fastest host is tried first")
	got, err := src.GetFile(context.Background(), fxMultiBlock)
	require.NoError(t, err)
	require.Equal(t, fx.files[fxMultiBlock].content, got)

	hosts, err := src.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	require.Equal(t, good.Host(), hosts[0].Host)

	good.SetFailing(true)
	_, err = src.GetFile(context.Background(), fxSmall)
	require.ErrorIs(t, err, ErrNoReachableHost)
	require.ErrorIs(t, err, ErrTransport)
}

func TestRemoteSourceNotOnCDN(t *testing.T) {
	t.Parallel()

	fx := newStoreFixture(t)
	cdn := newFakeCDN(t, fx)
	delete(cdn.objects, "/tpr/wow/data/"+fx.archive.CDNPath()+".index")

	_, err := OpenRemote(context.Background(), fx.remoteOptions(cdn.Host()))
	require.ErrorIs(t, err, ErrNotOnCDN)
	require.True(t, errors.Is(err, ErrResolution))
	require.True(t, strings.Contains(err.Error(), fx.archive.String()))
}
