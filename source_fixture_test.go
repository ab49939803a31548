package casc

import (
	"bytes"
	"crypto/md5" //nolint:gosec // format hash
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Fixture file IDs.
const (
	fxMultiBlock  uint32 = 100
	fxSmall       uint32 = 200
	fxEncrypted   uint32 = 300
	fxHeaderless  uint32 = 400
	fxNoEncoding  uint32 = 500
	fxGermanOnly  uint32 = 600
	fxArchiveName        = "aa000000000000000000000000000000"
)

// fixtureFile is one stored file of a fixture build.
type fixtureFile struct {
	content []byte
	blte    []byte
	ckey    Key
	ekey    Key
}

// storeFixture is a complete build: containers, tables and configs.
type storeFixture struct {
	files       map[uint32]*fixtureFile
	containers  map[Key][]byte
	buildConfig []byte
	cdnConfig   []byte
	buildKey    Key
	cdnKey      Key
	encodingKey Key
	archive     Key
}

// newStoreFixture builds every table and container of a small build.
func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()

	fx := &storeFixture{
		files:      make(map[uint32]*fixtureFile),
		containers: make(map[Key][]byte),
		archive:    MustParseKey(fxArchiveName),
	}

	encKey, err := hex.DecodeString(testKeyValue)
	require.NoError(t, err)

	add := func(id uint32, content []byte, opts BLTEEncodeOptions) *fixtureFile {
		blte, ekey, err := EncodeBLTE(content, opts)
		require.NoError(t, err)

		f := &fixtureFile{content: content, blte: blte, ckey: md5.Sum(content), ekey: ekey} //nolint:gosec // format hash
		fx.files[id] = f
		fx.containers[ekey] = blte
		return f
	}

	add(fxMultiBlock, testContent(5000), BLTEEncodeOptions{BlockSize: 1024})
	add(fxSmall, []byte("small file body"), BLTEEncodeOptions{Mode: BlockNormal})
	add(fxEncrypted, testContent(700), BLTEEncodeOptions{
		BlockSize:      256,
		EncryptKeyName: testKeyName,
		EncryptKey:     encKey,
		Nonce:          [blockNonceSize]byte{1, 2, 3, 4},
	})
	add(fxHeaderless, []byte("headerless container body"), BLTEEncodeOptions{Headerless: true})
	add(fxGermanOnly, []byte("guten tag"), BLTEEncodeOptions{})

	ids := []uint32{fxMultiBlock, fxSmall, fxEncrypted, fxHeaderless, fxNoEncoding}
	ckeys := make([]Key, 0, len(ids))
	for _, id := range ids {
		if f, ok := fx.files[id]; ok {
			ckeys = append(ckeys, f.ckey)
		} else {
			ckeys = append(ckeys, testKey(0xEE))
		}
	}

	root := buildRootTSFM(1, 6, 6, []rootGroup{
		{locale: LocaleEnUS | LocaleEnGB, ids: ids, ckeys: ckeys, withHashes: true},
		{locale: LocaleDeDE, ids: []uint32{fxGermanOnly}, ckeys: []Key{fx.files[fxGermanOnly].ckey}, withHashes: true},
	})
	rootBLTE, rootEKey, err := EncodeBLTE(root, BLTEEncodeOptions{BlockSize: 512})
	require.NoError(t, err)
	fx.containers[rootEKey] = rootBLTE
	rootCKey := Key(md5.Sum(root)) //nolint:gosec // format hash

	records := []encRecord{{ckey: rootCKey, size: uint64(len(root)), ekeys: []Key{rootEKey}}}
	for _, f := range fx.files {
		records = append(records, encRecord{ckey: f.ckey, size: uint64(len(f.content)), ekeys: []Key{f.ekey}})
	}
	encoding := buildEncoding([][]encRecord{records}, 4)
	encBLTE, encEKey, err := EncodeBLTE(encoding, BLTEEncodeOptions{})
	require.NoError(t, err)
	fx.containers[encEKey] = encBLTE
	fx.encodingKey = encEKey

	fx.buildConfig = fmt.Appendf(nil,
		"# Build Configuration\n\nroot = %s\nencoding = %s %s\nbuild-name = WOW-12345patch1.0.0_Retail\n",
		rootCKey, Key(md5.Sum(encoding)), encEKey, //nolint:gosec // format hash
	)
	fx.buildKey = md5.Sum(fx.buildConfig) //nolint:gosec // format hash

	fx.cdnConfig = fmt.Appendf(nil, "# CDN Configuration\n\narchives = %s\narchive-group = %s\n", fx.archive, testKey(0xAB))
	fx.cdnKey = md5.Sum(fx.cdnConfig) //nolint:gosec // format hash

	return fx
}

// archivedKeys returns every container except the encoding table, in a stable order.
func (fx *storeFixture) archivedKeys() []Key {
	keys := make([]Key, 0, len(fx.containers))
	for k := range fx.containers {
		if k != fx.encodingKey {
			keys = append(keys, k)
		}
	}

	sortKeys(keys)
	return keys
}

// sortKeys orders keys bytewise.
func sortKeys(keys []Key) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && bytes.Compare(keys[j-1][:], keys[j][:]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// writeLocalInstall lays the fixture out as a game directory and returns it.
func (fx *storeFixture) writeLocalInstall(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dataDir := filepath.Join(dir, localDataDir, localIndexDir)
	require.NoError(t, os.MkdirAll(dataDir, 0o750))

	var archive bytes.Buffer
	var records []idxRecord
	keys := append(fx.archivedKeys(), fx.encodingKey)
	for _, k := range keys {
		blte := fx.containers[k]
		offset := uint32(archive.Len()) //nolint:gosec // fixture sizes are small
		archive.Write(make([]byte, localEntryHeader))
		archive.Write(blte)
		records = append(records, idxRecord{key: k, archive: 0, offset: offset, size: uint32(len(blte) + localEntryHeader)}) //nolint:gosec // small
	}

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "data.000"), archive.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "0000000001.idx"), buildLocalIndex(records), 0o600))

	cfgPath := filepath.Join(dir, localDataDir, localConfigDir, filepath.FromSlash(fx.buildKey.CDNPath()))
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o750))
	require.NoError(t, os.WriteFile(cfgPath, fx.buildConfig, 0o600))

	info := "Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|CDN Key!HEX:16|CDN Path!STRING:0|CDN Hosts!STRING:0|Version!STRING:0|Product!STRING:0\n" +
		"eu|0|" + testKey(0x01).String() + "|" + fx.cdnKey.String() + "|tpr/wow|a.cdn b.cdn|0.9|wow_classic\n" +
		"us|1|" + fx.buildKey.String() + "|" + fx.cdnKey.String() + "|tpr/wow|a.cdn b.cdn|1.0|wow\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, buildInfoFile), []byte(info), 0o600))

	return dir
}

// fakeCDN serves a fixture build like a CDN host with Range support.
type fakeCDN struct {
	objects  map[string][]byte
	requests map[string]int
	srv      *httptest.Server
	mu       sync.Mutex
	// failing makes every GET answer 500.
	failing bool
}

// newFakeCDN serves fx: configs, one archive with its index, and the loose encoding table.
func newFakeCDN(t *testing.T, fx *storeFixture) *fakeCDN {
	t.Helper()

	c := &fakeCDN{
		objects:  make(map[string][]byte),
		requests: make(map[string]int),
	}

	var archive bytes.Buffer
	var records []cdnRecord
	for _, k := range fx.archivedKeys() {
		blte := fx.containers[k]
		records = append(records, cdnRecord{key: k, size: uint32(len(blte)), offset: uint32(archive.Len())}) //nolint:gosec // small
		archive.Write(blte)
	}

	c.objects["/tpr/wow/config/"+fx.buildKey.CDNPath()] = fx.buildConfig
	c.objects["/tpr/wow/config/"+fx.cdnKey.CDNPath()] = fx.cdnConfig
	c.objects["/tpr/wow/data/"+fx.archive.CDNPath()] = archive.Bytes()
	c.objects["/tpr/wow/data/"+fx.archive.CDNPath()+".index"] = buildCDNIndex(records, 4)
	c.objects["/tpr/wow/data/"+fx.encodingKey.CDNPath()] = fx.containers[fx.encodingKey]

	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.srv.Close)
	return c
}

// Host returns host:port of the server.
func (c *fakeCDN) Host() string {
	return strings.TrimPrefix(c.srv.URL, "http://")
}

// Requests returns how often path was requested with GET.
func (c *fakeCDN) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.requests[path]
}

// TotalRequests returns the number of GET requests served.
func (c *fakeCDN) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.requests {
		total += n
	}

	return total
}

// SetFailing toggles 500 responses.
func (c *fakeCDN) SetFailing(v bool) {
	c.mu.Lock()
	c.failing = v
	c.mu.Unlock()
}

func (c *fakeCDN) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	c.mu.Lock()
	c.requests[r.URL.Path]++
	failing := c.failing
	data, ok := c.objects[r.URL.Path]
	c.mu.Unlock()

	if failing {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	if !ok {
		http.NotFound(w, r)
		return
	}

	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// remoteOptions returns options that point a remote source at hosts.
func (fx *storeFixture) remoteOptions(hosts ...string) RemoteOptions {
	return RemoteOptions{
		Versions: []VersionRecord{{Region: "us", BuildConfig: fx.buildKey.String(), CDNConfig: fx.cdnKey.String()}},
		CDNs:     []CDNRecord{{Name: "us", Path: "tpr/wow", Hosts: hosts}},
	}
}
