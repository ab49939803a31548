package casc

import (
	"crypto/md5" //nolint:gosec // format hash
	"encoding/binary"
	"testing"
)

const (
	benchContentSize  = 1 << 20
	benchBlockSize    = 64 * 1024
	benchTableEntries = 4096
)

var (
	// benchSink prevents compiler elimination in benchmark loops.
	benchSink int
)

// benchKey derives a distinct key from i.
func benchKey(i int) Key {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], uint32(i)) //nolint:gosec // bench sizes are small
	return md5.Sum(seed[:])
}

func BenchmarkDecodeBLTE(b *testing.B) {
	data, ekey, err := EncodeBLTE(testContent(benchContentSize), BLTEEncodeOptions{BlockSize: benchBlockSize})
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(benchContentSize)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := DecodeBLTE(data, &ekey, BLTEOptions{})
		if err != nil {
			b.Fatal(err)
		}
		benchSink += len(out)
	}
}

func BenchmarkParseEncoding(b *testing.B) {
	records := make([]encRecord, benchTableEntries)
	for i := range records {
		records[i] = encRecord{ckey: benchKey(i), size: uint64(i), ekeys: []Key{benchKey(i + benchTableEntries)}} //nolint:gosec // non-negative
	}
	data := buildEncoding([][]encRecord{records}, 256)

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		t, err := ParseEncoding(data)
		if err != nil {
			b.Fatal(err)
		}
		benchSink += t.Len()
	}
}

func BenchmarkParseLocalIndex(b *testing.B) {
	records := make([]idxRecord, benchTableEntries)
	for i := range records {
		records[i] = idxRecord{key: benchKey(i), archive: i % 8, offset: uint32(i) * 64, size: 64} //nolint:gosec // small
	}
	data := buildLocalIndex(records)

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx, err := ParseLocalIndex(data)
		if err != nil {
			b.Fatal(err)
		}
		benchSink += idx.Len()
	}
}

func BenchmarkCacheCompressBlob(b *testing.B) {
	data := make([]byte, benchBlockSize)
	for i := range data {
		data[i] = byte(i / 64)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blob, _, err := compressBlob(data)
		if err != nil {
			b.Fatal(err)
		}
		benchSink += len(blob)
	}
}

func BenchmarkSanitizeExportPath(b *testing.B) {
	names := []string{
		`World\Maps\Azeroth\Azeroth_32_48.adt`,
		"interface/glues/models/ui_mainmenu/ui_mainmenu.m2",
		"sound/music/zonemusic/CON.ogg",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := SanitizeExportPath(names[i%len(names)])
		if err != nil {
			b.Fatal(err)
		}
		benchSink += len(out)
	}
}
