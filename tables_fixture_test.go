package casc

import (
	"bytes"
	"encoding/binary"
)

// idxRecord is one local index record for fixtures.
type idxRecord struct {
	key     Key
	archive int
	offset  uint32
	size    uint32
}

// buildLocalIndex writes a .idx journal with a 16-byte header block.
func buildLocalIndex(records []idxRecord) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	_ = binary.Write(&buf, le, uint32(16)) // header hash size
	_ = binary.Write(&buf, le, uint32(0))  // header hash
	_ = binary.Write(&buf, le, uint16(7))  // version
	buf.Write([]byte{0, 0, 4, 5, 9, 30})   // bucket, extra, size, offset, key, bits
	_ = binary.Write(&buf, le, uint64(1<<30))
	for buf.Len()%16 != 0 {
		buf.WriteByte(0)
	}

	_ = binary.Write(&buf, le, uint32(len(records)*localIndexRecordSize))
	_ = binary.Write(&buf, le, uint32(0))
	for _, r := range records {
		buf.Write(r.key[:indexKeySize])
		buf.WriteByte(byte(r.archive >> 2))
		_ = binary.Write(&buf, binary.BigEndian, uint32(r.archive&3)<<30|r.offset)
		_ = binary.Write(&buf, le, r.size)
	}

	return buf.Bytes()
}

// cdnRecord is one CDN index entry for fixtures.
type cdnRecord struct {
	key    Key
	size   uint32
	offset uint32
}

// buildCDNIndex writes a .index file with pageSize-byte pages and a footer.
func buildCDNIndex(records []cdnRecord, pageKB int) []byte {
	pageSize := pageKB * 1024
	perPage := pageSize / cdnIndexEntrySize

	var buf bytes.Buffer
	for i := 0; i < len(records); i += perPage {
		page := make([]byte, 0, pageSize)
		for _, r := range records[i:min(i+perPage, len(records))] {
			page = append(page, r.key[:]...)
			page = binary.BigEndian.AppendUint32(page, r.size)
			page = binary.BigEndian.AppendUint32(page, r.offset)
		}
		page = append(page, make([]byte, pageSize-len(page))...)
		buf.Write(page)
	}

	footer := make([]byte, cdnIndexFooterSize)
	footer[8] = 1
	footer[11] = byte(pageKB)
	footer[12], footer[13], footer[14], footer[15] = 4, 4, keySize, 8
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(records)))
	buf.Write(footer)

	return buf.Bytes()
}

// encRecord is one encoding table entry for fixtures.
type encRecord struct {
	ckey  Key
	size  uint64
	ekeys []Key
}

// buildEncoding writes an encoding table with one record list per page.
func buildEncoding(pages [][]encRecord, pageKB int) []byte {
	var buf bytes.Buffer
	be := binary.BigEndian

	buf.WriteString("EN")
	buf.Write([]byte{1, keySize, keySize})
	_ = binary.Write(&buf, be, uint16(pageKB))
	_ = binary.Write(&buf, be, uint16(pageKB))
	_ = binary.Write(&buf, be, uint32(len(pages)))
	_ = binary.Write(&buf, be, uint32(0))
	buf.WriteByte(0)
	spec := []byte("z\x00")
	_ = binary.Write(&buf, be, uint32(len(spec)))
	buf.Write(spec)
	buf.Write(make([]byte, len(pages)*(keySize+keySize)))

	pageSize := pageKB * 1024
	for _, recs := range pages {
		page := make([]byte, 0, pageSize)
		for _, r := range recs {
			page = append(page, byte(len(r.ekeys)))
			page = append(page, byte(r.size>>32))
			page = be.AppendUint32(page, uint32(r.size))
			page = append(page, r.ckey[:]...)
			for _, ek := range r.ekeys {
				page = append(page, ek[:]...)
			}
		}
		page = append(page, make([]byte, pageSize-len(page))...)
		buf.Write(page)
	}

	return buf.Bytes()
}

// rootGroup is one root table group for fixtures.
type rootGroup struct {
	content ContentFlags
	locale  Locale
	ids     []uint32
	ckeys   []Key
	// withHashes writes name hashes in TSFM groups.
	withHashes bool
}

// writeRootIDs writes ascending IDs as deltas.
func writeRootIDs(buf *bytes.Buffer, ids []uint32) {
	var base uint32
	for _, id := range ids {
		_ = binary.Write(buf, binary.LittleEndian, int32(id-base))
		base = id + 1
	}
}

// buildRootTSFM writes a v1 or v2 TSFM root table.
func buildRootTSFM(version, total, named uint32, groups []rootGroup) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteString("TSFM")
	_ = binary.Write(&buf, le, uint32(rootHeaderSizeV1))
	_ = binary.Write(&buf, le, version)
	_ = binary.Write(&buf, le, total)
	_ = binary.Write(&buf, le, named)
	_ = binary.Write(&buf, le, uint32(0))

	for _, g := range groups {
		_ = binary.Write(&buf, le, uint32(len(g.ids)))
		if version == 2 {
			_ = binary.Write(&buf, le, uint32(g.locale))
			_ = binary.Write(&buf, le, uint32(g.content))
			_ = binary.Write(&buf, le, uint32(0))
			buf.WriteByte(0)
		} else {
			_ = binary.Write(&buf, le, uint32(g.content))
			_ = binary.Write(&buf, le, uint32(g.locale))
		}

		writeRootIDs(&buf, g.ids)
		for _, k := range g.ckeys {
			buf.Write(k[:])
		}
		if g.withHashes {
			buf.Write(make([]byte, rootNameHashSize*len(g.ids)))
		}
	}

	return buf.Bytes()
}

// buildRootClassic writes the headerless root layout.
func buildRootClassic(groups []rootGroup) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	for _, g := range groups {
		_ = binary.Write(&buf, le, uint32(len(g.ids)))
		_ = binary.Write(&buf, le, uint32(g.content))
		_ = binary.Write(&buf, le, uint32(g.locale))
		writeRootIDs(&buf, g.ids)
		for _, k := range g.ckeys {
			buf.Write(k[:])
			buf.Write(make([]byte, rootNameHashSize))
		}
	}

	return buf.Bytes()
}

// testKey returns a key whose bytes are all b.
func testKey(b byte) Key {
	var k Key
	for i := range k {
		k[i] = b
	}

	return k
}
