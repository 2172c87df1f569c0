package walfmt

import "encoding/binary"

// Entry is a single decoded PUT or DELETE record read from the log.
type Entry struct {
	// Tombstone is true for a DELETE record. Key holds the deleted key in
	// that case (the wire format frames a tombstone's key inside what
	// would otherwise be the value field; this is normalized away here).
	Tombstone bool
	Key       []byte
	Value     []byte

	// BlockPos is the file offset of the block (or, for an uncompressed
	// log, the entry itself) that this entry belongs to.
	BlockPos int64
	// EntryIndex is this entry's zero-based position within its block.
	EntryIndex int
}

// putUvarint appends an unsigned LEB128-style varint to dst, mirroring
// encoding/binary.PutUvarint; entries use it directly rather than
// reinventing VLQ encoding.
func putUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// encodeEntry appends the framed bytes for one PUT/DELETE record to dst, per
// the log entry framing: VLQ key_len_plus_one (0 = tombstone), VLQ
// value_len, key bytes (omitted for a tombstone, whose deleted key instead
// occupies the value_len-prefixed slot), then value bytes.
func encodeEntry(dst []byte, tombstone bool, key, value []byte) []byte {
	if tombstone {
		dst = putUvarint(dst, 0)
		dst = putUvarint(dst, uint64(len(key)))
		dst = append(dst, key...)
		return dst
	}
	dst = putUvarint(dst, uint64(len(key))+1)
	dst = putUvarint(dst, uint64(len(value)))
	dst = append(dst, key...)
	dst = append(dst, value...)
	return dst
}

// decodeEntryAt decodes one framed entry starting at buf[off:], returning
// its fields and the offset immediately following it. [Iterator] (full
// sequential scan) uses it; [View] reads the same framing field by field
// through ReadUvarint, SkipEntries and ReadEntryHeader.
func decodeEntryAt(buf []byte, off int) (tombstone bool, key, value []byte, next int, err error) {
	keyLenPlusOne, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return false, nil, nil, 0, newCorruptf("malformed key-length VLQ at offset %d", off)
	}
	off += n

	valueLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return false, nil, nil, 0, newCorruptf("malformed value-length VLQ at offset %d", off)
	}
	off += n

	if keyLenPlusOne == 0 {
		end := off + int(valueLen)
		if end > len(buf) {
			return false, nil, nil, 0, newCorruptf("tombstone key of %d bytes past block end", valueLen)
		}
		return true, buf[off:end], nil, end, nil
	}

	keyLen := int(keyLenPlusOne - 1)
	kEnd := off + keyLen
	vEnd := kEnd + int(valueLen)
	if kEnd > len(buf) || vEnd > len(buf) {
		return false, nil, nil, 0, newCorruptf("entry of %d+%d bytes past block end", keyLen, valueLen)
	}
	return false, buf[off:kEnd], buf[kEnd:vEnd], vEnd, nil
}
