package walfmt

import "encoding/binary"

// View is a positioned cursor over an opened log. It transparently
// decompresses blocks on demand for compressed logs and is a thin cursor
// over the mapping for uncompressed ones. Views are single-threaded; call
// [View.Duplicate] to obtain an independent cursor for another goroutine.
//
// Positions are file offsets, exactly as returned by [Writer.Append] and
// carried in [Entry.BlockPos]. Because the header occupies the start of the
// file, no entry ever lives at position zero; the index core relies on that
// to use a zero packed address as its empty-slot sentinel.
type View struct {
	data         []byte // the log's data region (file bytes after the header)
	codec        BlockCodec
	uncompressed bool

	blockStart int64  // file offset of the block currently decoded
	blockValid bool   // whether blockStart/block hold a decoded block
	block      []byte // decoded bytes of the current block (compressed case only)
	pos        int64  // read position within the current block's logical bytes
}

// NewView constructs a view over data (the log's data region, i.e. the log
// file's bytes after its header) using codec for block decompression.
func NewView(data []byte, codec BlockCodec) *View {
	_, isNone := codec.(noneCodec)
	return &View{data: data, codec: codec, uncompressed: isNone, blockStart: headerSize}
}

// Duplicate returns an independent cursor sharing the same underlying data.
func (v *View) Duplicate() *View {
	return &View{data: v.data, codec: v.codec, uncompressed: v.uncompressed, blockStart: headerSize}
}

// Close releases any resources held by the view. The underlying mapping is
// owned by the caller (typically a [Log]) and is not affected.
func (v *View) Close() error {
	v.block = nil
	v.blockValid = false
	return nil
}

// Seek positions the cursor at the block starting at file offset pos. For
// an uncompressed log this is the entry's own offset; for a compressed log
// it is the start of the length-prefixed compressed block, which is
// decoded immediately.
func (v *View) Seek(pos int64) error {
	rel := pos - headerSize
	if v.uncompressed {
		if rel < 0 || rel > int64(len(v.data)) {
			return newCorruptf("seek outside log data: pos=%d data_end=%d", pos, len(v.data))
		}
		v.blockStart = pos
		v.blockValid = true
		v.block = nil
		v.pos = 0
		return nil
	}

	if v.blockValid && v.blockStart == pos {
		v.pos = 0
		return nil
	}

	if rel < 0 || rel >= int64(len(v.data)) {
		return newCorruptf("seek outside log data: pos=%d data_end=%d", pos, len(v.data))
	}

	clen, n := binary.Uvarint(v.data[rel:])
	if n <= 0 {
		return newCorruptf("malformed block length prefix at %d", pos)
	}
	start := rel + int64(n)
	end := start + int64(clen)
	if end > int64(len(v.data)) {
		return newCorruptf("block at %d references %d bytes past log data end", pos, end-int64(len(v.data)))
	}

	decoded, err := v.codec.Decode(v.data[start:end])
	if err != nil {
		return err
	}

	v.blockStart = pos
	v.blockValid = true
	v.block = decoded
	v.pos = 0
	return nil
}

// curBytes returns the logical byte slice the cursor currently reads from,
// starting at the cursor's block.
func (v *View) curBytes() []byte {
	if v.uncompressed {
		return v.data[v.blockStart-headerSize:]
	}
	return v.block
}

// ReadByte reads a single unsigned byte at the current position and
// advances the cursor.
func (v *View) ReadByte() (byte, error) {
	buf := v.curBytes()
	if v.pos >= int64(len(buf)) {
		return 0, newCorruptf("read past end of block at %d", v.blockStart)
	}
	b := buf[v.pos]
	v.pos++
	return b, nil
}

// ReadFull reads exactly len(dst) bytes into dst and advances the cursor.
func (v *View) ReadFull(dst []byte) error {
	buf := v.curBytes()
	end := v.pos + int64(len(dst))
	if end > int64(len(buf)) {
		return newCorruptf("read of %d bytes past end of block at %d", len(dst), v.blockStart)
	}
	copy(dst, buf[v.pos:end])
	v.pos = end
	return nil
}

// Skip advances the cursor by n bytes without copying them out.
func (v *View) Skip(n int64) error {
	buf := v.curBytes()
	end := v.pos + n
	if end > int64(len(buf)) || end < 0 {
		return newCorruptf("skip of %d bytes past end of block at %d", n, v.blockStart)
	}
	v.pos = end
	return nil
}

// ReadUvarint reads one VLQ-encoded unsigned integer and advances the
// cursor past it. It wraps encoding/binary's uvarint decoding, which
// already implements exactly the variable-length format the log uses.
func (v *View) ReadUvarint() (uint64, error) {
	buf := v.curBytes()
	if v.pos >= int64(len(buf)) {
		return 0, newCorruptf("read past end of block at %d", v.blockStart)
	}
	val, n := binary.Uvarint(buf[v.pos:])
	if n <= 0 {
		return 0, newCorruptf("malformed VLQ at block %d offset %d", v.blockStart, v.pos)
	}
	v.pos += int64(n)
	return val, nil
}

// SkipEntries advances the cursor past count whole entries starting at the
// current position, without materializing their bytes. Used by the index
// core to reach the entry at a given EntryIndex within a block.
func (v *View) SkipEntries(count int) error {
	for i := 0; i < count; i++ {
		keyLenPlusOne, err := v.ReadUvarint()
		if err != nil {
			return err
		}
		valueLen, err := v.ReadUvarint()
		if err != nil {
			return err
		}
		if keyLenPlusOne == 0 {
			// Tombstone: the deleted key occupies the value_len slot.
			if err := v.Skip(int64(valueLen)); err != nil {
				return err
			}
			continue
		}
		if err := v.Skip(int64(keyLenPlusOne-1) + int64(valueLen)); err != nil {
			return err
		}
	}
	return nil
}

// ReadEntryHeader reads the key-length and value-length VLQs at the current
// position without consuming key/value bytes. It fails with ErrCorrupt if
// keyLenPlusOne is zero (a tombstone cannot be a candidate resolution
// target for a live PUT lookup).
func (v *View) ReadEntryHeader() (keyLen, valueLen uint64, err error) {
	keyLenPlusOne, err := v.ReadUvarint()
	if err != nil {
		return 0, 0, err
	}
	if keyLenPlusOne == 0 {
		return 0, 0, newCorruptf("index references a tombstone at block %d", v.blockStart)
	}
	valueLen, err = v.ReadUvarint()
	if err != nil {
		return 0, 0, err
	}
	return keyLenPlusOne - 1, valueLen, nil
}
