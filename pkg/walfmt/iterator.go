package walfmt

import "encoding/binary"

// Iterator yields a log's PUT/DELETE entries in order: the dataflow source
// the index builder drives to feed Engine.Put/Engine.Delete. Unlike [View],
// which resolves one candidate at a known position, Iterator walks the
// whole data region once and materializes each entry's key and value.
//
// Entry.BlockPos values are file offsets, interchangeable with the
// positions [Writer.Append] returns and [View.Seek] accepts.
type Iterator struct {
	data         []byte
	codec        BlockCodec
	uncompressed bool

	pos        int64 // offset of the next block to load, relative to the data region
	block      []byte
	blockStart int64 // file offset of the loaded block
	off        int
	entryIndex int
	haveBlock  bool

	done bool
	err  error
}

// NewIterator returns an iterator over a log's data region (the bytes
// following its header), using codec to decompress blocks as needed.
func NewIterator(data []byte, codec BlockCodec) *Iterator {
	_, isNone := codec.(noneCodec)
	return &Iterator{data: data, codec: codec, uncompressed: isNone}
}

// Next returns the next entry in log order. It returns (nil, false, nil)
// once the data region is exhausted, and a non-nil error on corruption.
func (it *Iterator) Next() (*Entry, bool, error) {
	if it.done {
		return nil, false, it.err
	}

	if it.uncompressed {
		if it.pos >= int64(len(it.data)) {
			it.done = true
			return nil, false, nil
		}
		blockStart := headerSize + it.pos
		tombstone, key, value, next, err := decodeEntryAt(it.data, int(it.pos))
		if err != nil {
			it.done, it.err = true, err
			return nil, false, err
		}
		it.pos = int64(next)
		return &Entry{Tombstone: tombstone, Key: key, Value: value, BlockPos: blockStart, EntryIndex: 0}, true, nil
	}

	for !it.haveBlock || it.off >= len(it.block) {
		if it.pos >= int64(len(it.data)) {
			it.done = true
			return nil, false, nil
		}
		if err := it.loadBlock(); err != nil {
			it.done, it.err = true, err
			return nil, false, err
		}
	}

	tombstone, key, value, next, err := decodeEntryAt(it.block, it.off)
	if err != nil {
		it.done, it.err = true, err
		return nil, false, err
	}
	e := &Entry{Tombstone: tombstone, Key: key, Value: value, BlockPos: it.blockStart, EntryIndex: it.entryIndex}
	it.off = next
	it.entryIndex++
	return e, true, nil
}

// loadBlock decodes the compressed block at it.pos, which must be the
// data-region offset of its VLQ length prefix (the same block a [View.Seek]
// to the corresponding file offset would decode).
func (it *Iterator) loadBlock() error {
	clen, n := binary.Uvarint(it.data[it.pos:])
	if n <= 0 {
		return newCorruptf("malformed block length prefix at %d", headerSize+it.pos)
	}
	blockStart := headerSize + it.pos
	start := it.pos + int64(n)
	end := start + int64(clen)
	if end > int64(len(it.data)) {
		return newCorruptf("block at %d references %d bytes past log data end", blockStart, end-int64(len(it.data)))
	}

	decoded, err := it.codec.Decode(it.data[start:end])
	if err != nil {
		return err
	}

	it.blockStart = blockStart
	it.block = decoded
	it.off = 0
	it.entryIndex = 0
	it.pos = end
	it.haveBlock = true
	return nil
}
