// Package walfmt implements the append-only log file that a hash index is
// built from: a fixed, CRC-checked header followed by a sequence of
// VLQ-framed PUT/DELETE records, optionally grouped into compressed blocks.
//
// The package owns the log's own read and write paths. It knows nothing
// about hashing or indexing; callers (the builder and the index reader) only
// ever see byte positions and framed entries.
package walfmt

import (
	"encoding/binary"
	"hash/crc32"
)

// WAL1 file format constants.
const (
	// Magic bytes at the start of every log file.
	magic = "WAL1"

	// File format version.
	version = 1

	// Fixed header size in bytes.
	headerSize = 64
)

// Compression identifiers stored in the header.
const (
	CompressionNone   = 0
	CompressionSnappy = 1
	CompressionZstd   = 2
)

// Header field offsets (bytes from file start).
const (
	offMagic           = 0x00 // [4]byte
	offVersion         = 0x04 // uint32
	offFileID          = 0x08 // uint64
	offDataEnd         = 0x10 // uint64
	offMaxKeyLen       = 0x18 // uint32
	offMaxValueLen     = 0x1C // uint32
	offPutCount        = 0x20 // uint64
	offMaxEntriesBlock = 0x28 // uint32
	offCompression     = 0x2C // uint32
	offBlockSize       = 0x30 // uint32
	offReservedU32     = 0x34 // uint32
	offHeaderCRC32C    = 0x38 // uint32
	offReservedStart   = 0x3C // reserved bytes through headerSize-1
)

// Header is the decoded, fixed-size log file header.
//
// It is produced by [Writer] and consumed by [Open]; the hash index builder
// and reader only see the fields they need through those two entry points.
type Header struct {
	FileID          uint64
	DataEnd         uint64
	MaxKeyLen       uint32
	MaxValueLen     uint32
	PutCount        uint64
	MaxEntriesBlock uint32
	Compression     uint32
	BlockSize       uint32
}

// encodeHeader serializes h into a headerSize-byte buffer and computes its
// CRC32-Castagnoli, stored in the trailing checksum field.
func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)

	copy(buf[offMagic:], magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], version)
	binary.LittleEndian.PutUint64(buf[offFileID:], h.FileID)
	binary.LittleEndian.PutUint64(buf[offDataEnd:], h.DataEnd)
	binary.LittleEndian.PutUint32(buf[offMaxKeyLen:], h.MaxKeyLen)
	binary.LittleEndian.PutUint32(buf[offMaxValueLen:], h.MaxValueLen)
	binary.LittleEndian.PutUint64(buf[offPutCount:], h.PutCount)
	binary.LittleEndian.PutUint32(buf[offMaxEntriesBlock:], h.MaxEntriesBlock)
	binary.LittleEndian.PutUint32(buf[offCompression:], h.Compression)
	binary.LittleEndian.PutUint32(buf[offBlockSize:], h.BlockSize)

	crc := headerCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

// decodeHeader parses a headerSize-byte buffer without validating it; use
// [validateHeader] to check magic/version/CRC.
func decodeHeader(buf []byte) Header {
	return Header{
		FileID:          binary.LittleEndian.Uint64(buf[offFileID:]),
		DataEnd:         binary.LittleEndian.Uint64(buf[offDataEnd:]),
		MaxKeyLen:       binary.LittleEndian.Uint32(buf[offMaxKeyLen:]),
		MaxValueLen:     binary.LittleEndian.Uint32(buf[offMaxValueLen:]),
		PutCount:        binary.LittleEndian.Uint64(buf[offPutCount:]),
		MaxEntriesBlock: binary.LittleEndian.Uint32(buf[offMaxEntriesBlock:]),
		Compression:     binary.LittleEndian.Uint32(buf[offCompression:]),
		BlockSize:       binary.LittleEndian.Uint32(buf[offBlockSize:]),
	}
}

// headerCRC computes the CRC32-Castagnoli of buf with the checksum field
// itself zeroed.
func headerCRC(buf []byte) uint32 {
	tmp := make([]byte, headerSize)
	copy(tmp, buf)
	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}
	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

// validateHeader checks magic, version and CRC, returning the decoded
// header on success.
func validateHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, newCorruptf("log header truncated: got %d bytes, want %d", len(buf), headerSize)
	}
	if string(buf[offMagic:offMagic+4]) != magic {
		return Header{}, newCorruptf("bad log magic %q", buf[offMagic:offMagic+4])
	}
	if v := binary.LittleEndian.Uint32(buf[offVersion:]); v != version {
		return Header{}, newCorruptf("unsupported log version %d", v)
	}
	storedCRC := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	if computed := headerCRC(buf); storedCRC != computed {
		return Header{}, newCorruptf("log header CRC mismatch: stored %08x, computed %08x", storedCRC, computed)
	}
	return decodeHeader(buf), nil
}
