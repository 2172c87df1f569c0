package hashindex

import (
	"encoding/binary"
	"hash/crc32"
)

// HSI1 index file format constants.
const (
	// Magic bytes at the start of every index file.
	idxMagic = "HSI1"

	// File format version.
	idxVersion = 1

	// Fixed header size in bytes.
	idxHeaderSize = 128

	minSparsity = 1.3
)

// Hash width selection.
const (
	HashAuto = 0
	Hash32   = 32
	Hash64   = 64
)

// Header field offsets (bytes from file start).
const (
	offIdxMagic        = 0x00 // [4]byte
	offIdxVersion      = 0x04 // uint32
	offFileID          = 0x08 // uint64, must equal the log's file id
	offDataEnd         = 0x10 // uint64, log data_end this index was built against
	offMaxKeyLen       = 0x18 // uint32
	offMaxValueLen     = 0x1C // uint32
	offAddressSize     = 0x20 // uint32, 4 or 8
	offHashSize        = 0x24 // uint32, 4 or 8
	offCapacity        = 0x28 // uint64
	offNumPuts         = 0x30 // uint64
	offHashSeed        = 0x38 // uint32
	offEntryBlockBits  = 0x3C // uint32
	offTotalDisp       = 0x40 // uint64
	offMaxDisp         = 0x48 // uint64
	offHashCollisions  = 0x50 // uint64
	offLiveEntries     = 0x58 // uint64
	offTotalKeyBytes   = 0x60 // uint64
	offTotalValueBytes = 0x68 // uint64
	offHeaderCRC32C    = 0x70 // uint32
	offIdxReservedU32  = 0x74 // uint32
	offIdxReservedEnd  = idxHeaderSize
)

// indexHeader is the decoded, fixed-size index file header.
type indexHeader struct {
	FileID          uint64
	DataEnd         uint64
	MaxKeyLen       uint32
	MaxValueLen     uint32
	AddressSize     uint32
	HashSize        uint32
	Capacity        uint64
	NumPuts         uint64
	HashSeed        uint32
	EntryBlockBits  uint32
	TotalDisp       uint64
	MaxDisp         uint64
	HashCollisions  uint64
	LiveEntries     uint64
	TotalKeyBytes   uint64
	TotalValueBytes uint64
}

// slotSize is the per-slot byte width for a given header: hash first, then
// packed address, both little-endian.
func (h indexHeader) slotSize() uint32 {
	return h.HashSize + h.AddressSize
}

// entryBlockMask is the low-bits mask an address's entry index occupies.
func (h indexHeader) entryBlockMask() uint64 {
	return (uint64(1) << h.EntryBlockBits) - 1
}

func encodeIndexHeader(h indexHeader) []byte {
	buf := make([]byte, idxHeaderSize)

	copy(buf[offIdxMagic:], idxMagic)
	binary.LittleEndian.PutUint32(buf[offIdxVersion:], idxVersion)
	binary.LittleEndian.PutUint64(buf[offFileID:], h.FileID)
	binary.LittleEndian.PutUint64(buf[offDataEnd:], h.DataEnd)
	binary.LittleEndian.PutUint32(buf[offMaxKeyLen:], h.MaxKeyLen)
	binary.LittleEndian.PutUint32(buf[offMaxValueLen:], h.MaxValueLen)
	binary.LittleEndian.PutUint32(buf[offAddressSize:], h.AddressSize)
	binary.LittleEndian.PutUint32(buf[offHashSize:], h.HashSize)
	binary.LittleEndian.PutUint64(buf[offCapacity:], h.Capacity)
	binary.LittleEndian.PutUint64(buf[offNumPuts:], h.NumPuts)
	binary.LittleEndian.PutUint32(buf[offHashSeed:], h.HashSeed)
	binary.LittleEndian.PutUint32(buf[offEntryBlockBits:], h.EntryBlockBits)
	binary.LittleEndian.PutUint64(buf[offTotalDisp:], h.TotalDisp)
	binary.LittleEndian.PutUint64(buf[offMaxDisp:], h.MaxDisp)
	binary.LittleEndian.PutUint64(buf[offHashCollisions:], h.HashCollisions)
	binary.LittleEndian.PutUint64(buf[offLiveEntries:], h.LiveEntries)
	binary.LittleEndian.PutUint64(buf[offTotalKeyBytes:], h.TotalKeyBytes)
	binary.LittleEndian.PutUint64(buf[offTotalValueBytes:], h.TotalValueBytes)

	crc := indexHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

func decodeIndexHeader(buf []byte) indexHeader {
	return indexHeader{
		FileID:          binary.LittleEndian.Uint64(buf[offFileID:]),
		DataEnd:         binary.LittleEndian.Uint64(buf[offDataEnd:]),
		MaxKeyLen:       binary.LittleEndian.Uint32(buf[offMaxKeyLen:]),
		MaxValueLen:     binary.LittleEndian.Uint32(buf[offMaxValueLen:]),
		AddressSize:     binary.LittleEndian.Uint32(buf[offAddressSize:]),
		HashSize:        binary.LittleEndian.Uint32(buf[offHashSize:]),
		Capacity:        binary.LittleEndian.Uint64(buf[offCapacity:]),
		NumPuts:         binary.LittleEndian.Uint64(buf[offNumPuts:]),
		HashSeed:        binary.LittleEndian.Uint32(buf[offHashSeed:]),
		EntryBlockBits:  binary.LittleEndian.Uint32(buf[offEntryBlockBits:]),
		TotalDisp:       binary.LittleEndian.Uint64(buf[offTotalDisp:]),
		MaxDisp:         binary.LittleEndian.Uint64(buf[offMaxDisp:]),
		HashCollisions:  binary.LittleEndian.Uint64(buf[offHashCollisions:]),
		LiveEntries:     binary.LittleEndian.Uint64(buf[offLiveEntries:]),
		TotalKeyBytes:   binary.LittleEndian.Uint64(buf[offTotalKeyBytes:]),
		TotalValueBytes: binary.LittleEndian.Uint64(buf[offTotalValueBytes:]),
	}
}

// indexHeaderCRC computes the CRC32-Castagnoli of buf with the checksum
// field itself treated as zero.
func indexHeaderCRC(buf []byte) uint32 {
	tmp := make([]byte, idxHeaderSize)
	copy(tmp, buf)
	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}
	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

func validateIndexHeader(buf []byte) (indexHeader, error) {
	if len(buf) < idxHeaderSize {
		return indexHeader{}, newCorruptf("index header truncated: got %d bytes, want %d", len(buf), idxHeaderSize)
	}
	if string(buf[offIdxMagic:offIdxMagic+4]) != idxMagic {
		return indexHeader{}, newCorruptf("bad index magic %q", buf[offIdxMagic:offIdxMagic+4])
	}
	if v := binary.LittleEndian.Uint32(buf[offIdxVersion:]); v != idxVersion {
		return indexHeader{}, newCorruptf("unsupported index version %d", v)
	}
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	if computed := indexHeaderCRC(buf); stored != computed {
		return indexHeader{}, newCorruptf("index header CRC mismatch: stored %08x, computed %08x", stored, computed)
	}
	return decodeIndexHeader(buf), nil
}

// chooseAddressSize picks 4 bytes when the log's data_end, shifted left by
// entryBlockBits, still fits in 32 bits, else 8.
func chooseAddressSize(dataEnd uint64, entryBlockBits uint32) uint32 {
	limit := uint64(1) << (30 - entryBlockBits)
	if dataEnd <= limit {
		return 4
	}
	return 8
}

// chooseHashSize picks 32 bits for logs under 2^23 PUTs and 64 bits above,
// honoring an explicit override.
func chooseHashSize(numPuts uint64, override uint32) uint32 {
	switch override {
	case Hash32:
		return 4
	case Hash64:
		return 8
	default:
		if numPuts < (1 << 23) {
			return 4
		}
		return 8
	}
}

// calcEntryBlockBits returns the smallest B with 2^B >= maxEntriesPerBlock,
// or 0 when maxEntriesPerBlock is 0 (an empty log with no entries, and
// therefore no notion of a block size yet).
func calcEntryBlockBits(maxEntriesPerBlock uint32) uint32 {
	if maxEntriesPerBlock == 0 {
		return 0
	}
	b := uint32(0)
	for (uint64(1) << b) < uint64(maxEntriesPerBlock) {
		b++
	}
	return b
}

// calcCapacity returns 1 | floor(numPuts * max(sparsity, 1.3)). The or-1
// keeps capacity odd (a slightly better modulus for home-slot
// distribution) and gives an empty log one slot.
func calcCapacity(numPuts uint64, sparsity float64) uint64 {
	if sparsity < minSparsity {
		sparsity = minSparsity
	}
	return uint64(float64(numPuts)*sparsity) | 1
}
