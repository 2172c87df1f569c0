package hashindex

import "encoding/binary"

// slotCodec is a width-polymorphic reader/writer for (hash, packed_address)
// pairs. Width and endianness are fixed by the index header at build time;
// rather than an interface with virtual dispatch, a small value carries the
// two widths and is copied wherever slots are read or written.
type slotCodec struct {
	hashSize    uint32
	addressSize uint32
}

func newSlotCodec(hashSize, addressSize uint32) slotCodec {
	return slotCodec{hashSize: hashSize, addressSize: addressSize}
}

// size returns the total byte width of one slot.
func (c slotCodec) size() uint32 {
	return c.hashSize + c.addressSize
}

// readHash reads the hash field at buf[off:].
func (c slotCodec) readHash(buf []byte, off uint64) uint64 {
	if c.hashSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[off:]))
	}
	return binary.LittleEndian.Uint64(buf[off:])
}

// writeHash writes the hash field at buf[off:].
func (c slotCodec) writeHash(buf []byte, off uint64, h uint64) {
	if c.hashSize == 4 {
		binary.LittleEndian.PutUint32(buf[off:], uint32(h))
		return
	}
	binary.LittleEndian.PutUint64(buf[off:], h)
}

// readAddress reads the packed-address field at buf[off:], immediately
// following the hash field.
func (c slotCodec) readAddress(buf []byte, off uint64) uint64 {
	aOff := off + uint64(c.hashSize)
	if c.addressSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[aOff:]))
	}
	return binary.LittleEndian.Uint64(buf[aOff:])
}

// writeAddress writes the packed-address field at buf[off:].
func (c slotCodec) writeAddress(buf []byte, off uint64, a uint64) {
	aOff := off + uint64(c.hashSize)
	if c.addressSize == 4 {
		binary.LittleEndian.PutUint32(buf[aOff:], uint32(a))
		return
	}
	binary.LittleEndian.PutUint64(buf[aOff:], a)
}

// readSlot reads both fields of the slot at index idx.
func (c slotCodec) readSlot(buf []byte, idx uint64) (hash, packed uint64) {
	off := idx * uint64(c.size())
	return c.readHash(buf, off), c.readAddress(buf, off)
}

// writeSlot writes both fields of the slot at index idx.
func (c slotCodec) writeSlot(buf []byte, idx uint64, hash, packed uint64) {
	off := idx * uint64(c.size())
	c.writeHash(buf, off, hash)
	c.writeAddress(buf, off, packed)
}

// clearSlot zeroes the slot at index idx, marking it empty.
func (c slotCodec) clearSlot(buf []byte, idx uint64) {
	c.writeSlot(buf, idx, 0, 0)
}
