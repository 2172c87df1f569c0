package hashindex

import (
	"bytes"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/calvinalkan/hashindex/pkg/walfmt"
)

// Engine is the Robin-Hood open-addressing hash table over a slot array:
// put/delete/lookup/probe against the bit-packed (hash, packed_address)
// slot pairs this format stores on disk.
//
// Engine does not own the slot buffer or the log view it resolves
// collisions against; both are supplied by the caller (Builder during
// construction, Reader during lookups) and may be shared.
type Engine struct {
	buf       []byte
	codec     slotCodec
	capacity  uint64
	blockBits uint32
	mask      uint64
	seed      uint32

	// hashFn overrides H(key, seed) when non-nil. Tests use this to force
	// hash collisions deterministically instead of searching for inputs
	// that collide under xxhash; production callers always leave it nil.
	hashFn func(key []byte) uint64

	// Build-time statistics, maintained incrementally by Put/Delete.
	LiveCount       uint64
	TotalKeyBytes   uint64
	TotalValueBytes uint64
}

// NewEngine constructs an engine over an existing (possibly freshly
// allocated, possibly mmap'd) slot buffer.
func NewEngine(buf []byte, codec slotCodec, capacity uint64, blockBits uint32, seed uint32) *Engine {
	mask := uint64(0)
	if blockBits > 0 {
		mask = (uint64(1) << blockBits) - 1
	}
	return &Engine{buf: buf, codec: codec, capacity: capacity, blockBits: blockBits, mask: mask, seed: seed}
}

// computeHash returns H(key, seed) truncated to the configured hash width.
func (e *Engine) computeHash(key []byte) uint64 {
	full := uint64(0)
	if e.hashFn != nil {
		full = e.hashFn(key)
	} else {
		full = xxhash.Sum64(key) ^ uint64(e.seed)
	}
	return e.codec.truncate(full)
}

func (c slotCodec) truncate(h uint64) uint64 {
	if c.hashSize == 4 {
		return uint64(uint32(h))
	}
	return h
}

func (e *Engine) home(h uint64) uint64 {
	return h % e.capacity
}

func (e *Engine) displacementOf(slot, h uint64) uint64 {
	return (slot - e.home(h) + e.capacity) % e.capacity
}

func pack(blockPos int64, entryIndex int, blockBits uint32) uint64 {
	return (uint64(blockPos) << blockBits) | uint64(entryIndex)
}

func unpack(packed uint64, mask uint64, blockBits uint32) (blockPos int64, entryIndex int) {
	return int64(packed >> blockBits), int(packed & mask)
}

// Entry is a resolved PUT record: its full key and a bounded sequential
// stream over its value bytes in the log.
type Entry struct {
	Key       []byte
	valueLen  uint64
	remaining uint64
	view      *walfmt.View
}

// ValueLen returns the total length of the value, regardless of how much
// of the stream has already been read.
func (e *Entry) ValueLen() uint64 { return e.valueLen }

// Remaining returns the number of unread value bytes.
func (e *Entry) Remaining() uint64 { return e.remaining }

// Read implements io.Reader over the value stream. A read is permitted iff
// remaining > 0 before the read; once remaining reaches 0 every further
// call returns io.EOF, never a short grace read.
func (e *Entry) Read(p []byte) (int, error) {
	if e.remaining == 0 {
		return 0, io.EOF
	}
	n := uint64(len(p))
	if n > e.remaining {
		n = e.remaining
	}
	if err := e.view.ReadFull(p[:n]); err != nil {
		return 0, err
	}
	e.remaining -= n
	return int(n), nil
}

// maxInlineValue bounds Entry.Bytes; larger values must use the streaming
// Read path. 256 MiB comfortably exceeds any realistic single value while
// still catching pathological index corruption before a huge allocation.
const maxInlineValue = 256 << 20

// Bytes drains the remaining value stream into one allocation. It fails
// with ErrPrecondition when the value is larger than maxInlineValue; the
// streaming Read path remains available regardless.
func (e *Entry) Bytes() ([]byte, error) {
	if e.valueLen > maxInlineValue {
		return nil, newPreconditionf("value of %d bytes exceeds inline read limit %d; use Entry.Read", e.valueLen, maxInlineValue)
	}
	buf := make([]byte, e.remaining)
	if _, err := e.Read(buf); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// entryAt seeks the view to (blockPos, entryIndex) and reads the entry's
// framing and key, leaving the view positioned at the first value byte.
func (e *Engine) entryAt(view *walfmt.View, blockPos int64, entryIndex int) (*Entry, error) {
	if err := view.Seek(blockPos); err != nil {
		return nil, err
	}
	if err := view.SkipEntries(entryIndex); err != nil {
		return nil, err
	}
	keyLen, valueLen, err := view.ReadEntryHeader()
	if err != nil {
		return nil, err
	}
	scratch := make([]byte, keyLen)
	if err := view.ReadFull(scratch); err != nil {
		return nil, err
	}
	return &Entry{Key: scratch, valueLen: valueLen, remaining: valueLen, view: view}, nil
}

// resolveCandidate reads the entry at (blockPos, entryIndex) and compares
// its key against key. On a match it returns an Entry whose stream starts
// at the value bytes that immediately follow.
func (e *Engine) resolveCandidate(view *walfmt.View, blockPos int64, entryIndex int, key []byte) (*Entry, bool, error) {
	entry, err := e.entryAt(view, blockPos, entryIndex)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(entry.Key, key) {
		return nil, false, nil
	}
	return entry, true, nil
}

// resolveEquals is resolveCandidate's build-time sibling: it only needs to
// know whether the key matches and the old key/value lengths (for stat
// bookkeeping), not a live value stream.
func (e *Engine) resolveEquals(view *walfmt.View, blockPos int64, entryIndex int, key []byte) (equal bool, keyLen, valueLen uint64, err error) {
	if err := view.Seek(blockPos); err != nil {
		return false, 0, 0, err
	}
	if err := view.SkipEntries(entryIndex); err != nil {
		return false, 0, 0, err
	}
	kLen, vLen, err := view.ReadEntryHeader()
	if err != nil {
		return false, 0, 0, err
	}
	scratch := make([]byte, kLen)
	if err := view.ReadFull(scratch); err != nil {
		return false, 0, 0, err
	}
	return bytes.Equal(scratch, key), kLen, vLen, nil
}

// Lookup resolves key against the slot array, driving view to read
// candidate keys out of the log as needed. It returns (entry, true, nil)
// on a hit, (nil, false, nil) on a confirmed miss, and a non-nil error on
// corruption.
func (e *Engine) Lookup(view *walfmt.View, key []byte) (*Entry, bool, error) {
	h := e.computeHash(key)
	s := e.home(h)
	displacement := uint64(0)

	for steps := uint64(0); steps < e.capacity; steps++ {
		hPrime, packed := e.codec.readSlot(e.buf, s)
		if packed == 0 {
			return nil, false, nil
		}

		if hPrime == h {
			blockPos, entryIndex := unpack(packed, e.mask, e.blockBits)
			entry, ok, err := e.resolveCandidate(view, blockPos, entryIndex, key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				return entry, true, nil
			}
		}

		otherDisp := e.displacementOf(s, hPrime)
		if displacement > otherDisp {
			return nil, false, nil
		}

		s = (s + 1) % e.capacity
		displacement++
	}

	return nil, false, nil
}

// IsAt reports whether a slot matching (hash(key), blockPos, entryIndex)
// lies on key's probe chain before Robin-Hood early termination. Unlike
// Lookup, it never reads the log: the caller already knows the candidate
// position (typically from iterating the log itself) and only needs to
// know whether the index still considers it live.
func (e *Engine) IsAt(key []byte, blockPos int64, entryIndex int) bool {
	h := e.computeHash(key)
	s := e.home(h)
	displacement := uint64(0)
	wantPacked := pack(blockPos, entryIndex, e.blockBits)

	for steps := uint64(0); steps < e.capacity; steps++ {
		hPrime, packed := e.codec.readSlot(e.buf, s)
		if packed == 0 {
			return false
		}
		if hPrime == h && packed == wantPacked {
			return true
		}

		otherDisp := e.displacementOf(s, hPrime)
		if displacement > otherDisp {
			return false
		}

		s = (s + 1) % e.capacity
		displacement++
	}

	return false
}

// Put inserts or overwrites key's slot with the given log position,
// carrying the Robin-Hood "takes from the rich, gives to the poor" steal
// on its way to a free slot.
func (e *Engine) Put(view *walfmt.View, key []byte, blockPos int64, entryIndex int, keyLen, valueLen uint64) error {
	h := e.computeHash(key)
	s := e.home(h)
	displacement := uint64(0)

	carriedHash := h
	carriedPacked := pack(blockPos, entryIndex, e.blockBits)
	mightBeCollision := true

	for steps := uint64(0); ; steps++ {
		if steps >= e.capacity {
			return newCapacityf("no free slot after %d probes (capacity=%d)", steps, e.capacity)
		}

		hPrime, packedPrime := e.codec.readSlot(e.buf, s)

		if packedPrime == 0 {
			e.codec.writeSlot(e.buf, s, carriedHash, carriedPacked)
			e.LiveCount++
			e.TotalKeyBytes += keyLen
			e.TotalValueBytes += valueLen
			return nil
		}

		if mightBeCollision && hPrime == carriedHash {
			oldBlockPos, oldEntryIndex := unpack(packedPrime, e.mask, e.blockBits)
			equal, oldKeyLen, oldValueLen, err := e.resolveEquals(view, oldBlockPos, oldEntryIndex, key)
			if err != nil {
				return err
			}
			if equal {
				e.codec.writeSlot(e.buf, s, carriedHash, carriedPacked)
				e.TotalKeyBytes += keyLen - oldKeyLen
				e.TotalValueBytes += valueLen - oldValueLen
				return nil
			}
		}

		otherDisp := e.displacementOf(s, hPrime)
		if displacement > otherDisp {
			// Steal: the incoming tuple has travelled further from home
			// than the occupant, so by the Robin-Hood creed it takes the
			// slot and the occupant continues the search in its place.
			e.codec.writeSlot(e.buf, s, carriedHash, carriedPacked)
			carriedHash, carriedPacked = hPrime, packedPrime
			displacement = otherDisp
			mightBeCollision = false
		}

		s = (s + 1) % e.capacity
		displacement++
	}
}

// Delete removes key's slot if present, using backward-shift to close the
// gap without leaving a tombstone. It returns (false, nil) when the key is
// absent — a no-op, not an error.
func (e *Engine) Delete(view *walfmt.View, key []byte) (bool, error) {
	h := e.computeHash(key)
	s := e.home(h)
	displacement := uint64(0)

	hitSlot, found := uint64(0), false
	var hitKeyLen, hitValueLen uint64

	for steps := uint64(0); steps < e.capacity; steps++ {
		hPrime, packed := e.codec.readSlot(e.buf, s)
		if packed == 0 {
			break
		}

		if hPrime == h {
			blockPos, entryIndex := unpack(packed, e.mask, e.blockBits)
			equal, keyLen, valueLen, err := e.resolveEquals(view, blockPos, entryIndex, key)
			if err != nil {
				return false, err
			}
			if equal {
				hitSlot, found = s, true
				hitKeyLen, hitValueLen = keyLen, valueLen
				break
			}
		}

		otherDisp := e.displacementOf(s, hPrime)
		if displacement > otherDisp {
			break
		}

		s = (s + 1) % e.capacity
		displacement++
	}

	if !found {
		return false, nil
	}

	// Backward-shift: pull each subsequent displaced entry back one slot
	// until we hit an empty slot or one already at its home.
	cur := hitSlot
	for {
		t := (cur + 1) % e.capacity
		hT, packedT := e.codec.readSlot(e.buf, t)
		if packedT == 0 || e.home(hT) == t {
			break
		}
		e.codec.writeSlot(e.buf, cur, hT, packedT)
		cur = t
	}
	e.codec.clearSlot(e.buf, cur)

	e.LiveCount--
	e.TotalKeyBytes -= hitKeyLen
	e.TotalValueBytes -= hitValueLen
	return true, nil
}

// Walk resolves every live slot in slot order and invokes fn with its key
// and entry. Unlike Lookup it never needs Robin-Hood early termination:
// a full-table walk visits each slot exactly once. Iteration stops early
// when fn returns false. The entry's value stream shares view, so fn must
// drain or abandon it before returning.
func (e *Engine) Walk(view *walfmt.View, fn func(key []byte, entry *Entry) bool) error {
	for s := uint64(0); s < e.capacity; s++ {
		_, packed := e.codec.readSlot(e.buf, s)
		if packed == 0 {
			continue
		}
		blockPos, entryIndex := unpack(packed, e.mask, e.blockBits)
		entry, err := e.entryAt(view, blockPos, entryIndex)
		if err != nil {
			return err
		}
		if !fn(entry.Key, entry) {
			return nil
		}
	}
	return nil
}

// Scan performs the builder's single forward pass over the slot array:
// for each non-empty slot it accumulates displacement and counts a hash
// collision whenever two slots adjacent in probe order share a hash,
// including the ring-wrap pair at indices 0 and capacity-1.
func (e *Engine) Scan() (totalDisp, maxDisp, collisions uint64) {
	var prevHash uint64
	prevEmpty := true

	for s := uint64(0); s < e.capacity; s++ {
		h, packed := e.codec.readSlot(e.buf, s)
		if packed == 0 {
			prevEmpty = true
			continue
		}

		disp := e.displacementOf(s, h)
		totalDisp += disp
		if disp > maxDisp {
			maxDisp = disp
		}
		if !prevEmpty && prevHash == h {
			collisions++
		}

		prevHash, prevEmpty = h, false
	}

	if e.capacity > 1 {
		hash0, packed0 := e.codec.readSlot(e.buf, 0)
		hashLast, packedLast := e.codec.readSlot(e.buf, e.capacity-1)
		if packed0 != 0 && packedLast != 0 && hash0 == hashLast {
			collisions++
		}
	}

	return totalDisp, maxDisp, collisions
}
