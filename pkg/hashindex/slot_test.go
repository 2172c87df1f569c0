package hashindex

import "testing"

func Test_SlotCodec_Roundtrips_When_Given_4_And_8_Byte_Widths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		hashSize    uint32
		addressSize uint32
		hash        uint64
		packed      uint64
	}{
		{name: "4+4", hashSize: 4, addressSize: 4, hash: 0xAABBCCDD, packed: 0x11223344},
		{name: "4+8", hashSize: 4, addressSize: 8, hash: 0xAABBCCDD, packed: 0x1122334455667788},
		{name: "8+4", hashSize: 8, addressSize: 4, hash: 0x1122334455667788, packed: 0xAABBCCDD},
		{name: "8+8", hashSize: 8, addressSize: 8, hash: 0x1122334455667788, packed: 0x99AABBCCDDEEFF00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newSlotCodec(tt.hashSize, tt.addressSize)
			buf := make([]byte, c.size()*3) // room for 3 slots

			c.writeSlot(buf, 1, tt.hash, tt.packed)
			gotHash, gotPacked := c.readSlot(buf, 1)
			if gotHash != tt.hash || gotPacked != tt.packed {
				t.Fatalf("readSlot = (%x, %x), want (%x, %x)", gotHash, gotPacked, tt.hash, tt.packed)
			}

			// Neighboring slots must be untouched.
			if h, p := c.readSlot(buf, 0); h != 0 || p != 0 {
				t.Fatalf("slot 0 = (%x, %x), want zero", h, p)
			}
			if h, p := c.readSlot(buf, 2); h != 0 || p != 0 {
				t.Fatalf("slot 2 = (%x, %x), want zero", h, p)
			}

			c.clearSlot(buf, 1)
			if h, p := c.readSlot(buf, 1); h != 0 || p != 0 {
				t.Fatalf("cleared slot = (%x, %x), want zero", h, p)
			}
		})
	}
}

func Test_SlotCodec_Truncates_Hash_To_32_Bits_When_HashSize_Is_4(t *testing.T) {
	t.Parallel()

	c := newSlotCodec(4, 8)
	full := uint64(0x1122334455667788)
	if got, want := c.truncate(full), uint64(0x55667788); got != want {
		t.Fatalf("truncate(%x) = %x, want %x", full, got, want)
	}

	c64 := newSlotCodec(8, 8)
	if got := c64.truncate(full); got != full {
		t.Fatalf("truncate with hashSize=8 should be identity: got %x, want %x", got, full)
	}
}

func Test_Pack_Unpack_Roundtrips_BlockPos_And_EntryIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		blockPos   int64
		entryIndex int
		blockBits  uint32
	}{
		{blockPos: 0, entryIndex: 0, blockBits: 0},
		{blockPos: 12345, entryIndex: 0, blockBits: 0},
		{blockPos: 1 << 20, entryIndex: 17, blockBits: 6},
		{blockPos: (1 << 40), entryIndex: 255, blockBits: 8},
	}

	for _, tt := range tests {
		packed := pack(tt.blockPos, tt.entryIndex, tt.blockBits)
		mask := uint64(0)
		if tt.blockBits > 0 {
			mask = (uint64(1) << tt.blockBits) - 1
		}
		gotPos, gotIdx := unpack(packed, mask, tt.blockBits)
		if gotPos != tt.blockPos || gotIdx != tt.entryIndex {
			t.Fatalf("unpack(pack(%d,%d,%d)) = (%d,%d), want (%d,%d)",
				tt.blockPos, tt.entryIndex, tt.blockBits, gotPos, gotIdx, tt.blockPos, tt.entryIndex)
		}
	}
}
