package hashindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func Test_EncodeDecodeIndexHeader_Roundtrips_When_Given_Various_Fields(t *testing.T) {
	t.Parallel()

	h := indexHeader{
		FileID:          0xAABBCCDD11223344,
		DataEnd:         1 << 24,
		MaxKeyLen:       128,
		MaxValueLen:     4096,
		AddressSize:     8,
		HashSize:        4,
		Capacity:        10007,
		NumPuts:         7000,
		HashSeed:        0xDEADBEEF,
		EntryBlockBits:  6,
		TotalDisp:       12345,
		MaxDisp:         17,
		HashCollisions:  3,
		LiveEntries:     6998,
		TotalKeyBytes:   70000,
		TotalValueBytes: 980000,
	}

	buf := encodeIndexHeader(h)
	require.Len(t, buf, int(idxHeaderSize))

	got, err := validateIndexHeader(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}
}

func Test_ValidateIndexHeader_Fails_When_CRC_Corrupted(t *testing.T) {
	t.Parallel()

	buf := encodeIndexHeader(indexHeader{Capacity: 1})
	buf[offCapacity] ^= 0xFF

	_, err := validateIndexHeader(buf)
	require.Error(t, err)
}

func Test_ChooseAddressSize_Picks_4_When_Shifted_DataEnd_Fits_32_Bits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		dataEnd        uint64
		entryBlockBits uint32
		want           uint32
	}{
		{name: "small log, no block bits", dataEnd: 1 << 10, entryBlockBits: 0, want: 4},
		{name: "right at the 2^30 boundary", dataEnd: uint64(1) << 30, entryBlockBits: 0, want: 4},
		{name: "just past the boundary", dataEnd: (uint64(1) << 30) + 1, entryBlockBits: 0, want: 8},
		{name: "block bits shrink the 32-bit budget", dataEnd: uint64(1) << 25, entryBlockBits: 5, want: 4},
		{name: "block bits push a mid-size log over", dataEnd: uint64(1) << 27, entryBlockBits: 5, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := chooseAddressSize(tt.dataEnd, tt.entryBlockBits)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_ChooseHashSize_Honors_Override_Then_PutCount_Threshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		numPuts  uint64
		override uint32
		want     uint32
	}{
		{name: "auto, small log", numPuts: 100, override: HashAuto, want: 4},
		{name: "auto, right below threshold", numPuts: (1 << 23) - 1, override: HashAuto, want: 4},
		{name: "auto, right at threshold", numPuts: 1 << 23, override: HashAuto, want: 8},
		{name: "explicit 32-bit override on a huge log", numPuts: 1 << 30, override: Hash32, want: 4},
		{name: "explicit 64-bit override on a tiny log", numPuts: 1, override: Hash64, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := chooseHashSize(tt.numPuts, tt.override)
			require.Equal(t, tt.want, got)
		})
	}
}

func Test_CalcEntryBlockBits_Returns_Smallest_B_Covering_MaxEntriesPerBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		maxEntriesPerBlock uint32
		want               uint32
	}{
		{maxEntriesPerBlock: 0, want: 0}, // empty log
		{maxEntriesPerBlock: 1, want: 0},
		{maxEntriesPerBlock: 2, want: 1},
		{maxEntriesPerBlock: 3, want: 2},
		{maxEntriesPerBlock: 4, want: 2},
		{maxEntriesPerBlock: 64, want: 6},
		{maxEntriesPerBlock: 65, want: 7},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, calcEntryBlockBits(tt.maxEntriesPerBlock))
	}
}

func Test_CalcCapacity_Applies_Sparsity_Floor_And_Keeps_Capacity_Odd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		numPuts  uint64
		sparsity float64
		want     uint64
	}{
		{name: "empty log still gets one slot", numPuts: 0, sparsity: 1.3, want: 1},
		{name: "sparsity below floor is raised to 1.3", numPuts: 1000, sparsity: 1.0, want: calcCapacity(1000, 1.3)},
		{name: "even floor is bumped to odd", numPuts: 10000, sparsity: 1.3, want: 13001},
		{name: "odd floor stays as-is", numPuts: 10, sparsity: 1.5, want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calcCapacity(tt.numPuts, tt.sparsity)
			require.Equal(t, tt.want, got)
			require.EqualValues(t, 1, got%2, "capacity must be odd")
			require.GreaterOrEqual(t, got, uint64(1), "capacity must be at least 1")
		})
	}
}
