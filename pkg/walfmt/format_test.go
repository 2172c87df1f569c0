package walfmt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func Test_EncodeDecodeHeader_Roundtrips_When_Given_Various_Fields(t *testing.T) {
	t.Parallel()

	h := Header{
		FileID:          0x0102030405060708,
		DataEnd:         1 << 20,
		MaxKeyLen:       256,
		MaxValueLen:     1 << 16,
		PutCount:        12345,
		MaxEntriesBlock: 64,
		Compression:     CompressionZstd,
		BlockSize:       4096,
	}

	buf := encodeHeader(h)
	require.Len(t, buf, headerSize)

	got, err := validateHeader(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}
}

func Test_ValidateHeader_Fails_When_Magic_Is_Wrong(t *testing.T) {
	t.Parallel()

	buf := encodeHeader(Header{})
	buf[0] = 'X'

	_, err := validateHeader(buf)
	require.Error(t, err)
}

func Test_ValidateHeader_Fails_When_CRC_Is_Corrupted(t *testing.T) {
	t.Parallel()

	buf := encodeHeader(Header{FileID: 42, PutCount: 7})
	buf[offFileID] ^= 0xFF // corrupt a field after the CRC was computed

	_, err := validateHeader(buf)
	require.Error(t, err)
}

func Test_ValidateHeader_Fails_When_Buffer_Truncated(t *testing.T) {
	t.Parallel()

	buf := encodeHeader(Header{})[:headerSize-1]
	_, err := validateHeader(buf)
	require.Error(t, err)
}

func Test_ValidateHeader_Fails_When_Version_Unsupported(t *testing.T) {
	t.Parallel()

	buf := encodeHeader(Header{})
	buf[offVersion] = 99
	// recompute nothing: CRC will also mismatch, but version check runs first
	_, err := validateHeader(buf)
	require.Error(t, err)
}
