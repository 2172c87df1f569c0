package walfmt

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// BlockCodec decompresses one log block's on-disk bytes into the logical
// byte stream that entry framing is read from. Compression is chosen once
// when the log is created and recorded in the header; readers pick the
// matching codec by the header's Compression field.
type BlockCodec interface {
	// Decode returns the decompressed block payload. The returned slice
	// must not be retained past the next call for implementations that
	// reuse an internal buffer.
	Decode(compressed []byte) ([]byte, error)
	// Encode appends the compressed form of raw to dst and returns the
	// extended slice.
	Encode(dst, raw []byte) []byte
	// ID is the Compression* constant this codec implements.
	ID() uint32
}

// codecForID returns the BlockCodec for a header Compression value.
func codecForID(id uint32) (BlockCodec, error) {
	switch id {
	case CompressionNone:
		return noneCodec{}, nil
	case CompressionSnappy:
		return &snappyCodec{}, nil
	case CompressionZstd:
		return newZstdCodec()
	default:
		return nil, newCorruptf("unknown compression id %d", id)
	}
}

// noneCodec is the identity codec used for uncompressed logs. Under this
// codec every block holds exactly one entry (see [Writer]), so Decode is
// never actually invoked against framed block bytes — the random-access
// view reads directly out of the mapped log instead. It exists so the
// codec table stays total over every Compression* value.
type noneCodec struct{}

func (noneCodec) Decode(compressed []byte) ([]byte, error) { return compressed, nil }
func (noneCodec) Encode(dst, raw []byte) []byte            { return append(dst, raw...) }
func (noneCodec) ID() uint32                               { return CompressionNone }

// snappyCodec wraps github.com/golang/snappy's block format.
type snappyCodec struct {
	buf []byte
}

func (c *snappyCodec) Decode(compressed []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, newCorruptf("snappy decode: %v", err)
	}
	return out, nil
}

func (c *snappyCodec) Encode(dst, raw []byte) []byte {
	c.buf = snappy.Encode(c.buf[:0], raw)
	return append(dst, c.buf...)
}

func (c *snappyCodec) ID() uint32 { return CompressionSnappy }

// zstdCodec wraps github.com/klauspost/compress/zstd. A single encoder and
// decoder are reused across blocks, matching the package's own recommended
// usage (construction is comparatively expensive).
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, newIOf("zstd encoder init: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, newIOf("zstd decoder init: %v", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Decode(compressed []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, newCorruptf("zstd decode: %v", err)
	}
	return out, nil
}

func (c *zstdCodec) Encode(dst, raw []byte) []byte {
	return c.enc.EncodeAll(raw, dst)
}

func (c *zstdCodec) ID() uint32 { return CompressionZstd }
