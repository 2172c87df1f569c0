package walfmt

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/calvinalkan/hashindex/pkg/fs"
)

// CreateOptions configures a new log file.
type CreateOptions struct {
	MaxKeyLen       uint32
	MaxValueLen     uint32
	MaxEntriesBlock uint32 // entries grouped per compressed block; ignored (forced to 1) when Compression is CompressionNone
	Compression     uint32

	// FS is the filesystem the log is created on. Nil means the real
	// filesystem.
	FS fs.FS
}

// Writer appends PUT/DELETE records to a log file, batching them into
// compressed blocks when the log was created with compression enabled.
// It is the sole writer of a log; the package carries no locking because
// cross-process coordination and concurrent writers are out of scope (the
// index core this log feeds is itself a single-writer, offline-built
// artifact).
type Writer struct {
	path   string
	file   fs.File
	header Header
	codec  BlockCodec

	blockStart   int64 // file offset where the pending block will be written
	pending      []byte
	pendingCount uint32
}

// Create creates a new log file at path, truncating any existing file.
func Create(path string, opts CreateOptions) (*Writer, error) {
	codec, err := codecForID(opts.Compression)
	if err != nil {
		return nil, err
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	maxEntriesBlock := opts.MaxEntriesBlock
	if opts.Compression == CompressionNone {
		maxEntriesBlock = 1
	}
	if maxEntriesBlock == 0 {
		maxEntriesBlock = 1
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, newIOf("create log %s: %v", path, err)
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		_ = f.Close()
		return nil, newIOf("generate file id: %v", err)
	}

	h := Header{
		FileID:          binary.LittleEndian.Uint64(idBuf[:]),
		DataEnd:         0,
		MaxKeyLen:       opts.MaxKeyLen,
		MaxValueLen:     opts.MaxValueLen,
		PutCount:        0,
		MaxEntriesBlock: maxEntriesBlock,
		Compression:     opts.Compression,
	}

	if _, err := f.Write(encodeHeader(h)); err != nil {
		_ = f.Close()
		return nil, newIOf("write log header: %v", err)
	}

	return &Writer{path: path, file: f, header: h, codec: codec, blockStart: headerSize}, nil
}

// Append writes a PUT record for key/value and returns the (block position,
// entry index) pair the index core stores in a packed address.
func (w *Writer) Append(key, value []byte) (blockPos int64, entryIndex int, err error) {
	return w.append(false, key, value)
}

// AppendDelete writes a DELETE tombstone for key and returns its (block
// position, entry index).
func (w *Writer) AppendDelete(key []byte) (blockPos int64, entryIndex int, err error) {
	return w.append(true, key, nil)
}

func (w *Writer) append(tombstone bool, key, value []byte) (int64, int, error) {
	if uint32(len(key)) > w.header.MaxKeyLen {
		return 0, 0, fmt.Errorf("walfmt: key of %d bytes exceeds max_key_len %d", len(key), w.header.MaxKeyLen)
	}
	if !tombstone && uint32(len(value)) > w.header.MaxValueLen {
		return 0, 0, fmt.Errorf("walfmt: value of %d bytes exceeds max_value_len %d", len(value), w.header.MaxValueLen)
	}

	blockPos := w.blockStart
	entryIndex := int(w.pendingCount)

	w.pending = encodeEntry(w.pending, tombstone, key, value)
	w.pendingCount++
	if !tombstone {
		w.header.PutCount++
	}

	if w.pendingCount >= w.header.MaxEntriesBlock {
		if err := w.flushBlock(); err != nil {
			return 0, 0, err
		}
	}

	return blockPos, entryIndex, nil
}

// Flush writes out any buffered, not-yet-full block. Call before reading
// the log from another handle (e.g. before building an index from it).
func (w *Writer) Flush() error {
	if w.pendingCount == 0 {
		return nil
	}
	return w.flushBlock()
}

func (w *Writer) flushBlock() error {
	raw := w.pending
	var out []byte
	if w.header.Compression == CompressionNone {
		out = raw
	} else {
		compressed := w.codec.Encode(nil, raw)
		out = putUvarint(nil, uint64(len(compressed)))
		out = append(out, compressed...)
	}

	if _, err := w.file.WriteAt(out, w.blockStart); err != nil {
		return newIOf("write log block at %d: %v", w.blockStart, err)
	}

	w.blockStart += int64(len(out))
	w.header.DataEnd = uint64(w.blockStart - headerSize)
	w.pending = w.pending[:0]
	w.pendingCount = 0
	return nil
}

// Sync flushes any pending block, rewrites the header (now carrying the
// final data_end/put_count), and fsyncs the file.
func (w *Writer) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := w.file.WriteAt(encodeHeader(w.header), 0); err != nil {
		return newIOf("rewrite log header: %v", err)
	}
	if err := w.file.Sync(); err != nil {
		return newIOf("fsync log: %v", err)
	}
	return nil
}

// Close flushes any pending block, rewrites the header with the final
// data_end/put_count, and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	if _, err := w.file.WriteAt(encodeHeader(w.header), 0); err != nil {
		_ = w.file.Close()
		return newIOf("rewrite log header: %v", err)
	}
	if err := w.file.Close(); err != nil {
		return newIOf("close log: %v", err)
	}
	return nil
}
