package hashindex

import (
	"sync"
	"syscall"

	"github.com/calvinalkan/hashindex/internal/xlog"
	"github.com/calvinalkan/hashindex/pkg/fs"
	"github.com/calvinalkan/hashindex/pkg/walfmt"
)

// indexMapping is the refcounted, read-only mmap of an index file, shared
// by a [Reader] and every handle produced by its [Reader.Duplicate].
type indexMapping struct {
	path string
	file fs.File
	data []byte

	mu   sync.Mutex
	refs int
}

func openIndexMapping(fsys fs.FS, path string) (*indexMapping, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, newIOf("open index %s: %v", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, newIOf("stat index %s: %v", path, err)
	}
	if info.Size() < int64(idxHeaderSize) {
		_ = f.Close()
		return nil, newCorruptf("index file smaller than header: %d bytes", info.Size())
	}

	mapped, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, newIOf("mmap index %s: %v", path, err)
	}

	return &indexMapping{path: path, file: f, data: mapped, refs: 1}, nil
}

func (m *indexMapping) retain() {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
}

func (m *indexMapping) release() error {
	m.mu.Lock()
	m.refs--
	last := m.refs <= 0
	m.mu.Unlock()
	if !last {
		return nil
	}
	err := syscall.Munmap(m.data)
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return newIOf("close index %s: %v", m.path, err)
	}
	return nil
}

// Reader serves point lookups against a built index and the log it
// references. A Reader is single-threaded: its log cursor and the Entry it
// last returned share mutable state. Call [Reader.Duplicate] to hand an
// independent handle to another goroutine; mappings are shared and
// refcounted underneath.
type Reader struct {
	header indexHeader
	engine *Engine // read-only at lookup time; safe to share across duplicates
	log    *walfmt.Log
	idx    *indexMapping
	view   *walfmt.View
}

// OpenOptions configures [OpenWithOptions].
type OpenOptions struct {
	// FS is the filesystem both files are opened on. Nil means the real
	// filesystem.
	FS fs.FS

	// Logger receives corruption diagnostics before the typed error is
	// returned. Nil discards them.
	Logger *xlog.Logger
}

// Open validates and memory-maps indexPath and logPath and returns a
// handle ready to serve [Reader.Get]. On any failure partway through, every
// already-acquired resource is released before the error is returned.
func Open(indexPath, logPath string) (*Reader, error) {
	return OpenWithOptions(indexPath, logPath, OpenOptions{})
}

// OpenWithOptions is [Open] with an explicit filesystem and logger.
func OpenWithOptions(indexPath, logPath string, opts OpenOptions) (*Reader, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}
	logger := opts.Logger
	if logger == nil {
		logger = xlog.Discard()
	}

	log, err := walfmt.OpenFS(fsys, logPath)
	if err != nil {
		logger.Errorf("open %s: %v", logPath, err)
		return nil, err
	}

	idx, err := openIndexMapping(fsys, indexPath)
	if err != nil {
		_ = log.Close()
		logger.Errorf("open %s: %v", indexPath, err)
		return nil, err
	}

	header, err := validateIndexHeader(idx.data)
	if err != nil {
		_ = idx.release()
		_ = log.Close()
		logger.Errorf("open %s: %v", indexPath, err)
		return nil, err
	}

	fail := func(err error) (*Reader, error) {
		_ = idx.release()
		_ = log.Close()
		logger.Errorf("open %s: %v", indexPath, err)
		return nil, err
	}

	if header.FileID != log.Header.FileID {
		return fail(newCorruptf("index file id %d does not match log file id %d", header.FileID, log.Header.FileID))
	}
	if header.DataEnd > log.Header.DataEnd {
		return fail(newCorruptf("index data_end %d exceeds log data_end %d", header.DataEnd, log.Header.DataEnd))
	}

	codec := newSlotCodec(header.HashSize, header.AddressSize)
	wantSize := int(idxHeaderSize) + int(header.Capacity*uint64(codec.size()))
	if len(idx.data) != wantSize {
		return fail(newCorruptf("index file size %d does not match header(%d)+slots(%d*%d) size %d",
			len(idx.data), idxHeaderSize, header.Capacity, codec.size(), wantSize))
	}

	engine := NewEngine(idx.data[idxHeaderSize:], codec, header.Capacity, header.EntryBlockBits, header.HashSeed)

	return &Reader{
		header: header,
		engine: engine,
		log:    log,
		idx:    idx,
		view:   log.NewView(),
	}, nil
}

// Get resolves key against the index, driving the reader's log cursor to
// disambiguate candidates. It returns (entry, true, nil) on a hit,
// (nil, false, nil) on a confirmed miss, and a non-nil error on corruption.
//
// The returned Entry's value stream reads from this handle's shared log
// cursor; fully drain or abandon it before issuing another Get on the same
// handle, or use [Reader.Duplicate].
func (r *Reader) Get(key []byte) (*Entry, bool, error) {
	return r.engine.Lookup(r.view, key)
}

// Scan invokes fn for every live entry, in slot order. Iteration stops
// early when fn returns false. Each entry's value stream shares this
// handle's log cursor, so fn must drain or abandon it before returning;
// issuing Get on the same handle from inside fn is not supported.
func (r *Reader) Scan(fn func(key []byte, entry *Entry) bool) error {
	return r.engine.Walk(r.view, fn)
}

// IsLive reports whether the slot for key currently points at
// (blockPos, entryIndex), without reading the log. A higher-level log
// iterator uses this to tell a still-live entry from one an intervening
// overwrite or delete has superseded.
func (r *Reader) IsLive(key []byte, blockPos int64, entryIndex int) bool {
	return r.engine.IsAt(key, blockPos, entryIndex)
}

// Duplicate returns an independent handle sharing this reader's mappings
// but with its own log cursor, so it can be driven concurrently from
// another goroutine.
func (r *Reader) Duplicate() *Reader {
	r.idx.retain()
	r.log.Retain()
	return &Reader{
		header: r.header,
		engine: r.engine,
		log:    r.log,
		idx:    r.idx,
		view:   r.log.NewView(),
	}
}

// Close releases this handle's log cursor and its share of the index and
// log mappings. The mappings are unmapped when the last handle closes.
func (r *Reader) Close() error {
	_ = r.view.Close()
	logErr := r.log.Close()
	idxErr := r.idx.release()
	if logErr != nil {
		return logErr
	}
	return idxErr
}

// NumEntries returns the number of live entries recorded at build time.
func (r *Reader) NumEntries() uint64 { return r.header.LiveEntries }

// Capacity returns the number of slots in the index.
func (r *Reader) Capacity() uint64 { return r.header.Capacity }

// MaxDisplacement returns the largest displacement observed at build time.
func (r *Reader) MaxDisplacement() uint64 { return r.header.MaxDisp }

// TotalDisplacement returns the sum of displacements over all non-empty
// slots at build time.
func (r *Reader) TotalDisplacement() uint64 { return r.header.TotalDisp }

// HashCollisions returns the number of adjacent-slot equal-hash pairs
// counted at build time, including the ring-wrap pair.
func (r *Reader) HashCollisions() uint64 { return r.header.HashCollisions }

// TotalKeyBytes returns the sum of key lengths over all live entries.
func (r *Reader) TotalKeyBytes() uint64 { return r.header.TotalKeyBytes }

// TotalValueBytes returns the sum of value lengths over all live entries.
func (r *Reader) TotalValueBytes() uint64 { return r.header.TotalValueBytes }
