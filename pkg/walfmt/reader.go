package walfmt

import (
	"sync"
	"syscall"

	"github.com/calvinalkan/hashindex/pkg/fs"
)

// Log is an opened, memory-mapped log file: its validated header plus the
// mapped data region views are constructed over.
type Log struct {
	Header Header
	path   string
	file   fs.File
	mapped []byte // the whole file, mmap'd
	data   []byte // mapped[headerSize:headerSize+data_end], i.e. the data region
	codec  BlockCodec

	mu   sync.Mutex
	refs int
}

// Open memory-maps path read-only and validates its header.
func Open(path string) (*Log, error) {
	return OpenFS(fs.NewReal(), path)
}

// OpenFS is [Open] over an explicit filesystem.
func OpenFS(fsys fs.FS, path string) (*Log, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, newIOf("open log %s: %v", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, newIOf("stat log %s: %v", path, err)
	}
	if info.Size() < headerSize {
		_ = f.Close()
		return nil, newCorruptf("log file smaller than header: %d bytes", info.Size())
	}

	mapped, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, newIOf("mmap log %s: %v", path, err)
	}

	header, err := validateHeader(mapped)
	if err != nil {
		_ = syscall.Munmap(mapped)
		_ = f.Close()
		return nil, err
	}

	if header.DataEnd > uint64(len(mapped)-headerSize) {
		_ = syscall.Munmap(mapped)
		_ = f.Close()
		return nil, newCorruptf("log data_end %d exceeds mapped size %d", header.DataEnd, len(mapped)-headerSize)
	}

	codec, err := codecForID(header.Compression)
	if err != nil {
		_ = syscall.Munmap(mapped)
		_ = f.Close()
		return nil, err
	}

	return &Log{
		Header: header,
		path:   path,
		file:   f,
		mapped: mapped,
		data:   mapped[headerSize : headerSize+int(header.DataEnd)],
		codec:  codec,
		refs:   1,
	}, nil
}

// NewView returns a fresh cursor over the log's data region.
func (l *Log) NewView() *View {
	return NewView(l.data, l.codec)
}

// Iterate returns an iterator over every PUT/DELETE entry in the log, in
// order. Unlike [Log.NewView] it is not meant for random-access resolution;
// it is the sequential feed an index builder drives.
func (l *Log) Iterate() *Iterator {
	return NewIterator(l.data, l.codec)
}

// Retain increments the reference count for a shared Log. The index
// reader's handle duplication uses this to share one mapping across
// cursors.
func (l *Log) Retain() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

// Close releases this holder's reference; the mapping is unmapped when the
// last holder closes.
func (l *Log) Close() error {
	l.mu.Lock()
	l.refs--
	last := l.refs <= 0
	l.mu.Unlock()
	if !last {
		return nil
	}
	err := syscall.Munmap(l.mapped)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return newIOf("close log %s: %v", l.path, err)
	}
	return nil
}
