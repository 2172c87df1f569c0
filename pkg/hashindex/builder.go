package hashindex

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"os"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/hashindex/internal/xlog"
	"github.com/calvinalkan/hashindex/pkg/fs"
	"github.com/calvinalkan/hashindex/pkg/walfmt"
)

// BuildOptions configures [Build].
type BuildOptions struct {
	// HashType selects the slot hash width: HashAuto (default, chosen from
	// the log's PUT count), Hash32, or Hash64.
	HashType uint32

	// Sparsity is the ratio of index slots to live entries. Values below
	// 1.3 are floored to 1.3, so at least one empty slot always exists.
	Sparsity float64

	// Fsync requests an explicit fsync of the written index file before
	// Build returns.
	Fsync bool

	// Seed pins the hash seed instead of drawing a random one. Two builds
	// of the same log with the same seed produce byte-identical index
	// files; leave nil outside of tests and reproducibility tooling.
	Seed *uint32

	// FS is the filesystem the log is read from and the index fsync'd on.
	// Nil means the real filesystem.
	FS fs.FS

	// Logger receives build diagnostics. Nil discards them.
	Logger *xlog.Logger
}

// Stats reports the header fields computed during a build, for callers
// that want to log or assert on them without reopening the index.
type Stats struct {
	Capacity          uint64
	NumEntries        uint64
	TotalDisplacement uint64
	MaxDisplacement   uint64
	HashCollisions    uint64
	TotalKeyBytes     uint64
	TotalValueBytes   uint64
}

// Build constructs an index file at indexPath from the log at logPath and
// atomically writes it out, returning the resulting statistics.
//
// Build is a one-shot, offline operation: the log must be quiescent for
// the prefix being indexed, and building twice concurrently against the
// same index path is not safe.
func Build(logPath, indexPath string, opts BuildOptions) (Stats, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}
	logger := opts.Logger
	if logger == nil {
		logger = xlog.Discard()
	}
	started := time.Now()

	log, err := walfmt.OpenFS(fsys, logPath)
	if err != nil {
		return Stats{}, err
	}
	defer log.Close()

	entryBlockBits := calcEntryBlockBits(log.Header.MaxEntriesBlock)
	addressSize := chooseAddressSize(log.Header.DataEnd, entryBlockBits)
	hashSize := chooseHashSize(log.Header.PutCount, opts.HashType)
	capacity := calcCapacity(log.Header.PutCount, opts.Sparsity)
	codec := newSlotCodec(hashSize, addressSize)

	seed, err := buildSeed(opts.Seed)
	if err != nil {
		return Stats{}, err
	}

	logger.Debugf("build %s: puts=%d capacity=%d hash_size=%d address_size=%d block_bits=%d",
		indexPath, log.Header.PutCount, capacity, hashSize, addressSize, entryBlockBits)

	buf := make([]byte, capacity*uint64(codec.size()))
	engine := NewEngine(buf, codec, capacity, entryBlockBits, seed)

	if err := populate(log, engine); err != nil {
		return Stats{}, err
	}

	totalDisp, maxDisp, collisions := engine.Scan()

	header := indexHeader{
		FileID:          log.Header.FileID,
		DataEnd:         log.Header.DataEnd,
		MaxKeyLen:       log.Header.MaxKeyLen,
		MaxValueLen:     log.Header.MaxValueLen,
		AddressSize:     addressSize,
		HashSize:        hashSize,
		Capacity:        capacity,
		NumPuts:         log.Header.PutCount,
		HashSeed:        seed,
		EntryBlockBits:  entryBlockBits,
		TotalDisp:       totalDisp,
		MaxDisp:         maxDisp,
		HashCollisions:  collisions,
		LiveEntries:     engine.LiveCount,
		TotalKeyBytes:   engine.TotalKeyBytes,
		TotalValueBytes: engine.TotalValueBytes,
	}

	if err := flush(fsys, indexPath, header, buf, opts.Fsync); err != nil {
		return Stats{}, err
	}

	logger.Infof("built %s: capacity=%d live=%d max_disp=%d collisions=%d elapsed=%s",
		indexPath, capacity, engine.LiveCount, maxDisp, collisions, time.Since(started).Round(time.Millisecond))

	return Stats{
		Capacity:          capacity,
		NumEntries:        engine.LiveCount,
		TotalDisplacement: totalDisp,
		MaxDisplacement:   maxDisp,
		HashCollisions:    collisions,
		TotalKeyBytes:     engine.TotalKeyBytes,
		TotalValueBytes:   engine.TotalValueBytes,
	}, nil
}

// populate drives the engine from every entry in the log, in order: PUT
// inserts or overwrites, DELETE removes (a no-op on miss).
func populate(log *walfmt.Log, engine *Engine) error {
	view := log.NewView()
	defer view.Close()

	it := log.Iterate()
	for {
		ent, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if ent.Tombstone {
			if _, err := engine.Delete(view, ent.Key); err != nil {
				return err
			}
			continue
		}

		if err := engine.Put(view, ent.Key, ent.BlockPos, ent.EntryIndex, uint64(len(ent.Key)), uint64(len(ent.Value))); err != nil {
			return err
		}
	}
}

// buildSeed returns the pinned seed if the caller supplied one, else draws
// a random 32-bit hash seed.
func buildSeed(pinned *uint32) (uint32, error) {
	if pinned != nil {
		return *pinned, nil
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, newIOf("generate hash seed: %v", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// flush writes header+slots to indexPath as a single atomic
// tmp-file-then-rename rather than writing in place.
func flush(fsys fs.FS, indexPath string, header indexHeader, slots []byte, fsync bool) error {
	out := make([]byte, 0, idxHeaderSize+len(slots))
	out = append(out, encodeIndexHeader(header)...)
	out = append(out, slots...)

	if err := atomic.WriteFile(indexPath, bytes.NewReader(out)); err != nil {
		return newIOf("write index file %s: %v", indexPath, err)
	}

	if !fsync {
		return nil
	}

	f, err := fsys.OpenFile(indexPath, os.O_RDWR, 0)
	if err != nil {
		return newIOf("reopen index file %s for fsync: %v", indexPath, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return newIOf("fsync index file %s: %v", indexPath, err)
	}
	return nil
}
