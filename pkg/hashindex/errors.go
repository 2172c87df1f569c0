package hashindex

import (
	"errors"
	"fmt"
)

// Error classification codes.
//
// Implementations MAY wrap these errors with additional context.
// Callers MUST classify errors using errors.Is.
var (
	// ErrCorrupt indicates the index is structurally inconsistent with
	// itself or with its log: bad magic, version or header CRC, a file id
	// mismatch, an index data_end past the log's, or a file size that does
	// not match the header. Corruption found while reading the log itself
	// (a malformed log header or block, a reference past the end of a
	// block, or an index slot pointing at a log tombstone) is reported as
	// walfmt.ErrCorrupt instead.
	ErrCorrupt = errors.New("hashindex: corrupt")

	// ErrCapacity indicates the Robin-Hood engine walked a full probe
	// cycle without finding a free slot during build. Given the sparsity
	// floor of 1.3 this should never occur; it is treated as fatal.
	ErrCapacity = errors.New("hashindex: capacity exhausted")

	// ErrIO indicates an underlying I/O failure (open, read, mmap, fsync).
	ErrIO = errors.New("hashindex: io")

	// ErrPrecondition indicates a caller-visible precondition violation,
	// such as requesting Entry.Bytes() for a value larger than
	// maxInlineValue.
	ErrPrecondition = errors.New("hashindex: precondition")
)

func newCorruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
}

func newIOf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIO}, args...)...)
}

func newCapacityf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCapacity}, args...)...)
}

func newPreconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPrecondition}, args...)...)
}
