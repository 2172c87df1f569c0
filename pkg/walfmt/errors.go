package walfmt

import (
	"errors"
	"fmt"
)

// Error classification. Implementations MAY wrap these with additional
// context via fmt.Errorf's %w; callers MUST classify using errors.Is.
var (
	// ErrCorrupt indicates the log file's header or entry framing is
	// malformed or inconsistent.
	ErrCorrupt = errors.New("walfmt: corrupt")

	// ErrIO indicates an underlying I/O failure (open, read, mmap, fsync).
	ErrIO = errors.New("walfmt: io")
)

func newCorruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
}

func newIOf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIO}, args...)...)
}
