package hashindex_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/hashindex/pkg/hashindex"
	"github.com/calvinalkan/hashindex/pkg/walfmt"
)

type logOp struct {
	tombstone bool
	key       string
	value     string
}

func buildLog(t *testing.T, dir string, compression, maxEntriesBlock uint32, ops []logOp) string {
	t.Helper()

	path := filepath.Join(dir, "data.wal")
	w, err := walfmt.Create(path, walfmt.CreateOptions{
		MaxKeyLen: 128, MaxValueLen: 1 << 16, MaxEntriesBlock: maxEntriesBlock, Compression: compression,
	})
	if err != nil {
		t.Fatalf("Create log: %v", err)
	}

	for _, op := range ops {
		if op.tombstone {
			if _, _, err := w.AppendDelete([]byte(op.key)); err != nil {
				t.Fatalf("AppendDelete(%q): %v", op.key, err)
			}
			continue
		}
		if _, _, err := w.Append([]byte(op.key), []byte(op.value)); err != nil {
			t.Fatalf("Append(%q): %v", op.key, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close log: %v", err)
	}
	return path
}

func Test_Build_Then_Open_Resolves_Overwritten_Key_To_Latest_Value(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, []logOp{
		{key: "user:1", value: "v1"},
		{key: "user:1", value: "v2-final"},
	})
	indexPath := filepath.Join(dir, "data.hsi")

	stats, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.NumEntries != 1 {
		t.Fatalf("NumEntries = %d, want 1 (the overwrite must collapse to a single live entry)", stats.NumEntries)
	}

	r, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entry, ok, err := r.Get([]byte("user:1"))
	if err != nil || !ok {
		t.Fatalf("Get(user:1) = (%v,%v,%v), want found", entry, ok, err)
	}
	got, err := entry.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != "v2-final" {
		t.Fatalf("value = %q, want %q", got, "v2-final")
	}
}

func Test_Build_Then_Open_Reports_Absent_When_Key_Deleted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, []logOp{
		{key: "session:a", value: "data"},
		{tombstone: true, key: "session:a"},
	})
	indexPath := filepath.Join(dir, "data.hsi")

	stats, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.NumEntries != 0 {
		t.Fatalf("NumEntries = %d, want 0", stats.NumEntries)
	}

	r, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, ok, err := r.Get([]byte("session:a")); err != nil || ok {
		t.Fatalf("Get(session:a) = (%v,%v), want (false,nil)", ok, err)
	}
	if r.NumEntries() != 0 {
		t.Fatalf("NumEntries() = %d, want 0", r.NumEntries())
	}
}

func Test_Build_Then_Open_Resolves_10000_Distinct_Keys_With_Bounded_Displacement(t *testing.T) {
	dir := t.TempDir()
	var ops []logOp
	for i := 0; i < 10000; i++ {
		ops = append(ops, logOp{key: fmt.Sprintf("key-%06d", i), value: fmt.Sprintf("value-%d", i)})
	}
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, ops)
	indexPath := filepath.Join(dir, "data.hsi")

	stats, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.NumEntries != 10000 {
		t.Fatalf("NumEntries = %d, want 10000", stats.NumEntries)
	}
	// A 1.3 load factor Robin-Hood table should never need a wildly deep
	// probe chain; this is a loose sanity bound, not a tight guarantee.
	if stats.MaxDisplacement > 200 {
		t.Fatalf("MaxDisplacement = %d, suspiciously large for a 1.3 sparsity table", stats.MaxDisplacement)
	}

	r, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("key-%06d", i)
		want := fmt.Sprintf("value-%d", i)
		entry, ok, err := r.Get([]byte(key))
		if err != nil || !ok {
			t.Fatalf("Get(%q) = (%v,%v,%v), want found", key, entry, ok, err)
		}
		got, err := entry.Bytes()
		if err != nil {
			t.Fatalf("Bytes(%q): %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%q) = %q, want %q", key, got, want)
		}
	}
}

func Test_Build_Then_Open_Roundtrips_Across_Fresh_Process_Handles_When_Fsynced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionSnappy, 16, []logOp{
		{key: "a", value: "1"},
		{key: "b", value: "2"},
		{tombstone: true, key: "a"},
		{key: "c", value: "3"},
	})
	indexPath := filepath.Join(dir, "data.hsi")

	if _, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.5, Fsync: true}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Simulate a fresh process reopening both files from scratch.
	r, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, ok, _ := r.Get([]byte("a")); ok {
		t.Fatal("Get(a) = found, want absent (deleted)")
	}
	for k, want := range map[string]string{"b": "2", "c": "3"} {
		entry, ok, err := r.Get([]byte(k))
		if err != nil || !ok {
			t.Fatalf("Get(%q) = (%v,%v), want found", k, ok, err)
		}
		got, _ := entry.Bytes()
		if string(got) != want {
			t.Fatalf("Get(%q) = %q, want %q", k, got, want)
		}
	}
}

func Test_Open_Rejects_Index_When_Log_Truncated_Below_Indexed_DataEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, []logOp{
		{key: "a", value: "1"},
		{key: "b", value: "2"},
	})
	indexPath := filepath.Join(dir, "data.hsi")

	if _, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := os.OpenFile(logPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open log for write: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := f.Truncate(info.Size() / 2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	if _, err := hashindex.Open(indexPath, logPath); err == nil {
		t.Fatal("expected Open to reject a log truncated below the indexed data_end")
	} else if !errors.Is(err, walfmt.ErrCorrupt) {
		t.Fatalf("expected walfmt.ErrCorrupt, got %v", err)
	}
}

func Test_Build_Produces_At_Least_One_Empty_Slot_When_Log_Empty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, nil)
	indexPath := filepath.Join(dir, "data.hsi")

	stats, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Capacity < 1 {
		t.Fatalf("Capacity = %d, want >= 1 even for an empty log", stats.Capacity)
	}
	if stats.NumEntries != 0 {
		t.Fatalf("NumEntries = %d, want 0", stats.NumEntries)
	}

	r, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, ok, err := r.Get([]byte("anything")); err != nil || ok {
		t.Fatalf("Get on empty index = (%v,%v), want (false,nil)", ok, err)
	}
}

func Test_Reader_Duplicate_Shares_Index_But_Has_Independent_Cursor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := buildLog(t, dir, walfmt.CompressionNone, 1, []logOp{
		{key: "a", value: "1"},
		{key: "b", value: "2"},
	})
	indexPath := filepath.Join(dir, "data.hsi")
	if _, err := hashindex.Build(logPath, indexPath, hashindex.BuildOptions{Sparsity: 1.3}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	r1, err := hashindex.Open(indexPath, logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r1.Close()

	r2 := r1.Duplicate()
	defer r2.Close()

	e1, ok, err := r1.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("r1.Get(a) = (%v,%v), want found", ok, err)
	}
	e2, ok, err := r2.Get([]byte("b"))
	if err != nil || !ok {
		t.Fatalf("r2.Get(b) = (%v,%v), want found", ok, err)
	}

	v1, _ := e1.Bytes()
	v2, _ := e2.Bytes()
	if string(v1) != "1" || string(v2) != "2" {
		t.Fatalf("independent cursors resolved wrong values: v1=%q v2=%q", v1, v2)
	}
}
